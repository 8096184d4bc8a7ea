package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/receipt-cashback/internal/domain/entity"
)

// ParseReceiptRequest body para POST /api/receipts/parse.
type ParseReceiptRequest struct {
	QR string `json:"qr"`
}

// VerifyReceiptRequest body para POST /api/receipts/verify.
// Se acepta el texto del QR o los campos fiscales; el monto va en Sum (unidades
// menores) o en Amount (decimal en unidades mayores).
type VerifyReceiptRequest struct {
	QR            string              `json:"qr,omitempty"`
	FN            string              `json:"fn,omitempty"`
	FD            string              `json:"fd,omitempty"`
	FP            string              `json:"fp,omitempty"`
	Sum           int64               `json:"sum,omitempty"`
	Amount        decimal.NullDecimal `json:"amount"`
	Date          string              `json:"date,omitempty"` // 2006-01-02T15:04:05, hora local de la Autoridad
	TypeOperation int                 `json:"type_operation,omitempty"`
}

// ReceiptDataDTO datos fiscales de un ticket.
type ReceiptDataDTO struct {
	FN            string          `json:"fn"`
	FD            string          `json:"fd"`
	FP            string          `json:"fp"`
	Sum           int64           `json:"sum"`
	Amount        decimal.Decimal `json:"amount"`
	Date          string          `json:"date"`
	TypeOperation int             `json:"type_operation"`
}

// ParseReceiptResponse resultado de decodificar un QR: Data si Success, Error si no.
type ParseReceiptResponse struct {
	Success       bool            `json:"success"`
	Data          *ReceiptDataDTO `json:"data,omitempty"`
	Error         string          `json:"error,omitempty"`
	MissingFields []string        `json:"missing_fields,omitempty"`
}

// TicketDTO datos confirmados por la Autoridad.
type TicketDTO struct {
	Sum           int64           `json:"sum,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	DateTime      string          `json:"date_time,omitempty"`
	TypeOperation int             `json:"type_operation,omitempty"`
}

// CheckResultDTO resultado final de la verificación.
type CheckResultDTO struct {
	Status    string     `json:"status"`
	Reason    string     `json:"reason,omitempty"`
	Code      int        `json:"code,omitempty"`
	Message   string     `json:"message,omitempty"`
	Ticket    *TicketDTO `json:"ticket,omitempty"`
	CheckedAt time.Time  `json:"checked_at"`
}

// VerificationResponse estado de una verificación.
type VerificationResponse struct {
	RequestID string          `json:"requestId"`
	Status    string          `json:"status"` // pending | processing | success | rejected | failed
	Message   string          `json:"message"`
	Final     bool            `json:"final"`
	MessageID string          `json:"message_id,omitempty"`
	Attempts  int             `json:"attempts"`
	Day       string          `json:"day"`
	Receipt   ReceiptDataDTO  `json:"receipt"`
	Result    *CheckResultDTO `json:"result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// StatsResponse conteo por estado del día.
type StatsResponse struct {
	Day        string `json:"day"`
	Pending    int    `json:"pending"`
	Processing int    `json:"processing"`
	Success    int    `json:"success"`
	Rejected   int    `json:"rejected"`
	Failed     int    `json:"failed"`
	Total      int    `json:"total"`
}

// QuotaResponse uso de la cuota diaria. Limit 0 = sin tope.
type QuotaResponse struct {
	Day       string `json:"day"`
	Count     int    `json:"count"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	Unlimited bool   `json:"unlimited"`
}

// LedgerEventDTO evento del log de transiciones.
type LedgerEventDTO struct {
	From      string    `json:"from,omitempty"`
	To        string    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Attempt   int       `json:"attempt"`
	MessageID string    `json:"message_id,omitempty"`
	At        time.Time `json:"at"`
}

// ── Mapeo desde entidades ─────────────────────────────────────────────────────

// Amount convierte unidades menores a decimal en unidades mayores.
func Amount(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// ReceiptData mapea los datos fiscales.
func ReceiptData(d entity.ReceiptFiscalData) ReceiptDataDTO {
	return ReceiptDataDTO{
		FN:            d.FN,
		FD:            d.FD,
		FP:            d.FP,
		Sum:           d.Sum,
		Amount:        Amount(d.Sum),
		Date:          d.DateString(),
		TypeOperation: int(d.TypeOperation),
	}
}

// Verification mapea un request al vocabulario externo (estados en minúsculas).
func Verification(req *entity.VerificationRequest) VerificationResponse {
	out := VerificationResponse{
		RequestID: req.ID,
		Status:    req.State.External(),
		Message:   statusMessage(req),
		Final:     req.State.IsTerminal(),
		MessageID: req.MessageID,
		Attempts:  req.Attempts,
		Day:       req.Day,
		Receipt:   ReceiptData(req.Data),
		CreatedAt: req.CreatedAt,
		UpdatedAt: req.UpdatedAt,
	}
	if r := req.Result; r != nil {
		res := &CheckResultDTO{
			Status:    r.State.External(),
			Reason:    string(r.Reason),
			Code:      r.Code,
			Message:   r.Message,
			CheckedAt: r.CheckedAt,
		}
		if t := r.Ticket; t != nil {
			res.Ticket = &TicketDTO{
				Sum:           t.Sum,
				Amount:        Amount(t.Sum),
				TypeOperation: int(t.OperationType),
			}
			if !t.DateTime.IsZero() {
				res.Ticket.DateTime = t.DateTime.Format(entity.FiscalDateLayout)
			}
		}
		out.Result = res
	}
	return out
}

// statusMessage texto legible del estado; nunca vacío.
func statusMessage(req *entity.VerificationRequest) string {
	if r := req.Result; r != nil && r.Message != "" {
		return r.Message
	}
	switch req.State {
	case entity.StatePending:
		return "verificación admitida, pendiente de envío a la Autoridad"
	case entity.StateProcessing:
		return "verificación en curso"
	case entity.StateSuccess:
		return "ticket confirmado por la Autoridad"
	case entity.StateRejected:
		return "ticket rechazado por la Autoridad"
	default:
		return "la verificación no pudo completarse"
	}
}

// Stats mapea el conteo del día.
func Stats(day string, s entity.LedgerStats) StatsResponse {
	return StatsResponse{
		Day:        day,
		Pending:    s.Pending,
		Processing: s.Processing,
		Success:    s.Success,
		Rejected:   s.Rejected,
		Failed:     s.Failed,
		Total:      s.Total,
	}
}

// Quota mapea el uso de cuota.
func Quota(q entity.QuotaSnapshot) QuotaResponse {
	out := QuotaResponse{Day: q.Day, Count: q.Count, Limit: q.Limit, Unlimited: q.Limit <= 0}
	if !out.Unlimited && q.Limit > q.Count {
		out.Remaining = q.Limit - q.Count
	}
	return out
}

// Events mapea el log de transiciones.
func Events(evs []entity.LedgerEvent) []LedgerEventDTO {
	out := make([]LedgerEventDTO, 0, len(evs))
	for _, e := range evs {
		var from string
		if e.From != "" {
			from = e.From.External()
		}
		out = append(out, LedgerEventDTO{
			From:      from,
			To:        e.To.External(),
			Reason:    string(e.Reason),
			Attempt:   e.Attempt,
			MessageID: e.MessageID,
			At:        e.At,
		})
	}
	return out
}
