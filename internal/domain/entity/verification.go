package entity

import "time"

// RequestState estado del ciclo de vida de una verificación.
// PENDING y PROCESSING son transitorios; SUCCESS, REJECTED y FAILED son finales.
type RequestState string

const (
	StatePending    RequestState = "PENDING"
	StateProcessing RequestState = "PROCESSING"
	StateSuccess    RequestState = "SUCCESS"
	StateRejected   RequestState = "REJECTED"
	StateFailed     RequestState = "FAILED"
)

// AllStates en el orden en que se reportan las estadísticas.
var AllStates = []RequestState{StatePending, StateProcessing, StateSuccess, StateRejected, StateFailed}

// IsTerminal indica si no se admiten más transiciones.
func (s RequestState) IsTerminal() bool {
	return s == StateSuccess || s == StateRejected || s == StateFailed
}

// External vocabulario en minúsculas usado en la frontera HTTP.
func (s RequestState) External() string {
	switch s {
	case StatePending:
		return "pending"
	case StateProcessing:
		return "processing"
	case StateSuccess:
		return "success"
	case StateRejected:
		return "rejected"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// transitions tabla de transiciones permitidas (PROCESSING → PROCESSING cuenta un reintento).
var transitions = map[RequestState][]RequestState{
	StatePending:    {StateProcessing, StateFailed},
	StateProcessing: {StateProcessing, StateSuccess, StateRejected, StateFailed},
}

// CanTransition indica si from → to es una transición válida.
func CanTransition(from, to RequestState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Reason motivo estable de un estado final (o de un reintento).
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonQuotaExceeded    Reason = "quota_exceeded"
	ReasonTimeout          Reason = "timeout"
	ReasonDataMismatch     Reason = "data_mismatch"
	ReasonNotFound         Reason = "not_found"
	ReasonReturnReceipt    Reason = "return_receipt"
	ReasonMessageNotFound  Reason = "message_not_found"
	ReasonAuthorityError   Reason = "authority_error"
	ReasonRetriesExhausted Reason = "retries_exhausted"
	ReasonRetry            Reason = "retry"
)

// ConfirmedTicket datos del ticket devueltos por la Autoridad (si los incluye).
// Los campos en cero significan "no informado".
type ConfirmedTicket struct {
	Sum           int64
	DateTime      time.Time
	OperationType OperationType
	Raw           string // payload original (JSON) para auditoría
}

// ReceiptCheckResult resultado final de una verificación, consumido por el cálculo de cashback.
type ReceiptCheckResult struct {
	State     RequestState
	Reason    Reason
	Code      int    // código de negocio de la Autoridad (0 si no hubo respuesta)
	Message   string // texto legible para el usuario / operador
	Ticket    *ConfirmedTicket
	CheckedAt time.Time
}

// VerificationRequest un intento de verificación iniciado por un cliente.
// Solo el coordinador la modifica.
type VerificationRequest struct {
	ID             string
	Data           ReceiptFiscalData
	State          RequestState
	MessageID      string // identificador de correlación devuelto por la Autoridad
	Attempts       int    // consultas (fetch) realizadas
	SubmitAttempts int
	LastError      string // último error reintentable (vacío si la última consulta fue limpia)
	Day            string // día civil de admisión (YYYY-MM-DD, zona de la Autoridad)
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastPolledAt   time.Time
	Result         *ReceiptCheckResult
}

// Clone copia profunda para entregar instantáneas fuera del almacenamiento.
func (r *VerificationRequest) Clone() *VerificationRequest {
	if r == nil {
		return nil
	}
	c := *r
	if r.Result != nil {
		res := *r.Result
		if r.Result.Ticket != nil {
			t := *r.Result.Ticket
			res.Ticket = &t
		}
		c.Result = &res
	}
	return &c
}

// LedgerEvent evento del log append-only de transiciones.
type LedgerEvent struct {
	ID        string
	RequestID string
	From      RequestState // vacío en la admisión
	To        RequestState
	Reason    Reason
	Attempt   int
	MessageID string
	At        time.Time
}

// LedgerStats conteo agregado por estado para el día en curso.
type LedgerStats struct {
	Pending    int
	Processing int
	Success    int
	Rejected   int
	Failed     int
	Total      int
}

// Add suma un request al estado correspondiente.
func (s *LedgerStats) Add(state RequestState) {
	switch state {
	case StatePending:
		s.Pending++
	case StateProcessing:
		s.Processing++
	case StateSuccess:
		s.Success++
	case StateRejected:
		s.Rejected++
	case StateFailed:
		s.Failed++
	default:
		return
	}
	s.Total++
}

// QuotaSnapshot uso de la cuota diaria.
type QuotaSnapshot struct {
	Day   string
	Count int
	Limit int
}
