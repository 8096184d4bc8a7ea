package fns

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/jhoicas/receipt-cashback/internal/domain/entity"
)

// ticketDocument forma del JSON devuelto en <Ticket> con RawData=true.
// Algunas versiones devuelven el contenido en la raíz y otras bajo "content"/"document.receipt".
type ticketDocument struct {
	Content  *ticketContent `json:"content"`
	Document *struct {
		Receipt *ticketContent `json:"receipt"`
	} `json:"document"`
	ticketContent
}

type ticketContent struct {
	TotalSum      *int64          `json:"totalSum"`
	DateTime      json.RawMessage `json:"dateTime"`
	OperationType *int            `json:"operationType"`
}

// parseTicketAnswer extrae Code, Message y Ticket de GetTicketResponse.
// loc se usa para interpretar dateTime como hora civil de la Autoridad.
func parseTicketAnswer(resp *etree.Element, loc *time.Location) (*TicketAnswer, error) {
	result := findLocal(resp, "Result")
	if result == nil {
		result = resp
	}
	codeText := textOf(result, "Code")
	if codeText == "" {
		return nil, fmt.Errorf("GetTicketResponse sin Code")
	}
	code, err := strconv.Atoi(codeText)
	if err != nil {
		return nil, fmt.Errorf("Code %q no numérico", codeText)
	}
	answer := &TicketAnswer{Code: code, Message: textOf(result, "Message")}
	raw := textOf(result, "Ticket")
	if raw == "" {
		return answer, nil
	}
	ticket, err := decodeTicket(raw, loc)
	if err != nil {
		// El ticket crudo es informativo: sin él se conserva el Code.
		answer.Ticket = &entity.ConfirmedTicket{Raw: raw}
		return answer, nil
	}
	answer.Ticket = ticket
	return answer, nil
}

func decodeTicket(raw string, loc *time.Location) (*entity.ConfirmedTicket, error) {
	var doc ticketDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("ticket JSON: %w", err)
	}
	content := &doc.ticketContent
	switch {
	case doc.Content != nil:
		content = doc.Content
	case doc.Document != nil && doc.Document.Receipt != nil:
		content = doc.Document.Receipt
	}
	t := &entity.ConfirmedTicket{Raw: raw}
	if content.TotalSum != nil {
		t.Sum = *content.TotalSum
	}
	if content.OperationType != nil {
		t.OperationType = entity.OperationType(*content.OperationType)
	}
	if len(content.DateTime) > 0 {
		dt, err := parseTicketDateTime(content.DateTime, loc)
		if err == nil {
			t.DateTime = dt
		}
	}
	return t, nil
}

// parseTicketDateTime acepta epoch en segundos (hora de pared codificada como UTC,
// convención del registrador) o cadena ISO sin zona.
func parseTicketDateTime(raw json.RawMessage, loc *time.Location) (time.Time, error) {
	var epoch int64
	if err := json.Unmarshal(raw, &epoch); err == nil {
		u := time.Unix(epoch, 0).UTC()
		return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), u.Minute(), u.Second(), 0, loc), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, err
	}
	s = strings.TrimSpace(s)
	for _, layout := range []string{entity.FiscalDateLayout, "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("dateTime %q no reconocido", s)
}
