package fns

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/receipt-cashback/internal/domain/entity"
	domainfns "github.com/jhoicas/receipt-cashback/internal/domain/fns"
)

// Simulator implementa Client sin red para APP_ENV/FNS_ENV=dev.
// Cada mensaje responde PROCESSING en las primeras ProcessingPolls consultas y
// luego COMPLETED con Code 200 y el ticket tal como se envió.
type Simulator struct {
	mu              sync.Mutex
	messages        map[string]*simMessage
	ProcessingPolls int
	TokenTTL        time.Duration
	MaxBatch        int
	now             func() time.Time
}

type simMessage struct {
	data  entity.ReceiptFiscalData
	polls int
}

var _ Client = (*Simulator)(nil)

// NewSimulator construye el simulador.
func NewSimulator() *Simulator {
	return &Simulator{
		messages:        make(map[string]*simMessage),
		ProcessingPolls: 1,
		TokenTTL:        time.Hour,
		MaxBatch:        DefaultMaxBatch,
		now:             time.Now,
	}
}

// Authenticate devuelve un token local con TokenTTL de validez.
func (s *Simulator) Authenticate(_ context.Context, masterToken string) (*entity.AuthorityToken, error) {
	if masterToken == "" {
		return nil, domainfns.NewError(domainfns.KindInvalidCredential, OpAuthenticate, "master token vacío", nil)
	}
	return &entity.AuthorityToken{Value: "SIM-" + uuid.NewString(), ExpiresAt: s.now().Add(s.TokenTTL)}, nil
}

// SubmitMessage registra el ticket y devuelve un MessageId.
func (s *Simulator) SubmitMessage(_ context.Context, data entity.ReceiptFiscalData, token string) (string, error) {
	if token == "" {
		return "", domainfns.NewError(domainfns.KindMissingHeaders, OpSubmitMessage, "token de sesión vacío", nil)
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.messages[id] = &simMessage{data: data}
	s.mu.Unlock()
	return id, nil
}

// FetchMessage avanza el mensaje simulado una consulta.
func (s *Simulator) FetchMessage(_ context.Context, messageID, token string) (*FetchResult, error) {
	if token == "" {
		return nil, domainfns.NewError(domainfns.KindMissingHeaders, OpFetchMessage, "token de sesión vacío", nil)
	}
	res := s.fetch(OpFetchMessage, messageID)
	if res.Err != nil {
		return nil, res.Err
	}
	return &res, nil
}

// FetchMessages variante por lotes.
func (s *Simulator) FetchMessages(_ context.Context, messageIDs []string, token string) ([]FetchResult, error) {
	if err := ValidateBatch(messageIDs, s.MaxBatch); err != nil {
		return nil, err
	}
	if token == "" {
		return nil, domainfns.NewError(domainfns.KindMissingHeaders, OpFetchMessages, "token de sesión vacío", nil)
	}
	out := make([]FetchResult, len(messageIDs))
	for i, id := range messageIDs {
		out[i] = s.fetch(OpFetchMessages, id)
	}
	return out, nil
}

func (s *Simulator) fetch(op, messageID string) FetchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return FetchResult{MessageID: messageID, Err: domainfns.NewError(domainfns.KindMessageNotFound, op, "message not found", nil)}
	}
	msg.polls++
	if msg.polls <= s.ProcessingPolls {
		return FetchResult{MessageID: messageID, Status: MessageProcessing}
	}
	raw, _ := json.Marshal(map[string]any{
		"content": map[string]any{
			"totalSum":      msg.data.Sum,
			"dateTime":      msg.data.DateString(),
			"operationType": int(msg.data.TypeOperation),
		},
	})
	return FetchResult{
		MessageID: messageID,
		Status:    MessageCompleted,
		Answer: &TicketAnswer{
			Code: TicketCodeFound,
			Ticket: &entity.ConfirmedTicket{
				Sum:           msg.data.Sum,
				DateTime:      msg.data.Date,
				OperationType: msg.data.TypeOperation,
				Raw:           string(raw),
			},
		},
	}
}
