// Package verification orquesta el ciclo de vida de una verificación de ticket
// ante la Autoridad:
//
//	admisión (cuota) → SubmitMessage → PROCESSING → FetchMessage (n veces) → SUCCESS | REJECTED | FAILED
//
// El coordinador no duerme entre consultas: cada Poll hace a lo sumo una llamada
// y la decisión de cuándo volver a consultar es del Poller o del cliente.
package verification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jhoicas/receipt-cashback/internal/domain"
	"github.com/jhoicas/receipt-cashback/internal/domain/entity"
	domainfns "github.com/jhoicas/receipt-cashback/internal/domain/fns"
	"github.com/jhoicas/receipt-cashback/internal/domain/repository"
	infrafns "github.com/jhoicas/receipt-cashback/internal/infrastructure/fns"
	pkgfns "github.com/jhoicas/receipt-cashback/pkg/fns"
)

// Config política de reintentos, cuota y tiempos del coordinador.
type Config struct {
	DailyLimit       int
	MaxPollAttempts  int
	MinPollInterval  time.Duration
	MaxSubmitRetries int
	SubmitBackoff    time.Duration // base del backoff exponencial entre reintentos de envío
	MaxBackoff       time.Duration
	ResultTTL        time.Duration // vigencia de un resultado para reutilizarlo
	MaxBatch         int
	PendingTimeout   time.Duration  // un PENDING más viejo quedó huérfano y pasa a FAILED/timeout
	Location         *time.Location // zona civil de la Autoridad (día de cuota)
	Policy           pkgfns.AdmissionPolicy
	Now              func() time.Time
}

func (c *Config) applyDefaults() {
	if c.MaxPollAttempts <= 0 {
		c.MaxPollAttempts = 5
	}
	if c.SubmitBackoff <= 0 {
		c.SubmitBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Minute
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = infrafns.DefaultMaxBatch
	}
	if c.PendingTimeout <= 0 {
		c.PendingTimeout = 2 * time.Minute
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Coordinator máquina de estados de VerificationRequest. Seguro para uso concurrente
// sobre requests distintos; sobre un mismo request solo admite una operación a la vez.
type Coordinator struct {
	client infrafns.Client
	tokens *TokenCache
	ledger repository.VerificationLedger
	cache  ResultCache
	cfg    Config
	log    zerolog.Logger
	hooks  []TerminalHook

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewCoordinator construye el coordinador. cache puede ser nil (sin reutilización en caché).
func NewCoordinator(
	client infrafns.Client,
	tokens *TokenCache,
	ledger repository.VerificationLedger,
	cache ResultCache,
	cfg Config,
	log zerolog.Logger,
) *Coordinator {
	cfg.applyDefaults()
	return &Coordinator{
		client:   client,
		tokens:   tokens,
		ledger:   ledger,
		cache:    cache,
		cfg:      cfg,
		log:      log.With().Str("component", "verification").Logger(),
		inflight: make(map[string]struct{}),
	}
}

// OnTerminal registra un hook que se llama al alcanzar SUCCESS, REJECTED o FAILED.
func (co *Coordinator) OnTerminal(h TerminalHook) {
	co.hooks = append(co.hooks, h)
}

// Day día civil (zona de la Autoridad) de t.
func (co *Coordinator) Day(t time.Time) string {
	return t.In(co.cfg.Location).Format("2006-01-02")
}

// Config devuelve la configuración efectiva.
func (co *Coordinator) Config() Config { return co.cfg }

// ── Submit ────────────────────────────────────────────────────────────────────

// Submit admite y envía una verificación. Los errores de validación se devuelven
// sincrónicamente (domain.ErrInvalidInput) sin crear request. Si la cuota está
// agotada devuelve un request ya en FAILED/quota_exceeded sin llamar a la Autoridad.
func (co *Coordinator) Submit(ctx context.Context, data entity.ReceiptFiscalData) (*entity.VerificationRequest, error) {
	now := co.cfg.Now()
	if data.TypeOperation == 0 {
		data.TypeOperation = entity.OperationSale
	}
	if err := co.cfg.Policy.Validate(data, now); err != nil {
		return nil, err
	}

	if prior := co.findReusable(ctx, data, now); prior != nil {
		co.log.Info().Str("request_id", prior.ID).Str("state", string(prior.State)).
			Msg("ticket ya verificado o en curso, se reutiliza")
		return prior, nil
	}

	req := &entity.VerificationRequest{
		ID:        uuid.NewString(),
		Data:      data,
		State:     entity.StatePending,
		Day:       co.Day(now),
		CreatedAt: now,
		UpdatedAt: now,
	}
	admitted, err := co.ledger.Admit(ctx, req, co.cfg.DailyLimit)
	if err != nil {
		return nil, fmt.Errorf("ledger admit: %w", err)
	}
	if !admitted {
		req.State = entity.StateFailed
		req.Result = &entity.ReceiptCheckResult{
			State:     entity.StateFailed,
			Reason:    entity.ReasonQuotaExceeded,
			Message:   "se alcanzó el límite diario de verificaciones, intente mañana",
			CheckedAt: now,
		}
		if err := co.ledger.Record(ctx, req, entity.ReasonQuotaExceeded); err != nil {
			return nil, fmt.Errorf("ledger record: %w", err)
		}
		co.log.Warn().Str("request_id", req.ID).Int("limit", co.cfg.DailyLimit).Msg("cuota diaria agotada")
		co.notify(ctx, req)
		return req.Clone(), nil
	}
	co.log.Info().Str("request_id", req.ID).Str("fn", data.FN).Str("fd", data.FD).Msg("verificación admitida")

	// El id es nuevo: nadie más puede tenerlo en vuelo.
	co.acquire(req.ID)
	defer co.release(req.ID)

	// El envío termina aunque el cliente HTTP abandone.
	if err := co.submitPending(context.WithoutCancel(ctx), req); err != nil {
		return nil, err
	}
	return req.Clone(), nil
}

// submitPending aplica PENDING → PROCESSING | FAILED con reintentos acotados.
func (co *Coordinator) submitPending(ctx context.Context, req *entity.VerificationRequest) error {
	tokenRetried := false
	retries := 0
	for {
		req.SubmitAttempts++
		messageID, tokenValue, err := co.submitOnce(ctx, req.Data)
		if err == nil {
			req.MessageID = messageID
			req.LastError = ""
			return co.transition(ctx, req, entity.StateProcessing, entity.ReasonNone)
		}

		kind := domainfns.KindOf(err)
		if kind == domainfns.KindTokenRejected && !tokenRetried {
			tokenRetried = true
			co.tokens.InvalidateIf(tokenValue)
			continue
		}
		if kind.Retryable() && kind != domainfns.KindTokenRejected && retries < co.cfg.MaxSubmitRetries {
			retries++
			wait := co.backoff(co.cfg.SubmitBackoff, retries)
			co.log.Warn().Err(err).Str("request_id", req.ID).Int("retry", retries).Dur("wait", wait).Msg("envío fallido, se reintenta")
			if sleepErr := sleepCtx(ctx, wait); sleepErr != nil {
				return co.fail(ctx, req, entity.ReasonRetriesExhausted, err)
			}
			continue
		}

		reason := entity.ReasonAuthorityError
		if kind.Retryable() {
			reason = entity.ReasonRetriesExhausted
		}
		return co.fail(ctx, req, reason, err)
	}
}

func (co *Coordinator) submitOnce(ctx context.Context, data entity.ReceiptFiscalData) (string, string, error) {
	tok, err := co.tokens.GetValidToken(ctx)
	if err != nil {
		return "", "", err
	}
	messageID, err := co.client.SubmitMessage(ctx, data, tok.Value)
	return messageID, tok.Value, err
}

// findReusable aplica la protección de envío duplicado: un request en curso con
// la misma clave, o un resultado SUCCESS/REJECTED aún vigente.
func (co *Coordinator) findReusable(ctx context.Context, data entity.ReceiptFiscalData, now time.Time) *entity.VerificationRequest {
	key := data.Key()
	if co.cache != nil {
		cached, ok, err := co.cache.Get(ctx, key)
		if err != nil {
			co.log.Warn().Err(err).Msg("caché de resultados no disponible")
		} else if ok && co.reusable(cached, now) {
			return cached
		}
	}
	prior, err := co.ledger.FindLatestByKey(ctx, key)
	if err != nil {
		co.log.Warn().Err(err).Msg("búsqueda de duplicados fallida")
		return nil
	}
	if prior == nil {
		return nil
	}
	if prior.State == entity.StatePending && co.pendingExpired(prior, now) {
		if co.expirePending(ctx, prior.ID) {
			return nil
		}
		return prior
	}
	if !prior.State.IsTerminal() || co.reusable(prior, now) {
		return prior
	}
	return nil
}

// pendingExpired indica si un PENDING superó el plazo de envío: el proceso que lo
// admitió murió o no pudo registrar el paso a PROCESSING.
func (co *Coordinator) pendingExpired(req *entity.VerificationRequest, now time.Time) bool {
	return req.State == entity.StatePending && now.Sub(req.CreatedAt) >= co.cfg.PendingTimeout
}

// expirePending lleva un PENDING huérfano a FAILED/timeout. Devuelve true si el
// request quedó en un estado final.
func (co *Coordinator) expirePending(ctx context.Context, id string) bool {
	if !co.tryAcquire(id) {
		return false
	}
	defer co.release(id)
	req, err := co.ledger.Get(ctx, id)
	if err != nil {
		co.log.Warn().Err(err).Str("request_id", id).Msg("no se pudo releer el request pendiente")
		return false
	}
	if co.pendingExpired(req, co.cfg.Now()) {
		if err := co.finish(ctx, req, entity.StateFailed, entity.ReasonTimeout, 0,
			"el envío a la Autoridad no se completó dentro del plazo", nil); err != nil {
			co.log.Warn().Err(err).Str("request_id", id).Msg("no se pudo expirar el request pendiente")
		}
	}
	return req.State.IsTerminal()
}

// reusable solo reutiliza resultados de negocio; un FAILED se vuelve a enviar.
func (co *Coordinator) reusable(req *entity.VerificationRequest, now time.Time) bool {
	if req == nil || req.Result == nil {
		return false
	}
	if req.State != entity.StateSuccess && req.State != entity.StateRejected {
		return false
	}
	return co.cfg.ResultTTL > 0 && now.Sub(req.Result.CheckedAt) < co.cfg.ResultTTL
}

// ── Poll ──────────────────────────────────────────────────────────────────────

// Poll hace a lo sumo una consulta a la Autoridad para el request. Sobre un request
// final devuelve el resultado guardado sin contactar a la Autoridad. Si se llama
// antes del intervalo mínimo devuelve el último estado sin cambios.
// Una operación concurrente sobre el mismo request devuelve el estado actual y domain.ErrConflict.
func (co *Coordinator) Poll(ctx context.Context, id string) (*entity.VerificationRequest, error) {
	req, err := co.ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.State.IsTerminal() {
		return req, nil
	}
	if !co.tryAcquire(id) {
		return req, domain.ErrConflict
	}
	defer co.release(id)

	// Releer bajo el candado: otro Poll pudo terminar entre tanto.
	if req, err = co.ledger.Get(ctx, id); err != nil {
		return nil, err
	}
	ready, err := co.prepare(ctx, req)
	if err != nil || !ready {
		return req.Clone(), err
	}

	res, fetchErr := co.fetchOne(ctx, req.MessageID)
	if err := co.apply(ctx, req, res, fetchErr); err != nil {
		return nil, err
	}
	return req.Clone(), nil
}

// PollBatch consulta varios requests con GetMessagesRequest (en lotes de MaxBatch).
// Los requests no listos (finales, en vuelo, antes del intervalo) se omiten.
func (co *Coordinator) PollBatch(ctx context.Context, ids []string) ([]*entity.VerificationRequest, error) {
	var ready []*entity.VerificationRequest
	defer func() {
		for _, r := range ready {
			co.release(r.ID)
		}
	}()

	var out []*entity.VerificationRequest
	for _, id := range ids {
		if !co.tryAcquire(id) {
			continue
		}
		req, err := co.ledger.Get(ctx, id)
		if err != nil {
			co.release(id)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return out, err
		}
		ok, err := co.prepare(ctx, req)
		if err != nil || !ok {
			co.release(id)
			out = append(out, req.Clone())
			if err != nil && !errors.Is(err, domain.ErrInvalidTransition) {
				return out, err
			}
			continue
		}
		ready = append(ready, req)
	}

	for start := 0; start < len(ready); start += co.cfg.MaxBatch {
		end := start + co.cfg.MaxBatch
		if end > len(ready) {
			end = len(ready)
		}
		chunk := ready[start:end]
		byMessage := make(map[string][]*entity.VerificationRequest, len(chunk))
		messageIDs := make([]string, 0, len(chunk))
		for _, r := range chunk {
			if _, seen := byMessage[r.MessageID]; !seen {
				messageIDs = append(messageIDs, r.MessageID)
			}
			byMessage[r.MessageID] = append(byMessage[r.MessageID], r)
		}

		results, err := co.fetchBatch(ctx, messageIDs)
		if err == nil && len(results) != len(messageIDs) {
			err = domainfns.NewError(domainfns.KindMalformedResponse, infrafns.OpFetchMessages,
				fmt.Sprintf("%d resultados para %d mensajes", len(results), len(messageIDs)), nil)
		}
		for i, messageID := range messageIDs {
			var res *infrafns.FetchResult
			itemErr := err
			if err == nil {
				r := results[i]
				res, itemErr = &r, r.Err
			}
			for _, req := range byMessage[messageID] {
				if applyErr := co.apply(ctx, req, res, itemErr); applyErr != nil {
					return out, applyErr
				}
				out = append(out, req.Clone())
			}
		}
	}
	return out, nil
}

// prepare comprueba las precondiciones de una consulta. Devuelve false si no debe
// llamarse a la Autoridad (final, antes del intervalo mínimo o agotado → FAILED).
func (co *Coordinator) prepare(ctx context.Context, req *entity.VerificationRequest) (bool, error) {
	if req.State.IsTerminal() {
		return false, nil
	}
	now := co.cfg.Now()
	if co.pendingExpired(req, now) {
		return false, co.finish(ctx, req, entity.StateFailed, entity.ReasonTimeout, 0,
			"el envío a la Autoridad no se completó dentro del plazo", nil)
	}
	if req.State != entity.StateProcessing {
		return false, fmt.Errorf("%w: poll sobre %s", domain.ErrInvalidTransition, req.State)
	}
	if !req.LastPolledAt.IsZero() && now.Sub(req.LastPolledAt) < co.cfg.MinPollInterval {
		return false, nil
	}
	if req.Attempts >= co.cfg.MaxPollAttempts {
		reason := entity.ReasonTimeout
		if req.LastError != "" {
			reason = entity.ReasonRetriesExhausted
		}
		return false, co.finish(ctx, req, entity.StateFailed, reason, 0,
			fmt.Sprintf("la Autoridad no completó la verificación tras %d consultas", req.Attempts), nil)
	}
	return true, nil
}

// fetchOne consulta un mensaje; ante TokenRejected renueva el token y reintenta una vez.
func (co *Coordinator) fetchOne(ctx context.Context, messageID string) (*infrafns.FetchResult, error) {
	tok, err := co.tokens.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}
	res, err := co.client.FetchMessage(ctx, messageID, tok.Value)
	if !domainfns.IsKind(err, domainfns.KindTokenRejected) {
		return res, err
	}
	co.tokens.InvalidateIf(tok.Value)
	if tok, err = co.tokens.GetValidToken(ctx); err != nil {
		return nil, err
	}
	return co.client.FetchMessage(ctx, messageID, tok.Value)
}

func (co *Coordinator) fetchBatch(ctx context.Context, messageIDs []string) ([]infrafns.FetchResult, error) {
	tok, err := co.tokens.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}
	res, err := co.client.FetchMessages(ctx, messageIDs, tok.Value)
	if !domainfns.IsKind(err, domainfns.KindTokenRejected) {
		return res, err
	}
	co.tokens.InvalidateIf(tok.Value)
	if tok, err = co.tokens.GetValidToken(ctx); err != nil {
		return nil, err
	}
	return co.client.FetchMessages(ctx, messageIDs, tok.Value)
}

// apply aplica la tabla de transiciones de PROCESSING al resultado de una consulta.
func (co *Coordinator) apply(ctx context.Context, req *entity.VerificationRequest, res *infrafns.FetchResult, fetchErr error) error {
	req.Attempts++
	req.LastPolledAt = co.cfg.Now()

	if fetchErr != nil {
		kind := domainfns.KindOf(fetchErr)
		switch {
		case kind == domainfns.KindMessageNotFound:
			return co.fail(ctx, req, entity.ReasonMessageNotFound, fetchErr)
		case kind.Retryable():
			req.LastError = fetchErr.Error()
			co.log.Warn().Err(fetchErr).Str("request_id", req.ID).Int("attempt", req.Attempts).Msg("consulta fallida, se reintentará")
			return co.transition(ctx, req, entity.StateProcessing, entity.ReasonRetry)
		default:
			return co.fail(ctx, req, entity.ReasonAuthorityError, fetchErr)
		}
	}
	if res == nil {
		return co.fail(ctx, req, entity.ReasonAuthorityError, errors.New("respuesta vacía"))
	}

	req.LastError = ""
	switch res.Status {
	case infrafns.MessageCompleted:
		return co.complete(ctx, req, res.Answer)
	default:
		return co.transition(ctx, req, entity.StateProcessing, entity.ReasonNone)
	}
}

// complete clasifica la respuesta COMPLETED en SUCCESS o REJECTED.
func (co *Coordinator) complete(ctx context.Context, req *entity.VerificationRequest, answer *infrafns.TicketAnswer) error {
	if answer == nil {
		return co.fail(ctx, req, entity.ReasonAuthorityError, errors.New("COMPLETED sin respuesta de ticket"))
	}
	if !answer.Found() {
		msg := answer.Message
		if msg == "" {
			msg = "el ticket no figura en el registro de la Autoridad"
		}
		return co.finish(ctx, req, entity.StateRejected, entity.ReasonNotFound, answer.Code, msg, answer.Ticket)
	}

	t := answer.Ticket
	if t != nil {
		if t.Sum != 0 && t.Sum != req.Data.Sum {
			return co.finish(ctx, req, entity.StateRejected, entity.ReasonDataMismatch, answer.Code,
				fmt.Sprintf("el monto confirmado (%s) no coincide con el enviado (%s)",
					pkgfns.FormatAmount(t.Sum), pkgfns.FormatAmount(req.Data.Sum)), t)
		}
		if t.OperationType != 0 && t.OperationType != req.Data.TypeOperation {
			return co.finish(ctx, req, entity.StateRejected, entity.ReasonDataMismatch, answer.Code,
				fmt.Sprintf("el tipo de operación confirmado (%d) no coincide con el enviado (%d)",
					t.OperationType, req.Data.TypeOperation), t)
		}
	}
	op := req.Data.TypeOperation
	if t != nil && t.OperationType != 0 {
		op = t.OperationType
	}
	if op.IsReturn() {
		return co.finish(ctx, req, entity.StateRejected, entity.ReasonReturnReceipt, answer.Code,
			"el ticket corresponde a una devolución", t)
	}
	return co.finish(ctx, req, entity.StateSuccess, entity.ReasonNone, answer.Code, "ticket verificado", t)
}

// ── Transiciones ──────────────────────────────────────────────────────────────

func (co *Coordinator) fail(ctx context.Context, req *entity.VerificationRequest, reason entity.Reason, cause error) error {
	msg := "no fue posible verificar el ticket"
	if cause != nil {
		msg = cause.Error()
	}
	return co.finish(ctx, req, entity.StateFailed, reason, 0, msg, nil)
}

// finish lleva el request a un estado final, lo persiste, lo guarda en la caché
// (solo resultados de negocio) y notifica a los hooks.
func (co *Coordinator) finish(ctx context.Context, req *entity.VerificationRequest, state entity.RequestState,
	reason entity.Reason, code int, msg string, ticket *entity.ConfirmedTicket) error {
	now := co.cfg.Now()
	req.Result = &entity.ReceiptCheckResult{
		State:     state,
		Reason:    reason,
		Code:      code,
		Message:   msg,
		Ticket:    ticket,
		CheckedAt: now,
	}
	if err := co.transition(ctx, req, state, reason); err != nil {
		return err
	}
	if co.cache != nil && (state == entity.StateSuccess || state == entity.StateRejected) {
		if err := co.cache.Set(ctx, req.Data.Key(), req, co.cfg.ResultTTL); err != nil {
			co.log.Warn().Err(err).Str("request_id", req.ID).Msg("no se pudo guardar el resultado en caché")
		}
	}
	co.notify(ctx, req)
	return nil
}

func (co *Coordinator) transition(ctx context.Context, req *entity.VerificationRequest, to entity.RequestState, reason entity.Reason) error {
	from := req.State
	if !entity.CanTransition(from, to) {
		return fmt.Errorf("%w: %s → %s", domain.ErrInvalidTransition, from, to)
	}
	req.State = to
	req.UpdatedAt = co.cfg.Now()
	if err := co.ledger.Transition(ctx, req, from, reason); err != nil {
		return fmt.Errorf("ledger transition: %w", err)
	}
	ev := co.log.Info()
	if to == entity.StateProcessing && from == entity.StateProcessing {
		ev = co.log.Debug()
	}
	ev.Str("request_id", req.ID).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("reason", string(reason)).
		Str("message_id", req.MessageID).
		Int("attempt", req.Attempts).
		Msg("transición de verificación")
	return nil
}

func (co *Coordinator) notify(ctx context.Context, req *entity.VerificationRequest) {
	for _, h := range co.hooks {
		h(ctx, req.Clone())
	}
}

// ── helpers ───────────────────────────────────────────────────────────────────

func (co *Coordinator) acquire(id string) {
	co.mu.Lock()
	co.inflight[id] = struct{}{}
	co.mu.Unlock()
}

func (co *Coordinator) tryAcquire(id string) bool {
	co.mu.Lock()
	defer co.mu.Unlock()
	if _, busy := co.inflight[id]; busy {
		return false
	}
	co.inflight[id] = struct{}{}
	return true
}

func (co *Coordinator) release(id string) {
	co.mu.Lock()
	delete(co.inflight, id)
	co.mu.Unlock()
}

// backoff base * 2^(n-1), acotado por MaxBackoff.
func (co *Coordinator) backoff(base time.Duration, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= co.cfg.MaxBackoff {
			return co.cfg.MaxBackoff
		}
	}
	if d > co.cfg.MaxBackoff {
		return co.cfg.MaxBackoff
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
