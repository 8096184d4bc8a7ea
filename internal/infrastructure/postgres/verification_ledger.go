package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/receipt-cashback/internal/domain"
	"github.com/jhoicas/receipt-cashback/internal/domain/entity"
	"github.com/jhoicas/receipt-cashback/internal/domain/repository"
)

var _ repository.VerificationLedger = (*VerificationLedger)(nil)

// VerificationLedger implementación PostgreSQL del ledger. La admisión reserva el
// cupo con un upsert condicional sobre verification_quota dentro de la misma tx
// que inserta el request, de modo que dos admisiones concurrentes no exceden el tope.
type VerificationLedger struct {
	pool *pgxpool.Pool
	tx   *TxRunner
	loc  *time.Location // zona civil de la Autoridad para la fecha del ticket
}

// NewVerificationLedger construye el adaptador.
func NewVerificationLedger(pool *pgxpool.Pool, loc *time.Location) *VerificationLedger {
	if loc == nil {
		loc = time.UTC
	}
	return &VerificationLedger{pool: pool, tx: NewTxRunner(pool), loc: loc}
}

const requestColumns = `id, fn, fd, fp, sum, receipt_date, type_operation, state, message_id,
	attempts, submit_attempts, last_error, day, created_at, updated_at, last_polled_at, result`

func (l *VerificationLedger) Admit(ctx context.Context, req *entity.VerificationRequest, limit int) (bool, error) {
	admitted := false
	err := l.tx.Run(ctx, func(q Querier) error {
		upsert := `
			INSERT INTO verification_quota (day, count) VALUES ($1, 1)
			ON CONFLICT (day) DO UPDATE SET count = verification_quota.count + 1`
		args := []any{req.Day}
		if limit > 0 {
			upsert += ` WHERE verification_quota.count < $2`
			args = append(args, limit)
		}
		var count int
		err := q.QueryRow(ctx, upsert+` RETURNING count`, args...).Scan(&count)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil // cupo agotado: nada se persiste
		}
		if err != nil {
			return fmt.Errorf("reservar cupo: %w", err)
		}
		if err := insertRequest(ctx, q, req); err != nil {
			return err
		}
		admitted = true
		return insertEvent(ctx, q, req, "", entity.ReasonNone)
	})
	if err != nil {
		return false, err
	}
	return admitted, nil
}

func (l *VerificationLedger) Record(ctx context.Context, req *entity.VerificationRequest, reason entity.Reason) error {
	return l.tx.Run(ctx, func(q Querier) error {
		if err := insertRequest(ctx, q, req); err != nil {
			return err
		}
		return insertEvent(ctx, q, req, "", reason)
	})
}

func (l *VerificationLedger) Transition(ctx context.Context, req *entity.VerificationRequest, from entity.RequestState, reason entity.Reason) error {
	return l.tx.Run(ctx, func(q Querier) error {
		var current string
		err := q.QueryRow(ctx, `SELECT state FROM verification_requests WHERE id = $1 FOR UPDATE`, req.ID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("bloquear request: %w", err)
		}
		stored := entity.RequestState(current)
		if stored.IsTerminal() {
			return fmt.Errorf("%w: request %s ya está en %s", domain.ErrConflict, req.ID, stored)
		}
		if stored != from {
			return fmt.Errorf("%w: se esperaba %s y está en %s", domain.ErrConflict, from, stored)
		}

		result, err := encodeResult(req.Result)
		if err != nil {
			return err
		}
		_, err = q.Exec(ctx, `
			UPDATE verification_requests
			SET state = $2, message_id = $3, attempts = $4, submit_attempts = $5, last_error = $6,
			    updated_at = $7, last_polled_at = $8, result = $9
			WHERE id = $1`,
			req.ID, string(req.State), nullIfEmpty(req.MessageID), req.Attempts, req.SubmitAttempts,
			nullIfEmpty(req.LastError), req.UpdatedAt, nullTime(req.LastPolledAt), result,
		)
		if err != nil {
			return fmt.Errorf("update request: %w", err)
		}
		return insertEvent(ctx, q, req, from, reason)
	})
}

func (l *VerificationLedger) Get(ctx context.Context, id string) (*entity.VerificationRequest, error) {
	row := l.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM verification_requests WHERE id = $1`, id)
	req, err := l.scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return req, err
}

func (l *VerificationLedger) FindLatestByKey(ctx context.Context, key string) (*entity.VerificationRequest, error) {
	row := l.pool.QueryRow(ctx, `
		SELECT `+requestColumns+` FROM verification_requests
		WHERE receipt_key = $1
		ORDER BY created_at DESC
		LIMIT 1`, key)
	req, err := l.scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return req, err
}

func (l *VerificationLedger) ListActive(ctx context.Context, limit int) ([]*entity.VerificationRequest, error) {
	query := `
		SELECT ` + requestColumns + ` FROM verification_requests
		WHERE state IN ('PENDING', 'PROCESSING')
		ORDER BY created_at, id`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listar activos: %w", err)
	}
	defer rows.Close()

	out := make([]*entity.VerificationRequest, 0)
	for rows.Next() {
		req, err := l.scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (l *VerificationLedger) Stats(ctx context.Context, day string) (entity.LedgerStats, error) {
	var stats entity.LedgerStats
	rows, err := l.pool.Query(ctx, `
		SELECT state, COUNT(*) FROM verification_requests
		WHERE day = $1
		GROUP BY state`, day)
	if err != nil {
		return stats, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return stats, err
		}
		for i := 0; i < n; i++ {
			stats.Add(entity.RequestState(state))
		}
	}
	return stats, rows.Err()
}

func (l *VerificationLedger) QuotaUsed(ctx context.Context, day string) (int, error) {
	var count int
	err := l.pool.QueryRow(ctx, `SELECT count FROM verification_quota WHERE day = $1`, day).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota: %w", err)
	}
	return count, nil
}

func (l *VerificationLedger) Events(ctx context.Context, requestID string) ([]entity.LedgerEvent, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, request_id, COALESCE(from_state, ''), to_state, COALESCE(reason, ''), attempt,
		       COALESCE(message_id, ''), at
		FROM verification_events
		WHERE request_id = $1
		ORDER BY seq`, requestID)
	if err != nil {
		return nil, fmt.Errorf("eventos: %w", err)
	}
	defer rows.Close()

	out := make([]entity.LedgerEvent, 0)
	for rows.Next() {
		var e entity.LedgerEvent
		var from, to, reason string
		if err := rows.Scan(&e.ID, &e.RequestID, &from, &to, &reason, &e.Attempt, &e.MessageID, &e.At); err != nil {
			return nil, err
		}
		e.From, e.To, e.Reason = entity.RequestState(from), entity.RequestState(to), entity.Reason(reason)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ── helpers ───────────────────────────────────────────────────────────────────

func insertRequest(ctx context.Context, q Querier, req *entity.VerificationRequest) error {
	result, err := encodeResult(req.Result)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO verification_requests (
			id, fn, fd, fp, receipt_key, sum, receipt_date, type_operation, state, message_id,
			attempts, submit_attempts, last_error, day, created_at, updated_at, last_polled_at, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		req.ID, req.Data.FN, req.Data.FD, req.Data.FP, req.Data.Key(), req.Data.Sum, req.Data.Date,
		int(req.Data.TypeOperation), string(req.State), nullIfEmpty(req.MessageID),
		req.Attempts, req.SubmitAttempts, nullIfEmpty(req.LastError), req.Day,
		req.CreatedAt, req.UpdatedAt, nullTime(req.LastPolledAt), result,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: request %s ya existe", domain.ErrConflict, req.ID)
		}
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func insertEvent(ctx context.Context, q Querier, req *entity.VerificationRequest, from entity.RequestState, reason entity.Reason) error {
	_, err := q.Exec(ctx, `
		INSERT INTO verification_events (id, request_id, from_state, to_state, reason, attempt, message_id, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.NewString(), req.ID, nullIfEmpty(string(from)), string(req.State), nullIfEmpty(string(reason)),
		req.Attempts, nullIfEmpty(req.MessageID), req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func encodeResult(res *entity.ReceiptCheckResult) ([]byte, error) {
	if res == nil {
		return nil, nil
	}
	b, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return b, nil
}

func (l *VerificationLedger) scanRequest(row pgx.Row) (*entity.VerificationRequest, error) {
	var (
		req          entity.VerificationRequest
		typeOp       int
		state        string
		messageID    *string
		lastError    *string
		lastPolledAt *time.Time
		result       []byte
	)
	err := row.Scan(
		&req.ID, &req.Data.FN, &req.Data.FD, &req.Data.FP, &req.Data.Sum, &req.Data.Date, &typeOp,
		&state, &messageID, &req.Attempts, &req.SubmitAttempts, &lastError, &req.Day,
		&req.CreatedAt, &req.UpdatedAt, &lastPolledAt, &result,
	)
	if err != nil {
		return nil, err
	}
	req.Data.Date = req.Data.Date.In(l.loc)
	req.Data.TypeOperation = entity.OperationType(typeOp)
	req.State = entity.RequestState(state)
	if messageID != nil {
		req.MessageID = *messageID
	}
	if lastError != nil {
		req.LastError = *lastError
	}
	if lastPolledAt != nil {
		req.LastPolledAt = *lastPolledAt
	}
	if len(result) > 0 {
		var res entity.ReceiptCheckResult
		if err := json.Unmarshal(result, &res); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		req.Result = &res
	}
	return &req, nil
}
