package postgres

import (
	"context"
	"fmt"
)

// schemaStatements DDL idempotente del ledger de verificaciones.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS verification_requests (
		id              TEXT PRIMARY KEY,
		fn              TEXT        NOT NULL,
		fd              TEXT        NOT NULL,
		fp              TEXT        NOT NULL,
		receipt_key     TEXT        NOT NULL,
		sum             BIGINT      NOT NULL,
		receipt_date    TIMESTAMPTZ NOT NULL,
		type_operation  SMALLINT    NOT NULL,
		state           TEXT        NOT NULL,
		message_id      TEXT,
		attempts        INT         NOT NULL DEFAULT 0,
		submit_attempts INT         NOT NULL DEFAULT 0,
		last_error      TEXT,
		day             TEXT        NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL,
		last_polled_at  TIMESTAMPTZ,
		result          JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_verification_requests_key ON verification_requests (receipt_key, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_verification_requests_day ON verification_requests (day)`,
	`CREATE INDEX IF NOT EXISTS idx_verification_requests_active ON verification_requests (created_at)
		WHERE state IN ('PENDING', 'PROCESSING')`,
	`CREATE TABLE IF NOT EXISTS verification_events (
		seq        BIGSERIAL PRIMARY KEY,
		id         TEXT        NOT NULL UNIQUE,
		request_id TEXT        NOT NULL REFERENCES verification_requests (id),
		from_state TEXT,
		to_state   TEXT        NOT NULL,
		reason     TEXT,
		attempt    INT         NOT NULL,
		message_id TEXT,
		at         TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_verification_events_request ON verification_events (request_id, seq)`,
	`CREATE TABLE IF NOT EXISTS verification_quota (
		day   TEXT PRIMARY KEY,
		count INT NOT NULL
	)`,
}

// EnsureSchema crea las tablas del ledger si no existen.
func EnsureSchema(ctx context.Context, q Querier) error {
	for _, stmt := range schemaStatements {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
