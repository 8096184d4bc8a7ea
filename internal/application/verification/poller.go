package verification

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/receipt-cashback/internal/domain/entity"
)

// Poller programador en segundo plano: en cada tick toma los requests activos y
// consulta en lote los que ya cumplieron su espera (backoff exponencial por intento).
// Los PENDING huérfanos pasan a FAILED/timeout en el mismo lote.
type Poller struct {
	co       *Coordinator
	interval time.Duration
	scan     int
	log      zerolog.Logger
}

// NewPoller construye el programador. scan es el máximo de requests activos revisados por tick.
func NewPoller(co *Coordinator, interval time.Duration, scan int, log zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if scan <= 0 {
		scan = 500
	}
	return &Poller{
		co:       co,
		interval: interval,
		scan:     scan,
		log:      log.With().Str("component", "poller").Logger(),
	}
}

// Run bloquea hasta que ctx se cancele.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.log.Info().Dur("interval", p.interval).Msg("poller iniciado")
	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("poller detenido")
			return
		case <-ticker.C:
			if _, err := p.Tick(ctx); err != nil {
				p.log.Error().Err(err).Msg("ciclo de consulta fallido")
			}
		}
	}
}

// Tick ejecuta un ciclo y devuelve cuántos requests se consultaron.
func (p *Poller) Tick(ctx context.Context) (int, error) {
	active, err := p.co.ledger.ListActive(ctx, p.scan)
	if err != nil {
		return 0, err
	}
	now := p.co.cfg.Now()
	due := make([]string, 0, len(active))
	for _, req := range active {
		switch {
		case req.State == entity.StateProcessing && !now.Before(p.dueAt(req)):
			due = append(due, req.ID)
		case p.co.pendingExpired(req, now):
			due = append(due, req.ID)
		}
	}
	if len(due) == 0 {
		return 0, nil
	}
	polled, err := p.co.PollBatch(ctx, due)
	p.log.Debug().Int("due", len(due)).Int("polled", len(polled)).Msg("ciclo de consulta")
	return len(polled), err
}

// dueAt momento de la próxima consulta: la espera crece con cada intento, partiendo
// del intervalo mínimo entre consultas.
func (p *Poller) dueAt(req *entity.VerificationRequest) time.Time {
	last := req.LastPolledAt
	if last.IsZero() {
		last = req.UpdatedAt
	}
	base := p.co.cfg.MinPollInterval
	if base <= 0 {
		base = time.Second
	}
	return last.Add(p.co.backoff(base, req.Attempts))
}
