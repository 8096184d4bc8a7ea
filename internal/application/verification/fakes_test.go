package verification_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/receipt-cashback/internal/application/verification"
	"github.com/jhoicas/receipt-cashback/internal/domain/entity"
	domainfns "github.com/jhoicas/receipt-cashback/internal/domain/fns"
	infrafns "github.com/jhoicas/receipt-cashback/internal/infrastructure/fns"
	"github.com/jhoicas/receipt-cashback/internal/infrastructure/memory"
	pkgfns "github.com/jhoicas/receipt-cashback/pkg/fns"
)

// fakeClock reloj controlable.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeClient cliente de la Autoridad programable con contadores de llamadas.
type fakeClient struct {
	clock *fakeClock

	mu          sync.Mutex
	authCalls   int
	submitCalls int
	fetchCalls  int
	batchCalls  int
	batchSizes  []int
	tokens      []string // tokens usados en las consultas

	authFn   func(n int) (*entity.AuthorityToken, error)
	submitFn func(n int) (string, error)
	fetchFn  func(n int, messageID string) (*infrafns.FetchResult, error)
	batchFn  func(n int, ids []string) ([]infrafns.FetchResult, error)
}

func newFakeClient(clock *fakeClock) *fakeClient {
	return &fakeClient{clock: clock}
}

func (f *fakeClient) Authenticate(_ context.Context, _ string) (*entity.AuthorityToken, error) {
	f.mu.Lock()
	f.authCalls++
	n := f.authCalls
	fn := f.authFn
	f.mu.Unlock()
	if fn != nil {
		return fn(n)
	}
	return &entity.AuthorityToken{Value: fmt.Sprintf("tok-%d", n), ExpiresAt: f.clock.Now().Add(time.Hour)}, nil
}

func (f *fakeClient) SubmitMessage(_ context.Context, _ entity.ReceiptFiscalData, _ string) (string, error) {
	f.mu.Lock()
	f.submitCalls++
	n := f.submitCalls
	fn := f.submitFn
	f.mu.Unlock()
	if fn != nil {
		return fn(n)
	}
	return fmt.Sprintf("msg-%d", n), nil
}

func (f *fakeClient) FetchMessage(_ context.Context, messageID, token string) (*infrafns.FetchResult, error) {
	f.mu.Lock()
	f.fetchCalls++
	n := f.fetchCalls
	f.tokens = append(f.tokens, token)
	fn := f.fetchFn
	f.mu.Unlock()
	if fn != nil {
		return fn(n, messageID)
	}
	return &infrafns.FetchResult{MessageID: messageID, Status: infrafns.MessageProcessing}, nil
}

func (f *fakeClient) FetchMessages(_ context.Context, ids []string, _ string) ([]infrafns.FetchResult, error) {
	f.mu.Lock()
	f.batchCalls++
	n := f.batchCalls
	f.batchSizes = append(f.batchSizes, len(ids))
	fn := f.batchFn
	f.mu.Unlock()
	if fn != nil {
		return fn(n, ids)
	}
	out := make([]infrafns.FetchResult, len(ids))
	for i, id := range ids {
		out[i] = infrafns.FetchResult{MessageID: id, Status: infrafns.MessageProcessing}
	}
	return out, nil
}

func (f *fakeClient) counts() (auth, submit, fetch, batch int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authCalls, f.submitCalls, f.fetchCalls, f.batchCalls
}

// ── Harness ───────────────────────────────────────────────────────────────────

var testStart = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	clock  *fakeClock
	client *fakeClient
	ledger *memory.Ledger
	cache  *verification.MemoryResultCache
	tokens *verification.TokenCache
	coord  *verification.Coordinator
}

func newHarness(t *testing.T, mutate func(*verification.Config)) *harness {
	t.Helper()
	clock := newClock(testStart)
	client := newFakeClient(clock)
	ledger := memory.NewLedger()
	cache := verification.NewMemoryResultCache(clock.Now)
	tokens := verification.NewTokenCache(client, "master", 30*time.Second, clock.Now, zerolog.Nop())
	cfg := verification.Config{
		DailyLimit:       0,
		MaxPollAttempts:  5,
		MinPollInterval:  2 * time.Second,
		MaxSubmitRetries: 2,
		SubmitBackoff:    time.Millisecond,
		MaxBackoff:       time.Minute,
		ResultTTL:        24 * time.Hour,
		MaxBatch:         100,
		Location:         time.UTC,
		Policy:           pkgfns.AdmissionPolicy{Earliest: pkgfns.DefaultEarliestReceiptDate},
		Now:              clock.Now,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	coord := verification.NewCoordinator(client, tokens, ledger, cache, cfg, zerolog.Nop())
	return &harness{clock: clock, client: client, ledger: ledger, cache: cache, tokens: tokens, coord: coord}
}

// receipt datos del escenario del QR estándar; fd distingue tickets.
func receipt(fd string) entity.ReceiptFiscalData {
	return entity.ReceiptFiscalData{
		FN:            "9287440300090728",
		FD:            fd,
		FP:            "1482926127",
		Sum:           240000,
		Date:          time.Date(2019, 4, 9, 16, 38, 0, 0, time.UTC),
		TypeOperation: entity.OperationSale,
	}
}

func completed(messageID string, code int, ticket *entity.ConfirmedTicket) *infrafns.FetchResult {
	return &infrafns.FetchResult{
		MessageID: messageID,
		Status:    infrafns.MessageCompleted,
		Answer:    &infrafns.TicketAnswer{Code: code, Ticket: ticket},
	}
}

func fnsErr(kind domainfns.Kind) error {
	return domainfns.NewError(kind, "test", string(kind), nil)
}
