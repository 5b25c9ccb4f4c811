// Package poller reads wallet payment history on a schedule and dispatches
// transactions whose webhook never arrived.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mattjoyce/qiwigo/internal/event"
	"github.com/mattjoyce/qiwigo/internal/log"
	"github.com/mattjoyce/qiwigo/internal/metrics"
	"github.com/mattjoyce/qiwigo/internal/wallet"
)

// ErrCircuitOpen is returned by Poll while repeated failures pause polling.
var ErrCircuitOpen = errors.New("poller: circuit open")

const (
	resultPolled       = "polled"
	resultDuplicate    = "duplicate"
	resultHandlerError = "handler_error"
)

// Config controls the poll schedule.
type Config struct {
	Every  time.Duration
	Jitter time.Duration

	// Lookback is the history window requested on each pass.
	Lookback time.Duration
	Rows     int

	FailureThreshold int
	ResetAfter       time.Duration
}

// Default values
const (
	DefaultEvery            = time.Minute
	DefaultLookback         = time.Hour
	DefaultFailureThreshold = 3
	DefaultResetAfter       = 5 * time.Minute
)

// Poller feeds history rows through the same dispatch and de-duplication
// path as the webhook server.
type Poller struct {
	cfg        Config
	source     HistorySource
	dispatcher Dispatcher
	deliveries DeliveryStore
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	breaker *gobreaker.CircuitBreaker
}

// Option configures a Poller.
type Option func(*Poller)

func WithDeliveryStore(store DeliveryStore) Option {
	return func(p *Poller) { p.deliveries = store }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Poller) { p.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) { p.logger = logger }
}

func withClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// New creates a Poller. Zero config fields take the package defaults.
func New(cfg Config, source HistorySource, d Dispatcher, opts ...Option) *Poller {
	if cfg.Every <= 0 {
		cfg.Every = DefaultEvery
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.Rows <= 0 || cfg.Rows > wallet.MaxHistoryRows {
		cfg.Rows = wallet.MaxHistoryRows
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.ResetAfter <= 0 {
		cfg.ResetAfter = DefaultResetAfter
	}

	p := &Poller{
		cfg:        cfg,
		source:     source,
		dispatcher: d,
		logger:     log.WithComponent("poller"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "wallet-history",
		MaxRequests: 1,
		Timeout:     cfg.ResetAfter,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(cfg.FailureThreshold)
		},
		// Shutdown is not a wallet failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Info("circuit breaker state changed", "breaker", name, "previous_state", from.String(), "state", to.String())
		},
	})
	return p
}

// Start polls immediately and then every jittered interval until ctx is
// done. It always returns ctx.Err().
func (p *Poller) Start(ctx context.Context) error {
	p.logger.Info("history poller started", "every", p.cfg.Every, "jitter", p.cfg.Jitter, "lookback", p.cfg.Lookback)

	for {
		if n, err := p.Poll(ctx); err != nil {
			if errors.Is(err, ErrCircuitOpen) {
				p.logger.Debug("poll skipped", "reason", "circuit_open")
			} else if ctx.Err() == nil {
				p.logger.Warn("history poll failed", "error", err)
			}
		} else if n > 0 {
			p.logger.Info("history poll dispatched transactions", "count", n)
		}

		timer := time.NewTimer(jitteredInterval(p.cfg.Every, p.cfg.Jitter))
		select {
		case <-ctx.Done():
			timer.Stop()
			p.logger.Info("history poller stopped")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Poll runs one pass and returns how many transactions were dispatched.
func (p *Poller) Poll(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	res, err := p.breaker.Execute(func() (interface{}, error) {
		return p.source.History(ctx, wallet.HistoryFilter{
			Rows:      p.cfg.Rows,
			Operation: wallet.OperationAll,
			StartDate: now.Add(-p.cfg.Lookback),
			EndDate:   now,
		})
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return 0, ErrCircuitOpen
	}
	if err != nil {
		return 0, fmt.Errorf("poller: history: %w", err)
	}
	history, _ := res.(*wallet.History)
	if history == nil {
		return 0, nil
	}

	// History is newest first; handlers see transactions in the order they happened.
	rows := slices.Clone(history.Transactions)
	slices.Reverse(rows)

	dispatched := 0
	for _, txn := range rows {
		if p.deliver(ctx, FromHistory(txn)) {
			dispatched++
		}
	}
	return dispatched, nil
}

// deliver claims, dispatches and completes one transaction. It reports
// false for duplicates.
func (p *Poller) deliver(ctx context.Context, ev *event.Transaction) bool {
	key := ev.DeliveryKey()
	kind := string(ev.Kind())
	logger := p.logger.With("delivery_key", key)

	if p.deliveries != nil {
		first, err := p.deliveries.Claim(ctx, key)
		if err != nil {
			logger.Error("delivery claim failed, dispatching anyway", "error", err)
		} else if !first {
			p.metrics.ObserveDelivery(kind, resultDuplicate)
			return false
		}
	}

	result := resultPolled
	for _, o := range p.dispatcher.Dispatch(ctx, ev) {
		if o.Err != nil {
			result = resultHandlerError
		}
	}

	if p.deliveries != nil {
		if err := p.deliveries.Complete(ctx, key); err != nil {
			logger.Error("delivery completion not recorded", "error", err)
		}
	}

	logger.Debug("polled transaction handled", "result", result)
	p.metrics.ObserveDelivery(kind, result)
	return true
}

// jitteredInterval adds a random duration in [0, jitter) to base.
func jitteredInterval(base, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return base
	}
	return base + time.Duration(rand.Int63n(jitter.Nanoseconds()))
}
