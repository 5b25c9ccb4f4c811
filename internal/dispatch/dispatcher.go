package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/mattjoyce/qiwigo/internal/event"
	"github.com/mattjoyce/qiwigo/internal/log"
	"github.com/mattjoyce/qiwigo/internal/metrics"
)

// Handler processes events of one concrete type.
type Handler[E event.Event] interface {
	Handle(ctx context.Context, ev E) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[E event.Event] func(ctx context.Context, ev E) error

func (f HandlerFunc[E]) Handle(ctx context.Context, ev E) error {
	return f(ctx, ev)
}

// ErrorHandler observes contained handler failures.
type ErrorHandler func(ctx context.Context, err *HandlerError)

// Outcome is the result of one handler that passed its filters.
type Outcome struct {
	Handler  string
	Err      error
	Duration time.Duration
}

type registration struct {
	name    string
	kind    event.Kind // empty matches every kind
	filters []Filter
	handle  func(ctx context.Context, ev event.Event) error
}

// Dispatcher holds handler registrations. Registration happens during setup;
// Dispatch is safe for concurrent use.
type Dispatcher struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu            sync.RWMutex
	frozen        bool
	registrations []registration
	errorHandlers []ErrorHandler
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New creates an empty Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = log.WithComponent("dispatch")
	}
	return d
}

// On registers h for events of type E. When E is an interface type the
// handler receives every event that implements it.
func On[E event.Event](d *Dispatcher, h Handler[E], filters ...Filter) error {
	kind := ""
	if reflect.TypeFor[E]().Kind() != reflect.Interface {
		var zero E
		kind = string(zero.Kind())
	}
	return d.register(registration{
		name:    handlerName(h, len(d.registrationsSnapshot())),
		kind:    event.Kind(kind),
		filters: filters,
		handle: func(ctx context.Context, ev event.Event) error {
			typed, ok := ev.(E)
			if !ok {
				return fmt.Errorf("event %T is not %s", ev, reflect.TypeFor[E]())
			}
			return h.Handle(ctx, typed)
		},
	})
}

// OnError appends an exception handler. They run in registration order.
func (d *Dispatcher) OnError(h ErrorHandler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.frozen {
		return ErrFrozen
	}
	d.errorHandlers = append(d.errorHandlers, h)
	return nil
}

// Freeze rejects further registrations.
func (d *Dispatcher) Freeze() {
	d.mu.Lock()
	d.frozen = true
	d.mu.Unlock()
}

// Len returns the number of registered handlers.
func (d *Dispatcher) Len() int {
	return len(d.registrationsSnapshot())
}

func (d *Dispatcher) register(r registration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.frozen {
		return ErrFrozen
	}
	d.registrations = append(d.registrations, r)
	return nil
}

func (d *Dispatcher) registrationsSnapshot() []registration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.registrations
}

// Dispatch runs every matching handler for ev in registration order and
// reports one Outcome per handler that ran. Failures are contained.
func (d *Dispatcher) Dispatch(ctx context.Context, ev event.Event) []Outcome {
	d.mu.RLock()
	regs := d.registrations
	errorHandlers := d.errorHandlers
	d.mu.RUnlock()

	logger := d.logger.With("event_kind", string(ev.Kind()), "delivery_key", ev.DeliveryKey())
	outcomes := make([]Outcome, 0, len(regs))

	for _, r := range regs {
		if r.kind != "" && r.kind != ev.Kind() {
			continue
		}

		matched, ferr := d.matches(ctx, r, ev)
		if ferr != nil {
			herr := &HandlerError{Handler: r.name, Kind: ev.Kind(), DeliveryKey: ev.DeliveryKey(), Err: ferr}
			d.fail(ctx, logger, herr, errorHandlers)
			outcomes = append(outcomes, Outcome{Handler: r.name, Err: herr})
			continue
		}
		if !matched {
			continue
		}

		start := time.Now()
		herr := d.run(ctx, r, ev)
		out := Outcome{Handler: r.name, Duration: time.Since(start)}
		if herr != nil {
			d.fail(ctx, logger, herr, errorHandlers)
			out.Err = herr
		} else {
			logger.Debug("handler completed", "handler", r.name, "duration_ms", out.Duration.Milliseconds())
		}
		outcomes = append(outcomes, out)
	}

	return outcomes
}

func (d *Dispatcher) matches(ctx context.Context, r registration, ev event.Event) (bool, error) {
	for _, f := range r.filters {
		ok, err := f.Match(ctx, ev)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (d *Dispatcher) run(ctx context.Context, r registration, ev event.Event) (herr *HandlerError) {
	defer func() {
		if p := recover(); p != nil {
			herr = &HandlerError{Handler: r.name, Kind: ev.Kind(), DeliveryKey: ev.DeliveryKey(), Panic: p}
		}
	}()
	if err := r.handle(ctx, ev); err != nil {
		return &HandlerError{Handler: r.name, Kind: ev.Kind(), DeliveryKey: ev.DeliveryKey(), Err: err}
	}
	return nil
}

func (d *Dispatcher) fail(ctx context.Context, logger *slog.Logger, herr *HandlerError, errorHandlers []ErrorHandler) {
	d.metrics.ObserveHandlerError(string(herr.Kind))
	logger.Error("webhook handler failed", "handler", herr.Handler, "error", herr)

	for _, eh := range errorHandlers {
		func() {
			defer func() {
				if p := recover(); p != nil {
					logger.Error("exception handler panicked", "handler", herr.Handler, "panic", p)
				}
			}()
			eh(ctx, herr)
		}()
	}
}

type named interface {
	Name() string
}

func handlerName(h any, index int) string {
	if n, ok := h.(named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T#%d", h, index)
}
