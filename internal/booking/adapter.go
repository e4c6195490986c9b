package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wolfman30/patientpal/internal/events"
	"github.com/wolfman30/patientpal/internal/observability/metrics"
	"github.com/wolfman30/patientpal/internal/operations"
	"github.com/wolfman30/patientpal/pkg/logging"
)

const defaultTimeout = 10 * time.Second

// DispatchKey identifies the user turn that resolved an operation.
type DispatchKey struct {
	UserID   string
	Sequence int64
}

func (k DispatchKey) String() string {
	return fmt.Sprintf("%s:%d", k.UserID, k.Sequence)
}

func (k DispatchKey) valid() bool {
	return k.UserID != "" && k.Sequence > 0
}

// Adapter is the single entry point sessions use to reach the appointment
// provider. It bounds every call by a timeout, never retries, and guards
// mutations through the dispatch ledger.
type Adapter struct {
	provider  Provider
	registry  *operations.Registry
	ledger    Ledger
	publisher events.Publisher
	metrics   *metrics.ChatMetrics
	logger    *logging.Logger
	timeout   time.Duration
}

type AdapterOption func(*Adapter)

func WithLedger(l Ledger) AdapterOption {
	return func(a *Adapter) { a.ledger = l }
}

func WithPublisher(p events.Publisher) AdapterOption {
	return func(a *Adapter) { a.publisher = p }
}

func WithMetrics(m *metrics.ChatMetrics) AdapterOption {
	return func(a *Adapter) { a.metrics = m }
}

func WithTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func WithLogger(l *logging.Logger) AdapterOption {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAdapter wraps provider. Without WithLedger an in-memory ledger is used.
func NewAdapter(provider Provider, registry *operations.Registry, opts ...AdapterOption) *Adapter {
	if provider == nil {
		panic("booking: provider cannot be nil")
	}
	if registry == nil {
		registry = operations.Default()
	}
	a := &Adapter{
		provider: provider,
		registry: registry,
		ledger:   NewMemoryLedger(),
		logger:   logging.Default(),
		timeout:  defaultTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Component("booking")
	return a
}

// Execute runs op once. Mutations carrying a valid key are recorded in the
// ledger first; a key seen before is never sent to the provider again, and a
// previously successful result is replayed instead.
func (a *Adapter) Execute(ctx context.Context, key DispatchKey, op operations.Operation) (Result, error) {
	if op == nil {
		return Result{}, errors.New("booking: operation required")
	}
	name := op.Name()
	def, ok := a.registry.Lookup(name)
	if !ok {
		return Result{}, &Error{Operation: name, Cause: CauseRejected, Message: "operation is not in the catalog"}
	}
	logger := a.logger.With("operation", string(name), "user_id", key.UserID)

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	guarded := op.Mutating() && a.ledger != nil && key.valid()
	if guarded {
		prior, reserved, err := a.ledger.Reserve(ctx, key.String(), name)
		if err != nil {
			a.metrics.ObserveBackendOperation(string(name), "ledger_error")
			return Result{}, &Error{Operation: name, Cause: CauseTransport, Message: "dispatch ledger unavailable", Err: err}
		}
		if !reserved {
			if prior.Status == DispatchSucceeded {
				logger.Info("booking: replaying completed dispatch", "dispatch_key", key.String())
				a.metrics.ObserveBackendOperation(string(name), "replayed")
				return prior.Result, nil
			}
			a.metrics.ObserveBackendOperation(string(name), string(CauseDuplicate))
			return Result{}, &Error{Operation: name, Cause: CauseDuplicate, Message: fmt.Sprintf("dispatch %s is %s", key, prior.Status)}
		}
	}

	start := time.Now()
	result, err := a.provider.Execute(ctx, op)
	a.metrics.ObserveStage("backend", time.Since(start))
	if err == nil && len(result.Values) != len(def.ResultFields) {
		err = &Error{
			Operation: name,
			Cause:     CauseInvalidResponse,
			Message:   fmt.Sprintf("expected %d result values, got %d", len(def.ResultFields), len(result.Values)),
		}
	}
	if err != nil {
		berr := classify(ctx, name, err)
		if guarded {
			// The ledger write must outlive the request deadline.
			if ferr := a.ledger.Fail(context.WithoutCancel(ctx), key.String()); ferr != nil {
				logger.Error("booking: failed to record failed dispatch", "error", ferr)
			}
		}
		a.metrics.ObserveBackendOperation(string(name), string(berr.Cause))
		logger.Warn("booking: operation failed", "provider", a.provider.Name(), "cause", string(berr.Cause), "error", berr)
		return Result{}, berr
	}

	if guarded {
		if cerr := a.ledger.Complete(context.WithoutCancel(ctx), key.String(), result); cerr != nil {
			logger.Error("booking: failed to record completed dispatch", "error", cerr)
		}
	}
	a.metrics.ObserveBackendOperation(string(name), "ok")
	logger.Info("booking: operation succeeded", "provider", a.provider.Name(), "duration_ms", time.Since(start).Milliseconds())

	if op.Mutating() && a.publisher != nil {
		evt := events.NewAppointmentChanged(key.UserID, string(name), op.Arguments(), result.Values)
		if perr := a.publisher.PublishAppointment(context.WithoutCancel(ctx), evt); perr != nil {
			logger.Warn("booking: failed to publish appointment event", "error", perr)
		}
	}
	return result, nil
}

// classify maps any provider failure onto a booking *Error. A provider's own
// *Error is copied, never modified.
func classify(ctx context.Context, name operations.Name, err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		berr := *perr
		if berr.Operation == "" {
			berr.Operation = name
		}
		if berr.Cause == CauseTransport && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			berr.Cause = CauseTimeout
		}
		return &berr
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Error{Operation: name, Cause: CauseTimeout, Err: err}
	}
	return &Error{Operation: name, Cause: CauseTransport, Err: err}
}
