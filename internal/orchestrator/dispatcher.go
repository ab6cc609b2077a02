package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/commerce-concierge/internal/observability/metrics"
	"github.com/wolfman30/commerce-concierge/internal/state"
	"github.com/wolfman30/commerce-concierge/pkg/logging"
)

// ErrDispatcherClosed indicates the dispatcher is no longer accepting turns.
var ErrDispatcherClosed = errors.New("orchestrator: dispatcher closed")

// TurnHandler runs a single turn. *Engine implements it.
type TurnHandler interface {
	HandleTurn(ctx context.Context, in Inbound) (Outbound, error)
}

const (
	defaultDispatchWorkers = 8
	defaultLockTTL         = 60 * time.Second
)

type dispatcherConfig struct {
	workers int
	locker  state.Locker
	lockTTL time.Duration
	metrics *metrics.EngineMetrics
	logger  *logging.Logger
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*dispatcherConfig)

// WithWorkers bounds how many turns run at once across all conversations.
func WithWorkers(n int) DispatcherOption {
	return func(cfg *dispatcherConfig) {
		if n > 0 {
			cfg.workers = n
		}
	}
}

// WithLocker adds a cross-process lock around each turn.
func WithLocker(locker state.Locker, ttl time.Duration) DispatcherOption {
	return func(cfg *dispatcherConfig) {
		cfg.locker = locker
		if ttl > 0 {
			cfg.lockTTL = ttl
		}
	}
}

// WithDispatcherMetrics reports queue depth.
func WithDispatcherMetrics(m *metrics.EngineMetrics) DispatcherOption {
	return func(cfg *dispatcherConfig) {
		cfg.metrics = m
	}
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger *logging.Logger) DispatcherOption {
	return func(cfg *dispatcherConfig) {
		cfg.logger = logger
	}
}

type turnResult struct {
	out Outbound
	err error
}

type pendingTurn struct {
	ctx  context.Context
	in   Inbound
	done chan turnResult
}

// Dispatcher serializes turns per (tenant, conversation). Turns for one key
// run one at a time in arrival order; different keys run concurrently up to
// the worker bound. A turn that has been accepted runs to completion even if
// the submitter stops waiting.
type Dispatcher struct {
	handler TurnHandler
	cfg     dispatcherConfig
	logger  *logging.Logger
	slots   chan struct{}

	mu     sync.Mutex
	queues map[string][]*pendingTurn
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher wraps handler.
func NewDispatcher(handler TurnHandler, opts ...DispatcherOption) *Dispatcher {
	if handler == nil {
		panic("orchestrator: turn handler cannot be nil")
	}
	cfg := dispatcherConfig{workers: defaultDispatchWorkers, lockTTL: defaultLockTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Dispatcher{
		handler: handler,
		cfg:     cfg,
		logger:  logging.OrDefault(cfg.logger),
		slots:   make(chan struct{}, cfg.workers),
		queues:  make(map[string][]*pendingTurn),
	}
}

// Submit enqueues in behind any turn in flight for the same conversation and
// waits for its result. Cancelling ctx stops the wait, not the turn.
func (d *Dispatcher) Submit(ctx context.Context, in Inbound) (Outbound, error) {
	if err := in.Validate(); err != nil {
		return Outbound{ConversationID: in.ConversationID}, err
	}
	turn := &pendingTurn{
		ctx:  context.WithoutCancel(ctx),
		in:   in,
		done: make(chan turnResult, 1),
	}
	key := state.Key(in.TenantID, in.ConversationID)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return Outbound{ConversationID: in.ConversationID}, ErrDispatcherClosed
	}
	queue, busy := d.queues[key]
	d.queues[key] = append(queue, turn)
	if busy {
		d.cfg.metrics.AddQueued(1)
	} else {
		d.wg.Add(1)
		go d.drain(key)
	}
	d.mu.Unlock()

	select {
	case res := <-turn.done:
		return res.out, res.err
	case <-ctx.Done():
		return Outbound{ConversationID: in.ConversationID}, ctx.Err()
	}
}

// drain runs the queue for key until it is empty. The map entry exists for
// as long as a drain goroutine owns the key.
func (d *Dispatcher) drain(key string) {
	defer d.wg.Done()
	first := true
	for {
		d.mu.Lock()
		queue := d.queues[key]
		if len(queue) == 0 {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		turn := queue[0]
		d.queues[key] = queue[1:]
		if !first {
			d.cfg.metrics.AddQueued(-1)
		}
		first = false
		d.mu.Unlock()

		d.slots <- struct{}{}
		out, err := d.run(key, turn)
		<-d.slots
		turn.done <- turnResult{out: out, err: err}
	}
}

func (d *Dispatcher) run(key string, turn *pendingTurn) (out Outbound, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.CriticalContext(turn.ctx, "turn panicked", "key", key, "panic", r)
			out = Outbound{ConversationID: turn.in.ConversationID}
			err = fmt.Errorf("orchestrator: turn panicked: %v", r)
		}
	}()

	if d.cfg.locker != nil {
		lockCtx, cancel := context.WithTimeout(turn.ctx, d.cfg.lockTTL)
		unlock, lerr := d.cfg.locker.Lock(lockCtx, key, d.cfg.lockTTL)
		cancel()
		if lerr != nil {
			d.logger.ErrorContext(turn.ctx, "conversation lock unavailable", "key", key, "error", lerr)
			return Outbound{ConversationID: turn.in.ConversationID}, fmt.Errorf("orchestrator: lock %s: %w", key, lerr)
		}
		defer func() {
			if uerr := unlock(context.WithoutCancel(turn.ctx)); uerr != nil {
				d.logger.WarnContext(turn.ctx, "conversation unlock failed", "key", key, "error", uerr)
			}
		}()
	}
	return d.handler.HandleTurn(turn.ctx, turn.in)
}

// Close stops accepting turns and waits for queued ones to finish or ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
