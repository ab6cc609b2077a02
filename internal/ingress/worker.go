package ingress

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/commerce-concierge/internal/orchestrator"
	"github.com/wolfman30/commerce-concierge/internal/state"
	"github.com/wolfman30/commerce-concierge/pkg/logging"
)

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
	fallbackReply        = "Sorry, something went wrong on our side. Please try again in a moment."
)

// Submitter runs a turn. *orchestrator.Dispatcher implements it.
type Submitter interface {
	Submit(ctx context.Context, in orchestrator.Inbound) (orchestrator.Outbound, error)
}

// ReplySink hands a finished reply to the outbound channel.
type ReplySink interface {
	Deliver(ctx context.Context, in orchestrator.Inbound, out orchestrator.Outbound) error
}

// LogSink writes replies to the log. Used when no channel adapter is wired.
type LogSink struct {
	Logger *logging.Logger
}

func (s LogSink) Deliver(ctx context.Context, in orchestrator.Inbound, out orchestrator.Outbound) error {
	logging.OrDefault(s.Logger).InfoContext(ctx, "reply ready",
		"tenant_id", in.TenantID,
		"conversation_id", out.ConversationID,
		"request_id", out.RequestID,
		"journey", out.Journey,
		"language", out.ResponseLanguage,
		"escalated", out.EscalationRequired,
		"chars", len(out.ResponseText),
	)
	return nil
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	sink             ReplySink
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent poll loops.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithReplySink sets where replies go.
func WithReplySink(sink ReplySink) WorkerOption {
	return func(cfg *workerConfig) {
		if sink != nil {
			cfg.sink = sink
		}
	}
}

// Worker consumes inbound turns from a queue.
type Worker struct {
	turns  Submitter
	queue  Queue
	logger *logging.Logger
	cfg    workerConfig
	wg     sync.WaitGroup
}

// NewWorker wires a queue to the dispatcher.
func NewWorker(turns Submitter, queue Queue, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if turns == nil {
		panic("ingress: submitter cannot be nil")
	}
	logger = logging.OrDefault(logger)
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		sink:             LogSink{Logger: logger},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{turns: turns, queue: queue, logger: logger, cfg: cfg}
}

// Start launches poll loops until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	if w.queue == nil {
		panic("ingress: queue cannot be nil")
	}
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all poll loops exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("turn worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("turn worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.logger.Error("failed to receive turns", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		retry := make(map[string]bool)
		for _, id := range w.HandleBatch(ctx, messages) {
			retry[id] = true
		}
		for _, msg := range messages {
			if !retry[msg.ID] {
				w.deleteMessage(context.Background(), msg.ReceiptHandle)
			}
		}
	}
}

// HandleBatch processes messages and returns the IDs that should be
// redelivered. Messages for the same conversation are submitted in batch
// order; different conversations run concurrently.
func (w *Worker) HandleBatch(ctx context.Context, messages []Message) []string {
	groups := make(map[string][]Message)
	var keys []string
	var failed []string
	var mu sync.Mutex

	for _, msg := range messages {
		in, err := decode(msg.Body)
		if err != nil {
			// poison message: drop it
			w.logger.Error("failed to decode turn", "error", err, "msg_id", msg.ID)
			continue
		}
		key := state.Key(in.TenantID, in.ConversationID)
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], msg)
	}

	var g errgroup.Group
	for _, key := range keys {
		batch := groups[key]
		g.Go(func() error {
			for _, msg := range batch {
				if err := w.ProcessBody(ctx, msg.Body); err != nil {
					mu.Lock()
					failed = append(failed, msg.ID)
					mu.Unlock()
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

// ProcessBody runs one queued turn. A non-nil error means the message should
// be redelivered; everything else, including turns that ended in an apology,
// counts as handled.
func (w *Worker) ProcessBody(ctx context.Context, body string) error {
	in, err := decode(body)
	if err != nil {
		w.logger.Error("failed to decode turn", "error", err)
		return nil
	}

	out, err := w.turns.Submit(ctx, in)
	switch {
	case err == nil:
	case errors.Is(err, orchestrator.ErrDispatcherClosed),
		errors.Is(err, state.ErrLockAcquire),
		errors.Is(err, context.Canceled):
		w.logger.WarnContext(ctx, "turn deferred for redelivery",
			"tenant_id", in.TenantID, "conversation_id", in.ConversationID, "error", err)
		return err
	default:
		w.logger.ErrorContext(ctx, "turn failed",
			"tenant_id", in.TenantID, "conversation_id", in.ConversationID, "error", err)
		if out.ResponseText == "" {
			out.ConversationID = in.ConversationID
			out.ResponseText = fallbackReply
		}
	}

	if out.ResponseText == "" {
		return nil
	}
	if derr := w.cfg.sink.Deliver(ctx, in, out); derr != nil {
		w.logger.ErrorContext(ctx, "reply delivery failed",
			"tenant_id", in.TenantID, "conversation_id", in.ConversationID, "error", derr)
	}
	return nil
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete turn", "error", err)
	}
}
