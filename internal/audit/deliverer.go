package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/commerce-concierge/pkg/logging"
)

// BatchHandler ships a batch of audit entries downstream.
type BatchHandler interface {
	HandleBatch(ctx context.Context, entries []Entry) error
}

type pendingStore interface {
	FetchPending(ctx context.Context, limit int32) ([]Entry, error)
	MarkDelivered(ctx context.Context, ids []uuid.UUID) (int64, error)
}

// Deliverer polls the outbox and hands batches to the handler.
type Deliverer struct {
	store     pendingStore
	handler   BatchHandler
	logger    *logging.Logger
	batchSize int32
	interval  time.Duration
}

func NewDeliverer(store pendingStore, handler BatchHandler, logger *logging.Logger) *Deliverer {
	return &Deliverer{
		store:     store,
		handler:   handler,
		logger:    logging.OrDefault(logger),
		batchSize: 200,
		interval:  30 * time.Second,
	}
}

func (d *Deliverer) WithBatchSize(size int32) *Deliverer {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Deliverer) WithInterval(interval time.Duration) *Deliverer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

// Start drains the outbox every interval until ctx is done.
func (d *Deliverer) Start(ctx context.Context) {
	if d.store == nil || d.handler == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Drain(ctx)
		}
	}
}

// Drain ships one batch and reports how many entries were marked delivered.
func (d *Deliverer) Drain(ctx context.Context) int64 {
	entries, err := d.store.FetchPending(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("audit outbox fetch failed", "error", err)
		return 0
	}
	if len(entries) == 0 {
		return 0
	}
	if err := d.handler.HandleBatch(ctx, entries); err != nil {
		d.logger.Error("audit batch delivery failed", "error", err, "entries", len(entries))
		return 0
	}
	ids := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	n, err := d.store.MarkDelivered(ctx, ids)
	if err != nil {
		d.logger.Error("failed to mark audit entries delivered", "error", err, "entries", len(ids))
		return 0
	}
	d.logger.Debug("audit batch delivered", "entries", n)
	return n
}
