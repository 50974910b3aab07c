package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"
)

// ErrBroadcastFailed means no relay accepted the event; the attempt is
// retryable.
var ErrBroadcastFailed = errors.New("event was not accepted by any relay")

// EventBroadcaster fans a signed event out to the relay set. Implemented by
// Broadcaster.
type EventBroadcaster interface {
	Broadcast(ctx context.Context, ev nostr.Event) BroadcastOutcome
}

// Pipeline runs the publication flow for one staged item: readiness check,
// event construction, signing, broadcast, then the post-delivery side
// effects. Failures before the broadcast are terminal for the item; a
// broadcast reaching no relay is handed to the retry scheduler.
type Pipeline struct {
	broadcaster EventBroadcaster
	signer      Signer
	status      StatusStore
	cleaner     StagingCleaner
	notifier    UserNotifier
	retries     RetryScheduler
	logger      *zap.Logger
	metrics     MetricsCollector

	delivered atomic.Int64
	terminal  atomic.Int64
	retried   atomic.Int64
	skipped   atomic.Int64
}

// PipelineStats are lifetime per-item outcome counters.
type PipelineStats struct {
	Delivered int64
	Terminal  int64
	Retried   int64
	Skipped   int64
}

// NewPipeline creates a Pipeline with functional options.
func NewPipeline(
	broadcaster EventBroadcaster,
	signer Signer,
	status StatusStore,
	cleaner StagingCleaner,
	notifier UserNotifier,
	retries RetryScheduler,
	opts ...PipelineOption,
) *Pipeline {
	p := &Pipeline{
		broadcaster: broadcaster,
		signer:      signer,
		status:      status,
		cleaner:     cleaner,
		notifier:    notifier,
		retries:     retries,
		logger:      zap.NewNop(),
		metrics:     NewNopMetricsCollector(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessItem runs the full publication flow for a freshly fetched item.
// A nil return means the item was delivered or deliberately skipped; an error
// means the attempt failed, with retryable failures already queued.
func (p *Pipeline) ProcessItem(ctx context.Context, item ReadyItem) error {
	return p.run(ctx, item, 0, time.Time{})
}

// Redeliver re-runs the flow for a queued retry entry, carrying the entry's
// attempt count and first-failure time forward.
func (p *Pipeline) Redeliver(ctx context.Context, entry RetryEntry) error {
	return p.run(ctx, entry.Item, entry.Attempts, entry.FirstFailure)
}

func (p *Pipeline) run(ctx context.Context, item ReadyItem, priorAttempts int, firstFailure time.Time) (err error) {
	itemFields := []zap.Field{
		zap.String("item_id", item.ID),
		zap.Int("prior_attempts", priorAttempts),
	}

	// One broken item must not take the poll cycle down with it.
	defer func() {
		if r := recover(); r != nil {
			p.terminal.Add(1)
			p.metrics.IncrementCounter("pipeline.panic", nil)
			p.logger.Error("Panic while publishing item", append(itemFields, zap.Any("panic", r))...)
			p.notifier.NotifyFailed(item.ID, fmt.Sprintf("internal error: %v", r))
			err = fmt.Errorf("panic while publishing item %s: %v", item.ID, r)
		}
	}()

	if !item.Ready() {
		p.skipped.Add(1)
		p.metrics.IncrementCounter("pipeline.skipped", map[string]string{"status": item.Status})
		p.logger.Debug("Item not ready yet, skipping", itemFields...)
		return nil
	}

	p.logger.Debug("Publishing item", itemFields...)
	start := time.Now()

	ev, err := BuildEvent(item)
	if err != nil {
		return p.failTerminal(item, "build", err, itemFields)
	}

	if err := p.signer.Sign(ctx, &ev); err != nil {
		return p.failTerminal(item, "sign", err, itemFields)
	}
	itemFields = append(itemFields, zap.String("event_id", ev.ID))

	outcome := p.broadcaster.Broadcast(ctx, ev)
	if !outcome.Successful() {
		p.retried.Add(1)
		p.metrics.IncrementCounter("pipeline.broadcast_failed", nil)
		p.logger.Warn("No relay accepted event, scheduling retry", itemFields...)
		p.retries.Enqueue(RetryEntry{
			Item:         item,
			Attempts:     priorAttempts + 1,
			FirstFailure: firstFailure,
		})
		return fmt.Errorf("item %s: %w (0 of %d relays)", item.ID, ErrBroadcastFailed, outcome.Total)
	}

	// Delivered. The side effects below are best-effort: none of them can
	// undo the broadcast, so their failures are logged and absorbed.
	if err := p.status.MarkPublished(ctx, item.ID, ev.ID); err != nil {
		p.metrics.IncrementCounter("pipeline.mark_published_failed", nil)
		p.logger.Error("Failed to record published status", append(itemFields, zap.Error(err))...)
	}
	if err := p.cleaner.Cleanup(ctx, item.ID); err != nil {
		p.metrics.IncrementCounter("pipeline.cleanup_failed", nil)
		p.logger.Warn("Failed to clean up staged media", append(itemFields, zap.Error(err))...)
	}
	p.notifier.NotifyPublished(item.ID, ev.ID)

	p.delivered.Add(1)
	p.metrics.IncrementCounter("pipeline.delivered", nil)
	p.metrics.RecordDuration("pipeline.duration", time.Since(start), nil)
	p.logger.Info("Item published",
		append(itemFields,
			zap.Int("accepted_relays", outcome.Succeeded),
			zap.Int("total_relays", outcome.Total),
		)...)
	return nil
}

// failTerminal reports a non-retryable per-item failure exactly once.
func (p *Pipeline) failTerminal(item ReadyItem, stage string, cause error, itemFields []zap.Field) error {
	p.terminal.Add(1)
	p.metrics.IncrementCounter("pipeline.terminal_failed", map[string]string{"stage": stage})
	p.logger.Error("Item failed terminally",
		append(itemFields, zap.String("stage", stage), zap.Error(cause))...)
	p.notifier.NotifyFailed(item.ID, cause.Error())
	return fmt.Errorf("publish item %s: %s: %w", item.ID, stage, cause)
}

// Stats returns lifetime outcome counters across all attempts.
func (p *Pipeline) Stats() PipelineStats {
	return PipelineStats{
		Delivered: p.delivered.Load(),
		Terminal:  p.terminal.Load(),
		Retried:   p.retried.Load(),
		Skipped:   p.skipped.Load(),
	}
}
