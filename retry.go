package publisher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RedeliverFunc re-runs the publication pipeline for a queued entry.
type RedeliverFunc func(ctx context.Context, entry RetryEntry) error

// RetryScheduler receives items whose broadcast reached no relay. Implemented
// by RetryQueue; narrowed to an interface so the pipeline can be tested
// without a running queue.
type RetryScheduler interface {
	Enqueue(entry RetryEntry)
}

// RetryQueue holds failed items and redelivers them after a flat delay.
//
// Entries are keyed by item ID, so re-fetching a queued item from the backend
// coalesces instead of duplicating. A drain first removes the whole batch
// from the queue and only then resubmits it, so an entry that fails again
// lands in the next drain rather than looping inside the current one. Items
// that have used up their attempt budget are dropped at enqueue time and
// reported as terminal failures.
type RetryQueue struct {
	redeliver   RedeliverFunc
	logger      *zap.Logger
	metrics     MetricsCollector
	notifier    UserNotifier
	clock       Clock
	delay       time.Duration
	maxAttempts int

	mu       sync.Mutex
	entries  map[string]RetryEntry
	draining bool
	timer    *time.Timer

	wg       sync.WaitGroup
	runMu    sync.RWMutex
	stopOnce sync.Once
	stopChan chan struct{}
	started  bool
}

// NewRetryQueue creates a RetryQueue with functional options. The queue does
// nothing until Start runs its drain loop.
func NewRetryQueue(redeliver RedeliverFunc, opts ...RetryQueueOption) *RetryQueue {
	q := &RetryQueue{
		redeliver:   redeliver,
		logger:      zap.NewNop(),
		metrics:     NewNopMetricsCollector(),
		clock:       RealClock{},
		delay:       defaultRetryDelay,
		maxAttempts: defaultMaxAttempts,
		entries:     make(map[string]RetryEntry),
		stopChan:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	// The timer is armed by the first enqueue; until then it must not fire.
	q.timer = time.NewTimer(time.Hour)
	q.timer.Stop()
	return q
}

// Enqueue schedules an entry for redelivery after the queue's delay. Entries
// past the attempt budget are dropped and reported instead. Already-queued
// items coalesce, keeping the higher attempt count and the earliest failure
// time.
func (q *RetryQueue) Enqueue(entry RetryEntry) {
	if entry.Attempts >= q.maxAttempts {
		q.logger.Warn("Retry budget exhausted, dropping item",
			zap.String("item_id", entry.Item.ID),
			zap.Int("attempts", entry.Attempts),
		)
		q.metrics.IncrementCounter("retry_queue.exhausted", nil)
		if q.notifier != nil {
			q.notifier.NotifyFailed(entry.Item.ID, "not accepted by any relay after retries")
		}
		return
	}
	if entry.FirstFailure.IsZero() {
		entry.FirstFailure = q.clock.Now()
	}

	q.mu.Lock()
	if prev, ok := q.entries[entry.Item.ID]; ok {
		if prev.Attempts > entry.Attempts {
			entry.Attempts = prev.Attempts
		}
		if !prev.FirstFailure.IsZero() && prev.FirstFailure.Before(entry.FirstFailure) {
			entry.FirstFailure = prev.FirstFailure
		}
	}
	q.entries[entry.Item.ID] = entry
	depth := len(q.entries)
	if !q.draining {
		q.timer.Reset(q.delay)
	}
	q.mu.Unlock()

	q.logger.Debug("Item queued for retry",
		zap.String("item_id", entry.Item.ID),
		zap.Int("attempts", entry.Attempts),
		zap.Duration("delay", q.delay),
	)
	q.metrics.RecordGauge("retry_queue.depth", float64(depth), nil)
}

// Len returns the number of entries currently waiting for redelivery.
func (q *RetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Start runs the drain loop. It blocks until the context is cancelled or Stop
// is called. Entries enqueued before Start are drained once the loop is up.
func (q *RetryQueue) Start(ctx context.Context) {
	q.runMu.Lock()
	if q.started {
		q.runMu.Unlock()
		q.logger.Warn("Retry queue already started")
		return
	}
	q.started = true
	q.runMu.Unlock()

	q.logger.Info("Retry queue starting",
		zap.Duration("delay", q.delay),
		zap.Int("max_attempts", q.maxAttempts),
	)
	defer q.logger.Info("Retry queue finished")

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.stopChan:
			return
		case <-q.timer.C:
			select {
			case <-q.stopChan:
				return
			default:
			}
			q.drain(ctx)
		}
	}
}

// drain removes everything currently queued and resubmits it sequentially.
// The queue is cleared before the first resubmission, so entries enqueued
// while the drain runs, including entries failing again, wait for the next
// drain. A drain against an empty queue is a no-op; a stale timer fire after
// a coalescing reset ends up here and does no harm.
func (q *RetryQueue) drain(ctx context.Context) {
	q.wg.Add(1)
	defer q.wg.Done()

	q.mu.Lock()
	if len(q.entries) == 0 {
		q.mu.Unlock()
		return
	}
	batch := make([]RetryEntry, 0, len(q.entries))
	for _, entry := range q.entries {
		batch = append(batch, entry)
	}
	q.entries = make(map[string]RetryEntry)
	q.draining = true
	q.mu.Unlock()

	q.logger.Info("Draining retry queue", zap.Int("entries", len(batch)))
	q.metrics.IncrementCounter("retry_queue.drains", nil)

	for i, entry := range batch {
		select {
		case <-ctx.Done():
			// Shutting down; put the rest back so Stop sees a truthful depth.
			q.requeue(batch[i:])
			return
		default:
		}
		if err := q.redeliver(ctx, entry); err != nil {
			q.logger.Debug("Redelivery attempt failed",
				zap.String("item_id", entry.Item.ID),
				zap.Error(err),
			)
		}
	}

	q.mu.Lock()
	q.draining = false
	if len(q.entries) > 0 {
		q.timer.Reset(q.delay)
	}
	q.mu.Unlock()
}

func (q *RetryQueue) requeue(entries []RetryEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, entry := range entries {
		if _, ok := q.entries[entry.Item.ID]; !ok {
			q.entries[entry.Item.ID] = entry
		}
	}
	q.draining = false
}

// Stop cancels the pending retry timer and waits for an in-progress drain to
// complete. Entries still queued are lost with the process; the backend will
// offer their items again on the next run.
func (q *RetryQueue) Stop() {
	q.stopOnce.Do(func() {
		q.runMu.RLock()
		defer q.runMu.RUnlock()
		if !q.started {
			return
		}
		close(q.stopChan)
		q.mu.Lock()
		q.timer.Stop()
		q.mu.Unlock()
		q.wg.Wait()
	})
}

// Name returns the worker's name.
func (q *RetryQueue) Name() string {
	return "retry-queue"
}
