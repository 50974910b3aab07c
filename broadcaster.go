package publisher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"
)

// Broadcaster sends one signed event to every currently connected relay in
// parallel and aggregates the per-relay results. It never retries on its own;
// retry policy lives with the caller.
type Broadcaster struct {
	conns       ConnProvider
	logger      *zap.Logger
	metrics     MetricsCollector
	sendTimeout time.Duration

	attempts  atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64
}

// BroadcasterStats are lifetime per-relay send counters.
type BroadcasterStats struct {
	Attempts  int64
	Successes int64
	Failures  int64
}

// NewBroadcaster creates a Broadcaster with functional options.
func NewBroadcaster(conns ConnProvider, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		conns:       conns,
		logger:      zap.NewNop(),
		metrics:     NewNopMetricsCollector(),
		sendTimeout: defaultSendTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Broadcast sends ev to the current relay set and blocks until every send has
// either completed or hit the per-relay timeout. The target set is snapshotted
// once at entry; relays appearing afterwards are not included.
//
// An empty target set yields a zero outcome, which callers must treat as a
// retryable failure rather than a vacuous success.
func (b *Broadcaster) Broadcast(ctx context.Context, ev nostr.Event) BroadcastOutcome {
	targets := b.conns.Conns()
	outcome := BroadcastOutcome{
		EventID: ev.ID,
		Total:   len(targets),
		Results: make(map[string]RelayResult, len(targets)),
	}

	if len(targets) == 0 {
		b.logger.Warn("No connected relays, broadcast skipped",
			zap.String("event_id", ev.ID),
		)
		b.metrics.IncrementCounter("broadcast.no_relays", nil)
		return outcome
	}

	start := time.Now()
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, conn := range targets {
		wg.Add(1)
		go func(conn RelayConn) {
			defer wg.Done()
			result := b.send(ctx, conn, ev)
			mu.Lock()
			outcome.Results[conn.URL()] = result
			if result.Delivered {
				outcome.Succeeded++
			}
			mu.Unlock()
		}(conn)
	}
	wg.Wait()

	b.metrics.RecordDuration("broadcast.duration", time.Since(start), nil)
	b.metrics.RecordGauge("broadcast.accepted_relays", float64(outcome.Succeeded), nil)
	b.logger.Debug("Broadcast finished",
		zap.String("event_id", ev.ID),
		zap.Int("relays", outcome.Total),
		zap.Int("accepted", outcome.Succeeded),
	)
	return outcome
}

// send delivers the event to a single relay under the per-relay timeout.
func (b *Broadcaster) send(ctx context.Context, conn RelayConn, ev nostr.Event) RelayResult {
	b.attempts.Add(1)

	sendCtx, cancel := context.WithTimeout(ctx, b.sendTimeout)
	defer cancel()

	err := conn.Publish(sendCtx, ev)
	if err == nil {
		b.successes.Add(1)
		b.metrics.IncrementCounter("broadcast.relay_accepted", map[string]string{"relay": conn.URL()})
		return RelayResult{Delivered: true}
	}

	b.failures.Add(1)
	b.metrics.IncrementCounter("broadcast.relay_failed", map[string]string{"relay": conn.URL()})
	detail := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		detail = fmt.Sprintf("no response within %s", b.sendTimeout)
	}
	b.logger.Debug("Relay rejected event",
		zap.String("event_id", ev.ID),
		zap.String("relay", conn.URL()),
		zap.String("reason", detail),
	)
	return RelayResult{Error: detail}
}

// Stats returns lifetime send counters across all broadcasts.
func (b *Broadcaster) Stats() BroadcasterStats {
	return BroadcasterStats{
		Attempts:  b.attempts.Load(),
		Successes: b.successes.Load(),
		Failures:  b.failures.Load(),
	}
}
