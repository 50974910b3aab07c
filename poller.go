package publisher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ItemProcessor runs the publication flow for one fetched item. Implemented
// by Pipeline.
type ItemProcessor interface {
	ProcessItem(ctx context.Context, item ReadyItem) error
}

// RetryBacklog reports how many redeliveries are waiting. Implemented by
// RetryQueue.
type RetryBacklog interface {
	Len() int
}

// AdaptivePoller periodically asks the staging backend for ready uploads and
// runs each through the publication pipeline, adjusting its own cadence to
// the app's state.
//
// The interval policy, re-evaluated after every cycle and on every lifecycle
// transition:
//
//   - background: the idle interval
//   - foreground with pending work (unready items seen on the last fetch, or
//     queued retries): the active interval
//   - foreground otherwise: the base interval
//
// At most one poll cycle runs at a time; a tick or forced poll arriving while
// a cycle is in flight is skipped, not queued. Returning to the foreground
// after more than the catch-up threshold runs a cycle immediately. A forced
// poll does not reshuffle the regular schedule unless the next tick is
// already overdue.
type AdaptivePoller struct {
	source    ReadySource
	processor ItemProcessor
	backlog   RetryBacklog
	lifecycle LifecycleSource
	logger    *zap.Logger
	metrics   MetricsCollector
	clock     Clock

	baseInterval     time.Duration
	activeInterval   time.Duration
	idleInterval     time.Duration
	catchUpThreshold time.Duration

	inFlight  atomic.Bool
	forceChan chan struct{}

	mu       sync.RWMutex
	interval time.Duration
	lastPoll time.Time
	unready  int
	nextFire time.Time

	wg       sync.WaitGroup
	runMu    sync.RWMutex
	stopOnce sync.Once
	stopChan chan struct{}
	started  bool
}

// NewAdaptivePoller creates an AdaptivePoller with functional options.
func NewAdaptivePoller(
	source ReadySource,
	processor ItemProcessor,
	backlog RetryBacklog,
	lifecycle LifecycleSource,
	opts ...PollerOption,
) *AdaptivePoller {
	p := &AdaptivePoller{
		source:           source,
		processor:        processor,
		backlog:          backlog,
		lifecycle:        lifecycle,
		logger:           zap.NewNop(),
		metrics:          NewNopMetricsCollector(),
		clock:            RealClock{},
		baseInterval:     defaultBaseInterval,
		activeInterval:   defaultActiveInterval,
		idleInterval:     defaultIdleInterval,
		catchUpThreshold: defaultCatchUpThreshold,
		forceChan:        make(chan struct{}, 1),
		stopChan:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.interval = p.baseInterval
	return p
}

// Start runs the poll loop. It blocks until the context is cancelled or Stop
// is called. Starting an already started poller is a no-op.
func (p *AdaptivePoller) Start(ctx context.Context) {
	p.runMu.Lock()
	if p.started {
		p.runMu.Unlock()
		p.logger.Warn("Poller already started")
		return
	}
	p.started = true
	p.runMu.Unlock()

	p.logger.Info("Poller starting",
		zap.Duration("base_interval", p.baseInterval),
		zap.Duration("active_interval", p.activeInterval),
		zap.Duration("idle_interval", p.idleInterval),
	)
	defer p.logger.Info("Poller finished")

	transitions := p.lifecycle.Subscribe()
	defer p.lifecycle.Unsubscribe(transitions)

	interval := p.selectInterval()
	p.setSchedule(interval)
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Context cancelled, poller stopping")
			return
		case <-p.stopChan:
			p.logger.Info("Stop signal received, poller stopping")
			return
		case <-timer.C:
			select {
			case <-p.stopChan:
				return
			default:
			}
			p.pollOnce(ctx)
			p.resetTimer(timer)
		case <-p.forceChan:
			select {
			case <-p.stopChan:
				return
			default:
			}
			p.pollOnce(ctx)
			// Keep the regular schedule unless the cycle ran long enough
			// that the next tick already came due.
			p.mu.RLock()
			next := p.nextFire
			p.mu.RUnlock()
			if !p.clock.Now().Before(next) {
				p.resetTimer(timer)
			}
		case tr := <-transitions:
			if tr.State == StateForeground && tr.Elapsed >= p.catchUpThreshold {
				p.logger.Info("Returning from long background, polling now",
					zap.Duration("away", tr.Elapsed))
				p.metrics.IncrementCounter("poller.catch_up", nil)
				p.pollOnce(ctx)
			}
			p.resetTimer(timer)
		}
	}
}

// pollOnce fetches ready items and runs each through the processor. The
// in-flight guard makes overlapping cycles impossible: callers racing an
// active cycle return immediately.
func (p *AdaptivePoller) pollOnce(ctx context.Context) {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.logger.Debug("Poll already in flight, skipping")
		p.metrics.IncrementCounter("poller.overlap_skipped", nil)
		return
	}
	defer p.inFlight.Store(false)

	p.wg.Add(1)
	defer p.wg.Done()

	select {
	case <-ctx.Done():
		return
	default:
	}

	start := time.Now()
	items, err := p.source.FetchReadyItems(ctx)
	p.metrics.RecordDuration("poller.fetch_duration", time.Since(start), nil)
	if err != nil {
		// Transient by definition; the next cycle tries again.
		p.logger.Warn("Failed to fetch ready items", zap.Error(err))
		p.metrics.IncrementCounter("poller.fetch_failed", nil)
		p.finishPoll(0)
		return
	}

	published, failed, unready := 0, 0, 0
	for _, item := range items {
		select {
		case <-ctx.Done():
			p.logger.Warn("Context cancelled during poll cycle", zap.Error(ctx.Err()))
			p.finishPoll(unready)
			return
		default:
		}
		if !item.Ready() {
			unready++
			continue
		}
		if err := p.processor.ProcessItem(ctx, item); err != nil {
			failed++
		} else {
			published++
		}
	}

	if len(items) > 0 {
		p.logger.Info("Poll cycle completed",
			zap.Int("fetched", len(items)),
			zap.Int("published", published),
			zap.Int("failed", failed),
			zap.Int("not_ready", unready),
		)
	}
	p.metrics.RecordGauge("poller.unready_items", float64(unready), nil)
	p.finishPoll(unready)
}

func (p *AdaptivePoller) finishPoll(unready int) {
	now := p.clock.Now()
	p.mu.Lock()
	p.lastPoll = now
	p.unready = unready
	p.mu.Unlock()
}

// selectInterval applies the interval policy against the current app state
// and pending work.
func (p *AdaptivePoller) selectInterval() time.Duration {
	if p.lifecycle.State() == StateBackground {
		return p.idleInterval
	}
	p.mu.RLock()
	unready := p.unready
	p.mu.RUnlock()
	if unready > 0 || p.backlog.Len() > 0 {
		return p.activeInterval
	}
	return p.baseInterval
}

// resetTimer re-evaluates the interval policy and schedules the next tick.
func (p *AdaptivePoller) resetTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	interval := p.selectInterval()
	p.setSchedule(interval)
	timer.Reset(interval)
}

func (p *AdaptivePoller) setSchedule(interval time.Duration) {
	now := p.clock.Now()
	p.mu.Lock()
	changed := p.interval != interval
	p.interval = interval
	p.nextFire = now.Add(interval)
	p.mu.Unlock()
	if changed {
		p.logger.Debug("Poll interval changed", zap.Duration("interval", interval))
	}
	p.metrics.RecordGauge("poller.interval_seconds", interval.Seconds(), nil)
}

// ForcePoll requests an immediate cycle, ahead of the regular schedule. The
// request is asynchronous and coalesces: forcing while a forced poll is
// already pending or running adds nothing.
func (p *AdaptivePoller) ForcePoll() {
	select {
	case p.forceChan <- struct{}{}:
	default:
	}
}

// Snapshot returns the poller's current diagnostic state.
func (p *AdaptivePoller) Snapshot() PollState {
	p.mu.RLock()
	st := PollState{
		Interval: p.interval,
		LastPoll: p.lastPoll,
		Unready:  p.unready,
	}
	p.mu.RUnlock()
	st.AppState = p.lifecycle.State()
	st.PendingRetries = p.backlog.Len()
	return st
}

// Stop shuts the poller down. The poll timer is cancelled, but a cycle
// already in flight, including its broadcasts, runs to completion before
// Stop returns.
func (p *AdaptivePoller) Stop() {
	p.stopOnce.Do(func() {
		p.runMu.RLock()
		defer p.runMu.RUnlock()
		if !p.started {
			return
		}
		close(p.stopChan)
		p.wg.Wait()
	})
}

// Name returns the worker's name.
func (p *AdaptivePoller) Name() string {
	return "adaptive-poller"
}
