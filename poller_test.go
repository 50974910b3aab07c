package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource is a scripted ReadySource. The nth fetch returns batches[n];
// fetches past the end return nothing, or the last batch when loop is set.
// Every fetch signals on fetched before it runs.
type fakeSource struct {
	delay time.Duration
	loop  bool

	mu      sync.Mutex
	batches [][]ReadyItem
	err     error
	calls   int

	fetched chan struct{}
}

func newFakeSource(batches ...[]ReadyItem) *fakeSource {
	return &fakeSource{batches: batches, fetched: make(chan struct{}, 16)}
}

func (s *fakeSource) FetchReadyItems(ctx context.Context) ([]ReadyItem, error) {
	select {
	case s.fetched <- struct{}{}:
	default:
	}
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	call := s.calls
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if call < len(s.batches) {
		return s.batches[call], nil
	}
	if s.loop && len(s.batches) > 0 {
		return s.batches[len(s.batches)-1], nil
	}
	return nil, nil
}

func (s *fakeSource) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recordingProcessor is an ItemProcessor that records what it was given.
type recordingProcessor struct {
	delay time.Duration
	err   error

	mu    sync.Mutex
	items []ReadyItem
}

func (p *recordingProcessor) ProcessItem(ctx context.Context, item ReadyItem) error {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = append(p.items, item)
	return p.err
}

func (p *recordingProcessor) processed() []ReadyItem {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ReadyItem, len(p.items))
	copy(out, p.items)
	return out
}

func pendingItem(id string) ReadyItem {
	item := readyItem(id)
	item.Status = StatusPending
	return item
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for %s", what)
	}
}

func TestAdaptivePoller_PollsOnSchedule(t *testing.T) {
	source := newFakeSource([]ReadyItem{readyItem("item-1"), readyItem("item-2")})
	proc := &recordingProcessor{}
	p := NewAdaptivePoller(source, proc, staticBacklog{}, NewLifecycleMonitor(),
		WithPollerIntervals(30*time.Millisecond, 15*time.Millisecond, time.Hour),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)
	defer p.Stop()

	waitSignal(t, source.fetched, "first poll cycle")
	waitSignal(t, source.fetched, "second poll cycle")

	items := proc.processed()
	require.Len(t, items, 2)
	assert.Equal(t, "item-1", items[0].ID)
	assert.Equal(t, "item-2", items[1].ID)
}

func TestAdaptivePoller_IntervalPolicy(t *testing.T) {
	tests := []struct {
		name       string
		background bool
		unready    int
		backlog    int
		want       time.Duration
	}{
		{"foreground idle", false, 0, 0, defaultBaseInterval},
		{"foreground with unready uploads", false, 2, 0, defaultActiveInterval},
		{"foreground with queued retries", false, 0, 1, defaultActiveInterval},
		{"background", true, 0, 0, defaultIdleInterval},
		{"background outranks pending work", true, 3, 2, defaultIdleInterval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			monitor := NewLifecycleMonitor()
			if tt.background {
				monitor.Backgrounded()
			}
			p := NewAdaptivePoller(newFakeSource(), &recordingProcessor{}, staticBacklog{depth: tt.backlog}, monitor)
			p.unready = tt.unready

			assert.Equal(t, tt.want, p.selectInterval())
		})
	}
}

func TestAdaptivePoller_ForcePoll(t *testing.T) {
	source := newFakeSource()
	p := NewAdaptivePoller(source, &recordingProcessor{}, staticBacklog{}, NewLifecycleMonitor(),
		WithPollerIntervals(time.Hour, time.Hour, time.Hour),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)
	defer p.Stop()

	p.ForcePoll()

	waitSignal(t, source.fetched, "forced poll cycle")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, source.fetchCount(), "a forced poll must not reshuffle the regular schedule")
}

func TestAdaptivePoller_ForcePollCoalesces(t *testing.T) {
	source := newFakeSource()
	source.delay = 50 * time.Millisecond
	p := NewAdaptivePoller(source, &recordingProcessor{}, staticBacklog{}, NewLifecycleMonitor(),
		WithPollerIntervals(time.Hour, time.Hour, time.Hour),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)
	defer p.Stop()

	p.ForcePoll()
	waitSignal(t, source.fetched, "first forced cycle")

	// The first cycle is still fetching; these pile onto one pending request.
	p.ForcePoll()
	p.ForcePoll()
	p.ForcePoll()

	waitSignal(t, source.fetched, "second forced cycle")
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 2, source.fetchCount(), "repeated force requests must coalesce")
}

func TestAdaptivePoller_OverlappingCyclesSkipped(t *testing.T) {
	source := newFakeSource()
	source.delay = 40 * time.Millisecond
	p := NewAdaptivePoller(source, &recordingProcessor{}, staticBacklog{}, NewLifecycleMonitor())

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.pollOnce(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, source.fetchCount(), "a concurrent cycle must be skipped, not queued")
}

func TestAdaptivePoller_CatchUpAfterLongBackground(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 5, 12, 10, 0, 0, 0, time.UTC))
	monitor := NewLifecycleMonitor(WithLifecycleClock(clock))
	source := newFakeSource()
	p := NewAdaptivePoller(source, &recordingProcessor{}, staticBacklog{}, monitor,
		WithPollerIntervals(time.Hour, time.Hour, time.Hour),
		WithPollerClock(clock),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)
	defer p.Stop()
	time.Sleep(20 * time.Millisecond) // let the poller subscribe

	monitor.Backgrounded()
	clock.Advance(11 * time.Minute)
	monitor.Foregrounded()

	waitSignal(t, source.fetched, "catch-up poll cycle")
}

func TestAdaptivePoller_ShortBackgroundSkipsCatchUp(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 5, 12, 10, 0, 0, 0, time.UTC))
	monitor := NewLifecycleMonitor(WithLifecycleClock(clock))
	source := newFakeSource()
	p := NewAdaptivePoller(source, &recordingProcessor{}, staticBacklog{}, monitor,
		WithPollerIntervals(time.Hour, time.Hour, time.Hour),
		WithPollerClock(clock),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)
	defer p.Stop()
	time.Sleep(20 * time.Millisecond)

	monitor.Backgrounded()
	clock.Advance(5 * time.Minute)
	monitor.Foregrounded()

	select {
	case <-source.fetched:
		t.Fatal("A short background stretch must not force a poll")
	case <-time.After(100 * time.Millisecond):
		// success
	}
}

func TestAdaptivePoller_FetchErrorsKeepPolling(t *testing.T) {
	source := newFakeSource()
	source.err = errors.New("staging backend unavailable")
	proc := &recordingProcessor{}
	p := NewAdaptivePoller(source, proc, staticBacklog{}, NewLifecycleMonitor(),
		WithPollerIntervals(25*time.Millisecond, 25*time.Millisecond, time.Hour),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)
	defer p.Stop()

	waitSignal(t, source.fetched, "first poll cycle")
	waitSignal(t, source.fetched, "poll cycle after a failed fetch")

	assert.Empty(t, proc.processed())
	assert.False(t, p.Snapshot().LastPoll.IsZero(), "a failed fetch still counts as a completed cycle")
}

func TestAdaptivePoller_SnapshotReflectsPendingWork(t *testing.T) {
	source := newFakeSource([]ReadyItem{readyItem("item-1"), pendingItem("item-2")})
	source.loop = true
	proc := &recordingProcessor{}
	p := NewAdaptivePoller(source, proc, staticBacklog{depth: 2}, NewLifecycleMonitor(),
		WithPollerIntervals(40*time.Millisecond, 10*time.Millisecond, time.Hour),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)
	defer p.Stop()

	waitSignal(t, source.fetched, "first poll cycle")
	time.Sleep(30 * time.Millisecond)

	st := p.Snapshot()
	assert.Equal(t, 1, st.Unready)
	assert.Equal(t, 2, st.PendingRetries)
	assert.Equal(t, 10*time.Millisecond, st.Interval, "pending work must switch the poller to its active cadence")
	assert.Equal(t, StateForeground, st.AppState)
	assert.False(t, st.LastPoll.IsZero())

	for _, item := range proc.processed() {
		assert.Equal(t, "item-1", item.ID, "unready items must not reach the pipeline")
	}
}

func TestAdaptivePoller_StopWaitsForInFlightCycle(t *testing.T) {
	source := newFakeSource([]ReadyItem{readyItem("item-1")})
	proc := &recordingProcessor{}
	proc.delay = 60 * time.Millisecond
	p := NewAdaptivePoller(source, proc, staticBacklog{}, NewLifecycleMonitor(),
		WithPollerIntervals(20*time.Millisecond, 20*time.Millisecond, time.Hour),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)

	waitSignal(t, source.fetched, "first poll cycle")
	p.Stop()

	assert.Len(t, proc.processed(), 1, "the in-flight item must finish before Stop returns")
}

func TestAdaptivePoller_SecondStartReturns(t *testing.T) {
	p := NewAdaptivePoller(newFakeSource(), &recordingProcessor{}, staticBacklog{}, NewLifecycleMonitor(),
		WithPollerIntervals(time.Hour, time.Hour, time.Hour),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)
	time.Sleep(10 * time.Millisecond)
	defer p.Stop()

	returned := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(returned)
	}()

	select {
	case <-returned:
		// success
	case <-time.After(time.Second):
		t.Fatal("Second Start call must return immediately")
	}
}
