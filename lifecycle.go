package publisher

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// AppState is the host application's foreground/background state.
type AppState int32

const (
	StateForeground AppState = iota
	StateBackground
)

func (s AppState) String() string {
	switch s {
	case StateForeground:
		return "foreground"
	case StateBackground:
		return "background"
	default:
		return "unknown"
	}
}

// Transition is one lifecycle state change. Elapsed is the time spent in the
// previous state, so a foreground transition after a long background stretch
// carries how long the app was away.
type Transition struct {
	State   AppState
	At      time.Time
	Elapsed time.Duration
}

// LifecycleMonitor tracks the host application's foreground state and fans
// transitions out to subscribers. The host calls Foregrounded and
// Backgrounded from its UI layer; everything else observes.
//
// A monitor starts in the foreground state. Repeated reports of the current
// state are ignored.
type LifecycleMonitor struct {
	logger *zap.Logger
	clock  Clock

	mu    sync.RWMutex
	state AppState
	since time.Time
	subs  map[<-chan Transition]chan Transition
}

// NewLifecycleMonitor creates a LifecycleMonitor with functional options.
func NewLifecycleMonitor(opts ...LifecycleOption) *LifecycleMonitor {
	m := &LifecycleMonitor{
		logger: zap.NewNop(),
		clock:  RealClock{},
		state:  StateForeground,
		subs:   make(map[<-chan Transition]chan Transition),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.since = m.clock.Now()
	return m
}

// Foregrounded reports that the app became active.
func (m *LifecycleMonitor) Foregrounded() {
	m.transition(StateForeground)
}

// Backgrounded reports that the app left the foreground.
func (m *LifecycleMonitor) Backgrounded() {
	m.transition(StateBackground)
}

// State returns the current application state.
func (m *LifecycleMonitor) State() AppState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Subscribe returns a channel receiving future transitions. The channel is
// buffered; a subscriber that stops draining loses transitions rather than
// blocking the reporter.
func (m *LifecycleMonitor) Subscribe() <-chan Transition {
	ch := make(chan Transition, 4)
	var ro <-chan Transition = ch
	m.mu.Lock()
	m.subs[ro] = ch
	m.mu.Unlock()
	return ro
}

// Unsubscribe removes a channel returned by Subscribe.
func (m *LifecycleMonitor) Unsubscribe(ch <-chan Transition) {
	m.mu.Lock()
	delete(m.subs, ch)
	m.mu.Unlock()
}

func (m *LifecycleMonitor) transition(to AppState) {
	m.mu.Lock()
	if m.state == to {
		m.mu.Unlock()
		return
	}
	now := m.clock.Now()
	tr := Transition{State: to, At: now, Elapsed: now.Sub(m.since)}
	m.state = to
	m.since = now
	sinks := make([]chan Transition, 0, len(m.subs))
	for _, ch := range m.subs {
		sinks = append(sinks, ch)
	}
	m.mu.Unlock()

	m.logger.Debug("App state changed",
		zap.Stringer("state", to),
		zap.Duration("previous_state_duration", tr.Elapsed),
	)
	for _, ch := range sinks {
		select {
		case ch <- tr:
		default:
			m.logger.Warn("Dropping lifecycle transition for slow subscriber",
				zap.Stringer("state", to))
		}
	}
}
