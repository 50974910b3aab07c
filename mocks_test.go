package publisher

import (
	"context"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/mock"
)

// Valid hex secret key used across tests.
const testSecretKey = "d217c1ff2f8a65c3e3a1740db231ec66b2a6834c8fb2e4dd419c4ae95fd8f796"

// MockStagingCleaner is a mock implementation of the StagingCleaner interface.
type MockStagingCleaner struct {
	mock.Mock
}

func (m *MockStagingCleaner) Cleanup(ctx context.Context, itemID string) error {
	args := m.Called(ctx, itemID)
	return args.Error(0)
}

// MockStatusStore is a mock implementation of the StatusStore interface.
type MockStatusStore struct {
	mock.Mock
}

func (m *MockStatusStore) MarkPublished(ctx context.Context, itemID, eventID string) error {
	args := m.Called(ctx, itemID, eventID)
	return args.Error(0)
}

// MockUserNotifier is a mock implementation of the UserNotifier interface.
type MockUserNotifier struct {
	mock.Mock
}

func (m *MockUserNotifier) NotifyPublished(itemID, eventID string) {
	m.Called(itemID, eventID)
}

func (m *MockUserNotifier) NotifyFailed(itemID, reason string) {
	m.Called(itemID, reason)
}

// MockRetryScheduler is a mock implementation of the RetryScheduler interface.
type MockRetryScheduler struct {
	mock.Mock
}

func (m *MockRetryScheduler) Enqueue(entry RetryEntry) {
	m.Called(entry)
}

// MockMetricsCollector is a mock implementation of the MetricsCollector interface.
type MockMetricsCollector struct {
	mock.Mock
}

func (m *MockMetricsCollector) IncrementCounter(name string, tags map[string]string) {
	m.Called(name, tags)
}

func (m *MockMetricsCollector) RecordDuration(name string, duration time.Duration, tags map[string]string) {
	m.Called(name, duration, tags)
}

func (m *MockMetricsCollector) RecordGauge(name string, value float64, tags map[string]string) {
	m.Called(name, value, tags)
}

// fakeRelay is a scripted RelayConn. The nth publish returns errs[n]; calls
// past the end of the script succeed. A non-zero delay makes every publish
// wait, honoring context cancellation.
type fakeRelay struct {
	url   string
	delay time.Duration

	mu    sync.Mutex
	errs  []error
	calls int
	seen  []nostr.Event
}

func newFakeRelay(url string, errs ...error) *fakeRelay {
	return &fakeRelay{url: url, errs: errs}
}

func (r *fakeRelay) URL() string {
	return r.url
}

func (r *fakeRelay) Connected() bool {
	return true
}

func (r *fakeRelay) Publish(ctx context.Context, ev nostr.Event) error {
	if r.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.delay):
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, ev)
	call := r.calls
	r.calls++
	if call < len(r.errs) {
		return r.errs[call]
	}
	return nil
}

func (r *fakeRelay) publishCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *fakeRelay) seenEvents() []nostr.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]nostr.Event, len(r.seen))
	copy(out, r.seen)
	return out
}

// staticConns is a ConnProvider over a fixed relay set.
type staticConns struct {
	conns []RelayConn
}

func (s staticConns) Conns() []RelayConn {
	return s.conns
}

// staticBacklog is a RetryBacklog with a fixed depth.
type staticBacklog struct {
	depth int
}

func (b staticBacklog) Len() int {
	return b.depth
}

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// readyItem builds a fully populated publishable item.
func readyItem(id string) ReadyItem {
	return ReadyItem{
		ID:           id,
		Status:       StatusReady,
		VideoURL:     "https://cdn.example.com/" + id + ".mp4",
		ThumbnailURL: "https://cdn.example.com/" + id + ".jpg",
		MimeType:     "video/mp4",
		SHA256:       "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
		Dimensions:   "1080x1920",
		SizeBytes:    4 << 20,
		DurationSec:  6,
		Title:        "clip " + id,
		Caption:      "six seconds of " + id,
		Hashtags:     []string{"vine", "Loop"},
		StagedAt:     time.Date(2026, 5, 12, 10, 0, 0, 0, time.UTC),
	}
}
