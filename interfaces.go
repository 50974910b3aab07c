package publisher

import (
	"context"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// ReadySource exposes the staging backend's view of which uploads are ready
// to publish. Implementations must be safe for concurrent use; fetch errors
// are transient and the caller retries on its next cycle.
type ReadySource interface {
	FetchReadyItems(ctx context.Context) ([]ReadyItem, error)
}

// StagingCleaner removes a staged media resource once its event has been
// delivered. Cleanup failures never undo a delivery.
type StagingCleaner interface {
	Cleanup(ctx context.Context, itemID string) error
}

// Signer fills in the author, identifier and signature of an outbound event.
// An implementation with no usable key material returns ErrSigningUnavailable.
type Signer interface {
	Sign(ctx context.Context, ev *nostr.Event) error
}

// RelayConn is one live relay connection maintained by the connection pool.
type RelayConn interface {
	URL() string
	Publish(ctx context.Context, ev nostr.Event) error
	Connected() bool
}

// ConnProvider returns the relay connections currently usable for publishing.
// The broadcaster snapshots this set once per broadcast; an empty set is a
// valid answer and makes the broadcast a retryable failure.
type ConnProvider interface {
	Conns() []RelayConn
}

// StatusStore records the local publication state of an upload. A failure to
// record never rolls back the broadcast that preceded it.
type StatusStore interface {
	MarkPublished(ctx context.Context, itemID, eventID string) error
}

// UserNotifier surfaces terminal outcomes to the presentation layer. Only
// final results cross this boundary: a delivery, or a failure that will not
// be retried again.
type UserNotifier interface {
	NotifyPublished(itemID, eventID string)
	NotifyFailed(itemID, reason string)
}

// LifecycleSource reports whether the host application is in the foreground
// and fans out state transitions to subscribers.
type LifecycleSource interface {
	State() AppState
	Subscribe() <-chan Transition
	Unsubscribe(ch <-chan Transition)
}

// Worker is a background component with an independent lifecycle. Start
// blocks until the context is cancelled or Stop is called; Stop waits for
// in-progress work to finish.
type Worker interface {
	Start(ctx context.Context)
	Stop()
	Name() string
}

// MetricsCollector receives counters, durations and gauges from every
// component. Use NopMetricsCollector when metrics are not wanted.
type MetricsCollector interface {
	IncrementCounter(name string, tags map[string]string)
	RecordDuration(name string, duration time.Duration, tags map[string]string)
	RecordGauge(name string, value float64, tags map[string]string)
}

// Clock abstracts time for components that schedule or stamp work.
type Clock interface {
	Now() time.Time
}

// RealClock is the Clock used outside tests. All times are UTC.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now().UTC()
}
