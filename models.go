package publisher

import "time"

// Processing states reported by the staging backend for an upload.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusReady      = "ready"
)

// ReadyItem is one externally staged upload: a video the backend may have
// finished transcoding, together with everything needed to build the outbound
// event for it. Items are immutable once fetched; the pipeline consumes each
// one exactly once per attempt.
type ReadyItem struct {
	ID           string
	Status       string
	VideoURL     string
	ThumbnailURL string
	MimeType     string
	SHA256       string
	Dimensions   string
	SizeBytes    int64
	DurationSec  int
	Title        string
	Caption      string
	Hashtags     []string
	StagedAt     time.Time
}

// Ready reports whether the backend has finished processing the item. Items
// that are not ready are skipped, not failed; a later poll picks them up again.
func (i ReadyItem) Ready() bool {
	return i.Status == StatusReady
}

// RetryEntry is a failed item waiting in the retry queue. Attempts counts
// completed publish attempts, starting at 1 after the first failure.
// FirstFailure is preserved across re-enqueues of the same item.
type RetryEntry struct {
	Item         ReadyItem
	Attempts     int
	FirstFailure time.Time
}

// RelayResult is the outcome of sending one event to one relay.
type RelayResult struct {
	Delivered bool
	Error     string
}

// BroadcastOutcome folds the per-relay results of one broadcast. Every target
// that was attempted appears exactly once in Results, keyed by relay URL.
type BroadcastOutcome struct {
	EventID   string
	Total     int
	Succeeded int
	Results   map[string]RelayResult
}

// Successful reports whether at least one relay accepted the event. Partial
// delivery counts as success: the event exists on the network. An empty
// target set is never successful.
func (o BroadcastOutcome) Successful() bool {
	return o.Succeeded > 0
}

// CompleteSuccess reports whether every target accepted the event. An empty
// target set is not a complete success even though zero of zero relays failed.
func (o BroadcastOutcome) CompleteSuccess() bool {
	return o.Total > 0 && o.Succeeded == o.Total
}

// PollState is a point-in-time snapshot of the adaptive poller, surfaced for
// diagnostics only.
type PollState struct {
	Interval       time.Duration
	LastPoll       time.Time
	AppState       AppState
	PendingRetries int
	Unready        int
}
