package publisher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// KindShortVideo is the event kind for short portrait video notes.
const KindShortVideo = 22

const clientName = "nostrvine"

var (
	// ErrMissingVideoURL means the staged item carries no playable media URL.
	ErrMissingVideoURL = errors.New("ready item has no video url")
	// ErrMissingMimeType means the staged item carries no media MIME type.
	ErrMissingMimeType = errors.New("ready item has no mime type")
	// ErrSigningUnavailable means no signing identity is configured.
	ErrSigningUnavailable = errors.New("no signing key available")
)

// BuildEvent turns a staged upload into an unsigned short-video event.
//
// The event's creation timestamp comes from the item's staging time, not the
// wall clock, so rebuilding the event for a retry serializes to the same bytes
// and therefore the same identifier once signed. Relays treat a resubmission
// of an already-accepted identifier as a no-op.
func BuildEvent(item ReadyItem) (nostr.Event, error) {
	if item.VideoURL == "" {
		return nostr.Event{}, fmt.Errorf("item %s: %w", item.ID, ErrMissingVideoURL)
	}
	if item.MimeType == "" {
		return nostr.Event{}, fmt.Errorf("item %s: %w", item.ID, ErrMissingMimeType)
	}

	imeta := nostr.Tag{"imeta", "url " + item.VideoURL, "m " + item.MimeType}
	if item.Dimensions != "" {
		imeta = append(imeta, "dim "+item.Dimensions)
	}
	if item.SHA256 != "" {
		imeta = append(imeta, "x "+item.SHA256)
	}
	if item.SizeBytes > 0 {
		imeta = append(imeta, "size "+strconv.FormatInt(item.SizeBytes, 10))
	}
	if item.ThumbnailURL != "" {
		imeta = append(imeta, "image "+item.ThumbnailURL)
	}

	tags := nostr.Tags{imeta}
	if item.Title != "" {
		tags = append(tags, nostr.Tag{"title", item.Title})
	}
	if item.DurationSec > 0 {
		tags = append(tags, nostr.Tag{"duration", strconv.Itoa(item.DurationSec)})
	}
	for _, raw := range item.Hashtags {
		if ht := normalizeHashtag(raw); ht != "" {
			tags = append(tags, nostr.Tag{"t", ht})
		}
	}
	tags = append(tags, nostr.Tag{"client", clientName})

	createdAt := nostr.Now()
	if !item.StagedAt.IsZero() {
		createdAt = nostr.Timestamp(item.StagedAt.Unix())
		tags = append(tags, nostr.Tag{"published_at", strconv.FormatInt(item.StagedAt.Unix(), 10)})
	}

	return nostr.Event{
		Kind:      KindShortVideo,
		CreatedAt: createdAt,
		Tags:      tags,
		Content:   item.Caption,
	}, nil
}

func normalizeHashtag(raw string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), "#"))
}

// LocalSigner signs events with an in-process secret key. The key is a
// 64-character hex string as produced by nostr.GeneratePrivateKey.
type LocalSigner struct {
	secretKey string
}

func NewLocalSigner(secretKey string) *LocalSigner {
	return &LocalSigner{secretKey: strings.TrimSpace(secretKey)}
}

// Sign fills in the event's author, identifier and signature. It fails with
// ErrSigningUnavailable when the signer holds no key.
func (s *LocalSigner) Sign(_ context.Context, ev *nostr.Event) error {
	if s == nil || s.secretKey == "" {
		return ErrSigningUnavailable
	}
	if err := ev.Sign(s.secretKey); err != nil {
		return fmt.Errorf("sign event: %w", err)
	}
	return nil
}

// PublicKey returns the hex public key for the configured secret, or an error
// when the signer holds no usable key.
func (s *LocalSigner) PublicKey() (string, error) {
	if s == nil || s.secretKey == "" {
		return "", ErrSigningUnavailable
	}
	pk, err := nostr.GetPublicKey(s.secretKey)
	if err != nil {
		return "", fmt.Errorf("derive public key: %w", err)
	}
	return pk, nil
}
