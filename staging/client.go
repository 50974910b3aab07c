// Package staging is the HTTP client for the upload staging backend. It
// implements the publisher's ReadySource and StagingCleaner contracts:
// listing uploads whose processing has finished, and deleting staged media
// once its event is on the network. All calls run through a circuit breaker
// so a dead backend degrades to fast failures instead of hanging polls.
package staging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/rabble/nostrvine-publisher"
)

const (
	readyPath = "/v1/media/ready"
	mediaPath = "/v1/media/"

	maxBodySize = 1 << 20
)

// ErrUnavailable means the backend could not be reached or the circuit
// breaker is open. Callers treat it as transient and try again next cycle.
var ErrUnavailable = errors.New("staging backend unavailable")

// Client talks to the staging backend over HTTP.
type Client struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	baseURL    string
	apiKey     string
	logger     *zap.Logger
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAPIKey sets the bearer token sent with every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithLogger sets the client's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Client for the backend at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid staging base url %q", baseURL)
	}

	c := &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     zap.NewNop(),
		breaker: gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        "staging-backend",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// readyItemPayload mirrors the backend's JSON for one staged upload.
type readyItemPayload struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	VideoURL     string    `json:"video_url"`
	ThumbnailURL string    `json:"thumbnail_url"`
	ContentType  string    `json:"content_type"`
	SHA256       string    `json:"sha256"`
	Dimensions   string    `json:"dimensions"`
	SizeBytes    int64     `json:"size_bytes"`
	DurationSec  int       `json:"duration_seconds"`
	Title        string    `json:"title"`
	Caption      string    `json:"caption"`
	Hashtags     []string  `json:"hashtags"`
	StagedAt     time.Time `json:"staged_at"`
}

func (p readyItemPayload) toDomain() publisher.ReadyItem {
	return publisher.ReadyItem{
		ID:           p.ID,
		Status:       p.Status,
		VideoURL:     p.VideoURL,
		ThumbnailURL: p.ThumbnailURL,
		MimeType:     p.ContentType,
		SHA256:       p.SHA256,
		Dimensions:   p.Dimensions,
		SizeBytes:    p.SizeBytes,
		DurationSec:  p.DurationSec,
		Title:        p.Title,
		Caption:      p.Caption,
		Hashtags:     p.Hashtags,
		StagedAt:     p.StagedAt,
	}
}

type readyListResponse struct {
	Items []readyItemPayload `json:"items"`
}

// FetchReadyItems lists the uploads the backend considers publishable,
// implementing publisher.ReadySource.
func (c *Client) FetchReadyItems(ctx context.Context) ([]publisher.ReadyItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+readyPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build ready items request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: listing ready items returned %d", ErrUnavailable, resp.StatusCode)
	}

	var payload readyListResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode ready items: %w", err)
	}

	items := make([]publisher.ReadyItem, 0, len(payload.Items))
	for _, item := range payload.Items {
		items = append(items, item.toDomain())
	}
	c.logger.Debug("Fetched ready items", zap.Int("count", len(items)))
	return items, nil
}

// Cleanup deletes the staged media for a published item, implementing
// publisher.StagingCleaner. Deleting an item the backend no longer has is
// treated as success.
func (c *Client) Cleanup(ctx context.Context, itemID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+mediaPath+url.PathEscape(itemID), nil)
	if err != nil {
		return fmt.Errorf("failed to build cleanup request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		c.logger.Debug("Staged media removed", zap.String("item_id", itemID))
		return nil
	default:
		return fmt.Errorf("deleting staged media %s returned %d", itemID, resp.StatusCode)
	}
}

// do sends the request through the circuit breaker with auth headers set.
// Responses with 5xx or 429 statuses count as failures against the breaker.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		r, doErr := c.httpClient.Do(req)
		if doErr != nil {
			return nil, doErr
		}
		if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
			r.Body.Close()
			return nil, fmt.Errorf("backend returned %d", r.StatusCode)
		}
		return r, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit breaker open", ErrUnavailable)
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return resp, nil
}

var (
	_ publisher.ReadySource    = (*Client)(nil)
	_ publisher.StagingCleaner = (*Client)(nil)
)
