package relaypool

import (
	"context"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sony/gobreaker/v2"
)

// RelayHandle is the slice of *nostr.Relay the pool depends on, narrowed so
// tests can substitute scripted fakes.
type RelayHandle interface {
	Publish(ctx context.Context, ev nostr.Event) error
	Subscribe(ctx context.Context, filters nostr.Filters, opts ...nostr.SubscriptionOption) (*nostr.Subscription, error)
	IsConnected() bool
	Close() error
}

// Conn is one pooled relay connection. Publishes run through a per-relay
// circuit breaker, so a relay that keeps rejecting or timing out gets
// short-circuited for a while instead of charging the send timeout against
// every broadcast.
type Conn struct {
	url     string
	handle  RelayHandle
	breaker *gobreaker.CircuitBreaker[struct{}]
}

func newConn(url string, handle RelayHandle) *Conn {
	return &Conn{
		url:    url,
		handle: handle,
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        url,
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
		}),
	}
}

// URL implements publisher.RelayConn.
func (c *Conn) URL() string {
	return c.url
}

// Connected implements publisher.RelayConn.
func (c *Conn) Connected() bool {
	return c.handle.IsConnected()
}

// Publish implements publisher.RelayConn. While the breaker is open it fails
// immediately with gobreaker.ErrOpenState.
func (c *Conn) Publish(ctx context.Context, ev nostr.Event) error {
	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.handle.Publish(ctx, ev)
	})
	return err
}

// Close tears down the underlying connection.
func (c *Conn) Close() error {
	return c.handle.Close()
}
