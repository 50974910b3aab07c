// Package relaypool maintains the websocket connections the publisher
// broadcasts through. It implements publisher.ConnProvider: the broadcaster
// asks for the live subset at each broadcast, and a maintainer worker redials
// relays whose sockets dropped. The pool also carries live subscriptions for
// consumers interested in incoming events.
package relaypool

import (
	"context"
	"strings"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rabble/nostrvine-publisher"
)

// Dialer opens a connection to one relay. The default dials the real thing
// via nostr.RelayConnect; tests substitute scripted fakes.
type Dialer func(ctx context.Context, url string) (RelayHandle, error)

const defaultDialLimit = 4

// Pool holds one connection slot per configured relay URL.
type Pool struct {
	logger    *zap.Logger
	dial      Dialer
	dialLimit int

	mu    sync.RWMutex
	conns map[string]*Conn
	urls  []string
}

// Option is a functional option for configuring a Pool.
type Option func(*Pool)

// WithDialer overrides how the pool opens relay connections.
func WithDialer(dial Dialer) Option {
	return func(p *Pool) {
		p.dial = dial
	}
}

// WithDialLimit caps how many relays are dialed concurrently.
func WithDialLimit(limit int) Option {
	return func(p *Pool) {
		if limit > 0 {
			p.dialLimit = limit
		}
	}
}

// New creates a Pool over the given relay URLs. URLs are normalized and
// deduplicated; nothing is dialed until Connect or Maintain runs.
func New(urls []string, logger *zap.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		logger:    logger,
		dialLimit: defaultDialLimit,
		conns:     make(map[string]*Conn),
		dial: func(ctx context.Context, url string) (RelayHandle, error) {
			return nostr.RelayConnect(ctx, url)
		},
	}
	seen := make(map[string]struct{}, len(urls))
	for _, raw := range urls {
		url := strings.TrimSpace(raw)
		if url == "" {
			continue
		}
		url = nostr.NormalizeURL(url)
		if _, ok := seen[url]; ok {
			continue
		}
		seen[url] = struct{}{}
		p.urls = append(p.urls, url)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Connect dials every configured relay, a bounded number at a time. Dial
// failures are logged and left for Maintain; the pool is usable with
// whatever subset connected.
func (p *Pool) Connect(ctx context.Context) {
	p.redial(ctx)
	p.logger.Info("Relay pool ready",
		zap.Int("connected", p.connectedCount()),
		zap.Int("configured", len(p.urls)),
	)
}

// Maintain redials any configured relay without a live connection. It is
// shaped as a worker workFunc and always returns nil; a failed dial is
// simply retried on the next run.
func (p *Pool) Maintain(ctx context.Context) error {
	p.redial(ctx)
	p.logger.Debug("Relay pool maintained", zap.Int("connected", p.connectedCount()))
	return nil
}

func (p *Pool) redial(ctx context.Context) {
	g := new(errgroup.Group)
	g.SetLimit(p.dialLimit)
	for _, url := range p.urls {
		url := url
		g.Go(func() error {
			if _, err := p.ensure(ctx, url); err != nil {
				p.logger.Warn("Failed to connect to relay",
					zap.String("relay", url),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// ensure returns a live connection for url, dialing if the slot is empty or
// its socket dropped.
func (p *Pool) ensure(ctx context.Context, url string) (*Conn, error) {
	p.mu.RLock()
	existing := p.conns[url]
	p.mu.RUnlock()
	if existing != nil && existing.Connected() {
		return existing, nil
	}

	handle, err := p.dial(ctx, url)
	if err != nil {
		return nil, err
	}
	conn := newConn(url, handle)

	p.mu.Lock()
	if old := p.conns[url]; old != nil {
		_ = old.Close()
	}
	p.conns[url] = conn
	p.mu.Unlock()

	p.logger.Debug("Relay connected", zap.String("relay", url))
	return conn, nil
}

// Conns returns the currently connected relays, implementing
// publisher.ConnProvider. Relays whose sockets dropped are excluded until
// Maintain redials them; an empty slice is a legitimate answer.
func (p *Pool) Conns() []publisher.RelayConn {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]publisher.RelayConn, 0, len(p.conns))
	for _, conn := range p.conns {
		if conn.Connected() {
			out = append(out, conn)
		}
	}
	return out
}

// URLs returns the configured relay URLs after normalization.
func (p *Pool) URLs() []string {
	out := make([]string, len(p.urls))
	copy(out, p.urls)
	return out
}

func (p *Pool) connectedCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, conn := range p.conns {
		if conn.Connected() {
			n++
		}
	}
	return n
}

// Listen opens a subscription with the given filters on every connected
// relay and forwards each incoming event to handler until ctx is cancelled.
// The same event arriving from several relays is forwarded each time; dedup
// is the consumer's concern.
func (p *Pool) Listen(ctx context.Context, filters nostr.Filters, handler func(ev nostr.Event)) {
	p.mu.RLock()
	conns := make([]*Conn, 0, len(p.conns))
	for _, conn := range p.conns {
		if conn.Connected() {
			conns = append(conns, conn)
		}
	}
	p.mu.RUnlock()

	for _, conn := range conns {
		go p.listenOn(ctx, conn, filters, handler)
	}
}

func (p *Pool) listenOn(ctx context.Context, conn *Conn, filters nostr.Filters, handler func(ev nostr.Event)) {
	sub, err := conn.handle.Subscribe(ctx, filters)
	if err != nil {
		p.logger.Warn("Failed to subscribe to relay",
			zap.String("relay", conn.url),
			zap.Error(err),
		)
		return
	}
	defer sub.Unsub()
	forwardEvents(ctx, sub.Events, handler)
}

// forwardEvents drains a subscription's event channel into handler until the
// channel closes or ctx is cancelled.
func forwardEvents(ctx context.Context, events <-chan *nostr.Event, handler func(ev nostr.Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev != nil {
				handler(*ev)
			}
		}
	}
}

// Close tears down every connection. The pool is not reusable afterwards.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for url, conn := range p.conns {
		if err := conn.Close(); err != nil {
			p.logger.Debug("Error closing relay connection",
				zap.String("relay", url),
				zap.Error(err),
			)
		}
	}
	p.conns = make(map[string]*Conn)
}

var _ publisher.ConnProvider = (*Pool)(nil)
