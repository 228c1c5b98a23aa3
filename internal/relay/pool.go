// Package relay lists events from nostr relays over the NIP-01 websocket
// protocol.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"
	"golang.org/x/time/rate"

	"github.com/blackmichael/nostr-recommender/internal/domain"
	"github.com/blackmichael/nostr-recommender/internal/metrics"
)

// ErrUnboundedFilter is returned for filters without a positive limit.
var ErrUnboundedFilter = errors.New("filter must set a positive limit")

// ErrNoRelays is returned when every relay query failed.
var ErrNoRelays = errors.New("no relay answered")

// Config configures a Pool.
type Config struct {
	// QueryTimeout bounds one query against one relay, dial included.
	QueryTimeout time.Duration

	// RequestsPerSecond caps the rate of outgoing queries across relays.
	// Zero means unlimited.
	RequestsPerSecond float64
}

// Pool queries a fixed set of relays. It is safe for concurrent use.
type Pool struct {
	urls    []string
	dialer  *websocket.Dialer
	limiter *rate.Limiter
	timeout time.Duration
	logger  *slog.Logger
}

var _ domain.EventSource = (*Pool)(nil)

// NewPool creates a pool over the given relay URLs.
func NewPool(urls []string, cfg Config, logger *slog.Logger) *Pool {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 10 * time.Second
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = max(1, len(urls))
	}

	return &Pool{
		urls: urls,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.QueryTimeout,
		},
		limiter: rate.NewLimiter(limit, burst),
		timeout: cfg.QueryTimeout,
		logger:  logger.With("component", "relay_pool"),
	}
}

// URLs returns the relay URLs of the pool.
func (p *Pool) URLs() []string {
	return p.urls
}

// List queries every relay concurrently and returns the union of their
// events, de-duplicated by id. Relays that fail are logged and skipped; an
// error is returned only when all of them fail.
func (p *Pool) List(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	if filter.Limit <= 0 {
		return nil, ErrUnboundedFilter
	}
	if len(p.urls) == 0 {
		return nil, ErrNoRelays
	}

	results := make([][]*nostr.Event, len(p.urls))
	failures := make([]error, len(p.urls))

	var wg sync.WaitGroup
	for i, url := range p.urls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			evs, err := p.query(ctx, url, filter)
			if err != nil {
				metrics.RelayQueryErrors.WithLabelValues(url).Inc()
				p.logger.Debug("relay query failed", "relay", url, "error", err)
				failures[i] = err
				return
			}
			results[i] = evs
		}()
	}
	wg.Wait()

	var merged []*nostr.Event
	answered := 0
	for i, evs := range results {
		if failures[i] != nil {
			continue
		}
		answered++
		merged = append(merged, evs...)
	}
	if answered == 0 {
		return nil, fmt.Errorf("%w: %w", ErrNoRelays, errors.Join(failures...))
	}
	return domain.DedupeEvents(merged), nil
}

func (p *Pool) query(ctx context.Context, url string, filter nostr.Filter) ([]*nostr.Event, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, _, err := p.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	defer conn.Close()

	// Unblock reads when the context ends before the relay sends EOSE.
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	sub := newSubscription(filter)
	req, err := sub.request()
	if err != nil {
		return nil, err
	}
	deadline, _ := ctx.Deadline()
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, req); err != nil {
		return nil, fmt.Errorf("send REQ: %w", err)
	}

	var evs []*nostr.Event
	for len(evs) < filter.Limit {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				// no EOSE in time; keep what the relay sent
				if len(evs) > 0 {
					return evs, nil
				}
				return nil, fmt.Errorf("read relay messages: %w", ctx.Err())
			}
			return nil, fmt.Errorf("read message: %w", err)
		}

		msg, err := parseMessage(message)
		if err != nil {
			p.logger.Debug("failed to parse relay message", "relay", url, "error", err)
			continue
		}

		done, ev, err := sub.handle(msg)
		if err != nil {
			return nil, err
		}
		if ev != nil {
			evs = append(evs, ev)
		}
		if done {
			break
		}
	}

	if closeMsg, err := sub.close(); err == nil {
		conn.WriteMessage(websocket.TextMessage, closeMsg)
	}
	return evs, nil
}
