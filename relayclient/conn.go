// Package relayclient maintains persistent bidirectional connections to a
// set of relay URLs and exposes the two event-plane operations the engine
// needs: publish (fan-out, awaiting per-relay OK/timeout) and query
// (stream until EOSE or a wall-clock deadline). The underlying frame
// protocol (EVENT/REQ/CLOSE/OK/EOSE/NOTICE/CLOSED) is handled by
// github.com/nbd-wtf/go-nostr's *nostr.Relay, the library already wired
// through every retrieved Nostr client in the pack; this package adds the
// reconnect backoff, per-connection write serialization, and bounded
// wall-clock semantics spec'd for the deploy engine.
package relayclient

import (
	"context"
	"sync"
	"time"

	"github.com/docker/go-events"
	"github.com/nbd-wtf/go-nostr"
	"github.com/sirupsen/logrus"
)

// Timeouts, named for the spec sections that define them.
const (
	// PublishTimeout is T_pub: per-relay wait for an OK after EVENT.
	PublishTimeout = 5 * time.Second
	// EOSETimeout is T_eose: wall-clock cap on a query regardless of EOSE.
	EOSETimeout = 10 * time.Second
	// ReconnectBaseBackoff is the starting delay for reconnect attempts.
	ReconnectBaseBackoff = 1 * time.Second
	// ReconnectMaxBackoff caps the exponential reconnect backoff.
	ReconnectMaxBackoff = 30 * time.Second
)

// conn owns one relay's connection. Writes are serialized through an
// events.Sink-backed queue (grounded on notifications/sinks.go's
// eventQueue: a single goroutine drains a FIFO list into the sink),
// matching the spec's "frames on the same connection are serialized"
// invariant; reads fan out via the underlying *nostr.Relay's own
// subscription channels, one per active query.
type conn struct {
	url    string
	mu     sync.Mutex
	relay  *nostr.Relay
	queue  events.Sink
	logger *logrus.Entry
	backoff time.Duration
}

// writeSink adapts a *nostr.Relay into an events.Sink of outgoing
// publish jobs, so conn.queue can serialize them with the teacher's
// eventQueue idiom instead of hand-rolling a channel+mutex pair.
type publishJob struct {
	ctx    context.Context
	event  nostr.Event
	result chan error
}

type writeSink struct {
	relay *nostr.Relay
}

func (w *writeSink) Write(e events.Event) error {
	job := e.(publishJob)
	err := w.relay.Publish(job.ctx, job.event)
	job.result <- err
	return nil
}

func (w *writeSink) Close() error { return nil }

func newConn(url string, relay *nostr.Relay, logger *logrus.Entry) *conn {
	c := &conn{url: url, relay: relay, logger: logger, backoff: ReconnectBaseBackoff}
	c.queue = events.NewQueue(&writeSink{relay: relay})
	return c
}

// publish serializes one EVENT frame write and waits up to PublishTimeout
// for the corresponding OK.
func (c *conn) publish(ctx context.Context, ev nostr.Event) error {
	cctx, cancel := context.WithTimeout(ctx, PublishTimeout)
	defer cancel()

	result := make(chan error, 1)
	if err := c.queue.Write(publishJob{ctx: cctx, event: ev, result: result}); err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-cctx.Done():
		return cctx.Err()
	}
}

// query streams events for filter until EOSE or EOSETimeout elapses,
// sending CLOSE on the owning connection when it returns (directly or by
// cancellation).
func (c *conn) query(ctx context.Context, filter nostr.Filter) ([]nostr.Event, error) {
	cctx, cancel := context.WithTimeout(ctx, EOSETimeout)
	defer cancel()

	sub, err := c.relay.Subscribe(cctx, nostr.Filters{filter})
	if err != nil {
		return nil, err
	}
	defer sub.Unsub()

	var out []nostr.Event
	for {
		select {
		case ev, ok := <-sub.Events:
			if !ok {
				return out, nil
			}
			out = append(out, *ev)
		case <-sub.EndOfStoredEvents:
			return out, nil
		case <-cctx.Done():
			return out, nil
		}
	}
}

// reconnect re-dials with capped exponential backoff, doubling c.backoff
// on each failure up to ReconnectMaxBackoff and resetting it to
// ReconnectBaseBackoff on success.
func (c *conn) reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-time.After(c.backoff):
	case <-ctx.Done():
		return ctx.Err()
	}

	relay, err := nostr.RelayConnect(ctx, c.url)
	if err != nil {
		c.backoff *= 2
		if c.backoff > ReconnectMaxBackoff {
			c.backoff = ReconnectMaxBackoff
		}
		return err
	}
	c.relay = relay
	c.queue = events.NewQueue(&writeSink{relay: relay})
	c.backoff = ReconnectBaseBackoff
	return nil
}

func (c *conn) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.queue.Close()
	return c.relay.Close()
}
