package relayclient

import (
	"context"
	"errors"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	publishErr error
	events     []nostr.Event
	reconnects int
	closed     bool
}

func (f *fakeConn) publish(ctx context.Context, ev nostr.Event) error { return f.publishErr }
func (f *fakeConn) query(ctx context.Context, filter nostr.Filter) ([]nostr.Event, error) {
	return f.events, nil
}
func (f *fakeConn) reconnect(ctx context.Context) error { f.reconnects++; return nil }
func (f *fakeConn) close() error                        { f.closed = true; return nil }

func newTestPool(conns map[string]relayConn) *Pool {
	return &Pool{conns: conns}
}

func TestPoolPublishFanOutAllAccept(t *testing.T) {
	p := newTestPool(map[string]relayConn{
		"wss://a": &fakeConn{},
		"wss://b": &fakeConn{},
	})
	outs := p.Publish(context.Background(), nostr.Event{ID: "e1"})
	require.Len(t, outs, 2)
	for _, o := range outs {
		require.True(t, o.Accepted)
	}
}

func TestPoolPublishPartialRejection(t *testing.T) {
	p := newTestPool(map[string]relayConn{
		"wss://a": &fakeConn{publishErr: errors.New("rate-limited")},
		"wss://b": &fakeConn{},
	})
	outs := p.Publish(context.Background(), nostr.Event{ID: "e1"})
	accepted := 0
	for _, o := range outs {
		if o.Accepted {
			accepted++
		}
	}
	require.Equal(t, 1, accepted)
}

func TestPoolQueryDeduplicatesAcrossRelays(t *testing.T) {
	shared := nostr.Event{ID: "dup", CreatedAt: 1}
	p := newTestPool(map[string]relayConn{
		"wss://a": &fakeConn{events: []nostr.Event{shared}},
		"wss://b": &fakeConn{events: []nostr.Event{shared}},
	})
	res := p.Query(context.Background(), nostr.Filter{})
	require.Len(t, res.Events, 1)
	require.ElementsMatch(t, []string{"wss://a", "wss://b"}, res.SourceRelays["dup"])
}

func TestPoolCloseClosesEveryConn(t *testing.T) {
	a := &fakeConn{}
	b := &fakeConn{}
	p := newTestPool(map[string]relayConn{"wss://a": a, "wss://b": b})
	p.Close()
	require.True(t, a.closed)
	require.True(t, b.closed)
}
