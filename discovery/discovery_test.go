package discovery

import (
	"context"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"
)

type fakeQuerier struct {
	byKind map[int][]nostr.Event
}

func (f fakeQuerier) Query(ctx context.Context, filter nostr.Filter) []nostr.Event {
	var out []nostr.Event
	for _, k := range filter.Kinds {
		out = append(out, f.byKind[k]...)
	}
	return out
}

func TestResolveMergesDiscoveredAndOperator(t *testing.T) {
	q := fakeQuerier{byKind: map[int][]nostr.Event{
		10002: {{CreatedAt: 2, Tags: nostr.Tags{{"r", "wss://discovered"}}}},
		10063: {{CreatedAt: 2, Tags: nostr.Tags{{"server", "https://blossom.example"}}}},
	}}
	res, err := Resolve(context.Background(), q, Options{
		PubKey:          "pk",
		OperatorRelays:  []string{"wss://operator"},
		OperatorServers: []string{"https://operator-blob"},
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"wss://discovered", "wss://operator"}, res.Relays)
	require.ElementsMatch(t, []string{"https://blossom.example", "https://operator-blob"}, res.BlobServers)
}

func TestResolveEmptyWithoutFallbackIsConfigError(t *testing.T) {
	q := fakeQuerier{byKind: map[int][]nostr.Event{}}
	_, err := Resolve(context.Background(), q, Options{PubKey: "pk"})
	require.Error(t, err)
	var cerr ConfigError
	require.ErrorAs(t, err, &cerr)
}

func TestResolveFallbackOnlyWhenEnabled(t *testing.T) {
	q := fakeQuerier{byKind: map[int][]nostr.Event{}}

	_, err := Resolve(context.Background(), q, Options{
		PubKey:         "pk",
		FallbackRelays: []string{"wss://fallback"},
		FallbackServers: []string{"https://fallback-blob"},
	})
	require.Error(t, err, "fallback must not apply unless FallbackEnabled is set")

	res, err := Resolve(context.Background(), q, Options{
		PubKey:          "pk",
		FallbackRelays:  []string{"wss://fallback"},
		FallbackServers: []string{"https://fallback-blob"},
		FallbackEnabled: true,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"wss://fallback"}, res.Relays)
	require.Equal(t, []string{"https://fallback-blob"}, res.BlobServers)
}

func TestResolvePicksMostRecentEvent(t *testing.T) {
	q := fakeQuerier{byKind: map[int][]nostr.Event{
		10002: {
			{CreatedAt: 1, Tags: nostr.Tags{{"r", "wss://old"}}},
			{CreatedAt: 5, Tags: nostr.Tags{{"r", "wss://new"}}},
		},
		10063: {{CreatedAt: 1, Tags: nostr.Tags{{"server", "https://s"}}}},
	}}
	res, err := Resolve(context.Background(), q, Options{PubKey: "pk"})
	require.NoError(t, err)
	require.Equal(t, []string{"wss://new"}, res.Relays)
}
