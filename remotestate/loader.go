// Package remotestate fetches a publisher's current path-mapping events
// from the event plane and reduces them to a PathMap (spec §4.5). Kind-P
// events are addressable/replaceable per (pubkey, kind, d-tag); this
// package keeps only the maximal-created_at event for each d-tag,
// breaking ties by lexicographically smallest id, the same reduction
// shape as the teacher's garbage-collector mark phase
// (registry/storage/garbagecollect.go) generalized from digest-liveness
// marking to replaceable-event selection.
package remotestate

import (
	"context"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/nsyte-deploy/digest"
	"github.com/sandwichfarm/nsyte-deploy/nostrevent"
	"github.com/sandwichfarm/nsyte-deploy/relayclient"
)

// PoolQuerier adapts a *relayclient.Pool to the Querier interface.
type PoolQuerier struct{ Pool *relayclient.Pool }

func (p PoolQuerier) Query(ctx context.Context, filter nostr.Filter) QueryResult {
	res := p.Pool.Query(ctx, filter)
	return QueryResult{Events: res.Events, SourceRelays: res.SourceRelays}
}

// QueryResult is the shape relayclient.Pool.Query returns; declared here
// rather than imported so this package can be exercised against a fake
// without depending on relayclient's dial machinery.
type QueryResult struct {
	Events       []nostr.Event
	SourceRelays map[string][]string
}

// Querier is the subset of relayclient.Pool remotestate needs.
type Querier interface {
	Query(ctx context.Context, filter nostr.Filter) QueryResult
}

// State is the result of a remote-state load: the current path→sha256
// map plus, for diagnostics, which relays contributed to each path.
type State struct {
	PathMap      map[string]string // normalized path -> sha256
	SourceRelays map[string][]string
}

// Load fetches all kind-P events for pubkey through q. If the first query
// returns nothing and fallbackEnabled is set, it queries q once more; that
// second query goes to the same Querier, as Load has no separate fallback
// relay set. A Querier reports no failures, so a failed query and a remote
// with no mappings look the same: an empty result is treated as "remote is
// empty" unless purgeRequested, in which case it is returned as an error
// so the caller can abort before purging against incomplete state.
func Load(ctx context.Context, q Querier, pubkey string, fallbackEnabled bool, purgeRequested bool) (State, error) {
	filter := nostr.Filter{Authors: []string{pubkey}, Kinds: []int{int(nostrevent.KindPathMapping)}}

	res := q.Query(ctx, filter)
	if len(res.Events) == 0 && fallbackEnabled {
		// The single retry, against the same Querier as the first query.
		res = q.Query(ctx, filter)
	}

	if len(res.Events) == 0 && purgeRequested {
		return State{}, errEmptyRemoteForPurge{}
	}

	return reduce(res), nil
}

type errEmptyRemoteForPurge struct{}

func (errEmptyRemoteForPurge) Error() string {
	return "remotestate: query returned no path-mapping events and a purge was requested; refusing to treat remote as empty"
}

// reduce keeps, per d-tag, the event with the greatest CreatedAt,
// breaking ties by the lexicographically smallest id.
func reduce(res QueryResult) State {
	best := make(map[string]nostr.Event)

	for _, ev := range res.Events {
		d := nostrevent.DTag(&ev)
		if d == "" {
			continue
		}
		cur, ok := best[d]
		if !ok || ev.CreatedAt > cur.CreatedAt || (ev.CreatedAt == cur.CreatedAt && ev.ID < cur.ID) {
			best[d] = ev
		}
	}

	out := make(map[string]string, len(best))
	sources := make(map[string][]string, len(best))
	for d, ev := range best {
		key := digest.NormalizePath(d)
		out[key] = nostrevent.XTag(&ev)
		sources[key] = res.SourceRelays[ev.ID]
	}
	return State{PathMap: out, SourceRelays: sources}
}
