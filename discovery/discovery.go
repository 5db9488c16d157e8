// Package discovery resolves, for a given publisher, the operational set
// of relays and blob servers the deploy engine will use: discovered
// (from the event plane) merged with operator-supplied values and, only
// when explicitly enabled, fallback defaults (spec §4.4).
package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/nsyte-deploy/nostrevent"
	"github.com/sandwichfarm/nsyte-deploy/relayclient"
)

// PoolQuerier adapts a *relayclient.Pool to the Querier interface,
// discarding the per-event source-relay bookkeeping that only the
// Remote State Loader needs.
type PoolQuerier struct{ Pool *relayclient.Pool }

func (p PoolQuerier) Query(ctx context.Context, filter nostr.Filter) []nostr.Event {
	return p.Pool.Query(ctx, filter).Events
}

// WallClock is T_disc from spec §4.4: the single shared deadline for all
// three discovery queries (relay list, blob-server list, profile).
const WallClock = 5 * time.Second

// Querier is the subset of relayclient.Pool discovery needs, so tests can
// substitute a fake without dialing real relays.
type Querier interface {
	Query(ctx context.Context, filter nostr.Filter) []nostr.Event
}

// Options carries the operator-supplied and fallback-policy inputs.
type Options struct {
	PubKey            string
	OperatorRelays    []string
	OperatorServers   []string
	FallbackRelays    []string
	FallbackServers   []string
	FallbackEnabled   bool
}

// Result is the merged operational configuration.
type Result struct {
	Relays      []string
	BlobServers []string
	DisplayName string
}

// ConfigError is returned when the final operational set for relays or
// servers is empty (spec §4.4: "deployment fails before any upload").
type ConfigError struct{ What string }

func (e ConfigError) Error() string { return fmt.Sprintf("discovery: no %s configured", e.What) }

// Resolve runs the three discovery queries in parallel under one shared
// deadline and composes the final operational sets.
func Resolve(ctx context.Context, q Querier, opts Options) (Result, error) {
	cctx, cancel := context.WithTimeout(ctx, WallClock)
	defer cancel()

	type discovered struct {
		relays  []string
		servers []string
		name    string
	}
	out := make(chan discovered, 1)

	go func() {
		var d discovered
		var wg sync.WaitGroup
		wg.Add(3)

		go func() {
			defer wg.Done()
			relayFilter := nostr.Filter{Authors: []string{opts.PubKey}, Kinds: []int{int(nostrevent.KindRelayList)}}
			d.relays = urlsFromLatestEvent(q.Query(cctx, relayFilter), "r")
		}()

		go func() {
			defer wg.Done()
			serverFilter := nostr.Filter{Authors: []string{opts.PubKey}, Kinds: []int{int(nostrevent.KindBlobServerList)}}
			d.servers = urlsFromLatestEvent(q.Query(cctx, serverFilter), "server")
		}()

		go func() {
			defer wg.Done()
			profileFilter := nostr.Filter{Authors: []string{opts.PubKey}, Kinds: []int{int(nostrevent.KindProfile)}}
			if ev := latest(q.Query(cctx, profileFilter)); ev != nil {
				d.name = ev.Content
			}
		}()

		wg.Wait()
		out <- d
	}()

	var d discovered
	select {
	case d = <-out:
	case <-cctx.Done():
	}

	relays := dedupe(append(append([]string{}, d.relays...), opts.OperatorRelays...))
	servers := dedupe(append(append([]string{}, d.servers...), opts.OperatorServers...))

	if len(relays) == 0 && opts.FallbackEnabled {
		relays = dedupe(append(relays, opts.FallbackRelays...))
	}
	if len(servers) == 0 && opts.FallbackEnabled {
		servers = dedupe(append(servers, opts.FallbackServers...))
	}

	if len(relays) == 0 {
		return Result{}, ConfigError{What: "relays"}
	}
	if len(servers) == 0 {
		return Result{}, ConfigError{What: "blob servers"}
	}

	return Result{Relays: relays, BlobServers: servers, DisplayName: d.name}, nil
}

// latest returns the event with the greatest CreatedAt, nil if empty.
func latest(evs []nostr.Event) *nostr.Event {
	var best *nostr.Event
	for i := range evs {
		if best == nil || evs[i].CreatedAt > best.CreatedAt {
			best = &evs[i]
		}
	}
	return best
}

// urlsFromLatestEvent extracts the values of tag `key` from the most
// recent event, deduplicated and order-preserved.
func urlsFromLatestEvent(evs []nostr.Event, key string) []string {
	ev := latest(evs)
	if ev == nil {
		return nil
	}
	var urls []string
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == key {
			urls = append(urls, tag[1])
		}
	}
	return dedupe(urls)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
