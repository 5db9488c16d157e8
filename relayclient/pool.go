package relayclient

import (
	"context"
	"sync"

	"github.com/nbd-wtf/go-nostr"
	"github.com/sirupsen/logrus"
)

// RelayOutcome is the per-relay result of one publish call (spec §3).
type RelayOutcome struct {
	URL      string
	Accepted bool
	Message  string
	Err      error
}

// QueryResult bundles the events a query returned with every relay that
// returned each one, since the Remote State Loader needs source
// relays for diagnostics (spec §4.5).
type QueryResult struct {
	Events       []nostr.Event
	SourceRelays map[string][]string // event id -> relay urls that had it
}

// relayConn is the subset of *conn's behavior Pool depends on; extracted
// so tests can substitute a fake connection without dialing a real relay.
type relayConn interface {
	publish(ctx context.Context, ev nostr.Event) error
	query(ctx context.Context, filter nostr.Filter) ([]nostr.Event, error)
	reconnect(ctx context.Context) error
	close() error
}

// Pool maintains one conn per relay URL for the lifetime of a deploy.
// Operations against distinct relays proceed in parallel; each
// connection serializes its own frames (spec §4.3 Concurrency).
type Pool struct {
	mu    sync.RWMutex
	conns map[string]relayConn
	log   *logrus.Entry
}

// New dials every url in urls, continuing past individual dial failures
// (the pool degrades gracefully — callers observe which relays are
// missing through the returned dial errors, or via URLs()).
func New(ctx context.Context, urls []string, log *logrus.Entry) (*Pool, []error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	p := &Pool{conns: make(map[string]relayConn, len(urls)), log: log}
	var errs []error
	for _, u := range urls {
		relay, err := nostr.RelayConnect(ctx, u)
		if err != nil {
			errs = append(errs, dialErr{url: u, err: err})
			continue
		}
		p.conns[u] = newConn(u, relay, log.WithField("relay", u))
	}
	return p, errs
}

type dialErr struct {
	url string
	err error
}

func (d dialErr) Error() string { return "relay " + d.url + ": " + d.err.Error() }

// URLs returns the relay URLs this pool currently holds a connection for.
func (p *Pool) URLs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.conns))
	for u := range p.conns {
		out = append(out, u)
	}
	return out
}

// Publish fans the event out to every connection in parallel and waits
// for all per-relay OK-or-timeout results before returning (spec §3, §5:
// cancellation never leaves a half-signed event in flight — the caller
// must await every outcome here before treating the publish as done).
func (p *Pool) Publish(ctx context.Context, ev nostr.Event) []RelayOutcome {
	p.mu.RLock()
	conns := make(map[string]relayConn, len(p.conns))
	for u, c := range p.conns {
		conns[u] = c
	}
	p.mu.RUnlock()

	results := make([]RelayOutcome, len(conns))
	var wg sync.WaitGroup
	i := 0
	for u, c := range conns {
		wg.Add(1)
		idx, url, cc := i, u, c
		i++
		go func() {
			defer wg.Done()
			err := cc.publish(ctx, ev)
			results[idx] = RelayOutcome{
				URL:      url,
				Accepted: err == nil,
				Err:      err,
			}
			if err != nil {
				results[idx].Message = err.Error()
			}
		}()
	}
	wg.Wait()
	return results
}

// Query fans filter out to every connection and merges the results,
// deduplicating by event id and recording which relays returned each
// event. Each per-relay query independently respects EOSETimeout; Query
// itself returns once every connection has finished or been cancelled.
func (p *Pool) Query(ctx context.Context, filter nostr.Filter) QueryResult {
	p.mu.RLock()
	conns := make(map[string]relayConn, len(p.conns))
	for u, c := range p.conns {
		conns[u] = c
	}
	p.mu.RUnlock()

	type partial struct {
		url    string
		events []nostr.Event
	}
	ch := make(chan partial, len(conns))
	var wg sync.WaitGroup
	for u, c := range conns {
		wg.Add(1)
		url, cc := u, c
		go func() {
			defer wg.Done()
			evs, err := cc.query(ctx, filter)
			if err != nil {
				p.log.WithField("relay", url).WithError(err).Warn("relayclient: query failed")
				return
			}
			ch <- partial{url: url, events: evs}
		}()
	}
	go func() { wg.Wait(); close(ch) }()

	byID := make(map[string]nostr.Event)
	sources := make(map[string][]string)
	for part := range ch {
		for _, ev := range part.events {
			byID[ev.ID] = ev
			sources[ev.ID] = append(sources[ev.ID], part.url)
		}
	}

	out := make([]nostr.Event, 0, len(byID))
	for _, ev := range byID {
		out = append(out, ev)
	}
	return QueryResult{Events: out, SourceRelays: sources}
}

// Reconnect re-dials the connection held for url, and does nothing if the
// pool holds no connection for it. It is not called automatically by
// Publish/Query, and the engine does not call it.
func (p *Pool) Reconnect(ctx context.Context, url string) error {
	p.mu.RLock()
	c, ok := p.conns[url]
	p.mu.RUnlock()
	if !ok {
		return nil
	}
	return c.reconnect(ctx)
}

// Close tears down every connection.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.conns {
		_ = c.close()
	}
}
