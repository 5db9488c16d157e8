package signer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sandwichfarm/nsyte-deploy/nostrevent"
)

// connState is the remote bunker's connection state machine (Design Notes
// §9: lift nested reconnect callbacks into a single async state machine).
type connState int

const (
	stateConnected connState = iota
	stateDegraded
	stateReconnecting
	stateFailed
)

// DefaultSignTimeout is T_sign from spec §4.2: how long the engine waits
// for a remote signer's reply before treating the request as transient.
const DefaultSignTimeout = 15 * time.Second

// Transport is the remote signer's wire connection: send a template,
// receive a signed event, or detect that the link dropped. This package
// ships no bunker transport of its own; callers supply one, and tests
// substitute a fake.
type Transport interface {
	// RequestSign sends tmpl and blocks for the reply or ctx's deadline.
	RequestSign(ctx context.Context, tmpl nostrevent.Template) (*nostrevent.Event, error)
	// RequestPublicKey fetches the signer's public key.
	RequestPublicKey(ctx context.Context) (string, error)
	// Reconnect re-establishes the transport using the stored credential.
	Reconnect(ctx context.Context) error
	// Connected reports whether the transport believes it has a live link.
	Connected() bool
	Close() error
}

// Remote is the asynchronous bunker Signer variant. All calls are
// serialized by mu: §5's shared-resource policy requires that a remote
// signer never see interleaved requests.
type Remote struct {
	mu           sync.Mutex
	transport    Transport
	timeout      time.Duration
	state        connState
	reconnectsUsed int
}

// NewRemote wraps an already-authenticated Transport. timeout of zero
// selects DefaultSignTimeout.
func NewRemote(t Transport, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = DefaultSignTimeout
	}
	return &Remote{transport: t, timeout: timeout, state: stateConnected}
}

func (r *Remote) PublicKey(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.transport.RequestPublicKey(cctx)
}

// Sign forwards tmpl to the bunker, waiting at most r.timeout. If the
// transport has dropped, it attempts exactly one reconnect (spec §4.2)
// before failing with a terminal AuthError-equivalent; it never retries
// automatically beyond that single attempt, since signer failures
// indicate an operator issue rather than a transient network blip.
func (r *Remote) Sign(ctx context.Context, tmpl nostrevent.Template) (*nostrevent.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == stateFailed {
		return nil, fmt.Errorf("signer: remote bunker permanently failed, deploy must abort")
	}

	if !r.transport.Connected() {
		r.state = stateDegraded
		if err := r.reconnectLocked(ctx); err != nil {
			return nil, err
		}
	}

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ev, err := r.transport.RequestSign(cctx, tmpl)
	if err == nil {
		r.state = stateConnected
		return ev, nil
	}

	// The link may have dropped mid-request; try the single allotted
	// reconnect before giving up.
	if r.transport.Connected() {
		return nil, fmt.Errorf("signer: remote bunker sign failed: %w", err)
	}
	r.state = stateDegraded
	if rErr := r.reconnectLocked(ctx); rErr != nil {
		return nil, rErr
	}

	cctx2, cancel2 := context.WithTimeout(ctx, r.timeout)
	defer cancel2()
	ev, err = r.transport.RequestSign(cctx2, tmpl)
	if err != nil {
		r.state = stateFailed
		return nil, fmt.Errorf("signer: remote bunker sign failed after reconnect: %w", err)
	}
	r.state = stateConnected
	return ev, nil
}

// reconnectLocked performs the single reconnect attempt this deploy is
// allowed. Callers must hold mu.
func (r *Remote) reconnectLocked(ctx context.Context) error {
	if r.reconnectsUsed >= 1 {
		r.state = stateFailed
		return fmt.Errorf("signer: remote bunker disconnected and the one reconnect attempt for this deploy is already used")
	}
	r.state = stateReconnecting
	r.reconnectsUsed++
	if err := r.transport.Reconnect(ctx); err != nil {
		r.state = stateFailed
		return fmt.Errorf("signer: remote bunker reconnect failed: %w", err)
	}
	r.state = stateConnected
	return nil
}

func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transport.Close()
}
