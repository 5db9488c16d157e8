package signer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandwichfarm/nsyte-deploy/nostrevent"
)

type fakeTransport struct {
	connected     bool
	reconnectErr  error
	reconnectCalls int
	signFn        func() (*nostrevent.Event, error)
}

func (f *fakeTransport) RequestSign(ctx context.Context, tmpl nostrevent.Template) (*nostrevent.Event, error) {
	return f.signFn()
}
func (f *fakeTransport) RequestPublicKey(ctx context.Context) (string, error) { return "pk", nil }
func (f *fakeTransport) Reconnect(ctx context.Context) error {
	f.reconnectCalls++
	if f.reconnectErr != nil {
		return f.reconnectErr
	}
	f.connected = true
	return nil
}
func (f *fakeTransport) Connected() bool { return f.connected }
func (f *fakeTransport) Close() error    { return nil }

func TestRemoteSignerReconnectsOnceThenSucceeds(t *testing.T) {
	calls := 0
	ft := &fakeTransport{connected: false}
	ft.signFn = func() (*nostrevent.Event, error) {
		calls++
		return &nostrevent.Event{}, nil
	}

	r := NewRemote(ft, 0)
	ev, err := r.Sign(context.Background(), nostrevent.Template{})
	require.NoError(t, err)
	require.NotNil(t, ev)
	require.Equal(t, 1, ft.reconnectCalls)
	require.Equal(t, 1, calls)
}

func TestRemoteSignerFailsWhenReconnectFails(t *testing.T) {
	ft := &fakeTransport{connected: false, reconnectErr: errors.New("refused")}
	ft.signFn = func() (*nostrevent.Event, error) { return &nostrevent.Event{}, nil }

	r := NewRemote(ft, 0)
	_, err := r.Sign(context.Background(), nostrevent.Template{})
	require.Error(t, err)

	// A second attempt must not retry reconnect further (at most one per
	// deploy); it should fail immediately since state is now stateFailed.
	_, err = r.Sign(context.Background(), nostrevent.Template{})
	require.Error(t, err)
	require.Equal(t, 1, ft.reconnectCalls)
}

func TestRemoteSignerReconnectOnlyOncePerDeploy(t *testing.T) {
	ft := &fakeTransport{connected: true}
	attempt := 0
	ft.signFn = func() (*nostrevent.Event, error) {
		attempt++
		if attempt == 1 {
			ft.connected = false
			return nil, errors.New("dropped")
		}
		return &nostrevent.Event{}, nil
	}

	r := NewRemote(ft, 0)
	ev, err := r.Sign(context.Background(), nostrevent.Template{})
	require.NoError(t, err)
	require.NotNil(t, ev)
	require.Equal(t, 1, ft.reconnectCalls)
}
