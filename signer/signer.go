// Package signer implements the Signer Abstraction from the deploy
// engine's design: a single capability, sign(template) -> event, with two
// concrete variants — a synchronous local-key signer and an asynchronous
// remote-bunker signer. Grounded on the Signer interface shape used by the
// retrieved chebizarro-gastown Nostr publisher and on the
// github.com/nbd-wtf/go-nostr nostr.Signer contract the rest of the
// ecosystem codes against.
package signer

import (
	"context"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/nsyte-deploy/nostrevent"
)

// Signer produces signed events from unsigned templates. Calls may
// arrive concurrently (the blob upload workers sign in parallel); Remote
// serializes them with its own mutex, since a remote bunker cannot
// interleave requests, and Local needs no serialization.
type Signer interface {
	// PublicKey returns the 32-byte hex public key this signer signs for.
	PublicKey(ctx context.Context) (string, error)
	// Sign computes id and sig for tmpl and returns the completed event.
	Sign(ctx context.Context, tmpl nostrevent.Template) (*nostrevent.Event, error)
	// Close releases any persistent connection the signer holds.
	Close() error
}

// Local is the synchronous local-key Signer variant: it holds the
// secret key in memory and signs with BIP-340 Schnorr directly via
// go-nostr's nostr.Event.Sign, never leaving the process.
type Local struct {
	sk string
	pk string
}

// NewLocal builds a Local signer from a hex secp256k1 secret key.
func NewLocal(secretKeyHex string) (*Local, error) {
	pk, err := nostr.GetPublicKey(secretKeyHex)
	if err != nil {
		return nil, err
	}
	return &Local{sk: secretKeyHex, pk: pk}, nil
}

func (l *Local) PublicKey(context.Context) (string, error) { return l.pk, nil }

func (l *Local) Sign(_ context.Context, tmpl nostrevent.Template) (*nostrevent.Event, error) {
	ev := tmpl.ToNostrTemplate()
	ev.PubKey = l.pk
	if err := ev.Sign(l.sk); err != nil {
		return nil, err
	}
	return &nostrevent.Event{Event: ev}, nil
}

func (l *Local) Close() error { return nil }
