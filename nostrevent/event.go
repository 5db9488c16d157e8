// Package nostrevent defines the signed records exchanged with the event
// plane: path-mapping, blob-authorization, site-manifest, and deletion
// events, plus the discovery events consumed from relays. Canonical
// serialization and signature verification are delegated to
// github.com/nbd-wtf/go-nostr, the library already exercised by the
// publisher/client code in the surrounding ecosystem; this package only
// adds the typed tag builders and kind constants the deploy engine needs.
package nostrevent

import (
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// Kind enumerates the event kinds this engine produces or consumes.
type Kind int

const (
	// KindPathMapping is the addressable (replaceable) record mapping a
	// site path to a blob sha256. Tags: d=path, x=sha256, client=nsyte.
	KindPathMapping Kind = 34128
	// KindBlobAuth authorizes an upload of a specific blob hash. Never
	// published to a relay; carried as a base64 HTTP header value.
	KindBlobAuth Kind = 24242
	// KindSiteManifest is the addressable aggregate manifest of the whole
	// site. Tags: d=site id, f=(path,sha256) per file, plus metadata tags.
	KindSiteManifest Kind = 34129
	// KindDeletion retracts path mappings that no longer exist locally.
	KindDeletion Kind = 5
	// KindRelayList is NIP-65 style relay-list metadata for discovery.
	KindRelayList Kind = 10002
	// KindBlobServerList advertises the publisher's preferred blob servers.
	KindBlobServerList Kind = 10063
	// KindProfile is the publisher's kind-0 profile metadata.
	KindProfile Kind = 0
)

const clientTagValue = "nsyte"

// Event wraps nostr.Event, the type this engine signs, publishes, and
// parses. Embedding keeps Serialize/CheckSignature/GetID behavior
// identical to the library every publisher in the pack already uses.
type Event struct {
	nostr.Event
}

// Template is an unsigned event shape: everything the Signer needs in
// order to compute id and sig. Two templates with identical Kind, Tags,
// Content, and CreatedAt produce byte-identical ids — this is how the
// engine achieves idempotent republish (spec §4.2 Uniqueness).
type Template struct {
	Kind      Kind
	CreatedAt nostr.Timestamp
	Tags      nostr.Tags
	Content   string
}

// ToNostrTemplate returns the nostr.Event this template serializes as,
// with PubKey/ID/Sig left empty for the Signer to fill in.
func (t Template) ToNostrTemplate() nostr.Event {
	return nostr.Event{
		Kind:      int(t.Kind),
		CreatedAt: t.CreatedAt,
		Tags:      t.Tags,
		Content:   t.Content,
	}
}

// PathMappingTemplate builds the unsigned kind-P template for path→sha256.
func PathMappingTemplate(path, sha256 string, createdAt nostr.Timestamp) Template {
	return Template{
		Kind:      KindPathMapping,
		CreatedAt: createdAt,
		Content:   "",
		Tags: nostr.Tags{
			{"d", path},
			{"x", sha256},
			{"client", clientTagValue},
		},
	}
}

// BlobAuthTemplate builds the unsigned kind-A authorization for a blob
// upload, expiring expirySeconds after createdAt.
func BlobAuthTemplate(sha256 string, createdAt nostr.Timestamp, expirySeconds int64, note string) Template {
	return Template{
		Kind:      KindBlobAuth,
		CreatedAt: createdAt,
		Content:   note,
		Tags: nostr.Tags{
			{"t", "upload"},
			{"x", sha256},
			{"expiration", fmt.Sprintf("%d", int64(createdAt)+expirySeconds)},
			{"client", clientTagValue},
		},
	}
}

// ManifestEntry is one file in the site manifest's f-tags.
type ManifestEntry struct {
	Path   string
	SHA256 string
}

// ManifestOptions carries the operator-supplied metadata tags that ride
// along with the manifest event; operational endpoints are intentionally
// not included (spec §4.8).
type ManifestOptions struct {
	SiteID               string
	Title                string
	Description          string
	RecommendedRelays    []string
	RecommendedServers   []string
}

// SiteManifestTemplate builds the unsigned kind-M template. entries must
// already be sorted lexicographically by Path by the caller (publish
// package owns that ordering so it can be unit-tested independently).
func SiteManifestTemplate(entries []ManifestEntry, opts ManifestOptions, createdAt nostr.Timestamp) Template {
	tags := make(nostr.Tags, 0, len(entries)+6)
	tags = append(tags, nostr.Tag{"d", opts.SiteID})
	for _, e := range entries {
		tags = append(tags, nostr.Tag{"f", e.Path, e.SHA256})
	}
	if opts.Title != "" {
		tags = append(tags, nostr.Tag{"title", opts.Title})
	}
	if opts.Description != "" {
		tags = append(tags, nostr.Tag{"description", opts.Description})
	}
	for _, r := range opts.RecommendedRelays {
		tags = append(tags, nostr.Tag{"relay", r})
	}
	for _, s := range opts.RecommendedServers {
		tags = append(tags, nostr.Tag{"server", s})
	}
	return Template{
		Kind:      KindSiteManifest,
		CreatedAt: createdAt,
		Content:   "",
		Tags:      tags,
	}
}

// DeletionTemplate builds the unsigned kind-D template retracting the
// addressable path-mapping coordinates given.
func DeletionTemplate(pubkey string, paths []string, createdAt nostr.Timestamp) Template {
	tags := make(nostr.Tags, 0, len(paths))
	for _, p := range paths {
		tags = append(tags, nostr.Tag{"a", fmt.Sprintf("%d:%s:%s", KindPathMapping, pubkey, p)})
	}
	return Template{
		Kind:      KindDeletion,
		CreatedAt: createdAt,
		Content:   "",
		Tags:      tags,
	}
}

// DTag returns the value of the event's "d" tag, or "" if absent.
func DTag(ev *nostr.Event) string {
	for _, t := range ev.Tags {
		if len(t) >= 2 && t[0] == "d" {
			return t[1]
		}
	}
	return ""
}

// XTag returns the value of the event's "x" tag (blob sha256), or "".
func XTag(ev *nostr.Event) string {
	for _, t := range ev.Tags {
		if len(t) >= 2 && t[0] == "x" {
			return t[1]
		}
	}
	return ""
}
