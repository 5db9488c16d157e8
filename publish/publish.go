// Package publish implements the Event Publisher: after blob uploads
// complete it signs and fans out one path-mapping event per successful
// file, one aggregate site-manifest event, and (when purging) one
// deletion event retracting paths no longer present locally. Grounded on
// notifications/bridge.go's per-action event construction
// (ManifestPushed/ManifestDeleted), fanned out through relayclient.Pool.
package publish

import (
	"context"
	"fmt"
	"sort"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/nsyte-deploy/blobupload"
	"github.com/sandwichfarm/nsyte-deploy/nostrevent"
	"github.com/sandwichfarm/nsyte-deploy/relayclient"
)

// Signer is the subset of signer.Signer the publisher needs.
type Signer interface {
	Sign(ctx context.Context, tmpl nostrevent.Template) (*nostrevent.Event, error)
}

// Publisher is the subset of relayclient.Pool the publisher needs.
type Publisher interface {
	Publish(ctx context.Context, ev nostr.Event) []relayclient.RelayOutcome
}

// RelayOutcome is the per-relay publish result (spec §3), aliased from
// relayclient so *relayclient.Pool satisfies Publisher directly.
type RelayOutcome = relayclient.RelayOutcome

// FileResult is the per-file publish outcome: the file succeeded on at
// least one server (spec §8 Manifest completeness: "include if ≥1
// server success") and its kind-P event's relay outcomes.
type FileResult struct {
	Path           string
	SHA256         string
	IncludeInManifest bool
	RelayOutcomes  []RelayOutcome
}

// Result is everything the publisher produced for one deploy.
type Result struct {
	Files             []FileResult
	ManifestOutcomes  []RelayOutcome
	ManifestPublished bool
	DeletionOutcomes  []RelayOutcome
}

// ManifestMetadata carries the operator-supplied manifest tags (spec
// §4.8: operational endpoints are never placed in the manifest).
type ManifestMetadata struct {
	SiteID             string
	Title              string
	Description        string
	RecommendedRelays  []string
	RecommendedServers []string
}

// anyServerSucceeded implements the pinned policy from spec §8/§4.7: a
// file is manifest-eligible if at least one configured server reports
// success or already_existed.
func anyServerSucceeded(outs []blobupload.ServerOutcome) bool {
	for _, o := range outs {
		if o.Success || o.AlreadyExisted {
			return true
		}
	}
	return false
}

// PublishFileMappings signs and publishes one kind-P event per file whose
// blob upload reached at least one server (spec §4.8, §4.7 ordering rule:
// the orchestrator must finish a file before its path-mapping event is
// emitted). Files that failed on every server are skipped entirely —
// no event, no manifest entry.
func PublishFileMappings(ctx context.Context, signer Signer, pub Publisher, outcomes []blobupload.FileOutcome, createdAt nostr.Timestamp) ([]FileResult, error) {
	results := make([]FileResult, 0, len(outcomes))
	for _, fo := range outcomes {
		if !anyServerSucceeded(fo.ServerOutcomes) {
			continue
		}
		ev, err := signer.Sign(ctx, nostrevent.PathMappingTemplate(fo.File.Path, fo.File.SHA256, createdAt))
		if err != nil {
			return results, fmt.Errorf("publish: signing path mapping for %s: %w", fo.File.Path, err)
		}
		outs := pub.Publish(ctx, ev.Event)
		results = append(results, FileResult{
			Path:              fo.File.Path,
			SHA256:            fo.File.SHA256,
			IncludeInManifest: true,
			RelayOutcomes:     outs,
		})
	}
	return results, nil
}

// PublishManifest builds and publishes the kind-M aggregate event. entries
// is the complete post-deploy PathMap (spec §8 invariant 5): every file
// result with IncludeInManifest, regardless of whether this specific run
// re-uploaded it. The manifest is always published only after every file
// job has completed (spec §4.8 Ordering).
func PublishManifest(ctx context.Context, signer Signer, pub Publisher, entries []nostrevent.ManifestEntry, meta ManifestMetadata, createdAt nostr.Timestamp) ([]RelayOutcome, error) {
	sorted := make([]nostrevent.ManifestEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	tmpl := nostrevent.SiteManifestTemplate(sorted, nostrevent.ManifestOptions{
		SiteID:             meta.SiteID,
		Title:              meta.Title,
		Description:        meta.Description,
		RecommendedRelays:  meta.RecommendedRelays,
		RecommendedServers: meta.RecommendedServers,
	}, createdAt)

	ev, err := signer.Sign(ctx, tmpl)
	if err != nil {
		return nil, fmt.Errorf("publish: signing manifest: %w", err)
	}
	return pub.Publish(ctx, ev.Event), nil
}

// PublishDeletions signs and publishes a single kind-D event retracting
// every path in toDelete, or does nothing if toDelete is empty (spec §4.8,
// §4 Ordering: deletions occur only after the upload+manifest phase).
func PublishDeletions(ctx context.Context, signer Signer, pub Publisher, pubkey string, toDelete []string, createdAt nostr.Timestamp) ([]RelayOutcome, error) {
	if len(toDelete) == 0 {
		return nil, nil
	}
	ev, err := signer.Sign(ctx, nostrevent.DeletionTemplate(pubkey, toDelete, createdAt))
	if err != nil {
		return nil, fmt.Errorf("publish: signing deletion: %w", err)
	}
	return pub.Publish(ctx, ev.Event), nil
}

// ShouldRepublishManifest reports whether the manifest is published this
// run: true when force is set, when uploadCount is non-zero, or when the
// upload set is empty but the diff found that the manifest's path→sha256
// entries would differ from the known remote ones (Open Question #2 —
// pinned "yes, if the manifest would change"). Manifest metadata (title,
// description, recommended relays/servers) is not compared, so a change
// to it alone does not trigger a republish.
func ShouldRepublishManifest(force bool, uploadCount int, diffRepublishManifestOnly bool) bool {
	if force {
		return true
	}
	if uploadCount > 0 {
		return true
	}
	return diffRepublishManifestOnly
}
