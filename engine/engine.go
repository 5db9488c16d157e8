// Package engine wires the deploy engine's components into the lifecycle
// state machine: Initializing -> ResolvingContext -> ResolvingSigner ->
// Discovering -> Scanning -> Diffing -> Uploading -> Publishing ->
// (Purging?) -> Reporting -> Done, any state transitioning to Failed on a
// terminal error (spec "State machines"). Cancellation is the ambient
// context.Context the teacher threads through every call.
package engine

import (
	"context"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/nsyte-deploy/blobupload"
	"github.com/sandwichfarm/nsyte-deploy/diffengine"
	"github.com/sandwichfarm/nsyte-deploy/discovery"
	"github.com/sandwichfarm/nsyte-deploy/fileset"
	"github.com/sandwichfarm/nsyte-deploy/internal/dlog"
	"github.com/sandwichfarm/nsyte-deploy/nostrevent"
	"github.com/sandwichfarm/nsyte-deploy/publish"
	"github.com/sandwichfarm/nsyte-deploy/relayclient"
	"github.com/sandwichfarm/nsyte-deploy/remotestate"
	"github.com/sandwichfarm/nsyte-deploy/report"
)

// State is a step of the deploy lifecycle.
type State int

const (
	StateInitializing State = iota
	StateResolvingContext
	StateResolvingSigner
	StateDiscovering
	StateScanning
	StateDiffing
	StateUploading
	StatePublishing
	StatePurging
	StateReporting
	StateDone
	StateFailed
)

func (s State) String() string {
	names := [...]string{
		"Initializing", "ResolvingContext", "ResolvingSigner", "Discovering",
		"Scanning", "Diffing", "Uploading", "Publishing", "Purging",
		"Reporting", "Done", "Failed",
	}
	if int(s) < len(names) {
		return names[s]
	}
	return "Unknown"
}

// Signer is the capability both blobupload and publish need: produce a
// signed event from a template.
type Signer interface {
	PublicKey(ctx context.Context) (string, error)
	Sign(ctx context.Context, tmpl nostrevent.Template) (*nostrevent.Event, error)
	Close() error
}

// Deploy runs one full deploy lifecycle and returns the final report. The
// returned error, if non-nil, is always an *Error with the Kind that
// caused the abort. A fatal error after the upload phase still returns
// the partial Report built from the outcomes gathered so far; an error
// before that returns an empty Report (spec: "cancellation drains
// in-flight jobs ... surfaces partial outcomes").
func Deploy(ctx context.Context, cfg Config, signer Signer, obs report.Observer) (report.Report, error) {
	if obs == nil {
		obs = report.NewLogObserver(nil)
	}

	if err := cfg.Validate(); err != nil {
		return report.Report{}, err
	}

	// ResolvingSigner: confirm the signer actually answers before we do
	// any network or disk work.
	pubkey, err := signer.PublicKey(ctx)
	if err != nil {
		return report.Report{}, &Error{Kind: KindAuth, Op: "resolve-signer", Err: err}
	}
	if cfg.PubKey != "" && cfg.PubKey != pubkey {
		return report.Report{}, &Error{Kind: KindConfig, Op: "resolve-signer", Err: fmt.Errorf("configured pubkey %s does not match signer pubkey %s", cfg.PubKey, pubkey)}
	}

	// Discovering: bootstrap against operator+fallback relays, then
	// reconnect to whatever the discovered final relay set turns out to
	// be (spec §4.4).
	bootstrapRelays := dedupe(append(append([]string{}, cfg.OperatorRelays...), fallbackIfEnabled(cfg)...))
	bootstrapPool, dialErrs := relayclient.New(ctx, bootstrapRelays, dlog.Component(ctx, "engine"))
	for _, derr := range dialErrs {
		obs.OnEvent(report.ProgressEvent{Kind: report.EventRelayDialFailed, Message: "relay dial failed during discovery", Err: derr})
	}
	defer bootstrapPool.Close()

	discoveryResult, err := discovery.Resolve(ctx, discovery.PoolQuerier{Pool: bootstrapPool}, discovery.Options{
		PubKey:          pubkey,
		OperatorRelays:  cfg.OperatorRelays,
		OperatorServers: cfg.OperatorServers,
		FallbackRelays:  cfg.FallbackRelays,
		FallbackServers: cfg.FallbackServers,
		FallbackEnabled: cfg.FallbackEnabled,
	})
	if err != nil {
		return report.Report{}, &Error{Kind: KindConfig, Op: "discover", Err: err}
	}

	pool, dialErrs := relayclient.New(ctx, discoveryResult.Relays, dlog.Component(ctx, "engine"))
	for _, derr := range dialErrs {
		obs.OnEvent(report.ProgressEvent{Kind: report.EventRelayDialFailed, Message: "relay dial failed for resolved relay set", Err: derr})
	}
	defer pool.Close()

	if err := ctx.Err(); err != nil {
		return report.Report{}, &Error{Kind: KindCancel, Op: "discover", Err: err}
	}

	// Remote state + local scan happen independently; neither depends on
	// the other's result.
	remote, err := remotestate.Load(ctx, remotestate.PoolQuerier{Pool: pool}, pubkey, cfg.FallbackEnabled, cfg.Purge)
	if err != nil {
		return report.Report{}, &Error{Kind: KindConfig, Op: "load-remote-state", Err: err}
	}

	scanRes, err := fileset.Scan(cfg.TargetDir, fileset.Options{})
	if err != nil {
		return report.Report{}, &Error{Kind: KindFile, Op: "scan", Path: cfg.TargetDir, Err: err}
	}
	for _, serr := range scanRes.Errors {
		obs.OnEvent(report.ProgressEvent{Kind: report.EventFileScanned, Path: serr.Path, Message: "file skipped", Err: serr.Err})
	}

	if err := ctx.Err(); err != nil {
		return report.Report{}, &Error{Kind: KindCancel, Op: "scan", Err: err}
	}

	// Diffing.
	plan := diffengine.Diff(scanRes.Files, remote.PathMap, diffengine.Options{
		Force:               cfg.Force,
		Purge:               cfg.Purge,
		RemoteManifestPaths: remote.PathMap,
	})
	obs.OnEvent(report.ProgressEvent{Kind: report.EventDiffComputed, Message: fmt.Sprintf("%d to upload, %d unchanged, %d to delete", len(plan.ToUpload), len(plan.Unchanged), len(plan.ToDelete))})

	// Uploading.
	var uploadOutcomes []blobupload.FileOutcome
	if len(plan.ToUpload) > 0 {
		if err := ctx.Err(); err != nil {
			return report.Report{}, &Error{Kind: KindCancel, Op: "upload", Err: err}
		}
		uploadOutcomes, err = blobupload.Upload(ctx, plan.ToUpload, discoveryResult.BlobServers, signer, blobupload.Options{
			Concurrency:  cfg.Concurrency,
			JobRetries:   cfg.JobRetries,
			RetryBackoff: cfg.RetryBackoff,
		})
		if err != nil {
			return report.Report{}, &Error{Kind: KindCancel, Op: "upload", Err: err}
		}
		for _, fo := range uploadOutcomes {
			obs.OnEvent(report.ProgressEvent{Kind: report.EventFileUploaded, Path: fo.File.Path, Message: "upload complete"})
		}
	}

	if err := ctx.Err(); err != nil {
		return report.Build(uploadOutcomes, nil, nil, false, nil), &Error{Kind: KindCancel, Op: "publish", Err: err}
	}

	// Publishing: per-file kind-P events, then the aggregate manifest,
	// then (only after upload+manifest) deletions (spec §4.8 Ordering).
	now := nostr.Now()
	fileResults, err := publish.PublishFileMappings(ctx, signer, pool, uploadOutcomes, now)
	if err != nil {
		return report.Build(uploadOutcomes, fileResults, nil, false, nil), &Error{Kind: KindAuth, Op: "publish-file-mappings", Err: err}
	}
	for _, fr := range fileResults {
		obs.OnEvent(report.ProgressEvent{Kind: report.EventEventPublished, Path: fr.Path, Message: "path mapping published"})
	}

	manifestEntries := buildManifestEntries(scanRes.Files, plan, fileResults)
	shouldRepublish := publish.ShouldRepublishManifest(cfg.Force, len(plan.ToUpload), plan.RepublishManifestOnly)

	var manifestOutcomes []publish.RelayOutcome
	manifestPublished := false
	if shouldRepublish {
		manifestOutcomes, err = publish.PublishManifest(ctx, signer, pool, manifestEntries, cfg.Manifest, now)
		if err != nil {
			return report.Build(uploadOutcomes, fileResults, nil, false, nil), &Error{Kind: KindAuth, Op: "publish-manifest", Err: err}
		}
		manifestPublished = true
		obs.OnEvent(report.ProgressEvent{Kind: report.EventManifestPublished, Message: fmt.Sprintf("manifest published with %d entries", len(manifestEntries))})
	}

	// Purging: only with explicit operator consent, and only after the
	// upload+manifest phase (spec §4.8).
	var deletionOutcomes []publish.RelayOutcome
	if cfg.purgeAuthorized() && len(plan.ToDelete) > 0 {
		deletionOutcomes, err = publish.PublishDeletions(ctx, signer, pool, pubkey, plan.ToDelete, now)
		if err != nil {
			return report.Build(uploadOutcomes, fileResults, manifestOutcomes, manifestPublished, nil), &Error{Kind: KindAuth, Op: "publish-deletions", Err: err}
		}
		obs.OnEvent(report.ProgressEvent{Kind: report.EventDeletionPublished, Message: fmt.Sprintf("%d paths retracted", len(plan.ToDelete))})
	}

	rep := report.Build(uploadOutcomes, fileResults, manifestOutcomes, manifestPublished, deletionOutcomes)
	obs.OnEvent(report.ProgressEvent{Kind: report.EventDeployComplete, Message: "deploy complete"})
	return rep, nil
}

// buildManifestEntries computes the complete post-deploy PathMap: every
// unchanged file plus every uploaded file that is manifest-eligible (spec
// §8 invariant 5, Open Question #1: "include if ≥1 server success"). It
// reuses fileResults — already filtered by publish.PublishFileMappings's
// anyServerSucceeded test — rather than recomputing a verdict from
// blobupload.FileOutcome.Success, so the manifest and the published kind-P
// events can never disagree on which files made the bar.
func buildManifestEntries(local []fileset.FileEntry, plan diffengine.Plan, fileResults []publish.FileResult) []nostrevent.ManifestEntry {
	includedUpload := make(map[string]bool, len(fileResults))
	for _, fr := range fileResults {
		if fr.IncludeInManifest {
			includedUpload[fr.Path] = true
		}
	}

	uploadedPaths := make(map[string]bool, len(plan.ToUpload))
	for _, f := range plan.ToUpload {
		uploadedPaths[f.Path] = true
	}

	entries := make([]nostrevent.ManifestEntry, 0, len(local))
	for _, f := range local {
		if uploadedPaths[f.Path] && !includedUpload[f.Path] {
			continue
		}
		entries = append(entries, nostrevent.ManifestEntry{Path: f.Path, SHA256: f.SHA256})
	}
	return entries
}

func fallbackIfEnabled(cfg Config) []string {
	if !cfg.FallbackEnabled {
		return nil
	}
	return cfg.FallbackRelays
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
