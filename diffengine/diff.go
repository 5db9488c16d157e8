// Package diffengine compares the local file set against remote state
// and produces a DeploymentPlan (spec §4.6), using the same mark/sweep
// bucketing shape as the teacher's garbage collector
// (registry/storage/garbagecollect.go): a "live" set computed from local
// truth, and a "sweep" set of remote entries no longer live.
package diffengine

import (
	"sort"

	"github.com/sandwichfarm/nsyte-deploy/digest"
	"github.com/sandwichfarm/nsyte-deploy/fileset"
)

// Plan is the diff result (spec §3 DeploymentPlan). It is produced once
// per deploy and is read-only afterward.
type Plan struct {
	ToUpload               []fileset.FileEntry
	Unchanged              []fileset.FileEntry
	ToDelete               []string // normalized remote paths absent locally
	RepublishManifestOnly  bool     // unchanged local set, but manifest would differ
}

// Options controls the force/purge policy switches from spec §4.6.
type Options struct {
	Force bool
	Purge bool
	// RemoteManifestPaths, if non-nil, is compared against the local set
	// to decide RepublishManifestOnly when nothing needs uploading and
	// force is false (spec §4.6, Open Question #2).
	RemoteManifestPaths map[string]string
}

// Diff computes the plan. local is keyed by FileEntry.Path (display
// case); remote is keyed by normalized path -> sha256.
func Diff(local []fileset.FileEntry, remote map[string]string, opts Options) Plan {
	var plan Plan

	localNorm := make(map[string]bool, len(local))
	for _, f := range local {
		norm := digest.NormalizePath(f.Path)
		localNorm[norm] = true

		remoteSum, existsRemotely := remote[norm]
		changed := !existsRemotely || remoteSum != f.SHA256
		if changed || opts.Force {
			plan.ToUpload = append(plan.ToUpload, f)
		} else {
			plan.Unchanged = append(plan.Unchanged, f)
		}
	}

	if opts.Purge {
		var toDelete []string
		for remotePath := range remote {
			if !localNorm[remotePath] {
				toDelete = append(toDelete, remotePath)
			}
		}
		sort.Strings(toDelete)
		plan.ToDelete = toDelete
	}

	if len(plan.ToUpload) == 0 && !opts.Force && opts.RemoteManifestPaths != nil {
		plan.RepublishManifestOnly = manifestWouldChange(local, opts.RemoteManifestPaths)
	}

	return plan
}

// manifestWouldChange reports whether the manifest computed from local
// differs from the last-known remote manifest (Open Question #2: yes,
// republish if it would differ).
func manifestWouldChange(local []fileset.FileEntry, remoteManifest map[string]string) bool {
	if len(local) != len(remoteManifest) {
		return true
	}
	for _, f := range local {
		norm := digest.NormalizePath(f.Path)
		sum, ok := remoteManifest[norm]
		if !ok || sum != f.SHA256 {
			return true
		}
	}
	return false
}
