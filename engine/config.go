package engine

import (
	"fmt"
	"time"

	"github.com/sandwichfarm/nsyte-deploy/publish"
)

// Config is the deploy engine's validated input surface (spec §6 CLI
// surface, minus CLI parsing itself, which is out of scope). It is
// constructed in-process the way the teacher's configuration.Parse
// validates a loaded config struct — explicit field checks rather than a
// schema library, since there is no YAML/file source here.
type Config struct {
	TargetDir string

	PubKey string

	OperatorRelays  []string
	OperatorServers []string
	FallbackRelays  []string
	FallbackServers []string
	FallbackEnabled bool

	Force    bool
	Purge    bool
	Manifest publish.ManifestMetadata

	Concurrency  int
	JobRetries   int
	RetryBackoff time.Duration

	NonInteractive bool

	// ConfirmPurge is consulted when Purge is true and NonInteractive is
	// false; a nil ConfirmPurge with NonInteractive false is itself a
	// config error (spec §4.8: "purges are only executed with explicit
	// operator consent").
	ConfirmPurge func() bool
}

// Validate checks the fields Config itself can check without touching
// the network (spec §7 KindConfig: "missing required inputs, invalid
// URLs, empty operational sets").
func (c Config) Validate() error {
	if c.TargetDir == "" {
		return &Error{Kind: KindConfig, Op: "validate", Err: fmt.Errorf("target directory is required")}
	}
	if c.PubKey == "" {
		return &Error{Kind: KindConfig, Op: "validate", Err: fmt.Errorf("publisher public key is required")}
	}
	if c.Purge && !c.NonInteractive && c.ConfirmPurge == nil {
		return &Error{Kind: KindConfig, Op: "validate", Err: fmt.Errorf("purge requested interactively but no confirmation callback was supplied")}
	}
	return nil
}

// purgeAuthorized reports whether this run is allowed to execute the
// purge branch, honoring "explicit operator consent (a flag, or
// interactive confirmation)" (spec §4.8).
func (c Config) purgeAuthorized() bool {
	if !c.Purge {
		return false
	}
	if c.NonInteractive {
		return true
	}
	if c.ConfirmPurge == nil {
		return false
	}
	return c.ConfirmPurge()
}
