// Command nsyte-deploy wires the minimal inputs a deploy needs into
// engine.Deploy. Flag parsing itself is out of scope (spec §1/§6); this
// stub exists to demonstrate wiring, not to be a complete CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sandwichfarm/nsyte-deploy/engine"
	"github.com/sandwichfarm/nsyte-deploy/internal/dlog"
	"github.com/sandwichfarm/nsyte-deploy/publish"
	"github.com/sandwichfarm/nsyte-deploy/report"
	"github.com/sandwichfarm/nsyte-deploy/signer"
)

var (
	targetDir       string
	secretKeyHex    string
	operatorRelays  []string
	operatorServers []string
	fallbackRelays  []string
	fallbackServers []string
	fallbackEnabled bool
	force           bool
	purge           bool
	nonInteractive  bool
)

func main() {
	root := &cobra.Command{
		Use:   "nsyte-deploy",
		Short: "Deploy a static site to HTTP blob servers, announced over Nostr relays",
		RunE:  runDeploy,
	}

	// root.Flags() is a *pflag.FlagSet, the flag package cobra builds on.
	flags := root.Flags()
	flags.StringVar(&targetDir, "dir", ".", "local site directory to deploy")
	flags.StringVar(&secretKeyHex, "privatekey", "", "hex secp256k1 secret key for the local signer")
	flags.StringSliceVar(&operatorRelays, "relays", nil, "operator relay URLs")
	flags.StringSliceVar(&operatorServers, "servers", nil, "operator blob server URLs")
	flags.StringSliceVar(&fallbackRelays, "fallback-relays", nil, "fallback relay URLs")
	flags.StringSliceVar(&fallbackServers, "fallback-servers", nil, "fallback blob server URLs")
	flags.BoolVar(&fallbackEnabled, "fallback", false, "fall back to the fallback relays/servers when discovery finds none")
	flags.BoolVar(&force, "force", false, "re-upload and republish every file regardless of diff")
	flags.BoolVar(&purge, "purge", false, "retract remote paths no longer present locally")
	flags.BoolVar(&nonInteractive, "yes", false, "authorize purge without an interactive prompt")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "nsyte-deploy:", err)
		os.Exit(1)
	}
}

func runDeploy(cmd *cobra.Command, args []string) error {
	if secretKeyHex == "" {
		return fmt.Errorf("--privatekey is required")
	}

	log := logrus.NewEntry(logrus.StandardLogger())
	ctx := dlog.WithLogger(context.Background(), log)

	s, err := signer.NewLocal(secretKeyHex)
	if err != nil {
		return fmt.Errorf("building signer: %w", err)
	}
	defer s.Close()

	pubkey, err := s.PublicKey(ctx)
	if err != nil {
		return fmt.Errorf("resolving signer public key: %w", err)
	}

	cfg := engine.Config{
		TargetDir:       targetDir,
		PubKey:          pubkey,
		OperatorRelays:  operatorRelays,
		OperatorServers: operatorServers,
		FallbackRelays:  fallbackRelays,
		FallbackServers: fallbackServers,
		FallbackEnabled: fallbackEnabled,
		Force:           force,
		Purge:           purge,
		NonInteractive:  nonInteractive,
		Concurrency:     0, // zero takes blobupload's default
		JobRetries:      0,
		RetryBackoff:    0,
		Manifest: publish.ManifestMetadata{
			SiteID: strings.TrimSuffix(targetDir, "/"),
		},
		ConfirmPurge: confirmPurge,
	}

	start := time.Now()
	rep, err := engine.Deploy(ctx, cfg, s, report.NewLogObserver(log))
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"files":    len(rep.Files),
		"manifest": rep.ManifestPublished,
		"success":  rep.OverallSuccess,
		"took":     time.Since(start),
	}).Info("deploy finished")

	if !rep.OverallSuccess {
		os.Exit(1)
	}
	return nil
}

func confirmPurge() bool {
	fmt.Fprint(os.Stderr, "this will retract remote paths no longer present locally. continue? [y/N] ")
	var answer string
	fmt.Fscanln(os.Stdin, &answer)
	return strings.EqualFold(strings.TrimSpace(answer), "y")
}
