package main

import (
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kylestephens-labs/fund-signal/internal/bundle"
)

var promoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Point latest.json at a validated capture bundle",
	Long: `Verifies the bundle manifest (checksums, freshness, HMAC signature when
a signing key is configured) and atomically rewrites the latest pointer.
Consumers reading latest.json never observe a partial update.`,
	RunE: runPromote,
}

func init() {
	f := promoteCmd.Flags()
	f.String("prefix", "", "bundle directory to promote")
	f.String("latest-path", "latest.json", "latest pointer path")
	f.Bool("dry-run", false, "validate and report without writing the pointer")
	_ = promoteCmd.MarkFlagRequired("prefix")

	rootCmd.AddCommand(promoteCmd)
}

func runPromote(cmd *cobra.Command, _ []string) error {
	bundleDir, _ := cmd.Flags().GetString("prefix")
	latestPath, _ := cmd.Flags().GetString("latest-path")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	now := time.Now().UTC()
	manifestPath := filepath.Join(bundleDir, bundle.ManifestName)
	if err := bundle.Verify(manifestPath, cfg.Bundle.SigningKey, now); err != nil {
		return err
	}

	payload, err := bundle.Promote(bundleDir, latestPath, dryRun, now)
	if err != nil {
		return err
	}

	zap.L().Info("promote complete",
		zap.String("bundle_id", payload.BundleID),
		zap.Bool("dry_run", dryRun),
		zap.Int("files", len(payload.Files)))
	return nil
}
