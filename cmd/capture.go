package main

import (
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kylestephens-labs/fund-signal/internal/capture"
	"github.com/kylestephens-labs/fund-signal/internal/config"
	"github.com/kylestephens-labs/fund-signal/internal/jsonio"
	"github.com/kylestephens-labs/fund-signal/internal/lead"
	"github.com/kylestephens-labs/fund-signal/internal/store"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Record raw provider responses for resolved leads into a bundle",
	Long: `Captures live You.com and Tavily responses for every resolved lead into
a date-partitioned bundle directory with a signed manifest. Interrupted runs
resume with --resume --bundle <dir>; queries that exhaust their retries are
dead-lettered, never silently dropped.`,
	RunE: runCapture,
}

func init() {
	f := captureCmd.Flags()
	f.String("queries", "", "resolve or feedback stage artifact path")
	f.String("bundle-root", "bundles", "root directory for date-partitioned bundles")
	f.Bool("resume", false, "resume an interrupted capture")
	f.String("bundle", "", "existing bundle directory (required with --resume)")
	f.Float64("qps-youcom", 0, "You.com request rate (overrides config)")
	f.Float64("qps-tavily", 0, "Tavily request rate (overrides config)")
	_ = captureCmd.MarkFlagRequired("queries")

	rootCmd.AddCommand(captureCmd)
}

func runCapture(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Mode != config.ModeOnline {
		return eris.New("capture: requires mode=online")
	}
	if cfg.Youcom.Key == "" || cfg.Tavily.Key == "" {
		return eris.New("capture: youcom.key and tavily.key must be configured")
	}

	queriesPath, _ := cmd.Flags().GetString("queries")
	bundleRoot, _ := cmd.Flags().GetString("bundle-root")
	resume, _ := cmd.Flags().GetBool("resume")
	bundleDir, _ := cmd.Flags().GetString("bundle")

	if resume && bundleDir == "" {
		return eris.New("capture: --resume requires --bundle")
	}
	if bundleDir == "" {
		bundleDir = capture.BundleDir(bundleRoot, time.Now())
	}

	if qps, _ := cmd.Flags().GetFloat64("qps-youcom"); qps > 0 {
		cfg.Youcom.QPS = qps
	}
	if qps, _ := cmd.Flags().GetFloat64("qps-tavily"); qps > 0 {
		cfg.Tavily.QPS = qps
	}

	var seedFile struct {
		Data []lead.ResolutionResult `json:"data"`
	}
	if err := jsonio.ReadJSON(queriesPath, &seedFile); err != nil {
		return err
	}
	if len(seedFile.Data) == 0 {
		return eris.Errorf("capture: no resolved leads in %s", queriesPath)
	}

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		return err
	}

	run, err := st.CreateCaptureRun(ctx, filepath.Base(bundleDir), bundleDir)
	if err != nil {
		return err
	}

	runner := capture.NewRunner(cfg)
	manifest, err := runner.Run(ctx, seedFile.Data, bundleDir, resume)
	if err != nil {
		if ferr := st.FailCaptureRun(ctx, run.ID, err.Error()); ferr != nil {
			zap.L().Warn("recording capture failure", zap.Error(ferr))
		}
		return err
	}
	if err := st.CompleteCaptureRun(ctx, run.ID, manifest.Providers); err != nil {
		return err
	}

	zap.L().Info("capture complete",
		zap.String("bundle_id", manifest.BundleID),
		zap.String("bundle_dir", bundleDir),
		zap.Int("leads", len(seedFile.Data)))
	return nil
}
