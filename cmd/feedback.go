package main

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kylestephens-labs/fund-signal/internal/bundle"
	"github.com/kylestephens-labs/fund-signal/internal/feedback"
	"github.com/kylestephens-labs/fund-signal/internal/jsonio"
	"github.com/kylestephens-labs/fund-signal/internal/resolve"
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Correct low-confidence resolutions using provider evidence spans",
	Long: `Promotes company-name spans confirmed by evidence from at least two
distinct domains onto low-confidence resolved rows. Corrections carry full
provenance; identical names are never rewritten.`,
	RunE: runFeedback,
}

func init() {
	f := feedbackCmd.Flags()
	f.String("input", "", "resolve stage artifact path")
	f.String("youcom", "", "You.com evidence JSONL path")
	f.String("tavily", "", "Tavily evidence JSONL path")
	f.String("out", "", "corrected artifact path")
	f.Bool("update-manifest", false, "rewrite the bundle manifest entry for the corrected file")
	f.String("manifest", "", "bundle manifest path (required with --update-manifest)")
	_ = feedbackCmd.MarkFlagRequired("input")
	_ = feedbackCmd.MarkFlagRequired("youcom")
	_ = feedbackCmd.MarkFlagRequired("tavily")
	_ = feedbackCmd.MarkFlagRequired("out")

	rootCmd.AddCommand(feedbackCmd)
}

func runFeedback(cmd *cobra.Command, _ []string) error {
	inputPath, _ := cmd.Flags().GetString("input")
	youcomPath, _ := cmd.Flags().GetString("youcom")
	tavilyPath, _ := cmd.Flags().GetString("tavily")
	outPath, _ := cmd.Flags().GetString("out")
	updateManifest, _ := cmd.Flags().GetBool("update-manifest")
	manifestPath, _ := cmd.Flags().GetString("manifest")

	if updateManifest && manifestPath == "" {
		return eris.New("feedback: --update-manifest requires --manifest")
	}

	var in resolve.Output
	if err := jsonio.ReadJSON(inputPath, &in); err != nil {
		return err
	}

	evidence, err := feedback.BuildEvidenceMap(youcomPath, tavilyPath)
	if err != nil {
		return err
	}

	out, metrics, err := feedback.Apply(&in, evidence)
	if err != nil {
		return err
	}

	if _, err := jsonio.WriteJSON(outPath, out); err != nil {
		return eris.Wrap(err, "feedback: write output")
	}

	if updateManifest {
		rel, err := filepath.Rel(filepath.Dir(manifestPath), outPath)
		if err != nil || strings.HasPrefix(rel, "..") {
			return eris.Errorf("feedback: output %s is not inside the bundle", outPath)
		}
		checksum, err := bundle.SHA256File(outPath)
		if err != nil {
			return err
		}
		files := map[string]string{filepath.ToSlash(rel): checksum}
		if err := bundle.UpdateFiles(manifestPath, files, cfg.Bundle.SigningKey); err != nil {
			return err
		}
		zap.L().Info("manifest updated", zap.String("path", filepath.ToSlash(rel)))
	}

	zap.L().Info("feedback complete",
		zap.Int("rows_total", metrics.RowsTotal),
		zap.Int("reviewed", metrics.Reviewed),
		zap.Int("applied", metrics.Applied))
	return nil
}
