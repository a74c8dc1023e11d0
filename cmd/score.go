package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kylestephens-labs/fund-signal/internal/jsonio"
	"github.com/kylestephens-labs/fund-signal/internal/rules"
	"github.com/kylestephens-labs/fund-signal/internal/score"
	"github.com/kylestephens-labs/fund-signal/internal/store"
	"github.com/kylestephens-labs/fund-signal/internal/verify"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score verified leads into VERIFIED / LIKELY / EXCLUDE tiers",
	RunE:  runScore,
}

func init() {
	f := scoreCmd.Flags()
	f.String("input", "", "unified verification artifact path")
	f.String("output", "", "scored artifact path")
	f.String("rules", "rules/scoring.yaml", "scoring ruleset path")
	f.String("timestamp", "", "override scored_at (ISO 8601, for reproducible runs)")
	f.Bool("save", false, "persist scored leads to the configured store")
	_ = scoreCmd.MarkFlagRequired("input")
	_ = scoreCmd.MarkFlagRequired("output")

	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, _ []string) error {
	inputPath, _ := cmd.Flags().GetString("input")
	outputPath, _ := cmd.Flags().GetString("output")
	rulesPath, _ := cmd.Flags().GetString("rules")
	timestamp, _ := cmd.Flags().GetString("timestamp")
	save, _ := cmd.Flags().GetBool("save")

	r, err := rules.LoadScoringRules(rulesPath)
	if err != nil {
		return err
	}

	var in verify.Output
	if err := jsonio.ReadJSON(inputPath, &in); err != nil {
		return err
	}

	scoredAt := time.Now().UTC()
	if timestamp != "" {
		scoredAt, err = score.ParseTimestamp(timestamp)
		if err != nil {
			return eris.Wrapf(err, "score: parse --timestamp %q", timestamp)
		}
	}

	out := score.Run(in.Leads, r, scoredAt)

	sha, err := jsonio.WriteJSON(outputPath, out)
	if err != nil {
		return eris.Wrap(err, "score: write output")
	}

	if save {
		st, err := store.Open(cmd.Context(), cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}
		if err := st.SaveScoredLeads(cmd.Context(), in.BundleID, out.Leads); err != nil {
			return err
		}
	}

	zap.L().Info("score complete",
		zap.Int("leads", len(out.Leads)),
		zap.Bool("saved", save),
		zap.String("output_sha256", sha))
	return nil
}
