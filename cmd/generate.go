package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kylestephens-labs/fund-signal/internal/generate"
	"github.com/kylestephens-labs/fund-signal/internal/jsonio"
	"github.com/kylestephens-labs/fund-signal/internal/rules"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Extract company name candidates from raw funding news rows",
	Long: `Reads raw discovery rows (JSON array or JSONL, optionally gzipped) and
produces a candidate set per row using the generator ruleset. Malformed rows
are recorded in skipped[], never dropped silently.`,
	RunE: runGenerate,
}

func init() {
	f := generateCmd.Flags()
	f.String("input", "", "raw discovery rows (JSON array or JSONL, .gz accepted)")
	f.String("output", "", "candidate set artifact path")
	f.String("rules", "rules/generator.yaml", "generator ruleset path")
	_ = generateCmd.MarkFlagRequired("input")
	_ = generateCmd.MarkFlagRequired("output")

	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	inputPath, _ := cmd.Flags().GetString("input")
	outputPath, _ := cmd.Flags().GetString("output")
	rulesPath, _ := cmd.Flags().GetString("rules")

	r, err := rules.LoadGeneratorRules(rulesPath)
	if err != nil {
		return err
	}

	records, err := jsonio.ReadRecords(inputPath)
	if err != nil {
		return err
	}

	out := generate.Run(records, r)

	sha, err := jsonio.WriteJSON(outputPath, out)
	if err != nil {
		return eris.Wrap(err, "generate: write output")
	}
	zap.L().Info("generate complete",
		zap.Int("items_total", out.ItemsTotal),
		zap.Int("items_with_candidates", out.ItemsWithCandidates),
		zap.Int("skipped", len(out.Skipped)),
		zap.String("output_sha256", sha))
	return nil
}
