package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kylestephens-labs/fund-signal/internal/generate"
	"github.com/kylestephens-labs/fund-signal/internal/jsonio"
	"github.com/kylestephens-labs/fund-signal/internal/resolve"
	"github.com/kylestephens-labs/fund-signal/internal/rules"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Pick the canonical company name for each candidate set",
	RunE:  runResolve,
}

func init() {
	f := resolveCmd.Flags()
	f.String("input", "", "generate stage artifact path")
	f.String("output", "", "resolution artifact path")
	f.String("rules", "rules/resolver.yaml", "resolver ruleset path")
	_ = resolveCmd.MarkFlagRequired("input")
	_ = resolveCmd.MarkFlagRequired("output")

	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, _ []string) error {
	inputPath, _ := cmd.Flags().GetString("input")
	outputPath, _ := cmd.Flags().GetString("output")
	rulesPath, _ := cmd.Flags().GetString("rules")

	r, err := rules.LoadResolverRules(rulesPath)
	if err != nil {
		return err
	}

	var in generate.Output
	if err := jsonio.ReadJSON(inputPath, &in); err != nil {
		return err
	}

	out := resolve.Run(in.Data, r)

	sha, err := jsonio.WriteJSON(outputPath, out)
	if err != nil {
		return eris.Wrap(err, "resolve: write output")
	}
	zap.L().Info("resolve complete",
		zap.Int("items_total", out.ItemsTotal),
		zap.Int("items_resolved", out.ItemsResolved),
		zap.Int("items_skipped", out.ItemsSkipped),
		zap.String("output_sha256", sha))
	return nil
}
