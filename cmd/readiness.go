package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kylestephens-labs/fund-signal/internal/jsonio"
	"github.com/kylestephens-labs/fund-signal/internal/readiness"
	"github.com/kylestephens-labs/fund-signal/internal/score"
	"github.com/kylestephens-labs/fund-signal/pkg/anthropic"
)

var readinessCmd = &cobra.Command{
	Use:   "readiness",
	Short: "Rate scored leads for sales readiness (0-100)",
	Long: `Scores each lead on a 0-100 sales-readiness scale using either the
deterministic rubric engine (funding recency, round size, confidence tier,
proof diversity) or the Claude engine. Engine failures on individual leads
surface in skipped[], never abort the batch.`,
	RunE: runReadiness,
}

func init() {
	f := readinessCmd.Flags()
	f.String("input", "", "scored artifact path")
	f.String("output", "", "readiness artifact path")
	f.String("engine", readiness.EngineRubric, "scoring engine: rubric or llm")
	_ = readinessCmd.MarkFlagRequired("input")
	_ = readinessCmd.MarkFlagRequired("output")

	rootCmd.AddCommand(readinessCmd)
}

func runReadiness(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	inputPath, _ := cmd.Flags().GetString("input")
	outputPath, _ := cmd.Flags().GetString("output")
	engineName, _ := cmd.Flags().GetString("engine")

	var in score.Output
	if err := jsonio.ReadJSON(inputPath, &in); err != nil {
		return err
	}

	var engine readiness.Engine
	switch engineName {
	case readiness.EngineRubric:
		engine = readiness.NewRubricEngine(time.Now())
	case readiness.EngineLLM:
		if cfg.Anthropic.Key == "" {
			return eris.New("readiness: --engine llm requires anthropic.key")
		}
		client := anthropic.NewClient(cfg.Anthropic.Key)
		engine = readiness.NewLLMEngine(client, cfg.Anthropic.Model)
	default:
		return eris.Errorf("readiness: unknown engine %q (want rubric or llm)", engineName)
	}

	out, err := readiness.Run(ctx, in.Leads, engine, time.Now().UTC())
	if err != nil {
		return eris.Wrap(err, "readiness: score leads")
	}

	sha, err := jsonio.WriteJSON(outputPath, out)
	if err != nil {
		return eris.Wrap(err, "readiness: write output")
	}
	zap.L().Info("readiness complete",
		zap.String("engine", engineName),
		zap.Int("scored", len(out.Results)),
		zap.Int("skipped", len(out.Skipped)),
		zap.String("output_sha256", sha))
	return nil
}
