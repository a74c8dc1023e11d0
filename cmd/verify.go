package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kylestephens-labs/fund-signal/internal/config"
	"github.com/kylestephens-labs/fund-signal/internal/jsonio"
	"github.com/kylestephens-labs/fund-signal/internal/lead"
	"github.com/kylestephens-labs/fund-signal/internal/verify"
	"github.com/kylestephens-labs/fund-signal/pkg/tavily"
	"github.com/kylestephens-labs/fund-signal/pkg/youcom"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify resolved leads against search providers and merge evidence",
	Long: `Fetches confirming articles for each resolved lead from You.com and
Tavily. In fixture mode evidence comes from recorded bundle JSONL files; in
online mode the provider APIs are called directly.`,
	RunE: runVerify,
}

func init() {
	f := verifyCmd.Flags()
	f.String("seed", "", "resolve or feedback stage artifact path")
	f.String("youcom", "", "You.com fixture JSONL path (fixture mode)")
	f.String("tavily", "", "Tavily fixture JSONL path (fixture mode)")
	f.String("output", "", "unified verification artifact path")
	f.Int("youcom-limit", 0, "max You.com articles per lead (overrides config)")
	f.Int("tavily-limit", 0, "max Tavily articles per lead (overrides config)")
	f.String("bundle-id", "", "bundle identifier recorded in the artifact")
	_ = verifyCmd.MarkFlagRequired("seed")
	_ = verifyCmd.MarkFlagRequired("output")

	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	seedPath, _ := cmd.Flags().GetString("seed")
	youcomPath, _ := cmd.Flags().GetString("youcom")
	tavilyPath, _ := cmd.Flags().GetString("tavily")
	outputPath, _ := cmd.Flags().GetString("output")
	bundleID, _ := cmd.Flags().GetString("bundle-id")

	youcomLimit := flagOrDefault(cmd, "youcom-limit", cfg.Youcom.Limit)
	tavilyLimit := flagOrDefault(cmd, "tavily-limit", cfg.Tavily.Limit)

	var seedFile struct {
		Data []lead.ResolutionResult `json:"data"`
	}
	if err := jsonio.ReadJSON(seedPath, &seedFile); err != nil {
		return err
	}

	var providers []verify.Provider
	switch cfg.Mode {
	case config.ModeFixture:
		var err error
		providers, err = verify.NewFixtureProviders(youcomPath, tavilyPath, youcomLimit)
		if err != nil {
			return err
		}
	case config.ModeOnline:
		if cfg.Youcom.Key == "" || cfg.Tavily.Key == "" {
			return eris.New("verify: online mode requires youcom.key and tavily.key")
		}
		yc := youcom.NewClient(cfg.Youcom.Key, youcom.WithBaseURL(cfg.Youcom.BaseURL))
		tc := tavily.NewClient(cfg.Tavily.Key, tavily.WithBaseURL(cfg.Tavily.BaseURL))
		providers = verify.NewClientProviders(yc, tc, youcomLimit, tavilyLimit)
	}

	out := verify.Run(ctx, seedFile.Data, providers, time.Now().UTC(), bundleID)

	sha, err := jsonio.WriteJSON(outputPath, out)
	if err != nil {
		return eris.Wrap(err, "verify: write output")
	}
	zap.L().Info("verify complete",
		zap.String("mode", cfg.Mode),
		zap.Int("leads", len(out.Leads)),
		zap.String("output_sha256", sha))
	return nil
}

func flagOrDefault(cmd *cobra.Command, name string, fallback int) int {
	if v, _ := cmd.Flags().GetInt(name); v > 0 {
		return v
	}
	return fallback
}
