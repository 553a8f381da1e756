package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/segmentationf4u1t/codeforge/internal/providers/bedrock"
)

// buildModelsCmd creates the "models" command, which lists every model the
// configured providers expose, plus AWS Bedrock foundation models when
// Bedrock discovery is enabled in the config.
func buildModelsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models available from the configured providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModels(cmd, *configPath)
		},
	}
}

func runModels(cmd *cobra.Command, configPath string) error {
	cfg, err := loadOrDefaultConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "PROVIDER\tMODEL\tNAME\tCONTEXT")

	provider, err := buildDefaultProvider(cfg)
	if err == nil {
		for _, m := range provider.Models() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", provider.Name(), m.ID, m.Name, m.ContextSize)
		}
	} else {
		fmt.Fprintf(os.Stderr, "no provider credentials configured: %v\n", err)
	}

	if cfg.LLM.Bedrock.Enabled {
		refresh, _ := time.ParseDuration(cfg.LLM.Bedrock.RefreshInterval)
		discovered, err := bedrock.DiscoverModels(cmd.Context(), &bedrock.DiscoveryConfig{
			Region:               cfg.LLM.Bedrock.Region,
			RefreshInterval:      refresh,
			ProviderFilter:       cfg.LLM.Bedrock.ProviderFilter,
			DefaultContextWindow: cfg.LLM.Bedrock.DefaultContextWindow,
			DefaultMaxTokens:     cfg.LLM.Bedrock.DefaultMaxTokens,
		})
		if err != nil {
			return fmt.Errorf("discover bedrock models: %w", err)
		}
		for _, m := range discovered {
			fmt.Fprintf(w, "bedrock\t%s\t%s\t%d\n", m.ID, m.Name, m.ContextWindow)
		}
	}

	return nil
}
