package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/councilbot/councilbot/internal/provider"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List Gemini models that support text generation",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if cfg.Model.APIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is not set")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		gateway, err := provider.NewGeminiGateway(ctx, provider.GeminiOptions{
			APIKey:  cfg.Model.APIKey,
			Model:   cfg.Model.Name,
			BaseURL: cfg.Model.APIBase,
			Timeout: cfg.Model.Timeout.Std(),
		})
		if err != nil {
			return err
		}
		models, err := gateway.ListModels(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tDISPLAY NAME\tCONFIGURED")
		for _, m := range models {
			mark := ""
			if strings.TrimPrefix(m.Name, "models/") == strings.TrimPrefix(cfg.Model.Name, "models/") {
				mark = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Name, m.DisplayName, mark)
		}
		return tw.Flush()
	},
}
