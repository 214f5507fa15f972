package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/councilbot/councilbot/internal/config"
	"github.com/councilbot/councilbot/internal/persona"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create or inspect the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config.json and personas.yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := targetConfigPath()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}

		personasPath := filepath.Join(filepath.Dir(path), "personas.yaml")
		cfg := config.DefaultConfig()
		cfg.Personas.Path = personasPath
		if err := config.SaveTo(path, cfg); err != nil {
			return fmt.Errorf("write config: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s Wrote %s\n", color.GreenString("✓"), path)
		if _, err := os.Stat(personasPath); errors.Is(err, fs.ErrNotExist) || configForce {
			if err := os.WriteFile(personasPath, persona.EmbeddedYAML(), 0600); err != nil {
				return fmt.Errorf("write personas: %w", err)
			}
			fmt.Fprintf(out, "%s Wrote %s\n", color.GreenString("✓"), personasPath)
		} else {
			fmt.Fprintf(out, "%s Kept existing %s\n", color.YellowString("•"), personasPath)
		}
		fmt.Fprintln(out, "\nNext: bind your channel IDs in personas.yaml, export SLACK_BOT_TOKEN, SLACK_APP_TOKEN and GEMINI_API_KEY, then run `councilbot serve`.")
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		masked := *cfg
		masked.Slack.BotToken = maskSecret(cfg.Slack.BotToken)
		masked.Slack.AppToken = maskSecret(cfg.Slack.AppToken)
		masked.Model.APIKey = maskSecret(cfg.Model.APIKey)

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(masked); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %v\n", color.YellowString("warning:"), err)
		}
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing files")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

func targetConfigPath() (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	return config.ConfigPath()
}

// maskSecret keeps a short prefix so operators can tell tokens apart.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****"
}
