// Package cli implements the councilbot command line.
package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/councilbot/councilbot/internal/config"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/councilbot/councilbot/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"   ___                    _ _ _           _\n" +
		"  / __|___ _  _ _ _  __(_) | |__  ___| |_\n" +
		" | (__/ _ \\ || | ' \\/ _| | | '_ \\/ _ \\  _|\n" +
		"  \\___\\___/\\_,_|_||_\\__|_|_|_.__/\\___/\\__|\n"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "councilbot",
	Short: "councilbot - persona-routed Slack assistant",
	Long:  color.CyanString(logo) + "\nRoutes Slack channels to AI personas and runs multi-persona planning meetings.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "councilbot %s\n", version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default $COUNCILBOT_CONFIG or ~/.councilbot/config.json)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(personasCmd)
	rootCmd.AddCommand(configCmd)
}

func loadConfig() (*config.Config, error) {
	return config.LoadFrom(configFile)
}

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w, color.CyanString(logo))
	if title != "" {
		fmt.Fprintln(w, title)
		fmt.Fprintln(w, "─────────────────────")
	}
}
