package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/councilbot/councilbot/internal/session"
)

var (
	historyChannel string
	historyThread  string
	historyLimit   int
	historyJSON    bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded turns from the turn store",
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(historyChannel) == "" {
			return fmt.Errorf("--channel is required")
		}
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		turns, err := store.RecentTurns(cmd.Context(), historyChannel, historyThread, historyLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if historyJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if turns == nil {
				turns = []session.Turn{}
			}
			return enc.Encode(turns)
		}
		if len(turns) == 0 {
			fmt.Fprintln(out, "No turns recorded.")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tTHREAD\tROLE\tTEXT")
		for _, t := range turns {
			role := string(t.Role)
			if t.Role == session.RoleSelf {
				role = color.GreenString(role)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.Timestamp.Local().Format("2006-01-02 15:04:05"), t.ThreadID, role, oneLine(t.Text, 80))
		}
		return tw.Flush()
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyChannel, "channel", "", "Channel ID to read")
	historyCmd.Flags().StringVar(&historyThread, "thread", "", "Restrict to one thread timestamp")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of turns")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print turns as JSON")
}

// oneLine flattens text for table output and truncates it to width runes.
func oneLine(text string, width int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= width {
		return text
	}
	return string(r[:width-3]) + "..."
}
