package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/councilbot/councilbot/internal/persona"
)

var personasJSON bool

var personasCmd = &cobra.Command{
	Use:   "personas",
	Short: "Show channel to persona bindings",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		reg, err := persona.LoadFile(cfg.Personas.Path)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if personasJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"meeting_channel": reg.MeetingChannel(),
				"default":         reg.Default(),
				"bindings":        reg.Bindings(),
			})
		}

		source := cfg.Personas.Path
		if source == "" {
			source = "(bundled)"
		}
		fmt.Fprintf(out, "Persona file: %s\n", source)
		if ch := reg.MeetingChannel(); ch != "" {
			fmt.Fprintf(out, "Meeting channel: %s\n", ch)
		} else {
			fmt.Fprintln(out, "Meeting channel: (none)")
		}
		fmt.Fprintln(out)

		tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "CHANNEL\tPERSONA\tDISPLAY NAME\tICON")
		for _, b := range reg.Bindings() {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.ChannelID, b.Persona.Key, b.Persona.DisplayName, b.Persona.DisplayIcon)
		}
		def := reg.Default()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", "*", def.Key, def.DisplayName, def.DisplayIcon)
		return tw.Flush()
	},
}

func init() {
	personasCmd.Flags().BoolVar(&personasJSON, "json", false, "Print the registry as JSON")
}
