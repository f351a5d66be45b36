package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"abbey/cli/style"
)

var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		logo := lipgloss.NewStyle().
			Bold(true).
			Foreground(style.Primary).
			Render("abbey")

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, logo)
		fmt.Fprintln(out)
		fmt.Fprintf(out, "  %s %s\n", style.Key.Render("Version"), style.Val.Render(Version))
		fmt.Fprintf(out, "  %s %s\n", style.Key.Render("Region"), style.Val.Render(cfg.Region))
		if cfg.ListenAddr != "" {
			fmt.Fprintf(out, "  %s %s\n", style.Key.Render("Hub"), style.Val.Render(cfg.ListenAddr))
		}
		fmt.Fprintln(out)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
