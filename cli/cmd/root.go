package cmd

import (
	"github.com/spf13/cobra"

	"abbey/config"
)

var cfg = config.Load()

var rootCmd = &cobra.Command{
	Use:   "abbey",
	Short: "Bake machine images from a configuration run",
	Long: `Abbey launches a build instance, runs the configuration playbooks on it,
follows their progress over a queue and snapshots the result as an image.

The instance and the queue are removed when the bake ends, however it ends.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}
