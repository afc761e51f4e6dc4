package cmd

import (
	"log"

	"github.com/chordial-bot/chordial/chordial"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the Chordial bot and API",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := chordial.New(cfg)
		if err != nil {
			log.Fatalf("error creating chordial: %s", err.Error())
		}

		if err = bot.Run(ctx); err != nil {
			log.Fatalf("error running chordial: %s", err.Error())
		}
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(runCmd)
}
