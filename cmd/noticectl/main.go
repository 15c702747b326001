// Command noticectl renders banners from fixture files and inspects campaigns.
package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"notice-engine/internal/config"
)

func newRootCmd() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:           "noticectl",
		Short:         "Render banners and inspect campaigns",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			config.SetupLogging(logLevel)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "debug|info|warn|error")
	root.AddCommand(newRenderCmd(), newBannersCmd(), newCampaignsCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("noticectl failed")
		os.Exit(1)
	}
}
