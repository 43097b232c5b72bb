package run

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/Mmx233/QFarm/config"
	"github.com/Mmx233/QFarm/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Start the local gate simulator",
	Args:  cobra.NoArgs,
	RunE:  runSim,
}

func runSim(cmd *cobra.Command, args []string) error {
	logger := log.With().Str("com", "sim-cmd").Logger()

	logger.Info().Str("config", configFile).Msg("loading configuration")
	cfg, err := config.LoadSimConfig(configFile)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return server.New(cfg, log.Logger).Run(ctx)
}
