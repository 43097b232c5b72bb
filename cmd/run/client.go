package run

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/Mmx233/QFarm/config"
	"github.com/Mmx233/QFarm/metrics"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Start the farm client for every configured account",
	Args:  cobra.NoArgs,
	RunE:  runClient,
}

func runClient(cmd *cobra.Command, args []string) error {
	logger := log.With().Str("com", "client-cmd").Logger()

	logger.Info().Str("config", configFile).Msg("loading configuration")
	cfg, err := config.LoadClientConfig(configFile)
	if err != nil {
		return err
	}
	if err := cfg.TLS.LoadCertificates(); err != nil {
		return err
	}

	app, err := newClientApp(cfg, newDialer(cfg), log.Logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if app.startAccounts(ctx) == 0 {
		return errors.New("no account could be started")
	}
	logger.Info().Stringer("running", app).Msg("client started")

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Listen != "" {
		g.Go(func() error {
			return metrics.Serve(ctx, cfg.Metrics.Listen, log.Logger)
		})
	}
	g.Go(func() error {
		if err := config.NewWatcher(configFile, cfg, log.Logger).Run(ctx, app.applyPatch); err != nil {
			logger.Error().Err(err).Msg("config hot reload disabled")
		}
		return nil
	})
	g.Go(func() error {
		var err error
		select {
		case <-ctx.Done():
		case <-app.empty:
			err = errors.New("every account gave up reconnecting")
		}
		logger.Info().Msg("shutting down")
		app.stop()
		return err
	})

	err = g.Wait()
	logger.Info().Msg("client stopped")
	return err
}
