package config

import (
	"fmt"
	"os"

	"github.com/Mmx233/QFarm/examples"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// ClientCmd writes the client configuration template
var ClientCmd = &cobra.Command{
	Use:   "client",
	Short: "Generate client configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeTemplate("client", examples.ClientConfig)
	},
}

// SimCmd writes the gate simulator configuration template
var SimCmd = &cobra.Command{
	Use:   "sim",
	Short: "Generate gate simulator configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeTemplate("sim", examples.SimConfig)
	},
}

func writeTemplate(kind string, load func() ([]byte, error)) error {
	logger := log.With().Str("com", "generate").Logger()
	outputPath := GetConfigFile()

	if _, err := os.Stat(outputPath); err == nil {
		return fmt.Errorf("file already exists: %s", outputPath)
	}

	content, err := load()
	if err != nil {
		return fmt.Errorf("load %s config template: %w", kind, err)
	}
	if err := os.WriteFile(outputPath, content, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	logger.Info().Str("file", outputPath).Str("kind", kind).Msg("generated configuration")
	return nil
}
