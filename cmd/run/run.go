package run

import (
	"github.com/Mmx233/QFarm/tools"
	"github.com/spf13/cobra"
)

var (
	configFile = tools.Getenv("CONFIG", "config.yaml")
	Cmd        = &cobra.Command{
		Use:   "run",
		Short: "Run the farm client or the local gate simulator",
		Args:  cobra.NoArgs,
	}
)

func init() {
	Cmd.PersistentFlags().StringVarP(&configFile, "config", "c", configFile, "path of config file")
	Cmd.AddCommand(clientCmd)
	Cmd.AddCommand(simCmd)
}
