package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/muk365/whiteboard/internal/config"
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	config.Setup(v)

	var configFile string
	rootCmd := &cobra.Command{
		Use:           "whiteboard",
		Short:         "Real-time collaborative whiteboard relay",
		Long:          "whiteboard relays drawing edits, cursors and presence between everyone in a room, and keeps each room's canvas in memory while it is in use.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default whiteboard.{toml,yaml,json} in . or ~/.config/whiteboard)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text|json)")
	bindFlags(v, rootCmd.PersistentFlags(), map[string]string{
		"log-level":  config.KeyLogLevel,
		"log-format": config.KeyLogFormat,
	})

	load := func() (config.Config, error) {
		return config.Load(v, configFile)
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(v, load),
		newJoinCmd(load),
		newDiscoverCmd(),
	)

	return rootCmd
}

// Binds each flag to its config key so an explicitly set flag beats the
// config file and environment.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if f := flags.Lookup(name); f != nil {
			_ = v.BindPFlag(key, f)
		}
	}
}
