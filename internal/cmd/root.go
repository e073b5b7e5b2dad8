// Package cmd implements the debugctl command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ctagard/debugctl/internal/config"
	"github.com/ctagard/debugctl/internal/logging"
)

// Execute runs the root command
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()

	root := &cobra.Command{
		Use:   "debugctl",
		Short: "Debugger session lifecycle controller",
		Long: `debugctl starts, tracks and stops debugging sessions driven by native
debuggers (gdb, lldb, cdb, uvsc), Python (pdb) and QML. Sessions are served to
MCP clients over stdio, or run one at a time from the command line.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "config file (default is "+config.ConfigFile()+")")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error")
	root.PersistentFlags().String("log-file", "", "write logs to this file instead of stderr")
	root.PersistentFlags().String("launch-json", "", "launch.json whose configurations become presets")
	_ = v.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("logging.level", root.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("logging.file", root.PersistentFlags().Lookup("log-file"))
	_ = v.BindPFlag("launch_json", root.PersistentFlags().Lookup("launch-json"))

	root.AddCommand(
		newServeCmd(v),
		newAttachCmd(v),
		newCrashEventCmd(v),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads the config file, if any, and applies flags and
// environment overrides
func loadConfig(v *viper.Viper) (*config.Config, error) {
	path := v.GetString("config")
	if path == "" {
		if _, err := os.Stat(config.ConfigFile()); err == nil {
			path = config.ConfigFile()
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	return config.FromViper(v)
}

// setup loads the configuration and builds the logger
func setup(v *viper.Viper) (*config.Config, *zap.Logger, error) {
	cfg, err := loadConfig(v)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
