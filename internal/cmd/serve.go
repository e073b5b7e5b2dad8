package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ctagard/debugctl/internal/mcp"
	"github.com/ctagard/debugctl/internal/plugin"
	"github.com/ctagard/debugctl/internal/version"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the debugging tools to an MCP client over stdio",
		Long: `Serve runs the MCP tool server on stdin/stdout until the client disconnects
or the process receives SIGINT or SIGTERM. All sessions are then stopped and
given the configured grace period to finish.

MCP client configuration:
  {
    "mcpServers": {
      "debugctl": { "command": "debugctl", "args": ["serve"] }
    }
  }`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(v)
			if err != nil {
				return err
			}
			defer logger.Sync()

			p := plugin.New(cfg, logger, plugin.Options{})
			if err := p.Start(); err != nil {
				return err
			}
			server := mcp.NewServer(p)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			served := make(chan error, 1)
			go func() { served <- server.ServeStdio() }()

			logger.Info("debugctl server starting", zap.String("version", version.Version))
			select {
			case err = <-served:
			case sig := <-sigCh:
				logger.Info("shutting down", zap.String("signal", sig.String()))
			}

			ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace+closeSlack)
			defer cancel()
			if cerr := p.Close(ctx); cerr != nil {
				logger.Warn("shutdown incomplete", zap.Error(cerr))
			}
			return err
		},
	}
}
