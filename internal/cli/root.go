package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mx-liquidity/internal/app"
	"mx-liquidity/internal/config"
	"mx-liquidity/internal/logging"
)

// globalFlags 是所有子命令共享的覆盖项。
type globalFlags struct {
	configFile string
	logLevel   string
	logFormat  string
}

var (
	globals   globalFlags
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:               "mxliquidity",
	Short:             "Index MultiversX liquidity pools and score their impermanent-loss risk",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: bootstrap,
}

// bootstrap loads configuration once per process; version needs none.
func bootstrap(cmd *cobra.Command, _ []string) error {
	if appHandle != nil || cmd == versionCmd {
		return nil
	}

	cfg, err := config.Load(globals.configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	globals.apply(cfg)

	appHandle = app.NewApp(cfg, logging.NewLogger(cfg.Logging))
	return nil
}

func (g globalFlags) apply(cfg *config.Config) {
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Logging.Format = g.logFormat
	}
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&globals.configFile, "config", "", "Path to configuration file")
	flags.StringVar(&globals.logLevel, "log-level", "", "Override log level defined in config")
	flags.StringVar(&globals.logFormat, "log-format", "", "Override log format (json|console)")

	rootCmd.AddCommand(runCmd, refreshCmd, showCmd, exportCmd, simulateCmd, versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
