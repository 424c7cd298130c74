// asioctl — оператор платформы автоматизации Asio: интерактивная
// оболочка и разовые команды поверх её REST API.
//
// Использование:
//
//	asioctl [--env-file PATH] [--json] [--debug] <command> [args]
//
// Без команды запускается интерактивная оболочка.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/shaiso/asioctl/internal/asio"
	"github.com/shaiso/asioctl/internal/config"
	"github.com/shaiso/asioctl/internal/history"
	"github.com/shaiso/asioctl/internal/shell"
	"github.com/shaiso/asioctl/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var (
		envFile     string
		jsonOutput  bool
		debugMode   bool
		metricsAddr string
		historyPath string
	)

	logger := telemetry.SetupLogger()

	rootCmd := &cobra.Command{
		Use:           "asioctl",
		Short:         "asioctl — Asio automation platform shell",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to the .env credentials file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Start with masked request tracing on")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	rootCmd.PersistentFlags().StringVar(&historyPath, "history-db", defaultHistoryPath(), "Path to the task history database")

	shellFn := func() (*shell.Shell, error) {
		cfg, err := config.Load(envFile)
		if err != nil {
			return nil, err
		}
		if metricsAddr != "" {
			telemetry.ServeMetrics(metricsAddr, logger)
		}

		out := shell.NewOutput(jsonOutput)
		debug := shell.NewDebugPrinter(out)
		debug.SetEnabled(debugMode)

		client := asio.NewClient(cfg, asio.Options{
			LoginRecorder: debug.Recorder(),
		})
		if debugMode {
			client.SetHTTPRecorder(debug.Recorder())
		}

		// Журнал — удобство, не обязательное условие работы.
		var store *history.Store
		if historyPath != "" {
			store, err = history.Open(cmdContext(rootCmd), historyPath)
			if err != nil {
				logger.Warn("task history unavailable", "path", historyPath, "error", err)
				store = nil
			}
		}

		return shell.New(shell.Config{
			Client:  client,
			Output:  out,
			History: store,
			Scopes:  cfg.Scopes(),
			Debug:   debug,
			Logger:  logger,
		}), nil
	}

	rootCmd.AddCommand(
		shell.NewShellCmd(shellFn),
		shell.NewCompaniesCmd(shellFn),
		shell.NewEndpointsCmd(shellFn),
		shell.NewSitesCmd(shellFn),
		shell.NewScriptsCmd(shellFn),
		shell.NewRunCmd(shellFn),
		shell.NewSummaryCmd(shellFn),
		shell.NewResultsCmd(shellFn),
		shell.NewScopecheckCmd(shellFn),
		shell.NewHistoryCmd(shellFn),
	)

	// Без подкоманды — сразу оболочка.
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		sh, err := shellFn()
		if err != nil {
			return err
		}
		return sh.Run(cmd.Context())
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".asioctl", "history.db")
}
