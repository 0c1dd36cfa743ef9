// captctl drives the agent service from a terminal: an interactive chat, the
// insight requester and the onboarding step.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"capt-agent/internal/app"
	"capt-agent/internal/config"
)

var (
	timeout  time.Duration
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:           "captctl",
	Short:         "Talk to the CAPT portfolio agent from a terminal",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Timeout for each request")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (default: LOG_LEVEL or warn)")

	insightsCmd.Flags().StringVarP(&insightKind, "kind", "k", "lead", "Insight kind: lead or competitor")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(insightsCmd)
	rootCmd.AddCommand(stepCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// buildApp wires the service the same way the server does. The CLI keeps
// conversation state in memory unless STATE_BACKEND says otherwise.
func buildApp(ctx context.Context, stderr io.Writer) (*app.App, error) {
	if os.Getenv("STATE_BACKEND") == "" {
		if err := os.Setenv("STATE_BACKEND", config.BackendMemory); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	switch {
	case logLevel != "":
		cfg.LogLevel = logLevel
	case os.Getenv("LOG_LEVEL") == "":
		cfg.LogLevel = "warn"
	}
	return app.Build(ctx, cfg, app.NewLogger(stderr, cfg))
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
