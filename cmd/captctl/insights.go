package main

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"capt-agent/internal/api"
	"capt-agent/internal/domain"
)

var insightKind string

var insightsCmd = &cobra.Command{
	Use:   "insights <query>",
	Short: "Request lead or competitor insights and print them as JSON",
	Example: `  captctl insights acme.com
  captctl insights --kind competitor "Acme Corp"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInsights,
}

func runInsights(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(commandContext(cmd), timeout)
	defer cancel()

	a, err := buildApp(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	kind := domain.InsightKind(strings.ToLower(strings.TrimSpace(insightKind)))
	res, err := a.Service.RequestInsights(ctx, kind, strings.Join(args, " "))
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(api.NewInsightsResponse(res))
}
