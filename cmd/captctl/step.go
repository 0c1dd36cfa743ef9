package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"capt-agent/internal/domain"
)

var stepCmd = &cobra.Command{
	Use:   "step <message>...",
	Short: "Run the onboarding step over a scripted conversation",
	Long: `Each argument is one message. Arguments alternate between the user and
the assistant, starting and ending with the user.`,
	Example: `  captctl step "I need a lead scraper" "What volume per day?" "About 500"`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runStep,
}

func runStep(cmd *cobra.Command, args []string) error {
	if len(args)%2 == 0 {
		return fmt.Errorf("step: expected an odd number of messages, got %d", len(args))
	}

	ctx, cancel := context.WithTimeout(commandContext(cmd), timeout)
	defer cancel()

	a, err := buildApp(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	reply, err := a.Service.Step(ctx, stepHistory(args))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), reply)
	return nil
}

// stepHistory alternates roles starting with the user.
func stepHistory(messages []string) []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(messages))
	for i, m := range messages {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAgent
		}
		out = append(out, domain.ChatMessage{Role: role, Content: m})
	}
	return out
}
