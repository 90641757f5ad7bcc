// Command goalctl drives the goal agent from a terminal against the
// configured store and model backends.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"goal-agent/internal/app"
	"goal-agent/internal/config"
	"goal-agent/internal/domain"
	"goal-agent/internal/usecase"
)

type chatService interface {
	ProcessMessage(ctx context.Context, in usecase.ProcessInput) (usecase.ProcessOutput, error)
	ListGoals(ctx context.Context, in usecase.ListGoalsInput) (usecase.ListGoalsOutput, error)
	GetGoal(ctx context.Context, id, userID string) (domain.Goal, error)
	GetConversation(ctx context.Context, sessionID, userID string) (domain.Conversation, error)
}

// buildFunc opens a service for configPath and returns its cleanup.
type buildFunc func(ctx context.Context, configPath string) (chatService, func() error, error)

type rootOptions struct {
	configPath string
	userID     string
	asJSON     bool
}

func main() {
	if err := newRootCmd(buildService).Execute(); err != nil {
		os.Exit(1)
	}
}

func buildService(ctx context.Context, configPath string) (chatService, func() error, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := app.NewLogger(os.Stderr, cfg.Log.Level)
	built, err := app.Build(ctx, *cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return built.Service, built.Cleanup, nil
}

func newRootCmd(build buildFunc) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "goalctl",
		Short:         "Chat with the goal agent and inspect saved goals",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv(config.EnvConfigPath), "YAML config file")
	root.PersistentFlags().StringVarP(&opts.userID, "user", "u", defaultUser(), "user id to act as")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "print JSON instead of text")

	root.AddCommand(
		newChatCmd(opts, build),
		newGoalsCmd(opts, build),
		newHistoryCmd(opts, build),
	)
	return root
}

// withService opens the service for one command run.
func withService(cmd *cobra.Command, opts *rootOptions, build buildFunc, fn func(chatService) error) error {
	if opts.userID == "" {
		return fmt.Errorf("--user is required")
	}
	svc, cleanup, err := build(cmd.Context(), opts.configPath)
	if err != nil {
		return err
	}
	defer func() {
		if cleanup != nil {
			_ = cleanup()
		}
	}()
	return fn(svc)
}

func defaultUser() string {
	if u := os.Getenv("GOAL_AGENT_USER"); u != "" {
		return u
	}
	return os.Getenv("USER")
}
