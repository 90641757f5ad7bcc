package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"goal-agent/internal/usecase"
)

func newChatCmd(opts *rootOptions, build buildFunc) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Long:  "Reads one message per line and prints the agent's reply. Type \"salir\" or send EOF to end.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			return withService(cmd, opts, build, func(svc chatService) error {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "sesión %s\n", sessionID)

				scanner := bufio.NewScanner(cmd.InOrStdin())
				scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
				for {
					fmt.Fprint(out, "> ")
					if !scanner.Scan() {
						fmt.Fprintln(out)
						return scanner.Err()
					}
					line := strings.TrimSpace(scanner.Text())
					switch strings.ToLower(line) {
					case "":
						continue
					case "salir", "exit", "quit":
						return nil
					}

					res, err := svc.ProcessMessage(cmd.Context(), usecase.ProcessInput{
						Message:   line,
						SessionID: sessionID,
						UserID:    opts.userID,
					})
					if err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
						continue
					}
					fmt.Fprintln(out, res.Message)
					if res.GoalComplete && res.Goal != nil {
						fmt.Fprintf(out, "\n[meta guardada %s] %s: %.2f en %s\n", res.GoalID, res.Goal.Name, res.Goal.TargetAmount, res.Goal.Timeframe)
					}
				}
			})
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session id to continue (default: new session)")
	return cmd
}
