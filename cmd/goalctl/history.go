package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd(opts *rootOptions, build buildFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "history <session-id>",
		Short: "Print a conversation's stored messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, opts, build, func(svc chatService) error {
				conv, err := svc.GetConversation(cmd.Context(), args[0], opts.userID)
				if err != nil {
					return err
				}
				if opts.asJSON {
					return writeJSON(cmd.OutOrStdout(), conv)
				}
				out := cmd.OutOrStdout()
				for _, m := range conv.Messages {
					fmt.Fprintf(out, "[%s] %s: %s\n", m.Timestamp.Format(time.RFC3339), m.Role, m.Content)
				}
				return nil
			})
		},
	}
}
