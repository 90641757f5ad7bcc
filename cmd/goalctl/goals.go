package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"goal-agent/internal/domain"
	"goal-agent/internal/usecase"
)

func newGoalsCmd(opts *rootOptions, build buildFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "goals",
		Short: "Inspect saved goals",
	}
	cmd.AddCommand(newGoalsListCmd(opts, build), newGoalsGetCmd(opts, build))
	return cmd
}

func newGoalsListCmd(opts *rootOptions, build buildFunc) *cobra.Command {
	var (
		page, rows               int
		category, status, search string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List goals, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, opts, build, func(svc chatService) error {
				res, err := svc.ListGoals(cmd.Context(), usecase.ListGoalsInput{
					UserID:   opts.userID,
					Filter:   domain.GoalFilter{Category: category, Status: status, Search: search},
					Page:     page,
					PageSize: rows,
				})
				if err != nil {
					return err
				}
				if opts.asJSON {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				return writeGoalTable(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&rows, "rows", 0, "page size (default: configured)")
	cmd.Flags().StringVar(&category, "category", "", "exact category")
	cmd.Flags().StringVar(&status, "status", "", "exact status")
	cmd.Flags().StringVar(&search, "search", "", "substring of name or description")
	return cmd
}

func newGoalsGetCmd(opts *rootOptions, build buildFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "get <goal-id>",
		Short: "Show one goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, opts, build, func(svc chatService) error {
				goal, err := svc.GetGoal(cmd.Context(), args[0], opts.userID)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), goal)
			})
		},
	}
}

func writeGoalTable(w io.Writer, res usecase.ListGoalsOutput) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tAMOUNT\tTIMEFRAME\tCATEGORY\tSTATUS\tCREATED")
	for _, g := range res.Items {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%s\t%s\t%s\n",
			g.ID, g.Name, g.TargetAmount, g.Timeframe, g.Category, g.Status, g.CreatedAt.Format("2006-01-02"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "page %d, %d of %d goals\n", res.Page, len(res.Items), res.Total)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
