package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"blitztrack/internal/client"
	"blitztrack/internal/duel"
)

type StartOptions struct {
	GlobalOptions
	JobID string
}

func NewCmdStart() *cobra.Command {
	o := &StartOptions{GlobalOptions: DefaultGlobalOptions()}
	cmd := &cobra.Command{
		Use:     "start HANDLE_A HANDLE_B CONTEST/INDEX",
		Short:   "Start tracking a race between two handles on one problem.",
		Example: "  blitzctl start tourist petr 1800/A --id final-1",
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd, args)
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *StartOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)
	fs.StringVar(&o.JobID, "id", "", "Job id (generated by the server when empty)")
}

func (o *StartOptions) Validate(args []string) error {
	if strings.EqualFold(strings.TrimSpace(args[0]), strings.TrimSpace(args[1])) {
		return fmt.Errorf("handles must differ")
	}
	_, err := duel.ParseProblemRef(args[2])
	return err
}

func (o *StartOptions) Run(cmd *cobra.Command, args []string) error {
	c, err := o.Client()
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	rep, err := c.Start(cmd.Context(), client.StartRequest{JobID: o.JobID, HandleA: args[0], HandleB: args[1], ProblemRef: args[2]})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", rep.JobID, rep.Message)
	return nil
}

func NewCmdStatus() *cobra.Command {
	o := DefaultGlobalOptions()
	cmd := &cobra.Command{
		Use:   "status JOB_ID",
		Short: "Show one job record.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.Client()
			if err != nil {
				return fmt.Errorf("creating client: %w", err)
			}
			job, err := c.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), job)
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func NewCmdStop() *cobra.Command {
	o := DefaultGlobalOptions()
	cmd := &cobra.Command{
		Use:   "stop JOB_ID...",
		Short: "Stop tracking one or more jobs. Decided jobs are left untouched.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.Client()
			if err != nil {
				return fmt.Errorf("creating client: %w", err)
			}
			results, err := c.Stop(cmd.Context(), args...)
			if err != nil {
				return err
			}
			for _, id := range args {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, results[id].Outcome)
			}
			return nil
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

type ListOptions struct {
	GlobalOptions
	All bool
}

func NewCmdList() *cobra.Command {
	o := &ListOptions{GlobalOptions: DefaultGlobalOptions()}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked jobs (active only unless --all).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.Run(cmd.Context(), cmd)
		},
		SilenceUsage: true,
	}
	o.GlobalOptions.Bind(cmd.Flags())
	cmd.Flags().BoolVarP(&o.All, "all", "a", false, "Include terminal jobs")
	return cmd
}

func (o *ListOptions) Run(ctx context.Context, cmd *cobra.Command) error {
	c, err := o.Client()
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	jobs, err := c.List(ctx, o.All)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "JOB_ID\tSTATUS\tHANDLE_A\tHANDLE_B\tPROBLEM\tWINNER")
	for _, j := range sortedJobs(jobs) {
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\t%s\n", j.ID, j.State, j.HandleA, j.HandleB, j.Problem, j.Winner)
	}
	return nil
}

func sortedJobs(m map[string]duel.Job) []duel.Job {
	out := make([]duel.Job, 0, len(m))
	for _, j := range m {
		out = append(out, j)
	}
	// oldest first, matching the server's listing order
	slices.SortFunc(out, func(a, b duel.Job) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}
