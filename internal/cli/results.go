package cli

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"blitztrack/internal/client"
)

func NewCmdHealth() *cobra.Command {
	o := DefaultGlobalOptions()
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the server is alive.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.Client()
			if err != nil {
				return fmt.Errorf("creating client: %w", err)
			}
			status, err := c.Health(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status)
			return nil
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func NewCmdCompleted() *cobra.Command {
	o := DefaultGlobalOptions()
	cmd := &cobra.Command{
		Use:   "completed",
		Short: "List ids of decided matches.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.Client()
			if err != nil {
				return fmt.Errorf("creating client: %w", err)
			}
			ids, err := c.Completed(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func NewCmdWinners() *cobra.Command {
	o := DefaultGlobalOptions()
	cmd := &cobra.Command{
		Use:   "winners",
		Short: "Print the winner ledger.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.Client()
			if err != nil {
				return fmt.Errorf("creating client: %w", err)
			}
			ws, err := c.Winners(cmd.Context())
			if err != nil {
				return err
			}
			for _, w := range ws {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", w.JobID, w.Winner, w.DecidedAt.Format(time.RFC3339))
			}
			return nil
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func NewCmdVerify() *cobra.Command {
	o := DefaultGlobalOptions()
	cmd := &cobra.Command{
		Use:   "verify HANDLE_A HANDLE_B CONTEST/INDEX",
		Short: "Check that neither handle has already solved the problem.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.Client()
			if err != nil {
				return fmt.Errorf("creating client: %w", err)
			}
			rep, err := c.Verify(cmd.Context(), args[0], args[1], args[2])
			if err != nil && !client.IsStatus(err, http.StatusForbidden) {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rep.Message)
			if err != nil {
				return fmt.Errorf("race is not fair: %s", rep.Message)
			}
			return nil
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func NewCmdEvict() *cobra.Command {
	o := DefaultGlobalOptions()
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "evict",
		Short: "Remove terminal jobs settled before now minus --older-than.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.Client()
			if err != nil {
				return fmt.Errorf("creating client: %w", err)
			}
			n, err := c.Evict(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d job(s)\n", n)
			return nil
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "Retention window")
	return cmd
}

func NewCmdStats() *cobra.Command {
	o := DefaultGlobalOptions()
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show scheduler load and per-state counts.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.Client()
			if err != nil {
				return fmt.Errorf("creating client: %w", err)
			}
			st, err := c.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}
