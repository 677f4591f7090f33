// Package cli implements the blitzctl commands.
package cli

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"blitztrack/internal/client"
)

type GlobalOptions struct {
	ServerURL string
	Timeout   time.Duration
}

func DefaultGlobalOptions() GlobalOptions {
	url := "http://127.0.0.1:8080"
	if v := os.Getenv("BLITZTRACK_SERVER_URL"); v != "" {
		url = v
	}
	return GlobalOptions{ServerURL: url, Timeout: 30 * time.Second}
}

func (o *GlobalOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.ServerURL, "server-url", "u", o.ServerURL, "Address of the blitztrack server")
	fs.DurationVar(&o.Timeout, "timeout", o.Timeout, "Request timeout")
}

func (o *GlobalOptions) Client() (*client.Client, error) {
	return client.New(o.ServerURL, client.WithHTTPClient(&http.Client{Timeout: o.Timeout}))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// NewRootCommand assembles blitzctl.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "blitzctl",
		Short:        "blitzctl controls a blitztrack server.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(NewCmdHealth())
	cmd.AddCommand(NewCmdStart())
	cmd.AddCommand(NewCmdStatus())
	cmd.AddCommand(NewCmdStop())
	cmd.AddCommand(NewCmdList())
	cmd.AddCommand(NewCmdCompleted())
	cmd.AddCommand(NewCmdWinners())
	cmd.AddCommand(NewCmdVerify())
	cmd.AddCommand(NewCmdEvict())
	cmd.AddCommand(NewCmdStats())
	return cmd
}
