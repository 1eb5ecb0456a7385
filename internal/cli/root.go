// Package cli implements lucidctl, the operator client of the monitor.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

type options struct {
	server string
	token  string
}

func Execute() error {
	return NewRoot().Execute()
}

func NewRoot() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "lucidctl",
		Short:         "Operate a Lucid driver monitor",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.server, "server", envOr("LUCID_SERVER", "http://localhost:8081"), "monitor base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("LUCID_ADMIN_TOKEN"), "admin token for reset")

	root.AddCommand(
		statusCmd(opts),
		startCmd(opts),
		resetCmd(opts),
		analyzeCmd(opts),
		timelineCmd(opts),
		alertsCmd(opts),
		measurementsCmd(opts),
		historyCmd(opts),
		watchCmd(opts),
		smokeCmd(opts),
		hashTokenCmd(),
	)
	return root
}

func (o *options) backend() *backend {
	return newBackend(o.server, o.token)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
