package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/entsync/internal/host"
)

// stdio joins stdin and stdout for host.Serve.
type stdio struct {
	io.Reader
	io.Writer
}

// NewModuleCommand creates the module command: the built-in module served
// over stdin and stdout, for use as a connection command in the config.
func NewModuleCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "module",
		Short: "Serve the built-in module on stdio",
		Long: `Serve the built-in connection module over CBOR frames on stdin and
stdout. Logs go to stderr. Point a connection's command at it to run the
built-in module out of process:

  connections:
    atem:
      command: [entsync, module]`,
		Args:          cobra.NoArgs,
		Hidden:        true,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(cmd.ErrOrStderr(), slog.LevelInfo, rootOpts.Verbose)
			srv := host.NewServer(host.NewBuiltin(nil, nil, host.WithLogger(logger)), host.WithLogger(logger))
			return host.Serve(cmd.Context(), stdio{Reader: os.Stdin, Writer: os.Stdout}, srv)
		},
	}
}
