// Package cli implements the btr command line: extraction of rendered
// pages into replay protocols, one-shot replay, and the replay server.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pthm/btr/lib/encoding"
)

// Version is reported by the version command.
var Version = "0.1.0"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose   bool
	LogFormat string // "text" | "json"
	Config    string
}

// ValidFormats defines the allowed log formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the btr CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "btr",
		Short: "btr - build time rendering",
		Long: `Compile rendered HTML into a replay protocol once, then replay it
against application state on every request.`,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.LogFormat) {
				return fmt.Errorf("invalid log format %q: must be one of %v", opts.LogFormat, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "text", "log format (text|json)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "path to btr.yaml (defaults to $BTR_CONFIG)")

	cmd.AddCommand(NewExtractCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// logger builds the slog logger for a command. Verbose forces debug.
func (o *RootOptions) logger(w io.Writer, format string, level slog.Level) *slog.Logger {
	if o.Verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

func parseMode(s string) (encoding.Mode, error) {
	switch s {
	case "", "signed":
		return encoding.Signed, nil
	case "sealed":
		return encoding.Sealed, nil
	}
	return 0, fmt.Errorf("unknown snapshot mode %q: must be signed or sealed", s)
}

// snapshotEncoder builds an encoder from the key in environment variable
// keyEnv.
func snapshotEncoder(keyEnv string) (*encoding.Encoder, error) {
	key := os.Getenv(keyEnv)
	if key == "" {
		return nil, fmt.Errorf("%s is not set", keyEnv)
	}
	return encoding.NewEncoder([]byte(key))
}
