package cli

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/tidwall/jsonc"

	"github.com/pthm/btr"
	"github.com/pthm/btr/lib/protocol"
	"github.com/pthm/btr/lib/replay"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	State    string
	Output   string
	Snapshot bool
	Sealed   bool
	KeyEnv   string
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <protocol>",
		Short: "Replay a protocol against a state file",
		Long: `Replay a protocol file against JSON state and print the markup.

Without --state the protocol replays against empty state, so every
signal falls back to its default.

Exit codes:
  0 - Markup written
  1 - Replay failed (state does not fit the protocol)
  2 - Command error (unreadable protocol or state, missing key)

Examples:
  btr replay dist/index.streams.json --state state.json
  btr replay dist/index.streams.json --state state.json -o out.html
  BTR_SNAPSHOT_KEY=secret btr replay dist/index.snapshot --snapshot`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.State, "state", "s", "", "JSON state file")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write markup to a file instead of stdout")
	cmd.Flags().BoolVar(&opts.Snapshot, "snapshot", false, "the protocol is an encoded snapshot")
	cmd.Flags().BoolVar(&opts.Sealed, "sealed", false, "the snapshot is encrypted")
	cmd.Flags().StringVar(&opts.KeyEnv, "key-env", "BTR_SNAPSHOT_KEY", "environment variable holding the snapshot key")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command, file string) error {
	proto, err := loadProtocol(file, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load protocol", err)
	}
	program, err := replay.Compile(proto)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid protocol", err)
	}

	var state any
	if opts.State != "" {
		if state, err = readState(opts.State); err != nil {
			return WrapExitError(ExitCommandError, "failed to read state", err)
		}
	}

	// The sink closes writers on End; stdout must stay open.
	var w io.Writer = io.MultiWriter(cmd.OutOrStdout())
	if opts.Output != "" {
		f, err := os.Create(opts.Output)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to create output", err)
		}
		defer f.Close()
		w = f
	}

	if err := program.Replay(state, replay.NewWriterSink(w)); err != nil {
		return WrapExitError(ExitFailure, "replay failed", err)
	}
	return nil
}

func loadProtocol(file string, opts *ReplayOptions) (*protocol.Protocol, error) {
	if !opts.Snapshot {
		return protocol.Load(file)
	}
	enc, err := snapshotEncoder(opts.KeyEnv)
	if err != nil {
		return nil, err
	}
	mode := btr.Signed
	if opts.Sealed {
		mode = btr.Sealed
	}
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return protocol.ReadSnapshot(f, enc, mode)
}

func readState(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var state any
	if err := json.Unmarshal(jsonc.ToJSON(data), &state); err != nil {
		return nil, err
	}
	return state, nil
}
