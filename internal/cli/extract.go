package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pthm/btr"
	"github.com/pthm/btr/lib/extract"
	"github.com/pthm/btr/lib/protocol"
	"github.com/pthm/btr/lib/replay"
)

// ExtractOptions holds flags for the extract command.
type ExtractOptions struct {
	*RootOptions
	Output   string
	Assets   string
	Root     string
	Library  string
	LinkCSS  bool
	Pretty   bool
	Debug    bool
	Seeds    bool
	Strict   bool
	Snapshot bool
	Sealed   bool
	KeyEnv   string
}

// NewExtractCommand creates the extract command.
func NewExtractCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExtractOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "extract <page.html>",
		Short: "Compile a rendered page into a replay protocol",
		Long: `Compile a fully rendered page into a replay protocol.

For dist/index.html the command writes dist/index.streams.json and
dist/index.templates.json. Stylesheets are read relative to the page
unless --assets names another directory.

Exit codes:
  0 - Protocol written
  1 - Diagnostics were reported and --strict is set
  2 - Command error (unreadable page, extraction failed, missing key)

Examples:
  btr extract dist/index.html
  btr extract dist/index.html --library components --link-css
  btr extract dist/index.html --debug --seeds
  BTR_SNAPSHOT_KEY=secret btr extract dist/index.html --snapshot`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output directory (defaults to the page's directory)")
	cmd.Flags().StringVar(&opts.Assets, "assets", "", "directory stylesheets are read from (defaults to the page's directory)")
	cmd.Flags().StringVar(&opts.Root, "root", "html", "root element to extract: a tag name or #id")
	cmd.Flags().StringVar(&opts.Library, "library", "", "directory of <tag>.html component templates")
	cmd.Flags().BoolVar(&opts.LinkCSS, "link-css", false, "preload component stylesheets instead of inlining them")
	cmd.Flags().BoolVar(&opts.Pretty, "pretty", false, "one tag per line, indented by depth")
	cmd.Flags().BoolVar(&opts.Debug, "debug", false, "also write <name>.debug.html replayed with the extracted seeds")
	cmd.Flags().BoolVar(&opts.Seeds, "seeds", false, "also write the extracted seeds to <name>.state.json")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "fail when extraction reports diagnostics")
	cmd.Flags().BoolVar(&opts.Snapshot, "snapshot", false, "also write a signed <name>.snapshot")
	cmd.Flags().BoolVar(&opts.Sealed, "sealed", false, "encrypt the snapshot instead of signing it")
	cmd.Flags().StringVar(&opts.KeyEnv, "key-env", "BTR_SNAPSHOT_KEY", "environment variable holding the snapshot key")

	return cmd
}

func runExtract(opts *ExtractOptions, cmd *cobra.Command, page string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	log := opts.logger(cmd.ErrOrStderr(), opts.LogFormat, slog.LevelWarn)

	f, err := os.Open(page)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open page", err)
	}
	defer f.Close()

	dir := filepath.Dir(page)
	name := strings.TrimSuffix(filepath.Base(page), filepath.Ext(page))
	out := opts.Output
	if out == "" {
		out = dir
	}
	assets := opts.Assets
	if assets == "" {
		assets = dir
	}

	xopts := extract.Options{
		Root:    opts.Root,
		LinkCSS: opts.LinkCSS,
		Pretty:  opts.Pretty,
		Reader:  extract.DirReader{Dir: assets},
		Logger:  log,
	}
	if opts.Library != "" {
		lib, err := btr.LoadLibrary(opts.Library)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load component library", err)
		}
		xopts.Definitions = lib
	}

	res, err := extract.Extract(ctx, f, xopts)
	if err != nil {
		return WrapExitError(ExitCommandError, "extraction failed", err)
	}

	if err := os.MkdirAll(out, 0o755); err != nil {
		return WrapExitError(ExitCommandError, "failed to create output directory", err)
	}
	base := filepath.Join(out, name)

	written := []string{base + ".streams.json", base + ".templates.json"}
	if err := res.Protocol.Save(written[0]); err != nil {
		return WrapExitError(ExitCommandError, "failed to write protocol", err)
	}
	if err := res.Protocol.SaveTemplates(written[1]); err != nil {
		return WrapExitError(ExitCommandError, "failed to write templates", err)
	}

	if opts.Seeds {
		path := base + ".state.json"
		if err := writeJSON(path, res.Seeds); err != nil {
			return WrapExitError(ExitCommandError, "failed to write seeds", err)
		}
		written = append(written, path)
	}

	if opts.Debug {
		path := base + ".debug.html"
		if err := writeDebug(path, res); err != nil {
			return WrapExitError(ExitCommandError, "failed to write debug page", err)
		}
		written = append(written, path)
	}

	if opts.Snapshot {
		path := base + ".snapshot"
		if err := writeSnapshot(path, res.Protocol, opts); err != nil {
			return WrapExitError(ExitCommandError, "failed to write snapshot", err)
		}
		written = append(written, path)
	}

	w := cmd.OutOrStdout()
	for _, path := range written {
		fmt.Fprintf(w, "wrote %s\n", path)
	}
	for _, d := range res.Diagnostics {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", d)
	}
	if opts.Strict && len(res.Diagnostics) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d diagnostic(s) reported", len(res.Diagnostics)))
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func writeDebug(path string, res *extract.Result) error {
	program, err := replay.Compile(res.Protocol)
	if err != nil {
		return err
	}
	markup, err := program.Render(res.Seeds)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(markup), 0o644)
}

func writeSnapshot(path string, p *protocol.Protocol, opts *ExtractOptions) error {
	enc, err := snapshotEncoder(opts.KeyEnv)
	if err != nil {
		return err
	}
	mode := btr.Signed
	if opts.Sealed {
		mode = btr.Sealed
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := p.WriteSnapshot(f, enc, mode); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
