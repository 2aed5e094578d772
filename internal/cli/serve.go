package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pthm/btr"
	"github.com/pthm/btr/lib/config"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve replayed pages",
		Long: `Serve the routes of a btr.yaml configuration.

Every route replays its protocol against the state file. API endpoints
store a posted JSON body under a state key, so the next request replays
the new state. Files under root are served for requests no route
matches.

Examples:
  btr serve --config btr.yaml
  BTR_CONFIG=btr.yaml btr serve --addr :8080`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides addr in the config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Addr != "" {
		cfg.Addr = opts.Addr
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}

	format := cfg.LogFormat
	if f := cmd.Flag("log-format"); f != nil && f.Changed {
		format = opts.LogFormat
	}
	log := opts.logger(cmd.ErrOrStderr(), format, cfg.Level())

	reg, err := NewServer(cfg, log)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build routes", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           reg.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.Addr, "routes", reg.Routes())
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return WrapExitError(ExitCommandError, "server failed", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return WrapExitError(ExitFailure, "shutdown failed", err)
	}
	return nil
}

func loadConfig(opts *RootOptions) (*config.Config, error) {
	if opts.Config != "" {
		return config.LoadFile(opts.Config)
	}
	return config.Load()
}

// NewServer builds the registry described by cfg. Protocols and snapshots
// are loaded and compiled up front, so a broken file fails startup rather
// than a request.
func NewServer(cfg *config.Config, log *slog.Logger) (*btr.Registry, error) {
	ropts := btr.RegistryOptions{
		Compress: cfg.Compress,
		Logger:   log,
	}
	if cfg.Static {
		ropts.Static = cfg.Root
	}
	if cfg.UsesSnapshots() {
		key, err := cfg.SnapshotKey()
		if err != nil {
			return nil, err
		}
		enc, err := btr.NewEncoder(key)
		if err != nil {
			return nil, err
		}
		mode, err := parseMode(cfg.Snapshot.Mode)
		if err != nil {
			return nil, err
		}
		ropts.Encoder, ropts.Mode = enc, mode
	}
	reg := btr.NewRegistry(ropts)

	var (
		state btr.StateSource = btr.StaticState(cfg.State.Initial)
		store *btr.FileState
	)
	if cfg.State.File != "" {
		var err error
		store, err = btr.OpenFileState(cfg.Resolve(cfg.State.File), cfg.State.Initial, btr.WithStateLogger(log))
		if err != nil {
			return nil, err
		}
		state = store
	}

	for _, rt := range cfg.Routes {
		var err error
		if rt.Protocol != "" {
			err = reg.HandleFile(rt.Method, rt.Path, cfg.Resolve(rt.Protocol), state)
		} else {
			err = reg.HandleSnapshot(rt.Method, rt.Path, cfg.Resolve(rt.Snapshot), state)
		}
		if err != nil {
			return nil, fmt.Errorf("route %s %s: %w", rt.Method, rt.Path, err)
		}
	}
	for _, a := range cfg.API {
		if store == nil {
			return nil, fmt.Errorf("api %s %s: no state file", a.Method, a.Path)
		}
		if err := reg.HandleFunc(a.Method, a.Path, store.Handler(a.Key)); err != nil {
			return nil, fmt.Errorf("api %s %s: %w", a.Method, a.Path, err)
		}
	}
	return reg, nil
}
