// Package btrecho provides Echo framework integration for btr replay
// routes.
//
// Mount a registry onto an Echo instance and register routes on it:
//
//	e := echo.New()
//	reg := btrecho.Mount(e)
//	reg.HandleFile("GET", "/", "dist/index.streams.json", state)
//
// Or mount on a group with middleware. The group prefix is stripped
// before routing, so registry paths stay relative to the group:
//
//	g := e.Group("/app", authMiddleware)
//	reg := btrecho.MountGroup(g, btrecho.WithPrefix("/app"))
//	reg.HandleFile("GET", "/", "dist/index.streams.json", state)
package btrecho

import (
	"net/http"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"

	"github.com/pthm/btr"
	"github.com/pthm/btr/lib/replay"
)

// Option configures the Mount and MountGroup functions.
type Option func(*options)

type options struct {
	registry btr.RegistryOptions
	prefix   string
}

// WithRegistryOptions sets the options the registry is created with.
func WithRegistryOptions(o btr.RegistryOptions) Option {
	return func(opts *options) {
		opts.registry = o
	}
}

// WithPrefix strips prefix from request paths before they reach the
// registry. Use it with the prefix of the group passed to MountGroup.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// Mount creates a registry and mounts its handler on an Echo instance.
// Routes added to the registry afterwards are served immediately.
//
//	e := echo.New()
//	reg := btrecho.Mount(e)
//
//	// With options:
//	reg := btrecho.Mount(e, btrecho.WithRegistryOptions(btr.RegistryOptions{Compress: true}))
func Mount(e *echo.Echo, opts ...Option) *btr.Registry {
	reg, h := newRegistry(opts)
	e.Any("/*", echo.WrapHandler(h))
	return reg
}

// MountGroup creates a registry and mounts its handler on an Echo group.
// This lets replay routes share middleware with the group (auth,
// logging, etc.).
//
//	g := e.Group("/app", authMiddleware)
//	reg := btrecho.MountGroup(g, btrecho.WithPrefix("/app"))
func MountGroup(g *echo.Group, opts ...Option) *btr.Registry {
	reg, h := newRegistry(opts)
	g.Any("/*", echo.WrapHandler(h))
	return reg
}

func newRegistry(opts []Option) (*btr.Registry, http.Handler) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	reg := btr.NewRegistry(o.registry)
	h := reg.Handler()
	if o.prefix != "" {
		h = http.StripPrefix(o.prefix, h)
	}
	return reg, h
}

// Render writes a templ component to the Echo response.
//
//	func handler(c echo.Context) error {
//	    return btrecho.Render(c, myTemplate())
//	}
func Render(c echo.Context, component templ.Component) error {
	c.Response().Header().Set("Content-Type", "text/html; charset=utf-8")
	return component.Render(c.Request().Context(), c.Response())
}

// Replay renders program against state as the Echo response. A replay
// error is returned before anything is written, so Echo's error handler
// still controls the response.
//
//	func handler(c echo.Context) error {
//	    return btrecho.Replay(c, program, loadState(c))
//	}
func Replay(c echo.Context, program *replay.Program, state any) error {
	markup, err := program.Render(state)
	if err != nil {
		return err
	}
	return c.HTML(http.StatusOK, markup)
}
