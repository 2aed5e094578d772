package btr

import (
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"
	"github.com/zeebo/blake3"

	"github.com/pthm/btr/lib/protocol"
	"github.com/pthm/btr/lib/replay"
)

// RegistryOptions configures NewRegistry.
type RegistryOptions struct {
	// Static is a directory served for every request no route matches.
	// Replay routes always take precedence, so "/" replays instead of
	// serving index.html.
	Static string
	// Compress enables gzip for clients that accept it.
	Compress bool
	// Encoder opens protocol snapshots for HandleSnapshot.
	Encoder *Encoder
	// Mode is the protection the snapshots were written with.
	Mode Mode
	// Logger receives per-request timing. Defaults to slog.Default().
	Logger *slog.Logger
}

type route struct {
	key     string
	program *replay.Program
	state   StateSource
}

// Registry routes requests to compiled replay programs.
type Registry struct {
	mu     sync.RWMutex
	mux    *http.ServeMux
	routes map[string]struct{}
	opts   RegistryOptions
	log    *slog.Logger

	// OnError is called when a route cannot produce its page. Nothing has
	// been written to the response at that point. The default renders
	// ErrorComponent with 404 for not-found errors and 500 otherwise.
	OnError func(http.ResponseWriter, *http.Request, error)
}

// NewRegistry creates a registry.
func NewRegistry(opts RegistryOptions) *Registry {
	reg := &Registry{
		mux:    http.NewServeMux(),
		routes: make(map[string]struct{}),
		opts:   opts,
		log:    opts.Logger,
	}
	if reg.log == nil {
		reg.log = slog.Default()
	}
	reg.log = reg.log.With("component", "registry")

	reg.OnError = func(w http.ResponseWriter, r *http.Request, err error) {
		status := http.StatusInternalServerError
		if IsNotFound(err) {
			status = http.StatusNotFound
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		ErrorComponent(err).Render(r.Context(), w)
	}

	if opts.Static != "" {
		reg.mux.Handle("/", http.FileServer(http.Dir(opts.Static)))
	}
	return reg
}

// routeKey normalizes a method and path into a ServeMux pattern. Paths
// ending in a slash match exactly instead of as a prefix.
func routeKey(method, path string) (string, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		return "", fmt.Errorf("btr: route %q: empty method", path)
	}
	if !strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("btr: route %q: path must start with /", path)
	}
	if strings.HasSuffix(path, "/") {
		path += "{$}"
	}
	return method + " " + path, nil
}

func (reg *Registry) claim(method, path string) (string, error) {
	key, err := routeKey(method, path)
	if err != nil {
		return "", err
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if _, exists := reg.routes[key]; exists {
		return "", fmt.Errorf("%w: %s %s", ErrDuplicateRoute, strings.ToUpper(method), path)
	}
	reg.routes[key] = struct{}{}
	return key, nil
}

// Add registers a replay route. A method and path pair can be registered
// once.
func (reg *Registry) Add(method, path string, program *replay.Program, state StateSource) error {
	if program == nil {
		return fmt.Errorf("btr: route %s %s: nil program", method, path)
	}
	if state == nil {
		state = StaticState(nil)
	}

	key, err := reg.claim(method, path)
	if err != nil {
		return err
	}
	rt := &route{key: key, program: program, state: state}
	return reg.register(key, func(w http.ResponseWriter, r *http.Request) {
		reg.serve(w, r, rt)
	})
}

// Handle is like Add but panics on error, the way http.ServeMux does.
func (reg *Registry) Handle(method, path string, program *replay.Program, state StateSource) {
	if err := reg.Add(method, path, program, state); err != nil {
		panic(err)
	}
}

// HandleFunc registers a plain handler, such as a state API endpoint,
// in the same route table.
func (reg *Registry) HandleFunc(method, path string, h http.HandlerFunc) error {
	key, err := reg.claim(method, path)
	if err != nil {
		return err
	}
	return reg.register(key, h)
}

// register adds a claimed pattern to the mux. ServeMux panics on
// patterns that overlap an existing one, such as GET /{a} and GET /{b};
// that panic becomes ErrDuplicateRoute and the claim is released.
func (reg *Registry) register(key string, h http.HandlerFunc) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		reg.mu.Lock()
		delete(reg.routes, key)
		reg.mu.Unlock()
		if msg := fmt.Sprint(r); strings.Contains(msg, "conflicts with") {
			err = fmt.Errorf("%w: %s", ErrDuplicateRoute, msg)
		} else {
			err = fmt.Errorf("btr: route %s: %s", key, msg)
		}
	}()
	reg.mux.HandleFunc(key, h)
	return nil
}

// HandleFile loads and compiles the protocol file at file and registers
// it.
func (reg *Registry) HandleFile(method, path, file string, state StateSource) error {
	proto, err := protocol.Load(file)
	if err != nil {
		return err
	}
	program, err := replay.Compile(proto)
	if err != nil {
		return fmt.Errorf("btr: %s: %w", file, err)
	}
	return reg.Add(method, path, program, state)
}

// HandleSnapshot opens the encoded protocol snapshot at file and
// registers it. The registry must have an Encoder.
func (reg *Registry) HandleSnapshot(method, path, file string, state StateSource) error {
	if reg.opts.Encoder == nil {
		return fmt.Errorf("btr: %s: registry has no encoder", file)
	}

	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("btr: open snapshot: %w", err)
	}
	defer f.Close()

	proto, err := protocol.ReadSnapshot(f, reg.opts.Encoder, reg.opts.Mode)
	if err != nil {
		return fmt.Errorf("btr: %s: %w", file, err)
	}
	program, err := replay.Compile(proto)
	if err != nil {
		return fmt.Errorf("btr: %s: %w", file, err)
	}
	return reg.Add(method, path, program, state)
}

// Routes returns the registered patterns in sorted order.
func (reg *Registry) Routes() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	keys := make([]string, 0, len(reg.routes))
	for key := range reg.routes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (reg *Registry) serve(w http.ResponseWriter, r *http.Request, rt *route) {
	start := time.Now()
	log := reg.log.With("route", rt.key, "request_id", RequestID(r.Context()))

	state, err := rt.state.State(r)
	if err == nil {
		var markup string
		if markup, err = rt.program.Render(state); err == nil {
			status := reg.write(w, r, markup)
			log.Info("replayed", "status", status, "bytes", len(markup), "duration", time.Since(start))
			return
		}
	}

	log.Error("replay failed", "error", err, "duration", time.Since(start))
	reg.OnError(w, r, err)
}

// write sends markup with a content-hash ETag and answers conditional
// requests with 304.
func (reg *Registry) write(w http.ResponseWriter, r *http.Request, markup string) int {
	sum := blake3.Sum256([]byte(markup))
	etag := `"` + hex.EncodeToString(sum[:16]) + `"`

	h := w.Header()
	h.Set("ETag", etag)
	h.Set("Cache-Control", "no-cache")
	if etagMatch(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return http.StatusNotModified
	}

	h.Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		io.WriteString(w, markup)
	}
	return http.StatusOK
}

func etagMatch(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

// Handler returns the HTTP handler for every registered route. Each
// request gets an id, available through RequestID and echoed in the
// X-Request-Id header.
func (reg *Registry) Handler() http.Handler {
	var h http.Handler = reg.mux
	if reg.opts.Compress {
		h = gzhttp.GzipHandler(h)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		h.ServeHTTP(w, r.WithContext(withRequestID(r.Context(), id)))
	})
}
