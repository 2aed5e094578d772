package btr

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm/btr/lib/protocol"
	"github.com/pthm/btr/lib/replay"
)

func mustProgram(t *testing.T, p *protocol.Protocol) *replay.Program {
	t.Helper()
	program, err := replay.Compile(p)
	require.NoError(t, err)
	return program
}

func TestRegistry_Replay(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	require.NoError(t, reg.Add(http.MethodGet, "/", mustProgram(t, listProtocol()), StaticState(map[string]any{
		"appTitle": "Todo",
		"items":    []any{map[string]any{"text": "Milk"}, map[string]any{"text": "Eggs"}},
	})))

	result, err := TestRoute(reg, http.MethodGet, "/", nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, 2, strings.Count(result.HTML, "<app-item>"))
	assert.NotEmpty(t, result.GetHeader("ETag"))
	assert.NotEmpty(t, result.GetHeader("X-Request-Id"))
}

func TestRegistry_RootIsExact(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	reg.Handle(http.MethodGet, "/", mustProgram(t, listProtocol()), nil)

	result, err := TestRoute(reg, http.MethodGet, "/other", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, result.StatusCode)
}

func TestRegistry_DuplicateRoute(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	program := mustProgram(t, listProtocol())

	require.NoError(t, reg.Add(http.MethodGet, "/", program, nil))

	err := reg.Add("get", "/", program, nil)
	assert.True(t, errors.Is(err, ErrDuplicateRoute), "got %v", err)

	err = reg.HandleFunc(http.MethodGet, "/", func(http.ResponseWriter, *http.Request) {})
	assert.True(t, errors.Is(err, ErrDuplicateRoute), "got %v", err)

	assert.Panics(t, func() { reg.Handle(http.MethodGet, "/", program, nil) })

	require.NoError(t, reg.Add(http.MethodPost, "/", program, nil), "a different method is a different route")
	assert.Equal(t, []string{"GET /{$}", "POST /{$}"}, reg.Routes())
}

func TestRegistry_ConflictingPatterns(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	program := mustProgram(t, listProtocol())

	require.NoError(t, reg.Add(http.MethodGet, "/items/{id}", program, nil))

	err := reg.Add(http.MethodGet, "/items/{name}", program, nil)
	assert.True(t, errors.Is(err, ErrDuplicateRoute), "got %v", err)

	err = reg.HandleFunc(http.MethodGet, "/items/{key}", func(http.ResponseWriter, *http.Request) {})
	assert.True(t, errors.Is(err, ErrDuplicateRoute), "got %v", err)

	assert.Equal(t, []string{"GET /items/{id}"}, reg.Routes(), "a rejected pattern is not listed")

	err = reg.Add(http.MethodGet, "/bad/{", program, nil)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrDuplicateRoute), "a malformed pattern is not a duplicate")
}

func TestRegistry_InvalidRoute(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	program := mustProgram(t, listProtocol())

	assert.Error(t, reg.Add("", "/", program, nil))
	assert.Error(t, reg.Add(http.MethodGet, "no-slash", program, nil))
	assert.Error(t, reg.Add(http.MethodGet, "/x", nil, nil))
}

func TestRegistry_ETag(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	reg.Handle(http.MethodGet, "/", mustProgram(t, listProtocol()), StaticState(map[string]any{"appTitle": "A"}))

	first, err := TestRoute(reg, http.MethodGet, "/", nil)
	require.NoError(t, err)
	etag := first.GetHeader("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("If-None-Match", "W/"+etag)
	second, err := TestRequest(reg, req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotModified, second.StatusCode)
	assert.Empty(t, second.HTML)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("If-None-Match", `"stale"`)
	third, err := TestRequest(reg, req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, third.StatusCode)
}

func TestRegistry_ETagFollowsState(t *testing.T) {
	state := map[string]any{"appTitle": "A"}
	reg := NewRegistry(RegistryOptions{})
	reg.Handle(http.MethodGet, "/", mustProgram(t, listProtocol()), StateFunc(func(*http.Request) (any, error) {
		return state, nil
	}))

	first, err := TestRoute(reg, http.MethodGet, "/", nil)
	require.NoError(t, err)

	state = map[string]any{"appTitle": "B"}
	second, err := TestRoute(reg, http.MethodGet, "/", nil)
	require.NoError(t, err)

	assert.NotEqual(t, first.GetHeader("ETag"), second.GetHeader("ETag"))
}

func TestRegistry_Head(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	reg.Handle(http.MethodGet, "/", mustProgram(t, listProtocol()), nil)

	result, err := TestRoute(reg, http.MethodHead, "/", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Empty(t, result.HTML)
}

func TestRegistry_StateError(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	reg.Handle(http.MethodGet, "/boom", mustProgram(t, listProtocol()), StateFunc(func(*http.Request) (any, error) {
		return nil, errors.New("database <down>")
	}))
	reg.Handle(http.MethodGet, "/gone", mustProgram(t, listProtocol()), StateFunc(func(*http.Request) (any, error) {
		return nil, ErrNotFound
	}))

	result, err := TestRoute(reg, http.MethodGet, "/boom", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, result.StatusCode)
	assert.Contains(t, result.HTML, `class="btr-error"`)
	assert.Contains(t, result.HTML, "database &lt;down&gt;")
	assert.NotContains(t, result.HTML, "<h1>", "no partial page")

	result, err = TestRoute(reg, http.MethodGet, "/gone", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, result.StatusCode)
}

func TestRegistry_ReplayErrorUsesOnError(t *testing.T) {
	p := protocol.New()
	p.Append(protocol.Raw("<ul>"), protocol.Repeat("items", "app-item"), protocol.Raw("</ul>"))
	p.AddTemplate("app-item", protocol.Template{Template: "<li></li>"})

	reg := NewRegistry(RegistryOptions{})
	var got error
	reg.OnError = func(w http.ResponseWriter, r *http.Request, err error) {
		got = err
		http.Error(w, "custom", http.StatusTeapot)
	}
	reg.Handle(http.MethodGet, "/", mustProgram(t, p), StaticState(map[string]any{"items": "not a list"}))

	result, err := TestRoute(reg, http.MethodGet, "/", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, result.StatusCode)
	assert.True(t, errors.Is(got, replay.ErrNotList), "got %v", got)
	assert.NotContains(t, result.HTML, "<ul>")
}

func TestRegistry_StaticFallback(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("static index"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.css"), []byte("body{}"), 0o644))

	reg := NewRegistry(RegistryOptions{Static: dir})
	reg.Handle(http.MethodGet, "/", mustProgram(t, listProtocol()), StaticState(map[string]any{"appTitle": "Replayed"}))

	result, err := TestRoute(reg, http.MethodGet, "/", nil)
	require.NoError(t, err)
	assert.Contains(t, result.HTML, "<h1>Replayed</h1>", "replay routes win over index.html")

	result, err = TestRoute(reg, http.MethodGet, "/app.css", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, "body{}", result.HTML)
}

func TestRegistry_Compress(t *testing.T) {
	p := protocol.New()
	p.Append(protocol.Raw("<p>"+strings.Repeat("lorem ipsum ", 400)+"</p>"))

	reg := NewRegistry(RegistryOptions{Compress: true})
	reg.Handle(http.MethodGet, "/", mustProgram(t, p), nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	result, err := TestRequest(reg, req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, result.StatusCode)
	require.Equal(t, "gzip", result.GetHeader("Content-Encoding"))

	zr, err := gzip.NewReader(strings.NewReader(result.HTML))
	require.NoError(t, err)
	body, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "<p>lorem ipsum"))
}

func TestRegistry_RequestIDPropagates(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	var seen string
	require.NoError(t, reg.HandleFunc(http.MethodGet, "/id", func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/id", nil)
	req.Header.Set("X-Request-Id", "req-1")
	result, err := TestRequest(reg, req)
	require.NoError(t, err)

	assert.Equal(t, "req-1", seen)
	assert.Equal(t, "req-1", result.GetHeader("X-Request-Id"))
}

func TestRegistry_HandleFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "index.streams.json")
	require.NoError(t, listProtocol().Save(file))

	reg := NewRegistry(RegistryOptions{})
	require.NoError(t, reg.HandleFile(http.MethodGet, "/", file, StaticState(map[string]any{"appTitle": "From file"})))

	result, err := TestRoute(reg, http.MethodGet, "/", nil)
	require.NoError(t, err)
	assert.Contains(t, result.HTML, "<h1>From file</h1>")

	assert.Error(t, reg.HandleFile(http.MethodGet, "/missing", filepath.Join(dir, "nope.json"), nil))
}

func TestRegistry_HandleFile_Invalid(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(file, []byte(`{
		// a repeat without its template
		"streams": [{"type": "repeat", "value": "items", "template": "app-item"}],
		"templates": {},
	}`), 0o644))

	reg := NewRegistry(RegistryOptions{})
	err := reg.HandleFile(http.MethodGet, "/", file, nil)
	require.Error(t, err)
	assert.True(t, IsNotFound(err), "got %v", err)
	assert.Empty(t, reg.Routes())
}

func TestRegistry_HandleSnapshot(t *testing.T) {
	enc, err := NewEncoder([]byte("test-key"))
	require.NoError(t, err)

	dir := t.TempDir()
	file := filepath.Join(dir, "index.snapshot")
	f, err := os.Create(file)
	require.NoError(t, err)
	require.NoError(t, listProtocol().WriteSnapshot(f, enc, Sealed))
	require.NoError(t, f.Close())

	reg := NewRegistry(RegistryOptions{Encoder: enc, Mode: Sealed})
	require.NoError(t, reg.HandleSnapshot(http.MethodGet, "/", file, StaticState(map[string]any{"appTitle": "Sealed"})))

	result, err := TestRoute(reg, http.MethodGet, "/", nil)
	require.NoError(t, err)
	assert.Contains(t, result.HTML, "<h1>Sealed</h1>")

	other, err := NewEncoder([]byte("other-key"))
	require.NoError(t, err)
	wrong := NewRegistry(RegistryOptions{Encoder: other, Mode: Sealed})
	err = wrong.HandleSnapshot(http.MethodGet, "/", file, nil)
	assert.True(t, IsDecryptionError(err), "got %v", err)

	assert.Error(t, NewRegistry(RegistryOptions{}).HandleSnapshot(http.MethodGet, "/", file, nil))
}
