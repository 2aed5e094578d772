package btr

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/pthm/btr/lib/protocol"
	"github.com/pthm/btr/lib/replay"
)

// TestResult holds the result of a replay for testing.
//
// Provides convenience methods for asserting on HTML content, headers and
// status codes.
type TestResult struct {
	HTML       string
	StatusCode int
	Headers    http.Header
}

// TestReplay compiles proto and replays it against state.
//
// Use this for pure unit tests of a protocol when you control the state
// directly and don't need HTTP mechanics:
//
//	result, err := btr.TestReplay(proto, map[string]any{"items": items})
//	if !result.HTMLContains("<app-item>") {
//	    t.Fatal("missing item")
//	}
func TestReplay(proto *protocol.Protocol, state any) (*TestResult, error) {
	return TestReplayWithContext(context.Background(), proto, state)
}

// TestReplayWithContext is TestReplay rendering through the program's
// templ component with a custom context.
func TestReplayWithContext(ctx context.Context, proto *protocol.Protocol, state any) (*TestResult, error) {
	program, err := replay.Compile(proto)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	if err := program.Component(state).Render(ctx, &b); err != nil {
		return nil, err
	}

	return &TestResult{
		HTML:       b.String(),
		StatusCode: http.StatusOK,
		Headers:    make(http.Header),
	}, nil
}

// TestRoute sends a request through the registry's full handler.
//
// This covers route matching, state loading, replay, conditional requests
// and error rendering:
//
//	result, err := btr.TestRoute(reg, http.MethodGet, "/", nil)
//	if !result.IsOK() {
//	    t.Fatal("expected success")
//	}
func TestRoute(reg *Registry, method, target string, body io.Reader) (*TestResult, error) {
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return TestRequest(reg, req)
}

// TestRequest sends a prepared request through the registry's handler.
// Use it to set headers such as If-None-Match or Accept-Encoding.
func TestRequest(reg *Registry, req *http.Request) (*TestResult, error) {
	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, req)

	return &TestResult{
		HTML:       rec.Body.String(),
		StatusCode: rec.Code,
		Headers:    rec.Header(),
	}, nil
}

// HTMLContains checks if the HTML contains a substring.
func (r *TestResult) HTMLContains(substr string) bool {
	return strings.Contains(r.HTML, substr)
}

// HTMLContainsAll checks if the HTML contains all the given substrings.
func (r *TestResult) HTMLContainsAll(substrs ...string) bool {
	for _, s := range substrs {
		if !strings.Contains(r.HTML, s) {
			return false
		}
	}
	return true
}

// IsOK checks if the status code is 200.
func (r *TestResult) IsOK() bool {
	return r.StatusCode == http.StatusOK
}

// HasStatus checks if the status code matches.
func (r *TestResult) HasStatus(code int) bool {
	return r.StatusCode == code
}

// HasHeader checks if a header is set with the given value.
func (r *TestResult) HasHeader(key, value string) bool {
	return r.Headers.Get(key) == value
}

// GetHeader returns the value of a header.
func (r *TestResult) GetHeader(key string) string {
	return r.Headers.Get(key)
}
