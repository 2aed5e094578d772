package btr

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/pthm/btr/lib/protocol"
)

// listProtocol is a small page with a signal, a conditional and a repeat.
func listProtocol() *protocol.Protocol {
	p := protocol.New()
	p.Append(
		protocol.Raw("<html><head></head><body><h1>"),
		protocol.SignalDefault("appTitle", "Untitled"),
		protocol.Raw("</h1><p"),
		protocol.When("items"),
		protocol.Raw(">items</p><ul>"),
		protocol.Repeat("items", "app-item"),
		protocol.Raw("</ul></body></html>"),
	)
	p.AddTemplate("app-item", protocol.Template{
		Template: `<li><slot name="text"></slot></li>`,
	})
	return p
}

func TestTestReplay_Success(t *testing.T) {
	result, err := TestReplay(listProtocol(), map[string]any{
		"appTitle": "Todo",
		"items":    []any{map[string]any{"text": "Milk"}},
	})
	if err != nil {
		t.Fatalf("TestReplay() error = %v", err)
	}

	if !result.IsOK() {
		t.Errorf("expected OK status, got %d", result.StatusCode)
	}
	if !result.HTMLContainsAll("<h1>Todo</h1>", `<span slot="text">Milk</span>`, "<p>items</p>") {
		t.Errorf("unexpected HTML: %s", result.HTML)
	}
}

func TestTestReplay_EmptyState(t *testing.T) {
	result, err := TestReplay(listProtocol(), nil)
	if err != nil {
		t.Fatalf("TestReplay() error = %v", err)
	}

	if !result.HTMLContains("<h1>Untitled</h1>") {
		t.Errorf("expected default title: %s", result.HTML)
	}
	if !result.HTMLContains(`<p style="display:none">`) {
		t.Errorf("expected suppressed paragraph: %s", result.HTML)
	}
	if result.HTMLContains("<app-item>") {
		t.Errorf("expected no items: %s", result.HTML)
	}
}

func TestTestReplay_MissingTemplate(t *testing.T) {
	p := protocol.New()
	p.Append(protocol.Repeat("items", "app-missing"))

	_, err := TestReplay(p, map[string]any{"items": []any{1}})
	if err == nil {
		t.Fatal("expected error for missing template")
	}
	if !IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestTestReplayWithContext_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := TestReplayWithContext(ctx, listProtocol(), nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestTestRoute(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	reg.Handle(http.MethodGet, "/", mustProgram(t, listProtocol()), StaticState(map[string]any{"appTitle": "Home"}))

	result, err := TestRoute(reg, http.MethodGet, "/", nil)
	if err != nil {
		t.Fatalf("TestRoute() error = %v", err)
	}
	if !result.IsOK() {
		t.Fatalf("expected OK, got %d", result.StatusCode)
	}
	if !result.HTMLContains("<h1>Home</h1>") {
		t.Errorf("unexpected HTML: %s", result.HTML)
	}
	if !result.HasHeader("Content-Type", "text/html; charset=utf-8") {
		t.Errorf("Content-Type = %q", result.GetHeader("Content-Type"))
	}
}

func TestTestResult_HTMLContains(t *testing.T) {
	result := &TestResult{HTML: "<div>Hello World</div>"}

	tests := []struct {
		substr string
		expect bool
	}{
		{"Hello", true},
		{"<div>", true},
		{"Goodbye", false},
		{"", true},
	}

	for _, tt := range tests {
		if got := result.HTMLContains(tt.substr); got != tt.expect {
			t.Errorf("HTMLContains(%q) = %v, want %v", tt.substr, got, tt.expect)
		}
	}
	if result.HTMLContainsAll("Hello", "Goodbye") {
		t.Error("HTMLContainsAll should fail when one substring is missing")
	}
}

func TestTestResult_StatusChecks(t *testing.T) {
	result := &TestResult{StatusCode: http.StatusNotModified, Headers: http.Header{"Etag": {`"abc"`}}}

	if result.IsOK() {
		t.Error("IsOK should be false for 304")
	}
	if !result.HasStatus(http.StatusNotModified) {
		t.Error("HasStatus(304) should be true")
	}
	if !strings.Contains(result.GetHeader("ETag"), "abc") {
		t.Errorf("GetHeader(ETag) = %q", result.GetHeader("ETag"))
	}
}
