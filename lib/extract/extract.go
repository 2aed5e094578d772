// Package extract compiles a rendered document into a replayable
// protocol.
//
// Extraction walks the element tree in document order and serializes it.
// Literal markup accumulates in a line buffer; whenever an element
// carries a streaming hint the buffer is flushed as one raw chunk,
// followed by the hint's own chunk:
//
//	f-signal="path"    the element's text becomes a signal chunk (leaf)
//	f-repeat="path"    a repeat chunk for the w-component tag (leaf)
//	f-when="expr"      a when chunk inside the opening tag
//
// f-ref and f-on<event> stay in the markup for hydration and produce no
// chunks. Component shadow markup reached through a repeat is captured
// once per tag into the protocol's template table, with the component
// stylesheet read through the FileReader.
//
// Problems that leave a usable protocol behind, such as an unreadable
// stylesheet, are logged and collected as diagnostics. Structural
// problems, such as a repeat without w-component, fail the extraction.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/pthm/btr/lib/dom"
	"github.com/pthm/btr/lib/protocol"
)

// Hint attribute names.
const (
	HintPrefix    = "f-"
	HintSignal    = "f-signal"
	HintRepeat    = "f-repeat"
	HintWhen      = "f-when"
	HintRef       = "f-ref"
	HintOn        = "f-on"
	ComponentAttr = "w-component"

	// HydratedModuleClass marks elements the client already holds. They
	// are left out of the output and listed in window.btr instead.
	HydratedModuleClass = "internal-html-module"
)

// Sentinel errors for extraction.
var (
	ErrRootNotFound     = errors.New("extract: root element not found")
	ErrMissingComponent = errors.New("extract: f-repeat without w-component")
	ErrNoTemplate       = errors.New("extract: no template source for repeated component")
	ErrSessionUsed      = errors.New("extract: session already used")
)

// Definition describes a component for extraction. Template, when set,
// is used as the component's shadow markup instead of capturing it from
// a rendered instance. Style, when set, is used instead of reading the
// Module stylesheet.
type Definition struct {
	Tag      string
	Template string
	Style    string
	Module   string
}

// Definitions resolves component definitions by tag.
type Definitions interface {
	Definition(tag string) (Definition, bool)
}

// DefinitionMap is a Definitions backed by a map.
type DefinitionMap map[string]Definition

// Definition implements Definitions.
func (m DefinitionMap) Definition(tag string) (Definition, bool) {
	d, ok := m[tag]
	return d, ok
}

// Options configure a Session.
type Options struct {
	// Root selects the element to extract: a tag name or "#id".
	// Defaults to "html".
	Root string

	// LinkCSS leaves component stylesheets external. Their paths are
	// collected and spliced into <head> as preload links instead of
	// being inlined into shadow roots.
	LinkCSS bool

	// Pretty writes one tag or text run per line, indented by depth,
	// with text trimmed. The default writes markup compactly and keeps
	// text as rendered.
	Pretty bool

	// Reader loads component stylesheets. Without one, only styles from
	// Definitions are available.
	Reader FileReader

	// Definitions supplies component templates and stylesheets.
	Definitions Definitions

	Logger *slog.Logger
}

// Diagnostic codes.
const (
	DiagStylesheetRead    = "stylesheet-read"
	DiagMissingStylesheet = "missing-stylesheet"
	DiagMissingHead       = "missing-head"
	DiagUnknownHint       = "unknown-hint"
)

// Diagnostic is a non-fatal extraction problem.
type Diagnostic struct {
	Code    string
	Subject string
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s: %s", d.Code, d.Subject, d.Message)
}

// Result is the output of one extraction.
type Result struct {
	Protocol *protocol.Protocol

	// Seeds holds the rendered text of every top-level signal path,
	// usable as initial state.
	Seeds map[string]any

	// Preload lists the stylesheet paths collected in LinkCSS mode.
	Preload []string

	// HydratedModules lists the ids of skipped hydrated-module elements.
	HydratedModules []string

	Diagnostics []Diagnostic
}

// Extract parses an HTML document from r and extracts it.
func Extract(ctx context.Context, r io.Reader, opts Options) (*Result, error) {
	doc, err := dom.Parse(r)
	if err != nil {
		return nil, err
	}
	return NewSession(opts).Run(ctx, doc)
}

// ExtractHTML is Extract over a string.
func ExtractHTML(ctx context.Context, markup string, opts Options) (*Result, error) {
	return Extract(ctx, strings.NewReader(markup), opts)
}

// Session holds the state of one extraction: the line buffer, the
// stylesheet and template caches, the preload list and the collected
// seeds. A Session extracts one document and is not safe for concurrent
// use.
type Session struct {
	id   uuid.UUID
	opts Options
	log  *slog.Logger

	proto *protocol.Protocol
	lines []string
	glue  bool

	css      map[string]string
	preload  []string
	preSeen  map[string]bool
	seeds    map[string]any
	hydrated []string
	marked   bool
	diags    []Diagnostic
	used     bool
}

// NewSession creates a session.
func NewSession(opts Options) *Session {
	if opts.Root == "" {
		opts.Root = "html"
	}
	id := uuid.New()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:      id,
		opts:    opts,
		log:     logger.With("component", "extract", "session", id.String()),
		proto:   protocol.New(),
		css:     make(map[string]string),
		preSeen: make(map[string]bool),
		seeds:   make(map[string]any),
	}
}

// ID identifies the session in logs.
func (s *Session) ID() uuid.UUID { return s.id }

// Run extracts doc.
func (s *Session) Run(ctx context.Context, doc *html.Node) (*Result, error) {
	if s.used {
		return nil, ErrSessionUsed
	}
	s.used = true

	root := dom.Query(doc, s.opts.Root)
	if root == nil {
		return nil, fmt.Errorf("%w: %q", ErrRootNotFound, s.opts.Root)
	}

	if root.Data == "html" && hasDoctype(doc) {
		s.line(0, "<!DOCTYPE html>")
	}
	if err := s.visit(ctx, s, root, 0, ""); err != nil {
		return nil, err
	}
	s.flush()

	if len(s.preload) > 0 && !s.proto.InsertPreload(s.preload) {
		s.report(DiagMissingHead, s.opts.Root, "no </head> in output; stylesheet preload links were not inserted")
		s.log.Error("preload requires a head element", "stylesheets", s.preload)
	}

	s.log.Debug("extraction complete",
		"chunks", len(s.proto.Streams),
		"templates", len(s.proto.Templates),
		"diagnostics", len(s.diags))

	return &Result{
		Protocol:        s.proto,
		Seeds:           s.seeds,
		Preload:         s.preload,
		HydratedModules: s.hydrated,
		Diagnostics:     s.diags,
	}, nil
}

func hasDoctype(doc *html.Node) bool {
	for c := doc.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.DoctypeNode {
			return true
		}
	}
	return false
}

func (s *Session) report(code, subject, msg string) {
	s.diags = append(s.diags, Diagnostic{Code: code, Subject: subject, Message: msg})
}

// emitter receives serialized markup. The session streams it into the
// protocol; template capture collects it and ignores chunks.
type emitter interface {
	line(depth int, text string)
	chunk(c protocol.Chunk)
}

func (s *Session) indent(depth int) string {
	if !s.opts.Pretty {
		return ""
	}
	return strings.Repeat("  ", depth)
}

func (s *Session) line(depth int, text string) {
	if text == "" {
		return
	}
	if s.glue {
		s.glue = false
		s.lines = append(s.lines, text)
		return
	}
	s.lines = append(s.lines, s.indent(depth)+text)
}

// flush writes the line buffer as one raw chunk.
func (s *Session) flush() {
	if len(s.lines) == 0 {
		return
	}
	sep := ""
	if s.opts.Pretty {
		sep = "\n"
	}
	s.proto.Append(protocol.Raw(strings.Join(s.lines, sep)))
	s.lines = s.lines[:0]
}

func (s *Session) chunk(c protocol.Chunk) {
	s.flush()
	s.proto.Append(c)
	// The markup that follows a value continues the same line.
	s.glue = true
}

// capture collects the shadow markup of a repeated component. Hints
// inside it produce no chunks; their elements stay as empty shells.
type capture struct {
	s     *Session
	lines []string
	glue  bool
}

func (c *capture) line(depth int, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if c.glue && len(c.lines) > 0 {
		c.glue = false
		c.lines[len(c.lines)-1] += text
		return
	}
	c.lines = append(c.lines, c.s.indent(depth)+text)
}

func (c *capture) chunk(protocol.Chunk) { c.glue = true }

func (c *capture) String() string {
	if c.s.opts.Pretty {
		return strings.Join(c.lines, "\n")
	}
	return strings.Join(c.lines, "")
}
