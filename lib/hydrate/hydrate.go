// Package hydrate attaches live behavior to server-rendered component
// markup.
//
// Bind walks a component's shadow tree (or its light tree when it has no
// shadow root) and wires every hint attribute against the component's
// Host: f-signal keeps text in sync with a signal, f-when toggles
// display, f-repeat rebuilds a list, f-ref hands the element to the
// component and f-on<event> routes events to a method. Nested shadow
// roots and plain <template> content are left to their own components.
//
// A missing signal, method or projected slot content is a setup error:
// Bind fails and releases whatever it had already subscribed.
//
// The node tree is not synchronized. Bind, Dispatch and every signal
// emission that touches the tree must happen on one goroutine.
package hydrate

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/pthm/btr/lib/dom"
	"github.com/pthm/btr/lib/expr"
	"github.com/pthm/btr/lib/signal"
)

// Setup errors.
var (
	ErrSignalNotFound = errors.New("hydrate: signal not found")
	ErrMethodNotFound = errors.New("hydrate: method not found")
	ErrSlotEmpty      = errors.New("hydrate: no nodes are projected into the slot")
	ErrSeedType       = errors.New("hydrate: cannot seed signal from rendered text")
)

const prefix = "f-"

// Event is delivered to f-on<event> methods.
type Event struct {
	Type   string
	Target *html.Node
	Detail any
}

// Host is the component side of a binding.
type Host interface {
	// Signal returns the signal backing field name.
	Signal(name string) (*signal.Signal[any], bool)
	// Method returns the event method called name.
	Method(name string) (func(Event), bool)
	// SetRef receives the element carrying f-ref="name".
	SetRef(name string, node *html.Node)
}

// Option configures Bind.
type Option func(*Binding)

// WithLogger sets the logger for hint warnings.
func WithLogger(l *slog.Logger) Option {
	return func(b *Binding) { b.log = l }
}

// Binding holds the subscriptions and listeners of one bound component.
type Binding struct {
	host Host
	root *html.Node
	log  *slog.Logger

	mu        sync.Mutex
	offs      []func()
	listeners map[*html.Node]map[string][]func(Event)
	closed    bool
}

// Bind hydrates the component rendered at root.
func Bind(host Host, root *html.Node, opts ...Option) (*Binding, error) {
	b := &Binding{
		host:      host,
		root:      root,
		log:       slog.Default(),
		listeners: make(map[*html.Node]map[string][]func(Event)),
	}
	for _, opt := range opts {
		opt(b)
	}

	owner := dom.ShadowRoot(root)
	if owner == nil {
		owner = root
	}

	var err error
	for c := owner.FirstChild; c != nil && err == nil; c = c.NextSibling {
		dom.Walk(c, func(n *html.Node) bool {
			if err != nil || n.Type != html.ElementNode {
				return false
			}
			if err = b.setup(n); err != nil {
				return false
			}
			return !dom.IsElement(n, "template")
		})
	}
	if err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Binding) setup(n *html.Node) error {
	for _, a := range n.Attr {
		if a.Namespace != "" || !strings.HasPrefix(a.Key, prefix) {
			continue
		}
		key := strings.TrimPrefix(a.Key, prefix)

		var err error
		switch {
		case key == "signal":
			err = b.bindSignal(a.Val, n)
		case key == "repeat":
			err = b.bindRepeat(a.Val, n)
		case key == "when":
			err = b.bindWhen(a.Val, n)
		case key == "ref":
			b.host.SetRef(a.Val, n)
		case strings.HasPrefix(key, "on") && len(key) > 2:
			err = b.bindEvent(a.Val, n, strings.ToLower(key[2:]))
		default:
			b.log.Warn("unknown hint attribute", "tag", n.Data, "attribute", a.Key)
		}
		if err != nil {
			return fmt.Errorf("<%s %s=%q>: %w", n.Data, a.Key, a.Val, err)
		}
	}
	return nil
}

func (b *Binding) subscribe(s *signal.Signal[any], fn signal.Listener[any]) {
	off := s.On(fn)
	b.mu.Lock()
	b.offs = append(b.offs, off)
	b.mu.Unlock()
}

// resolve reads a dotted path whose first segment names a signal.
func (b *Binding) resolve(path string) (any, bool) {
	first, rest, dotted := strings.Cut(path, ".")
	s, ok := b.host.Signal(first)
	if !ok {
		return nil, false
	}
	v, set := s.Value()
	if !set {
		return nil, false
	}
	if !dotted {
		return v, true
	}
	return expr.Lookup(rest, v)
}

func (b *Binding) bindSignal(path string, n *html.Node) error {
	first, _, dotted := strings.Cut(path, ".")
	s, ok := b.host.Signal(first)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSignalNotFound, path)
	}

	owner := n
	if dom.IsElement(n, "slot") {
		assigned := dom.AssignedNodes(n)
		if len(assigned) == 0 {
			return ErrSlotEmpty
		}
		owner = assigned[0]
	}

	if !dotted {
		current, set := s.Value()
		if !set || (owner.Type == html.ElementNode && owner.FirstChild != nil) {
			seed, err := seedValue(current, strings.TrimSpace(dom.TextContent(owner)))
			if err != nil {
				return err
			}
			s.Emit(seed)
		} else {
			dom.SetTextContent(owner, display(current, true))
		}
	}

	b.subscribe(s, func(any) {
		dom.SetTextContent(owner, display(b.resolve(path)))
	})
	return nil
}

// seedValue converts rendered text to the kind of the signal's current
// or declared value. Other falsy values are replaced by the text; other
// truthy values cannot be seeded.
func seedValue(current any, text string) (any, error) {
	switch current.(type) {
	case nil, string:
		return text, nil
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		if text == "" {
			return float64(0), nil
		}
		n, ok := expr.ParseNumber(text)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a number", ErrSeedType, text)
		}
		return n, nil
	}
	if !expr.Truthy(current) {
		return text, nil
	}
	return nil, fmt.Errorf("%w: signal holds %T", ErrSeedType, current)
}

func display(v any, ok bool) string {
	if !ok || v == nil {
		return ""
	}
	return expr.String(v)
}

func (b *Binding) bindWhen(source string, n *html.Node) error {
	e, err := expr.Compile(source)
	if err != nil {
		return err
	}

	update := func(any) {
		state := make(map[string]any)
		for _, root := range e.Roots() {
			if v, ok := b.resolve(root); ok {
				state[root] = v
			}
		}
		if e.Eval(state) {
			dom.SetDisplay(n, "block")
		} else {
			dom.SetDisplay(n, "none")
		}
	}

	for _, root := range e.Roots() {
		if s, ok := b.host.Signal(root); ok {
			b.subscribe(s, update)
		}
	}
	update(nil)
	return nil
}

func (b *Binding) bindRepeat(path string, n *html.Node) error {
	s, ok := b.host.Signal(path)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSignalNotFound, path)
	}
	tag, _ := dom.Attr(n, "w-component")

	s.Emit(renderedItems(n))
	b.subscribe(s, func(v any) {
		rebuild(n, tag, v)
	})
	return nil
}

// renderedItems reads the list a repeat container currently shows. An
// item with slotted children becomes a map of slot name to text; any
// other item becomes its text.
func renderedItems(n *html.Node) []any {
	items := make([]any, 0)
	for _, child := range dom.Children(n) {
		var slotted []*html.Node
		dom.Walk(child, func(d *html.Node) bool {
			if d != child && dom.HasAttr(d, "slot") {
				slotted = append(slotted, d)
			}
			return !dom.IsShadowRoot(d)
		})

		if len(slotted) == 0 {
			items = append(items, strings.TrimSpace(dom.TextContent(child)))
			continue
		}
		record := make(map[string]any)
		for _, d := range slotted {
			if text := strings.TrimSpace(dom.TextContent(d)); text != "" {
				name, _ := dom.Attr(d, "slot")
				record[name] = text
			}
		}
		items = append(items, record)
	}
	return items
}

// rebuild replaces the children of n with one tag element per item.
func rebuild(n *html.Node, tag string, v any) {
	dom.RemoveChildren(n)
	items, _ := expr.Items(v)
	for _, item := range items {
		el := dom.Element(tag)
		if fields, ok := expr.Fields(item); ok {
			keys := make([]string, 0, len(fields))
			for k := range fields {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				span := dom.Element("span", "slot", k)
				span.AppendChild(dom.Text(display(fields[k], true)))
				el.AppendChild(span)
			}
		} else if item != nil {
			el.AppendChild(dom.Text(expr.String(item)))
		}
		n.AppendChild(el)
	}
}

func (b *Binding) bindEvent(method string, n *html.Node, event string) error {
	fn, ok := b.host.Method(method)
	if !ok {
		return fmt.Errorf("%w: %s", ErrMethodNotFound, method)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listeners[n] == nil {
		b.listeners[n] = make(map[string][]func(Event))
	}
	b.listeners[n][event] = append(b.listeners[n][event], fn)
	return nil
}

// Dispatch delivers ev to the listeners on target and then on each of
// its ancestors up to the bound root. It returns the number of listeners
// called.
func (b *Binding) Dispatch(target *html.Node, ev Event) int {
	if ev.Target == nil {
		ev.Target = target
	}
	ev.Type = strings.ToLower(ev.Type)

	called := 0
	for n := target; n != nil; n = n.Parent {
		b.mu.Lock()
		fns := append([]func(Event){}, b.listeners[n][ev.Type]...)
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return called
		}

		for _, fn := range fns {
			fn(ev)
			called++
		}
		if n == b.root {
			break
		}
	}
	return called
}

// Close releases every subscription and listener. It is safe to call
// more than once.
func (b *Binding) Close() {
	b.mu.Lock()
	offs := b.offs
	b.offs = nil
	b.listeners = make(map[*html.Node]map[string][]func(Event))
	b.closed = true
	b.mu.Unlock()

	for _, off := range offs {
		off()
	}
}
