package btr

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/net/html"

	"github.com/pthm/btr/lib/dom"
	"github.com/pthm/btr/lib/extract"
	"github.com/pthm/btr/lib/hydrate"
	"github.com/pthm/btr/lib/signal"
)

// Method handles an f-on<event> attribute.
type Method func(c *Component, ev hydrate.Event)

// ChangeHook observes a field update made through Component.Set.
type ChangeHook func(c *Component, old, new any)

// Behaviors are the functions a component contributes beyond its markup.
type Behaviors struct {
	// Methods are looked up by the value of f-on<event> attributes.
	Methods map[string]Method
	// Changed hooks are keyed by field name. They run after Set once the
	// component is connected, never during hydration itself.
	Changed map[string]ChangeHook
}

// Descriptor is the static description of a component.
//
// Template is the markup of the component's shadow tree and Style the CSS
// injected in front of it. Module names the stylesheet module extraction
// inlines when Style is empty. Fields declares every reactive field with
// its zero value; a field becomes a signal the first time it is used.
type Descriptor struct {
	Tag       string
	Template  string
	Style     string
	Module    string
	Fields    map[string]any
	Behaviors Behaviors
}

// Definition returns the extraction view of d.
func (d Descriptor) Definition() extract.Definition {
	return extract.Definition{
		Tag:      d.Tag,
		Template: d.Template,
		Style:    d.Style,
		Module:   d.Module,
	}
}

// FieldNames returns the declared fields in sorted order.
func (d Descriptor) FieldNames() []string {
	names := make([]string, 0, len(d.Fields))
	for name := range d.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d Descriptor) validate() error {
	if d.Tag == "" {
		return fmt.Errorf("%w: empty tag", ErrInvalidDescriptor)
	}
	for name := range d.Behaviors.Changed {
		if _, ok := d.Fields[name]; !ok {
			return fmt.Errorf("%w: change hook for undeclared field %q", ErrInvalidDescriptor, name)
		}
	}
	return nil
}

// ComponentOption configures New.
type ComponentOption func(*Component)

// WithLogger sets the logger used for hydration warnings.
func WithLogger(l *slog.Logger) ComponentOption {
	return func(c *Component) { c.log = l }
}

// Component is one live instance of a Descriptor. It implements
// hydrate.Host.
//
// The zero value is not usable; create components with New.
type Component struct {
	desc Descriptor
	log  *slog.Logger

	mu      sync.Mutex
	signals map[string]*signal.Signal[any]
	refs    map[string]*html.Node
	node    *html.Node
	binding *hydrate.Binding
}

// New creates an unconnected component instance.
func New(desc Descriptor, opts ...ComponentOption) *Component {
	c := &Component{
		desc:    desc,
		log:     slog.Default(),
		signals: make(map[string]*signal.Signal[any]),
		refs:    make(map[string]*html.Node),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", desc.Tag)
	return c
}

// Tag returns the component's tag name.
func (c *Component) Tag() string {
	return c.desc.Tag
}

// Signal returns the signal backing field name, creating it with the
// declared zero value on first use. Undeclared fields have no signal.
func (c *Component) Signal(name string) (*signal.Signal[any], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.signals[name]; ok {
		return s, true
	}
	zero, declared := c.desc.Fields[name]
	if !declared {
		return nil, false
	}
	s := signal.NewWithZero[any](zero)
	c.signals[name] = s
	return s, true
}

// Method returns the behavior called name bound to c.
func (c *Component) Method(name string) (func(hydrate.Event), bool) {
	m, ok := c.desc.Behaviors.Methods[name]
	if !ok || m == nil {
		return nil, false
	}
	return func(ev hydrate.Event) { m(c, ev) }, true
}

// SetRef records the element carrying f-ref="name".
func (c *Component) SetRef(name string, node *html.Node) {
	c.mu.Lock()
	c.refs[name] = node
	c.mu.Unlock()
}

// Ref returns the element recorded for f-ref="name".
func (c *Component) Ref(name string) *html.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs[name]
}

// Get returns the current value of field name, or its declared zero value
// before anything was emitted. Undeclared fields read as nil.
func (c *Component) Get(name string) any {
	s, ok := c.Signal(name)
	if !ok {
		return nil
	}
	return s.Get()
}

// Set emits v on field name. When the component is connected the field's
// change hook runs after every subscriber has seen the new value.
func (c *Component) Set(name string, v any) error {
	s, ok := c.Signal(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, name)
	}
	old := s.Get()
	s.Emit(v)

	if !c.Connected() {
		return nil
	}
	if hook := c.desc.Behaviors.Changed[name]; hook != nil {
		hook(c, old, v)
	}
	return nil
}

// Connected reports whether the component is hydrated.
func (c *Component) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.binding != nil
}

// Node returns the host element while connected.
func (c *Component) Node() *html.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.node
}

// Connect hydrates the component on host.
//
// When host has no declarative shadow root and the descriptor has a
// template, the template is attached first, the way a client-rendered
// component would build its own shadow tree. Any setup error is returned
// unchanged in meaning (see IsSetupError) and leaves the component
// unconnected.
func (c *Component) Connect(host *html.Node) error {
	c.mu.Lock()
	if c.binding != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: <%s>", ErrAlreadyConnected, c.desc.Tag)
	}
	c.mu.Unlock()

	attached, err := c.attachShadow(host)
	if err != nil {
		return err
	}

	binding, err := hydrate.Bind(c, host, hydrate.WithLogger(c.log))
	if err != nil {
		if attached != nil {
			host.RemoveChild(attached)
		}
		return fmt.Errorf("btr: connect <%s>: %w", c.desc.Tag, err)
	}

	c.mu.Lock()
	c.node = host
	c.binding = binding
	c.mu.Unlock()

	c.log.Debug("component connected", "fields", len(c.desc.Fields))
	return nil
}

func (c *Component) attachShadow(host *html.Node) (*html.Node, error) {
	if dom.ShadowRoot(host) != nil || c.desc.Template == "" {
		return nil, nil
	}

	nodes, err := dom.ParseFragment(c.desc.Template, "template")
	if err != nil {
		return nil, fmt.Errorf("btr: <%s> template: %w", c.desc.Tag, err)
	}

	root := dom.Element("template", "shadowrootmode", "open")
	if c.desc.Style != "" {
		style := dom.Element("style")
		style.AppendChild(dom.Text(c.desc.Style))
		root.AppendChild(style)
	}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	host.InsertBefore(root, host.FirstChild)
	return root, nil
}

// Dispatch delivers an event to the connected component's listeners,
// starting at target and bubbling to the host. It returns the number of
// listeners called, or ErrNotConnected.
func (c *Component) Dispatch(target *html.Node, ev hydrate.Event) (int, error) {
	c.mu.Lock()
	binding := c.binding
	c.mu.Unlock()
	if binding == nil {
		return 0, fmt.Errorf("%w: <%s>", ErrNotConnected, c.desc.Tag)
	}
	return binding.Dispatch(target, ev), nil
}

// Disconnect releases every subscription and listener the component
// holds. Field values survive, so a later Connect reuses them. It is safe
// to call on an unconnected component.
func (c *Component) Disconnect() {
	c.mu.Lock()
	binding := c.binding
	c.binding = nil
	c.node = nil
	c.refs = make(map[string]*html.Node)
	c.mu.Unlock()

	if binding != nil {
		binding.Close()
		c.log.Debug("component disconnected")
	}
}
