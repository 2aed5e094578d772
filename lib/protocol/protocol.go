// Package protocol defines the replayable stream protocol produced by
// extraction and consumed by replay.
//
// A Protocol is an ordered list of chunks plus a table of component
// templates keyed by custom-element tag. The JSON form is
//
//	{
//	  "streams": [
//	    {"type": "raw", "value": "<html>..."},
//	    {"type": "signal", "value": "user.name", "defaultValue": "Ada"},
//	    {"type": "repeat", "value": "items", "template": "todo-item"},
//	    {"type": "when", "value": "items && open"},
//	    {"type": "attribute", "value": "user.id", "name": "data-id"}
//	  ],
//	  "templates": {
//	    "todo-item": {"style": ":host{display:block}", "template": "<li>...</li>"}
//	  }
//	}
//
// A protocol is written once at build time and treated as immutable
// afterwards.
package protocol

import (
	"errors"
	"fmt"
	"sort"

	"github.com/pthm/btr/lib/expr"
)

// Sentinel errors for protocol integrity.
var (
	ErrUnknownKind       = errors.New("protocol: unknown chunk type")
	ErrTemplateNotFound  = errors.New("protocol: repeat references an absent template")
	ErrInvalidExpression = errors.New("protocol: invalid when expression")
	ErrMissingField      = errors.New("protocol: chunk is missing a required field")
)

// Kind tags a Chunk.
type Kind string

// Chunk kinds.
const (
	KindRaw       Kind = "raw"
	KindSignal    Kind = "signal"
	KindRepeat    Kind = "repeat"
	KindWhen      Kind = "when"
	KindAttribute Kind = "attribute"
)

// Valid reports whether k is a known chunk kind.
func (k Kind) Valid() bool {
	switch k {
	case KindRaw, KindSignal, KindRepeat, KindWhen, KindAttribute:
		return true
	}
	return false
}

// Chunk is one step of a stream.
//
// Value holds the literal markup for raw chunks, the dotted path for
// signal, repeat and attribute chunks, and the expression source for when
// chunks. Template names the repeated component, Name the attribute. A
// when chunk with Name "style" sits inside the element's open style
// value and suppresses with a declaration instead of an attribute.
type Chunk struct {
	Type         Kind    `json:"type" msgpack:"type"`
	Value        string  `json:"value" msgpack:"value"`
	Template     string  `json:"template,omitempty" msgpack:"template,omitempty"`
	Name         string  `json:"name,omitempty" msgpack:"name,omitempty"`
	DefaultValue *string `json:"defaultValue,omitempty" msgpack:"defaultValue,omitempty"`
}

// Raw returns a literal markup chunk.
func Raw(markup string) Chunk {
	return Chunk{Type: KindRaw, Value: markup}
}

// Signal returns a value chunk for path with no default.
func Signal(path string) Chunk {
	return Chunk{Type: KindSignal, Value: path}
}

// SignalDefault returns a value chunk for path that falls back to def.
func SignalDefault(path, def string) Chunk {
	return Chunk{Type: KindSignal, Value: path, DefaultValue: &def}
}

// Repeat returns a list chunk rendering one tag instance per item at path.
func Repeat(path, tag string) Chunk {
	return Chunk{Type: KindRepeat, Value: path, Template: tag}
}

// When returns a conditional visibility chunk.
func When(expression string) Chunk {
	return Chunk{Type: KindWhen, Value: expression}
}

// WhenInStyle returns a when chunk placed inside an open style attribute
// value, for elements that keep other inline declarations.
func WhenInStyle(expression string) Chunk {
	return Chunk{Type: KindWhen, Value: expression, Name: "style"}
}

// InStyle reports whether a when chunk sits inside a style value.
func (c Chunk) InStyle() bool {
	return c.Type == KindWhen && c.Name == "style"
}

// Attribute returns an attribute chunk. def may be nil.
func Attribute(name, path string, def *string) Chunk {
	return Chunk{Type: KindAttribute, Value: path, Name: name, DefaultValue: def}
}

// Default returns the chunk's default value and whether one is set.
func (c Chunk) Default() (string, bool) {
	if c.DefaultValue == nil {
		return "", false
	}
	return *c.DefaultValue, true
}

func (c Chunk) String() string {
	switch c.Type {
	case KindRaw:
		return fmt.Sprintf("raw(%d bytes)", len(c.Value))
	case KindRepeat:
		return fmt.Sprintf("repeat(%s as <%s>)", c.Value, c.Template)
	case KindAttribute:
		return fmt.Sprintf("attribute(%s=%s)", c.Name, c.Value)
	}
	return fmt.Sprintf("%s(%s)", c.Type, c.Value)
}

// Template is the captured shadow markup of one component.
type Template struct {
	Style    string `json:"style" msgpack:"style"`
	Template string `json:"template" msgpack:"template"`
}

// Protocol is the complete extraction output.
type Protocol struct {
	Streams   []Chunk             `json:"streams" msgpack:"streams"`
	Templates map[string]Template `json:"templates" msgpack:"templates"`
}

// New returns an empty protocol.
func New() *Protocol {
	return &Protocol{Templates: make(map[string]Template)}
}

// Append adds chunks to the stream.
func (p *Protocol) Append(chunks ...Chunk) {
	p.Streams = append(p.Streams, chunks...)
}

// AddTemplate records t under tag unless tag is already present, and
// reports whether it was added. The first capture of a tag wins.
func (p *Protocol) AddTemplate(tag string, t Template) bool {
	if p.Templates == nil {
		p.Templates = make(map[string]Template)
	}
	if _, ok := p.Templates[tag]; ok {
		return false
	}
	p.Templates[tag] = t
	return true
}

// Template returns the template recorded for tag.
func (p *Protocol) Template(tag string) (Template, bool) {
	t, ok := p.Templates[tag]
	return t, ok
}

// Tags returns the recorded template tags in sorted order.
func (p *Protocol) Tags() []string {
	tags := make([]string, 0, len(p.Templates))
	for tag := range p.Templates {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Validate checks protocol integrity: every chunk has a known kind and
// its required fields, every repeat refers to a recorded template and
// every when expression compiles. All problems are joined into one error.
func (p *Protocol) Validate() error {
	var errs []error
	for i, c := range p.Streams {
		if err := p.validateChunk(c); err != nil {
			errs = append(errs, fmt.Errorf("streams[%d] %s: %w", i, c.Type, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Protocol) validateChunk(c Chunk) error {
	switch c.Type {
	case KindRaw:
		return nil
	case KindSignal:
		if c.Value == "" {
			return fmt.Errorf("%w: path", ErrMissingField)
		}
	case KindRepeat:
		if c.Value == "" || c.Template == "" {
			return fmt.Errorf("%w: path and template", ErrMissingField)
		}
		if _, ok := p.Templates[c.Template]; !ok {
			return fmt.Errorf("%w: %q", ErrTemplateNotFound, c.Template)
		}
	case KindWhen:
		if _, err := expr.Compile(c.Value); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidExpression, err)
		}
		if c.Name != "" && c.Name != "style" {
			return fmt.Errorf("%w: when inside %q", ErrUnknownKind, c.Name)
		}
	case KindAttribute:
		if c.Value == "" || c.Name == "" {
			return fmt.Errorf("%w: name and path", ErrMissingField)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, c.Type)
	}
	return nil
}
