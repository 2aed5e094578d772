// Package replay re-emits the markup captured in a protocol against fresh
// state.
//
// A Program is a validated protocol with its when expressions compiled.
// It is immutable, so one Program can serve any number of concurrent
// requests. Each Render call builds its output in a private buffer and
// hands nothing to the caller when it fails, which keeps partial markup
// out of responses.
package replay

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"sort"
	"strings"

	"github.com/a-h/templ"

	"github.com/pthm/btr/lib/expr"
	"github.com/pthm/btr/lib/protocol"
)

// Hidden is written in place of a when chunk whose condition is false.
// The surrounding raw chunks leave the opening tag open for it.
const Hidden = ` style="display:none"`

// HiddenDeclaration is written instead of Hidden for a when chunk placed
// inside an open style attribute value.
const HiddenDeclaration = ` display:none`

// Errors reported while rendering.
var (
	ErrTemplateNotFound = protocol.ErrTemplateNotFound
	ErrNotList          = errors.New("replay: repeat value is not a list")
)

// Program is a compiled protocol.
type Program struct {
	proto *protocol.Protocol
	whens map[int]*expr.Expression
}

// Compile validates p and precompiles its when expressions. p must not
// be modified afterwards.
func Compile(p *protocol.Protocol) (*Program, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	prog := &Program{proto: p, whens: make(map[int]*expr.Expression)}
	for i, c := range p.Streams {
		if c.Type != protocol.KindWhen {
			continue
		}
		e, err := expr.Compile(c.Value)
		if err != nil {
			return nil, fmt.Errorf("streams[%d]: %w", i, err)
		}
		prog.whens[i] = e
	}
	return prog, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(p *protocol.Protocol) *Program {
	prog, err := Compile(p)
	if err != nil {
		panic(err)
	}
	return prog
}

// Protocol returns the compiled protocol.
func (p *Program) Protocol() *protocol.Protocol {
	return p.proto
}

// Replay compiles proto and replays it into sink. Nothing is written
// when compilation or rendering fails; End is called only on success.
func Replay(proto *protocol.Protocol, state any, sink Sink) error {
	prog, err := Compile(proto)
	if err != nil {
		return err
	}
	return prog.Replay(state, sink)
}

// Replay renders state and writes the result to sink followed by End.
func (p *Program) Replay(state any, sink Sink) error {
	out, err := p.Render(state)
	if err != nil {
		return err
	}
	if err := sink.Write(out); err != nil {
		return err
	}
	return sink.End()
}

// Render returns the markup for state.
func (p *Program) Render(state any) (string, error) {
	var b strings.Builder
	if err := p.render(&b, state); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Component returns a templ component rendering state, so a Program can
// be composed with other templ output.
func (p *Program) Component(state any) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := p.Render(state)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, out)
		return err
	})
}

func (p *Program) render(b *strings.Builder, state any) error {
	for i, c := range p.proto.Streams {
		switch c.Type {
		case protocol.KindRaw:
			b.WriteString(c.Value)

		case protocol.KindSignal:
			if v, ok := expr.Lookup(c.Value, state); ok {
				b.WriteString(html.EscapeString(expr.String(v)))
			} else if def, ok := c.Default(); ok {
				b.WriteString(html.EscapeString(def))
			}

		case protocol.KindRepeat:
			if err := p.repeat(b, c, state); err != nil {
				return fmt.Errorf("streams[%d]: %w", i, err)
			}

		case protocol.KindWhen:
			if !p.whens[i].Eval(state) {
				if c.InStyle() {
					b.WriteString(HiddenDeclaration)
				} else {
					b.WriteString(Hidden)
				}
			}

		case protocol.KindAttribute:
			v, ok := expr.Lookup(c.Value, state)
			if ok {
				writeAttr(b, c.Name, expr.String(v))
			} else if def, ok := c.Default(); ok {
				writeAttr(b, c.Name, def)
			}
		}
	}
	return nil
}

func writeAttr(b *strings.Builder, name, value string) {
	b.WriteString(" ")
	b.WriteString(name)
	b.WriteString(`="`)
	b.WriteString(html.EscapeString(value))
	b.WriteString(`"`)
}

func (p *Program) repeat(b *strings.Builder, c protocol.Chunk, state any) error {
	v, ok := expr.Lookup(c.Value, state)
	if !ok || v == nil {
		return nil
	}
	tpl, ok := p.proto.Template(c.Template)
	if !ok {
		return fmt.Errorf("%w: %q", ErrTemplateNotFound, c.Template)
	}

	items, ok := expr.Items(v)
	if !ok {
		return fmt.Errorf("%w: %s is %T", ErrNotList, c.Value, v)
	}

	for _, item := range items {
		b.WriteString("<" + c.Template + `><template shadowrootmode="open"><style>`)
		b.WriteString(tpl.Style + "</style>" + tpl.Template + "</template>")
		writeItem(b, item)
		b.WriteString("</" + c.Template + ">")
	}
	return nil
}

// writeItem writes a primitive or list item as text and projects a
// record item into one named slot per field, in sorted key order.
func writeItem(b *strings.Builder, item any) {
	fields, ok := expr.Fields(item)
	if !ok {
		if item != nil {
			b.WriteString(html.EscapeString(expr.String(item)))
		}
		return
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(`<span slot="` + html.EscapeString(k) + `">`)
		b.WriteString(html.EscapeString(expr.String(fields[k])))
		b.WriteString("</span>")
	}
}
