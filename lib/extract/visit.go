package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/pthm/btr/lib/dom"
	"github.com/pthm/btr/lib/protocol"
)

var (
	attrEscaper = strings.NewReplacer("&", "&amp;", `"`, "&quot;", "\u00a0", "&nbsp;")
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\u00a0", "&nbsp;")
)

// rawTextElements hold text that is serialized without escaping.
var rawTextElements = map[string]bool{
	"style": true, "script": true, "xmp": true, "iframe": true,
	"noembed": true, "noframes": true, "plaintext": true,
}

type hints struct {
	signal, repeat, when          string
	hasSignal, hasRepeat, hasWhen bool
}

func (s *Session) hints(n *html.Node) hints {
	var h hints
	for _, a := range n.Attr {
		if a.Namespace != "" || !strings.HasPrefix(a.Key, HintPrefix) {
			continue
		}
		switch {
		case a.Key == HintSignal:
			h.signal, h.hasSignal = a.Val, true
		case a.Key == HintRepeat:
			h.repeat, h.hasRepeat = a.Val, true
		case a.Key == HintWhen:
			h.when, h.hasWhen = a.Val, true
		case a.Key == HintRef:
		case strings.HasPrefix(a.Key, HintOn) && len(a.Key) > len(HintOn):
		default:
			s.report(DiagUnknownHint, n.Data, a.Key)
			s.log.Warn("unknown hint attribute", "tag", n.Data, "attribute", a.Key)
		}
	}
	return h
}

// visit serializes n into em. drop names a stylesheet link href that an
// inlined <style> replaces within the current shadow tree.
func (s *Session) visit(ctx context.Context, em emitter, n *html.Node, depth int, drop string) error {
	switch n.Type {
	case html.TextNode:
		s.text(em, n, depth)
		return nil
	case html.CommentNode:
		em.line(depth, "<!--"+n.Data+"-->")
		return nil
	case html.ElementNode:
	default:
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if hasClass(n, HydratedModuleClass) {
		id, _ := dom.Attr(n, "id")
		s.hydrated = append(s.hydrated, id)
		return nil
	}
	if drop != "" && isStylesheetLink(n, drop) {
		return nil
	}
	streaming := em == emitter(s)
	if n.Data == "script" && streaming && len(s.hydrated) > 0 && !s.marked {
		s.marked = true
		ids, _ := json.Marshal(s.hydrated)
		em.line(depth, "<script>window.btr = "+string(ids)+";</script>")
	}

	h := s.hints(n)
	tag, openStyle := openTag(n, h.hasWhen)
	if h.hasWhen {
		em.line(depth, tag)
		if openStyle {
			em.chunk(protocol.WhenInStyle(h.when))
			em.line(depth, `">`)
		} else {
			em.chunk(protocol.When(h.when))
			em.line(depth, ">")
		}
	} else {
		em.line(depth, tag+">")
	}

	switch {
	case h.hasRepeat:
		component, _ := dom.Attr(n, ComponentAttr)
		if component == "" {
			return fmt.Errorf("%w: f-repeat=%q on <%s>", ErrMissingComponent, h.repeat, n.Data)
		}
		if err := s.captureTemplate(ctx, n, component); err != nil {
			return err
		}
		em.chunk(protocol.Repeat(h.repeat, component))
		closeTag(em, n, depth)
		return nil

	case h.hasSignal:
		text, leaf := leafText(n)
		if leaf && text != "" {
			em.chunk(protocol.SignalDefault(h.signal, text))
			if _, seeded := s.seeds[h.signal]; !seeded && streaming && !strings.Contains(h.signal, ".") {
				s.seeds[h.signal] = text
			}
		} else {
			em.chunk(protocol.Signal(h.signal))
		}
		closeTag(em, n, depth)
		return nil
	}

	shadow := dom.ShadowRoot(n)
	if shadow != nil {
		if err := s.shadowRoot(ctx, em, n, shadow, depth); err != nil {
			return err
		}
	}

	if n.Data == "template" {
		s.templateContent(ctx, em, n, depth)
	} else {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c == shadow {
				continue
			}
			if err := s.visit(ctx, em, c, depth+1, drop); err != nil {
				return err
			}
		}
	}

	closeTag(em, n, depth)
	return nil
}

func (s *Session) shadowRoot(ctx context.Context, em emitter, host, root *html.Node, depth int) error {
	mode, _ := dom.Attr(root, "shadowrootmode")
	em.line(depth+1, `<template shadowrootmode="`+attrEscaper.Replace(mode)+`">`)

	css, drop, _ := s.componentStyle(ctx, host.Data, root)
	if css != "" {
		em.line(depth+2, "<style>"+css+"</style>")
	}
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if err := s.visit(ctx, em, c, depth+2, drop); err != nil {
			return err
		}
	}

	em.line(depth+1, "</template>")
	return nil
}

// templateContent writes the content of a plain <template> verbatim. A
// template marked module="true" gets the stylesheet named by its id.
func (s *Session) templateContent(ctx context.Context, em emitter, n *html.Node, depth int) {
	var (
		parts []string
		drop  string
	)
	if v, _ := dom.Attr(n, "module"); v == "true" {
		if id, _ := dom.Attr(n, "id"); id != "" {
			var css string
			css, drop = s.moduleStyle(ctx, id)
			if css != "" {
				parts = append(parts, "<style>"+css+"</style>")
			}
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if drop != "" && isStylesheetLink(c, drop) {
			continue
		}
		out, err := dom.Render(c)
		if err != nil {
			s.log.Error("rendering template content", "error", err)
			continue
		}
		parts = append(parts, out)
	}
	em.line(depth+1, strings.Join(parts, ""))
}

// captureTemplate records the shadow markup of component tag, found
// through a repeat container, unless the tag is already recorded.
func (s *Session) captureTemplate(ctx context.Context, container *html.Node, tag string) error {
	if _, ok := s.proto.Template(tag); ok {
		return nil
	}

	def, _ := s.definition(tag)
	var root *html.Node
	for _, c := range dom.Children(container) {
		if c.Data == tag {
			if root = dom.ShadowRoot(c); root != nil {
				break
			}
		}
	}
	if def.Template == "" && root == nil {
		return fmt.Errorf("%w: <%s>", ErrNoTemplate, tag)
	}

	css, drop, found := s.componentStyle(ctx, tag, root)
	if !found {
		s.report(DiagMissingStylesheet, tag, "repeated component has no stylesheet reference")
		s.log.Error("no stylesheet for repeated component", "tag", tag)
	}

	tpl := protocol.Template{Style: css}
	if def.Template != "" {
		tpl.Template = strings.TrimSpace(def.Template)
	} else {
		c := &capture{s: s}
		for n := root.FirstChild; n != nil; n = n.NextSibling {
			if err := s.visit(ctx, c, n, 1, drop); err != nil {
				return err
			}
		}
		tpl.Template = c.String()
	}

	s.proto.AddTemplate(tag, tpl)
	s.log.Debug("captured component template", "tag", tag, "style_bytes", len(css))
	return nil
}

func (s *Session) text(em emitter, n *html.Node, depth int) {
	text := n.Data
	if s.opts.Pretty {
		text = strings.TrimSpace(text)
	}
	if n.Parent == nil || !rawTextElements[n.Parent.Data] {
		text = textEscaper.Replace(text)
	}
	em.line(depth, text)
}

// openTag writes the opening tag of n without its closing bracket. For a
// when element the remaining inline style is written last with its value
// left open, so the suppression lands inside the one style attribute;
// openStyle reports that the caller must close the quote.
func openTag(n *html.Node, when bool) (tag string, openStyle bool) {
	var b strings.Builder
	b.WriteString("<" + n.Data)
	var style string
	for _, a := range n.Attr {
		key := a.Key
		if a.Namespace != "" {
			key = a.Namespace + ":" + a.Key
		}
		val := a.Val
		if when && key == "style" {
			// Visibility is decided at replay.
			style = dom.StyleWithoutDisplay(val)
			continue
		}
		b.WriteString(" " + key + `="` + attrEscaper.Replace(val) + `"`)
	}
	if style != "" {
		b.WriteString(` style="` + attrEscaper.Replace(style))
		return b.String(), true
	}
	return b.String(), false
}

func closeTag(em emitter, n *html.Node, depth int) {
	if !dom.IsVoid(n.Data) {
		em.line(depth, "</"+n.Data+">")
	}
}

// leafText returns the trimmed text of n and whether n has no element
// children.
func leafText(n *html.Node) (string, bool) {
	if len(dom.Children(n)) > 0 {
		return "", false
	}
	return strings.TrimSpace(dom.TextContent(n)), true
}

func hasClass(n *html.Node, class string) bool {
	v, ok := dom.Attr(n, "class")
	if !ok {
		return false
	}
	for _, c := range strings.Fields(v) {
		if c == class {
			return true
		}
	}
	return false
}
