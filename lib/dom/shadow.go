package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// ShadowRoot returns the declarative shadow root template of host, or
// nil.
func ShadowRoot(host *html.Node) *html.Node {
	for c := host.FirstChild; c != nil; c = c.NextSibling {
		if IsShadowRoot(c) {
			return c
		}
	}
	return nil
}

// IsShadowRoot reports whether n is a <template shadowrootmode>.
func IsShadowRoot(n *html.Node) bool {
	return IsElement(n, "template") && HasAttr(n, "shadowrootmode")
}

// Host returns the shadow host whose shadow tree contains n, or nil when
// n is in the light tree.
func Host(n *html.Node) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if IsShadowRoot(p) {
			return p.Parent
		}
	}
	return nil
}

// AssignedNodes returns the light-tree children of the slot's host that
// project into slot. A named slot receives the host children whose slot
// attribute matches. The default slot receives every other child except
// the shadow root and whitespace-only text.
func AssignedNodes(slot *html.Node) []*html.Node {
	host := Host(slot)
	if host == nil {
		return nil
	}
	name, _ := Attr(slot, "name")

	var out []*html.Node
	for c := host.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.ElementNode:
			if IsShadowRoot(c) {
				continue
			}
			if v, _ := Attr(c, "slot"); v == name {
				out = append(out, c)
			}
		case html.TextNode:
			if name == "" && strings.TrimSpace(c.Data) != "" {
				out = append(out, c)
			}
		}
	}
	return out
}

// Declarations splits an inline style into property and value pairs,
// in order. Property names are lower-cased.
func Declarations(style string) [][2]string {
	var out [][2]string
	for _, decl := range strings.Split(style, ";") {
		prop, val, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		prop = strings.ToLower(strings.TrimSpace(prop))
		if prop == "" {
			continue
		}
		out = append(out, [2]string{prop, strings.TrimSpace(val)})
	}
	return out
}

func joinDeclarations(decls [][2]string) string {
	parts := make([]string, len(decls))
	for i, d := range decls {
		parts[i] = d[0] + ": " + d[1]
	}
	if len(parts) == 0 {
		return ""
	}
	return strings.Join(parts, "; ") + ";"
}

// StyleWithoutDisplay returns style with every display declaration
// removed.
func StyleWithoutDisplay(style string) string {
	decls := Declarations(style)
	kept := decls[:0]
	for _, d := range decls {
		if d[0] != "display" {
			kept = append(kept, d)
		}
	}
	return joinDeclarations(kept)
}

// Display returns the inline display value of n.
func Display(n *html.Node) string {
	style, _ := Attr(n, "style")
	display := ""
	for _, d := range Declarations(style) {
		if d[0] == "display" {
			display = d[1]
		}
	}
	return display
}

// SetDisplay sets the inline display of n, keeping its other
// declarations. An empty value removes the display declaration, and the
// style attribute when nothing else is left.
func SetDisplay(n *html.Node, value string) {
	style, _ := Attr(n, "style")
	rest := StyleWithoutDisplay(style)
	if value != "" {
		if rest != "" {
			rest += " "
		}
		rest += "display: " + value + ";"
	}
	if rest == "" {
		RemoveAttr(n, "style")
		return
	}
	SetAttr(n, "style", rest)
}
