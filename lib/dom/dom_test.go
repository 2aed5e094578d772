package dom

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

const page = `<!DOCTYPE html><html><head></head><body>
<user-card id="card">
  <template shadowrootmode="open"><h2><slot name="title"></slot></h2><p><slot></slot></p></template>
  <span slot="title">Ada</span>
  plain text
  <em>inline</em>
</user-card>
<div id="panel" style="color: red; display: none">x</div>
</body></html>`

func parsePage(t *testing.T) *html.Node {
	t.Helper()
	doc, err := Parse(strings.NewReader(page))
	require.NoError(t, err)
	return doc
}

func TestQuery(t *testing.T) {
	doc := parsePage(t)

	card := Query(doc, "#card")
	require.NotNil(t, card)
	assert.Equal(t, "user-card", card.Data)

	assert.Same(t, card, Query(doc, "user-card"))
	assert.Nil(t, Query(doc, "#missing"))
}

func TestAttributes(t *testing.T) {
	n := Element("div", "class", "a", "id", "x")

	v, ok := Attr(n, "class")
	assert.True(t, ok)
	assert.Equal(t, "a", v)

	SetAttr(n, "class", "b")
	SetAttr(n, "title", "t")
	v, _ = Attr(n, "class")
	assert.Equal(t, "b", v)
	assert.Len(t, n.Attr, 3)

	RemoveAttr(n, "id")
	assert.False(t, HasAttr(n, "id"))
	assert.Equal(t, "class", n.Attr[0].Key, "attribute order is preserved")
}

func TestTextContent(t *testing.T) {
	n := Element("p")
	n.AppendChild(Text("Hello "))
	b := Element("b")
	b.AppendChild(Text("world"))
	n.AppendChild(b)

	assert.Equal(t, "Hello world", TextContent(n))

	SetTextContent(n, "bye")
	assert.Equal(t, "bye", TextContent(n))
	assert.Same(t, n.FirstChild, n.LastChild)
}

func TestShadowRootAndSlots(t *testing.T) {
	doc := parsePage(t)
	card := Query(doc, "#card")

	root := ShadowRoot(card)
	require.NotNil(t, root)

	named := Find(root, func(n *html.Node) bool {
		v, _ := Attr(n, "name")
		return IsElement(n, "slot") && v == "title"
	})
	require.NotNil(t, named)
	assert.Same(t, card, Host(named))

	assigned := AssignedNodes(named)
	require.Len(t, assigned, 1)
	assert.Equal(t, "Ada", TextContent(assigned[0]))

	def := Find(root, func(n *html.Node) bool {
		return IsElement(n, "slot") && !HasAttr(n, "name")
	})
	require.NotNil(t, def)
	assigned = AssignedNodes(def)
	require.Len(t, assigned, 2)
	assert.Equal(t, "plain text", strings.TrimSpace(assigned[0].Data))
	assert.Equal(t, "em", assigned[1].Data)

	assert.Nil(t, Host(card), "light tree nodes have no host")
}

func TestDisplay(t *testing.T) {
	doc := parsePage(t)
	panel := Query(doc, "#panel")

	assert.Equal(t, "none", Display(panel))

	SetDisplay(panel, "block")
	style, _ := Attr(panel, "style")
	assert.Equal(t, "color: red; display: block;", style)

	SetDisplay(panel, "")
	style, _ = Attr(panel, "style")
	assert.Equal(t, "color: red;", style)

	n := Element("div", "style", "display:none")
	SetDisplay(n, "")
	assert.False(t, HasAttr(n, "style"))
}

func TestStyleWithoutDisplay(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"display: none", ""},
		{"color: red; display:none;", "color: red;"},
		{"DISPLAY: none; margin: 0", "margin: 0;"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StyleWithoutDisplay(tt.in), tt.in)
	}
}

func TestIsVoid(t *testing.T) {
	for _, tag := range []string{"link", "meta", "input", "img", "br", "IMG"} {
		assert.True(t, IsVoid(tag), tag)
	}
	assert.False(t, IsVoid("div"))
}

func TestParseFragmentAndRender(t *testing.T) {
	nodes, err := ParseFragment(`<li>a</li><li>b</li>`, "ul")
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	ul := Element("ul")
	for _, n := range nodes {
		ul.AppendChild(n)
	}
	out, err := Render(ul)
	require.NoError(t, err)
	assert.Equal(t, "<ul><li>a</li><li>b</li></ul>", out)

	inner, err := RenderChildren(ul)
	require.NoError(t, err)
	assert.Equal(t, "<li>a</li><li>b</li>", inner)
}
