package extract

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"

	"github.com/pthm/btr/lib/dom"
)

// FileReader reads an application file as lines. Paths are relative to
// the application root and use forward slashes ("./todo-item.css").
type FileReader interface {
	ReadFile(ctx context.Context, path string) ([]string, error)
}

// FileReaderFunc adapts a function to FileReader.
type FileReaderFunc func(ctx context.Context, path string) ([]string, error)

// ReadFile implements FileReader.
func (f FileReaderFunc) ReadFile(ctx context.Context, path string) ([]string, error) {
	return f(ctx, path)
}

// DirReader reads files below Dir. Content is trimmed before it is split
// into lines; an empty file has no lines.
type DirReader struct {
	Dir string
}

// ReadFile implements FileReader.
func (r DirReader) ReadFile(ctx context.Context, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(r.Dir, filepath.FromSlash(path)))
	if err != nil {
		return nil, err
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return nil, nil
	}
	return strings.Split(content, "\n"), nil
}

// StylesheetPath returns the file path of a stylesheet module.
func StylesheetPath(module string) string {
	return "./" + module + ".css"
}

func (s *Session) definition(tag string) (Definition, bool) {
	if s.opts.Definitions == nil || tag == "" {
		return Definition{}, false
	}
	return s.opts.Definitions.Definition(tag)
}

// componentStyle resolves the stylesheet of component tag whose shadow
// root is root (nil when unknown). css is the stylesheet to inline, drop
// the link href it replaces, and found whether the component references
// a stylesheet at all.
func (s *Session) componentStyle(ctx context.Context, tag string, root *html.Node) (css, drop string, found bool) {
	def, _ := s.definition(tag)
	module := def.Module
	if module == "" && root != nil {
		module = moduleLink(root)
	}

	if def.Style != "" {
		if module != "" {
			drop = StylesheetPath(module)
		}
		return def.Style, drop, true
	}
	if module == "" {
		return "", "", false
	}
	css, drop = s.moduleStyle(ctx, module)
	return css, drop, true
}

// moduleStyle reads the stylesheet of module, or queues it for preload
// in LinkCSS mode.
func (s *Session) moduleStyle(ctx context.Context, module string) (css, drop string) {
	path := StylesheetPath(module)
	if s.opts.LinkCSS {
		s.addPreload(path)
		return "", ""
	}
	if css = s.readStylesheet(ctx, path); css == "" {
		return "", ""
	}
	return css, path
}

// readStylesheet returns the trimmed lines of path joined by newlines.
// Results are cached for the session; failures are reported and yield
// no stylesheet.
func (s *Session) readStylesheet(ctx context.Context, path string) string {
	if css, ok := s.css[path]; ok {
		return css
	}
	if s.opts.Reader == nil {
		s.report(DiagStylesheetRead, path, "no file reader configured")
		return ""
	}

	lines, err := s.opts.Reader.ReadFile(ctx, path)
	if err != nil {
		s.report(DiagStylesheetRead, path, err.Error())
		s.log.Error("reading stylesheet", "path", path, "error", err)
		return ""
	}
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	css := strings.Join(lines, "\n")
	s.css[path] = css
	return css
}

func (s *Session) addPreload(path string) {
	if s.preSeen[path] {
		return
	}
	s.preSeen[path] = true
	s.preload = append(s.preload, path)
}

// moduleLink finds a ./<module>.css stylesheet link in a shadow tree,
// without entering nested shadow roots, and returns the module name.
func moduleLink(root *html.Node) string {
	var module string
	for c := root.FirstChild; c != nil && module == ""; c = c.NextSibling {
		dom.Walk(c, func(n *html.Node) bool {
			if module != "" || dom.IsShadowRoot(n) {
				return false
			}
			if !isStylesheetLink(n, "") {
				return true
			}
			href, _ := dom.Attr(n, "href")
			if name, ok := strings.CutPrefix(href, "./"); ok && strings.HasSuffix(name, ".css") && !strings.Contains(name, "/") {
				module = strings.TrimSuffix(name, ".css")
			}
			return false
		})
	}
	return module
}

// isStylesheetLink reports whether n is <link rel="stylesheet">, with
// the given href when href is not empty.
func isStylesheetLink(n *html.Node, href string) bool {
	if !dom.IsElement(n, "link") {
		return false
	}
	if rel, _ := dom.Attr(n, "rel"); !strings.EqualFold(rel, "stylesheet") {
		return false
	}
	if href == "" {
		return true
	}
	v, _ := dom.Attr(n, "href")
	return v == href
}
