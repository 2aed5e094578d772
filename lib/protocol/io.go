package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/pthm/btr/lib/encoding"
)

// Parse decodes a protocol from JSON. Comments and trailing commas are
// accepted so hand-edited protocol files keep working.
func Parse(data []byte) (*Protocol, error) {
	var p Protocol
	if err := json.Unmarshal(jsonc.ToJSON(data), &p); err != nil {
		return nil, fmt.Errorf("protocol: parse: %w", err)
	}
	if p.Templates == nil {
		p.Templates = make(map[string]Template)
	}
	return &p, nil
}

// Load reads and parses the protocol file at path. It does not validate.
func Load(path string) (*Protocol, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("protocol: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Encode writes p as indented JSON. Markup is written without HTML
// escaping so the file stays readable.
func (p *Protocol) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}

// Save writes p to path as JSON.
func (p *Protocol) Save(path string) error {
	var buf bytes.Buffer
	if err := p.Encode(&buf); err != nil {
		return fmt.Errorf("protocol: encode: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// SaveTemplates writes only the template table to path, the companion
// file extraction emits next to the protocol.
func (p *Protocol) SaveTemplates(path string) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p.Templates); err != nil {
		return fmt.Errorf("protocol: encode templates: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// WriteSnapshot writes p as a signed or sealed msgpack snapshot.
func (p *Protocol) WriteSnapshot(w io.Writer, enc *encoding.Encoder, mode encoding.Mode) error {
	s, err := enc.Encode(p, mode)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, s+"\n")
	return err
}

// ReadSnapshot decodes a snapshot written by WriteSnapshot.
func ReadSnapshot(r io.Reader, enc *encoding.Encoder, mode encoding.Mode) (*Protocol, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("protocol: read snapshot: %w", err)
	}
	var p Protocol
	if err := enc.Decode(strings.TrimSpace(string(data)), mode, &p); err != nil {
		return nil, fmt.Errorf("protocol: snapshot: %w", err)
	}
	if p.Templates == nil {
		p.Templates = make(map[string]Template)
	}
	return &p, nil
}

// HeadChunk returns the index of the last raw chunk containing </head>,
// or -1.
func (p *Protocol) HeadChunk() int {
	for i := len(p.Streams) - 1; i >= 0; i-- {
		c := p.Streams[i]
		if c.Type == KindRaw && strings.Contains(c.Value, "</head>") {
			return i
		}
	}
	return -1
}

// PreloadLinks renders one stylesheet preload link per href.
func PreloadLinks(hrefs []string) string {
	links := make([]string, len(hrefs))
	for i, href := range hrefs {
		links[i] = `<link rel="preload" href="` + href + `" as="style">`
	}
	return strings.Join(links, "\n  ")
}

// InsertPreload splices stylesheet preload links for hrefs immediately
// before </head>. It reports false, leaving p unchanged, when no raw
// chunk contains </head>.
func (p *Protocol) InsertPreload(hrefs []string) bool {
	if len(hrefs) == 0 {
		return true
	}
	i := p.HeadChunk()
	if i < 0 {
		return false
	}
	p.Streams[i].Value = SpliceBeforeHead(p.Streams[i].Value, PreloadLinks(hrefs))
	return true
}

// SpliceBeforeHead inserts markup and a newline before the first </head>
// in s. s is returned unchanged when it has no </head>.
func SpliceBeforeHead(s, markup string) string {
	at := strings.Index(s, "</head>")
	if at < 0 {
		return s
	}
	return s[:at] + markup + "\n" + s[at:]
}
