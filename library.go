package btr

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pthm/btr/lib/extract"
)

// Library is a set of component descriptors keyed by tag. It satisfies
// extract.Definitions, so extraction can take repeat templates from the
// library instead of from rendered instances.
//
// A Library is safe for concurrent use.
type Library struct {
	mu    sync.RWMutex
	descs map[string]Descriptor
}

// NewLibrary creates a library holding descs.
func NewLibrary(descs ...Descriptor) (*Library, error) {
	lib := &Library{descs: make(map[string]Descriptor)}
	for _, d := range descs {
		if err := lib.Define(d); err != nil {
			return nil, err
		}
	}
	return lib, nil
}

// Define adds d to the library. A tag can be defined once.
func (lib *Library) Define(d Descriptor) error {
	if err := d.validate(); err != nil {
		return err
	}

	lib.mu.Lock()
	defer lib.mu.Unlock()

	if lib.descs == nil {
		lib.descs = make(map[string]Descriptor)
	}
	if _, exists := lib.descs[d.Tag]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTag, d.Tag)
	}
	lib.descs[d.Tag] = d
	return nil
}

// MustDefine is like Define but panics on error.
func (lib *Library) MustDefine(d Descriptor) {
	if err := lib.Define(d); err != nil {
		panic(err)
	}
}

// Lookup returns the descriptor defined for tag.
func (lib *Library) Lookup(tag string) (Descriptor, bool) {
	lib.mu.RLock()
	defer lib.mu.RUnlock()
	d, ok := lib.descs[tag]
	return d, ok
}

// Definition implements extract.Definitions.
func (lib *Library) Definition(tag string) (extract.Definition, bool) {
	d, ok := lib.Lookup(tag)
	if !ok {
		return extract.Definition{}, false
	}
	return d.Definition(), true
}

// Attach sets the fields and behaviors of the component defined for tag.
func (lib *Library) Attach(tag string, fields map[string]any, b Behaviors) error {
	lib.mu.Lock()
	defer lib.mu.Unlock()

	d, ok := lib.descs[tag]
	if !ok {
		return fmt.Errorf("%w: component %s", ErrNotFound, tag)
	}
	d.Fields = fields
	d.Behaviors = b
	if err := d.validate(); err != nil {
		return err
	}
	lib.descs[tag] = d
	return nil
}

// Tags returns the defined tags in sorted order.
func (lib *Library) Tags() []string {
	lib.mu.RLock()
	defer lib.mu.RUnlock()

	tags := make([]string, 0, len(lib.descs))
	for tag := range lib.descs {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Instantiate creates a component for the descriptor defined for tag.
func (lib *Library) Instantiate(tag string, opts ...ComponentOption) (*Component, error) {
	d, ok := lib.Lookup(tag)
	if !ok {
		return nil, fmt.Errorf("%w: component %s", ErrNotFound, tag)
	}
	return New(d, opts...), nil
}

// LoadLibrary defines one component per <tag>.html file in dir. A
// sibling <tag>.css file becomes the component's style. Only names that
// contain a hyphen are considered, as with custom element names.
// Fields and behaviors are not part of the files; add them with Attach.
func LoadLibrary(dir string) (*Library, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("btr: load library: %w", err)
	}

	lib := &Library{descs: make(map[string]Descriptor)}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".html" {
			continue
		}
		tag := strings.TrimSuffix(name, ".html")
		if !strings.Contains(tag, "-") {
			continue
		}

		markup, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("btr: load library: %w", err)
		}
		style, err := os.ReadFile(filepath.Join(dir, tag+".css"))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("btr: load library: %w", err)
		}

		d := Descriptor{
			Tag:      tag,
			Template: strings.TrimSpace(string(markup)),
			Style:    strings.TrimSpace(string(style)),
		}
		if err := lib.Define(d); err != nil {
			return nil, err
		}
	}
	return lib, nil
}
