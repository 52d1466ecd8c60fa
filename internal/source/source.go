// Package source holds the session-wide inputs to a Plotnik compilation:
// the set of query sources being compiled together and the string interner
// shared by every later stage.
package source

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// ID identifies one source file (or one-liner / stdin buffer) within a Map.
// IDs are assigned in insertion order starting at 0.
type ID uint32

// Kind classifies where a source's text came from.
type Kind int

const (
	// OneLiner is a query passed directly as a string (e.g. -q on the CLI).
	OneLiner Kind = iota
	// Stdin is a query read from standard input.
	Stdin
	// File is a query loaded from a path on disk.
	File
)

func (k Kind) String() string {
	switch k {
	case OneLiner:
		return "one-liner"
	case Stdin:
		return "stdin"
	case File:
		return "file"
	default:
		return "unknown"
	}
}

// Entry is one source registered in a Map.
type Entry struct {
	ID   ID
	Kind Kind
	Path string // empty unless Kind == File
	Text string
}

// Map is the ordered, read-only-after-construction collection of sources for
// one compilation session.
type Map struct {
	entries []Entry
}

// New returns an empty Map.
func New() *Map {
	return &Map{}
}

// AddText registers a one-liner or stdin buffer and returns its ID.
func (m *Map) AddText(kind Kind, text string) ID {
	id := ID(len(m.entries))
	m.entries = append(m.entries, Entry{ID: id, Kind: kind, Text: text})
	return id
}

// AddFile reads path and registers its contents, returning the new ID.
func (m *Map) AddFile(path string) (ID, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("source: reading %s: %w", path, err)
	}
	id := ID(len(m.entries))
	m.entries = append(m.entries, Entry{ID: id, Kind: File, Path: path, Text: string(b)})
	return id, nil
}

// AddGlob expands pattern relative to root (a doublestar pattern, e.g.
// "**/*.ptk") and adds every matching file in deterministic (sorted) order.
func (m *Map) AddGlob(root, pattern string) ([]ID, error) {
	fsys := os.DirFS(root)
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("source: glob %q: %w", pattern, err)
	}
	ids := make([]ID, 0, len(matches))
	for _, rel := range matches {
		id, err := m.AddFile(filepath.Join(root, rel))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Get returns the entry for id. Panics on an out-of-range id: callers only
// ever hold ids this Map itself issued.
func (m *Map) Get(id ID) Entry {
	return m.entries[id]
}

// Len returns the number of registered sources.
func (m *Map) Len() int {
	return len(m.entries)
}

// All returns every entry in insertion order. The returned slice must not be
// mutated by callers.
func (m *Map) All() []Entry {
	return m.entries
}
