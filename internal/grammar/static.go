package grammar

import (
	"context"
	"fmt"
)

// StaticLang is a Provider backed by explicit kind/field tables instead of a
// compiled tree-sitter grammar. It serves two roles: the closed-world
// provider the linker's UnknownKind/UnknownField checks are exercised
// against, and the fixture provider the engine's end-to-end tests build
// hand-shaped trees with.
type StaticLang struct {
	name    string
	version string
	kinds   []string
	kindID  map[string]uint16
	fields  []string // fields[0] is the reserved "" for NoField
	fieldID map[string]uint16
	trivia  []string
}

// NewStaticLang returns a provider with the given kind, field, and trivia
// name tables. Kind ids are assigned in slice order; field ids from 1.
func NewStaticLang(name string, kinds, fields, trivia []string) *StaticLang {
	l := &StaticLang{
		name:    name,
		version: "static-1",
		kinds:   kinds,
		kindID:  make(map[string]uint16, len(kinds)),
		fields:  []string{""},
		fieldID: make(map[string]uint16, len(fields)),
		trivia:  trivia,
	}
	for i, k := range kinds {
		l.kindID[k] = uint16(i)
	}
	for _, f := range fields {
		l.fieldID[f] = uint16(len(l.fields))
		l.fields = append(l.fields, f)
	}
	return l
}

func (l *StaticLang) Name() string    { return l.name }
func (l *StaticLang) Version() string { return l.version }

func (l *StaticLang) KindID(name string) (uint16, bool) {
	id, ok := l.kindID[name]
	return id, ok
}

func (l *StaticLang) KindName(id uint16) string {
	if int(id) >= len(l.kinds) {
		return ""
	}
	return l.kinds[id]
}

func (l *StaticLang) FieldID(name string) (uint16, bool) {
	id, ok := l.fieldID[name]
	return id, ok
}

func (l *StaticLang) FieldName(id uint16) string {
	if int(id) >= len(l.fields) {
		return ""
	}
	return l.fields[id]
}

func (l *StaticLang) TriviaKinds() []string { return l.trivia }

// Parse is not supported for a static language; trees are built with a
// TreeBuilder instead.
func (l *StaticLang) Parse(context.Context, []byte) (*Tree, error) {
	return nil, fmt.Errorf("grammar: static language %q cannot parse; build a tree explicitly", l.name)
}

// TreeBuilder assembles a flattened Tree node by node in pre-order. Enter
// descends into a new node, Leave closes it; the builder tracks parent and
// sibling links.
type TreeBuilder struct {
	lang  *StaticLang
	src   []byte
	nodes []Node
	stack []int32 // open node indices
	last  []int32 // last closed child per open node, parallel to stack
	err   error
}

// NewTreeBuilder starts a tree over src for lang.
func NewTreeBuilder(lang *StaticLang, src []byte) *TreeBuilder {
	return &TreeBuilder{lang: lang, src: src}
}

// Enter opens a node of the given kind name spanning [start, end) source
// bytes, optionally in a field of its parent (field == "" for none).
func (b *TreeBuilder) Enter(kind, field string, start, end uint32, named bool) *TreeBuilder {
	if b.err != nil {
		return b
	}
	kindID, ok := b.lang.KindID(kind)
	if !ok {
		b.err = fmt.Errorf("grammar: unknown kind %q", kind)
		return b
	}
	fieldID := NoField
	if field != "" {
		fieldID, ok = b.lang.FieldID(field)
		if !ok {
			b.err = fmt.Errorf("grammar: unknown field %q", field)
			return b
		}
	}
	idx := int32(len(b.nodes))
	n := Node{
		Kind: kindID, Field: fieldID, Named: named,
		StartByte: start, EndByte: end,
		Parent: -1, FirstChild: -1, NextSibling: -1,
	}
	if len(b.stack) > 0 {
		parent := b.stack[len(b.stack)-1]
		n.Parent = parent
		n.Depth = b.nodes[parent].Depth + 1
		if prev := b.last[len(b.last)-1]; prev >= 0 {
			b.nodes[prev].NextSibling = idx
		} else {
			b.nodes[parent].FirstChild = idx
		}
		b.last[len(b.last)-1] = idx
	}
	b.nodes = append(b.nodes, n)
	b.stack = append(b.stack, idx)
	b.last = append(b.last, -1)
	return b
}

// Leaf is Enter immediately followed by Leave.
func (b *TreeBuilder) Leaf(kind, field string, start, end uint32, named bool) *TreeBuilder {
	return b.Enter(kind, field, start, end, named).Leave()
}

// Leave closes the most recently opened node.
func (b *TreeBuilder) Leave() *TreeBuilder {
	if b.err != nil {
		return b
	}
	if len(b.stack) == 0 {
		b.err = fmt.Errorf("grammar: Leave without a matching Enter")
		return b
	}
	b.stack = b.stack[:len(b.stack)-1]
	b.last = b.last[:len(b.last)-1]
	return b
}

// Build finalizes the tree. Every Enter must have been closed.
func (b *TreeBuilder) Build() (*Tree, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.stack) != 0 {
		return nil, fmt.Errorf("grammar: %d nodes left open", len(b.stack))
	}
	if len(b.nodes) == 0 {
		return nil, fmt.Errorf("grammar: empty tree")
	}
	t := &Tree{Provider: b.lang, Src: b.src, Nodes: b.nodes}
	var triviaIDs []uint16
	for _, name := range b.lang.TriviaKinds() {
		if id, ok := b.lang.KindID(name); ok {
			triviaIDs = append(triviaIDs, id)
		}
	}
	t.SetTrivia(triviaIDs)
	return t, nil
}
