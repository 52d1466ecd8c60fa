// Package grammar is the read-only tree-provider service the rest of the
// pipeline consumes: node-kind and field name→id lookup for the linker,
// trivia classification, and parsed source trees flattened into a
// pre-order snapshot whose indices double as
// the O(1) cursor checkpoints the engine needs.
package grammar

import "context"

// NoField is the field id of a node that sits in no field of its parent.
const NoField uint16 = 0

// Provider is one language's grammar service.
type Provider interface {
	// Name is the language's registry name ("go", "javascript",...).
	Name() string
	// Version identifies the grammar revision, used as part of the
	// compiled-module cache key.
	Version() string
	// KindID resolves a node-kind name to its numeric id.
	KindID(name string) (uint16, bool)
	// KindName recovers a node-kind name from its id.
	KindName(id uint16) string
	// FieldID resolves a field name to its numeric id (never NoField).
	FieldID(name string) (uint16, bool)
	// FieldName recovers a field name from its id.
	FieldName(id uint16) string
	// TriviaKinds lists the node-kind names the grammar declares
	// insignificant (comments and the like); navigation may skip them.
	TriviaKinds() []string
	// Parse parses src into a flattened snapshot tree.
	Parse(ctx context.Context, src []byte) (*Tree, error)
}

// Node is one flattened tree node. Child/sibling/parent links are indices
// into the owning Tree's Nodes slice; -1 means absent.
type Node struct {
	Kind        uint16
	Field       uint16 // NoField when the node sits in no field
	Named       bool
	StartByte   uint32
	EndByte     uint32
	Parent      int32
	FirstChild  int32
	NextSibling int32
	Depth       int32
}

// Tree is an immutable pre-order snapshot of a parsed source file. The index
// of a node in Nodes is its descendant index.
type Tree struct {
	Provider Provider
	Src      []byte
	Nodes    []Node
	trivia   map[uint16]bool
}

// Len returns the number of nodes.
func (t *Tree) Len() int { return len(t.Nodes) }

// Text returns the source bytes a node spans.
func (t *Tree) Text(i int32) []byte {
	n := &t.Nodes[i]
	return t.Src[n.StartByte:n.EndByte]
}

// IsTrivia reports whether node i's kind is one of the grammar's trivia
// kinds.
func (t *Tree) IsTrivia(i int32) bool {
	return t.trivia[t.Nodes[i].Kind]
}

// SetTrivia records the trivia kind-id set used by IsTrivia. Adapters call
// it once at build time.
func (t *Tree) SetTrivia(kinds []uint16) {
	t.trivia = make(map[uint16]bool, len(kinds))
	for _, k := range kinds {
		t.trivia[k] = true
	}
}

// Cursor is a stateful pointer into a Tree with depth-first navigation and
// O(1) checkpointing. The zero cursor for a tree sits on the root.
type Cursor struct {
	Tree *Tree
	pos  int32
}

// NewCursor returns a cursor positioned on t's root.
func NewCursor(t *Tree) *Cursor {
	return &Cursor{Tree: t}
}

// DescendantIndex returns the pre-order index of the current node, usable
// with GotoDescendant as a save/restore token.
func (c *Cursor) DescendantIndex() int32 { return c.pos }

// GotoDescendant repositions the cursor onto the node with the given
// pre-order index.
func (c *Cursor) GotoDescendant(i int32) { c.pos = i }

// Node returns the current node.
func (c *Cursor) Node() *Node { return &c.Tree.Nodes[c.pos] }

// GotoFirstChild moves to the current node's first child, reporting whether
// one exists.
func (c *Cursor) GotoFirstChild() bool {
	if fc := c.Node().FirstChild; fc >= 0 {
		c.pos = fc
		return true
	}
	return false
}

// GotoNextSibling moves to the current node's next sibling, reporting
// whether one exists.
func (c *Cursor) GotoNextSibling() bool {
	if ns := c.Node().NextSibling; ns >= 0 {
		c.pos = ns
		return true
	}
	return false
}

// GotoParent moves to the current node's parent, reporting whether the
// cursor was not already on the root.
func (c *Cursor) GotoParent() bool {
	if p := c.Node().Parent; p >= 0 {
		c.pos = p
		return true
	}
	return false
}

// Depth returns the current node's depth (root = 0).
func (c *Cursor) Depth() int32 { return c.Node().Depth }

// HasLaterSibling reports whether any sibling follows the current node.
// With skipTrivia set, trivia siblings are ignored, which is the
// UpSkipTrivia navigation's condition; UpExact uses the unrestricted form.
func (c *Cursor) HasLaterSibling(skipTrivia bool) bool {
	for ns := c.Node().NextSibling; ns >= 0; ns = c.Tree.Nodes[ns].NextSibling {
		if !skipTrivia || !c.Tree.IsTrivia(ns) {
			return true
		}
	}
	return false
}
