package grammar

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testLang(t *testing.T) *StaticLang {
	t.Helper()
	return NewStaticLang("testlang",
		[]string{"program", "identifier", "number", "comment", "call"},
		[]string{"function", "arguments"},
		[]string{"comment"},
	)
}

// buildSample builds:
//
//	program
//	├── identifier "a"
//	├── comment "#c"
//	└── call
//	    ├── identifier "f"  (field function)
//	    └── number "1"      (field arguments)
func buildSample(t *testing.T) *Tree {
	t.Helper()
	lang := testLang(t)
	tree, err := NewTreeBuilder(lang, []byte("a #c f(1)")).
		Enter("program", "", 0, 9, true).
		Leaf("identifier", "", 0, 1, true).
		Leaf("comment", "", 2, 4, false).
		Enter("call", "", 5, 9, true).
		Leaf("identifier", "function", 5, 6, true).
		Leaf("number", "arguments", 7, 8, true).
		Leave().
		Leave().
		Build()
	require.NoError(t, err)
	return tree
}

func TestTreeBuilder_Links(t *testing.T) {
	tree := buildSample(t)
	require.Equal(t, 6, tree.Len())

	root := tree.Nodes[0]
	require.Equal(t, int32(-1), root.Parent)
	require.Equal(t, int32(1), root.FirstChild)

	// identifier -> comment -> call sibling chain.
	require.Equal(t, int32(2), tree.Nodes[1].NextSibling)
	require.Equal(t, int32(3), tree.Nodes[2].NextSibling)
	require.Equal(t, int32(-1), tree.Nodes[3].NextSibling)

	// call's children carry their field ids.
	lang := tree.Provider
	fn, ok := lang.FieldID("function")
	require.True(t, ok)
	require.Equal(t, fn, tree.Nodes[4].Field)

	require.Equal(t, "a", string(tree.Text(1)))
	require.Equal(t, "1", string(tree.Text(5)))
}

func TestCursor_DescendantRoundTrip(t *testing.T) {
	tree := buildSample(t)
	c := NewCursor(tree)

	// Walk depth-first and check GotoDescendant(DescendantIndex()) is the
	// identity at every reachable position.
	var walk func()
	walk = func() {
		idx := c.DescendantIndex()
		node := c.Node()
		c.GotoDescendant(idx)
		require.Equal(t, node, c.Node())

		if c.GotoFirstChild() {
			for {
				walk()
				if !c.GotoNextSibling() {
					break
				}
			}
			require.True(t, c.GotoParent())
			require.Equal(t, idx, c.DescendantIndex())
		}
	}
	walk()
}

func TestCursor_DepthTracking(t *testing.T) {
	tree := buildSample(t)
	c := NewCursor(tree)
	require.Equal(t, int32(0), c.Depth())
	require.True(t, c.GotoFirstChild())
	require.Equal(t, int32(1), c.Depth())
	c.GotoDescendant(4) // identifier "f" inside call
	require.Equal(t, int32(2), c.Depth())
}

func TestTree_TriviaClassification(t *testing.T) {
	tree := buildSample(t)
	require.False(t, tree.IsTrivia(1)) // identifier
	require.True(t, tree.IsTrivia(2))  // comment
}

func TestCursor_HasLaterSibling(t *testing.T) {
	tree := buildSample(t)
	c := NewCursor(tree)
	c.GotoDescendant(1) // identifier "a": later siblings are comment, call
	require.True(t, c.HasLaterSibling(false))
	require.True(t, c.HasLaterSibling(true)) // call is non-trivia

	c.GotoDescendant(2) // comment: only call follows
	require.True(t, c.HasLaterSibling(true))

	c.GotoDescendant(5) // number "1": last child
	require.False(t, c.HasLaterSibling(false))
}

func TestStaticLang_Lookups(t *testing.T) {
	lang := testLang(t)
	id, ok := lang.KindID("identifier")
	require.True(t, ok)
	require.Equal(t, "identifier", lang.KindName(id))

	_, ok = lang.KindID("nope")
	require.False(t, ok)

	fid, ok := lang.FieldID("arguments")
	require.True(t, ok)
	require.NotEqual(t, NoField, fid)
	require.Equal(t, "arguments", lang.FieldName(fid))
}

func TestTreeBuilder_Errors(t *testing.T) {
	lang := testLang(t)
	_, err := NewTreeBuilder(lang, nil).Enter("program", "", 0, 0, true).Build()
	require.Error(t, err)

	_, err = NewTreeBuilder(lang, nil).Leaf("nope", "", 0, 0, true).Build()
	require.Error(t, err)
}
