package syntax

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plotnik-lang/plotnik-sub003/internal/ast"
	"github.com/plotnik-lang/plotnik-sub003/internal/diag"
)

func parseOne(t *testing.T, text string) (*ast.File, *diag.Sink) {
	t.Helper()
	sink := diag.NewSink()
	f, _ := Parse(0, text, sink, DefaultBudget)
	return f, sink
}

func requireClean(t *testing.T, sink *diag.Sink) {
	t.Helper()
	require.False(t, sink.HasErrors(), "unexpected diagnostics: %+v", sink.Raw())
}

func TestParse_DefinitionWithCapture(t *testing.T) {
	f, sink := parseOne(t, `Q = (identifier) @id`)
	requireClean(t, sink)
	require.Len(t, f.Defs, 1)
	require.Equal(t, "Q", f.Defs[0].Name)

	cap, ok := f.Defs[0].Body.(ast.Capture)
	require.True(t, ok)
	require.Equal(t, "id", cap.Name)
	require.False(t, cap.AsString)

	node, ok := cap.Inner.(ast.NamedNode)
	require.True(t, ok)
	require.Equal(t, "identifier", node.Kind)
	require.Empty(t, node.Children)
}

func TestParse_TreeWithFieldsAndNegation(t *testing.T) {
	f, sink := parseOne(t, `Q = (call function: (identifier) !arguments)`)
	requireClean(t, sink)

	node := f.Defs[0].Body.(ast.NamedNode)
	require.Equal(t, "call", node.Kind)
	require.Len(t, node.Children, 2)

	field, ok := node.Children[0].(ast.Field)
	require.True(t, ok)
	require.Equal(t, "function", field.Name)

	neg, ok := node.Children[1].(ast.NegatedField)
	require.True(t, ok)
	require.Equal(t, "arguments", neg.Name)
}

func TestParse_Quantifiers(t *testing.T) {
	cases := []struct {
		text string
		want ast.QuantKind
	}{
		{`Q = (a)*`, ast.QuantStar},
		{`Q = (a)+`, ast.QuantPlus},
		{`Q = (a)?`, ast.QuantOpt},
		{`Q = (a)*?`, ast.QuantStarLazy},
		{`Q = (a)+?`, ast.QuantPlusLazy},
		{`Q = (a)??`, ast.QuantOptLazy},
	}
	for _, tc := range cases {
		f, sink := parseOne(t, tc.text)
		requireClean(t, sink)
		q, ok := f.Defs[0].Body.(ast.Quantified)
		require.True(t, ok, tc.text)
		require.Equal(t, tc.want, q.Quant, tc.text)
	}
}

func TestParse_TaggedAndUntaggedAlternation(t *testing.T) {
	f, sink := parseOne(t, `Q = [A: (identifier) @x  B: (number) @y]`)
	requireClean(t, sink)
	alt := f.Defs[0].Body.(ast.Alt)
	require.Len(t, alt.Branches, 2)
	require.Equal(t, "A", alt.Branches[0].Label)
	require.Equal(t, "B", alt.Branches[1].Label)

	f, sink = parseOne(t, `Q = [(identifier) @x (number) @y]`)
	requireClean(t, sink)
	alt = f.Defs[0].Body.(ast.Alt)
	require.Len(t, alt.Branches, 2)
	require.Empty(t, alt.Branches[0].Label)
	require.Empty(t, alt.Branches[1].Label)
}

func TestParse_LowercaseAltLabelIsFieldConstraint(t *testing.T) {
	f, sink := parseOne(t, `Q = [left: (identifier)]`)
	requireClean(t, sink)
	alt := f.Defs[0].Body.(ast.Alt)
	require.Len(t, alt.Branches, 1)
	require.Empty(t, alt.Branches[0].Label)
	field, ok := alt.Branches[0].Body.(ast.Field)
	require.True(t, ok)
	require.Equal(t, "left", field.Name)
}

func TestParse_SequenceWithAnchors(t *testing.T) {
	f, sink := parseOne(t, `Q = {. (a) (b) .}`)
	requireClean(t, sink)
	seq := f.Defs[0].Body.(ast.Seq)
	require.True(t, seq.Leading)
	require.True(t, seq.Trailing)
	require.Len(t, seq.Items, 4) // anchors included as items
}

func TestParse_WildcardAndAnonymous(t *testing.T) {
	f, sink := parseOne(t, `Q = (call _ "+")`)
	requireClean(t, sink)
	node := f.Defs[0].Body.(ast.NamedNode)
	require.Len(t, node.Children, 2)
	_, ok := node.Children[0].(ast.Wildcard)
	require.True(t, ok)
	anon, ok := node.Children[1].(ast.AnonymousNode)
	require.True(t, ok)
	require.Equal(t, "+", anon.Literal)
}

func TestParse_RegexPredicate(t *testing.T) {
	f, sink := parseOne(t, `Q = (identifier) @id ~ /^_.*/`)
	requireClean(t, sink)
	pred, ok := f.Defs[0].Body.(ast.Predicated)
	require.True(t, ok)
	require.Equal(t, "^_.*", pred.Predicate.Pattern)
	_, ok = pred.Inner.(ast.Capture)
	require.True(t, ok)
}

func TestParse_StringCoercionAndTypeName(t *testing.T) {
	f, sink := parseOne(t, `Q = (number) @v :: string`)
	requireClean(t, sink)
	cap := f.Defs[0].Body.(ast.Capture)
	require.True(t, cap.AsString)
	require.Empty(t, cap.TypeName)

	f, sink = parseOne(t, `Q = (call) @c :: CallInfo`)
	requireClean(t, sink)
	cap = f.Defs[0].Body.(ast.Capture)
	require.False(t, cap.AsString)
	require.Equal(t, "CallInfo", cap.TypeName)
}

func TestParse_HostPredicateReported(t *testing.T) {
	_, sink := parseOne(t, `Q = (identifier) @id #eq? @id "x"`)
	require.True(t, sink.HasErrors())
	require.Equal(t, diag.UnsupportedHostPredicate, sink.Raw()[0].Kind)
}

func TestParse_DiagnosticsForBadNames(t *testing.T) {
	cases := []struct {
		text string
		want diag.Kind
	}{
		{`q = (a)`, diag.DefNameLowercase},
		{`Q = (a) @x.y`, diag.CaptureNameHasDots},
		{`Q = (a) @x-y`, diag.CaptureNameHasHyphens},
		{`Q = (a) @Xy`, diag.CaptureNameHasUppercase},
		{`Q = (a`, diag.UnclosedDelimiter},
		{`Q = (a) ~ //`, diag.EmptyRegex},
	}
	for _, tc := range cases {
		_, sink := parseOne(t, tc.text)
		require.True(t, sink.HasErrors(), tc.text)
		found := false
		for _, d := range sink.Raw() {
			if d.Kind == tc.want {
				found = true
			}
		}
		require.True(t, found, "want %s for %q, got %+v", tc.want, tc.text, sink.Raw())
	}
}

func TestParse_RecoversAndKeepsGoing(t *testing.T) {
	f, sink := parseOne(t, "Q = (a) )))\nR = (b)")
	require.True(t, sink.HasErrors())
	// Both definitions survive recovery.
	names := []string{}
	for _, d := range f.Defs {
		if d.Name != "" {
			names = append(names, d.Name)
		}
	}
	require.Contains(t, names, "Q")
	require.Contains(t, names, "R")
}

func TestParse_DepthBudget(t *testing.T) {
	deep := ""
	for i := 0; i < 64; i++ {
		deep += "(a "
	}
	for i := 0; i < 64; i++ {
		deep += ")"
	}
	sink := diag.NewSink()
	Parse(0, "Q = "+deep, sink, Budget{MaxDepth: 8, MaxTokens: 10_000})
	require.True(t, sink.HasErrors())
	found := false
	for _, d := range sink.Raw() {
		if d.Kind == diag.RecursionLimitExceeded {
			found = true
		}
	}
	require.True(t, found)
}

func TestLexer_WildcardVersusIdentifier(t *testing.T) {
	lex := NewLexer("_ _foo")
	tok := lex.Next()
	require.Equal(t, TokUnderscore, tok.Kind)
	tok = lex.Next()
	require.Equal(t, TokIdent, tok.Kind)
	require.Equal(t, "_foo", tok.Text)
}

func TestLexer_CommentsAreTrivia(t *testing.T) {
	lex := NewLexer("# a comment\n(")
	tok := lex.Next()
	require.Equal(t, TokLParen, tok.Kind)
}
