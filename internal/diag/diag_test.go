package diag

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plotnik-lang/plotnik-sub003/internal/source"
)

func TestSink_AllSortsByFileThenOffset(t *testing.T) {
	s := NewSink()
	s.Report(Diagnostic{Kind: UnexpectedToken, Primary: Range{File: 1, StartByte: 5}})
	s.Report(Diagnostic{Kind: UnexpectedToken, Primary: Range{File: 0, StartByte: 9}})
	s.Report(Diagnostic{Kind: UnexpectedToken, Primary: Range{File: 0, StartByte: 2}})

	all := s.All()
	require.Len(t, all, 3)
	require.Equal(t, uint32(0), all[0].Primary.File)
	require.Equal(t, uint32(2), all[0].Primary.StartByte)
	require.Equal(t, uint32(9), all[1].Primary.StartByte)
	require.Equal(t, uint32(1), all[2].Primary.File)
}

func TestDedup_SamePositionKeepsRootCause(t *testing.T) {
	in := []Diagnostic{
		{Kind: UnexpectedToken, Primary: Range{File: 0, StartByte: 4}},
		{Kind: ExpectedX, Primary: Range{File: 0, StartByte: 4}},
	}
	out := Dedup(in)
	require.Len(t, out, 1)
	require.Equal(t, UnexpectedToken, out[0].Kind)
}

func TestDedup_ConsequenceSuppressedByEarlierError(t *testing.T) {
	in := []Diagnostic{
		{Kind: UnclosedDelimiter, Primary: Range{File: 0, StartByte: 1}},
		{Kind: DefNameLowercase, Primary: Range{File: 0, StartByte: 8}},
	}
	out := Dedup(in)
	require.Len(t, out, 1)
	require.Equal(t, UnclosedDelimiter, out[0].Kind)

	// Alone, the consequence kind survives.
	out = Dedup(in[1:])
	require.Len(t, out, 1)
	require.Equal(t, DefNameLowercase, out[0].Kind)
}

func TestRender_CaretView(t *testing.T) {
	srcs := source.New()
	srcs.AddText(source.OneLiner, "Q = (identifier @id")

	var buf bytes.Buffer
	Render(&buf, srcs, []Diagnostic{{
		Kind:    UnclosedDelimiter,
		Message: "unclosed '('",
		Primary: Range{File: 0, StartByte: 4, EndByte: 5},
	}}, ColorNever)

	out := buf.String()
	require.Contains(t, out, "error[UnclosedDelimiter]: unclosed '('")
	require.Contains(t, out, "Q = (identifier @id")
	require.True(t, strings.Contains(out, "^"), "caret missing:\n%s", out)
}
