package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plotnik-lang/plotnik-sub003/internal/ir"
)

func TestFormatType(t *testing.T) {
	tc := ir.NewTypeContext()
	node := tc.Scalar(ir.Node)
	str := tc.Scalar(ir.String)
	opt := tc.Wrap(ir.Optional, node)
	arr := tc.Wrap(ir.ArrayStar, str)
	obj := tc.StructType([]ir.Member{
		{Name: "x", Type: node},
		{Name: "tail", Type: opt},
		{Name: "names", Type: arr},
	})
	enum := tc.EnumType([]ir.Member{
		{Name: "Lit", Type: str},
		{Name: "Rec", Type: obj},
	})

	require.Equal(t, "node", formatType(tc, node, nil))
	require.Equal(t, "node?", formatType(tc, opt, nil))
	require.Equal(t, "[string]*", formatType(tc, arr, nil))
	require.Equal(t, "{x: node, tail: node?, names: [string]*}", formatType(tc, obj, nil))
	require.Equal(t, "[Lit(string) | Rec({x: node, tail: node?, names: [string]*})]", formatType(tc, enum, nil))
}

func TestFormatType_RecursiveGuard(t *testing.T) {
	tc := ir.NewTypeContext()
	id := tc.Reserve()
	tc.Seal(id, ir.Shape{Kind: ir.Struct, Members: []ir.Member{{Name: "self", Type: id}}})
	out := formatType(tc, id, nil)
	require.Contains(t, out, "recursive")
}

func TestRootCommand_HasAllSubcommands(t *testing.T) {
	root := newRootCmd()
	want := []string{"tree", "check", "dump", "infer", "exec", "trace", "langs"}
	have := map[string]bool{}
	for _, c := range root.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		require.True(t, have[name], "missing subcommand %q", name)
	}
}
