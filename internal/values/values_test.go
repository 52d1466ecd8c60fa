package values

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plotnik-lang/plotnik-sub003/internal/ir"
)

func TestEncodeJSON_ObjectOrderPreserved(t *testing.T) {
	v := Object{
		{Name: "z", V: String("1")},
		{Name: "a", V: Null{}},
		{Name: "m", V: Array{String("x")}},
	}
	b, err := EncodeJSON(v, RenderOptions{Compact: true})
	require.NoError(t, err)
	require.Equal(t, `{"z":"1","a":null,"m":["x"]}`, string(b))
}

func TestEncodeJSON_TaggedShape(t *testing.T) {
	v := Tagged{Tag: "B", Data: Object{{Name: "y", V: String("42")}}}
	b, err := EncodeJSON(v, RenderOptions{Compact: true})
	require.NoError(t, err)
	require.Equal(t, `{"$tag":"B","$data":{"y":"42"}}`, string(b))
}

func TestEncodeJSON_NodeRendering(t *testing.T) {
	n := Node{Kind: "identifier", Text: "x", Start: 4, End: 5}

	b, err := EncodeJSON(n, RenderOptions{Compact: true})
	require.NoError(t, err)
	require.Equal(t, `{"kind":"identifier","text":"x"}`, string(b))

	b, err = EncodeJSON(n, RenderOptions{Compact: true, Spans: true})
	require.NoError(t, err)
	require.Equal(t, `{"kind":"identifier","text":"x","span":[4,5]}`, string(b))

	b, err = EncodeJSON(n, RenderOptions{Compact: true, NoNodeType: true})
	require.NoError(t, err)
	require.Equal(t, `"x"`, string(b))
}

func buildTC(t *testing.T) (*ir.TypeContext, ir.TypeId) {
	t.Helper()
	tc := ir.NewTypeContext()
	node := tc.Scalar(ir.Node)
	str := tc.Scalar(ir.String)
	ids := tc.Wrap(ir.ArrayPlus, node)
	inner := tc.StructType([]ir.Member{{Name: "v", Type: str}})
	enum := tc.EnumType([]ir.Member{{Name: "Lit", Type: inner}, {Name: "Len", Type: ids}})
	root := tc.StructType([]ir.Member{
		{Name: "head", Type: node},
		{Name: "tail", Type: tc.Wrap(ir.Optional, node)},
		{Name: "choice", Type: enum},
	})
	return tc, root
}

func TestVerify_Conforming(t *testing.T) {
	tc, root := buildTC(t)
	v := Object{
		{Name: "head", V: Node{Kind: "identifier", Text: "x"}},
		{Name: "tail", V: Null{}},
		{Name: "choice", V: Tagged{Tag: "Lit", Data: Object{{Name: "v", V: String("42")}}}},
	}
	require.NoError(t, Verify(v, root, tc))
}

func TestVerify_MissingMember(t *testing.T) {
	tc, root := buildTC(t)
	v := Object{{Name: "head", V: Node{}}}
	err := Verify(v, root, tc)
	require.ErrorContains(t, err, "choice")
}

func TestVerify_WrongScalar(t *testing.T) {
	tc, root := buildTC(t)
	v := Object{
		{Name: "head", V: String("nope")},
		{Name: "tail", V: Null{}},
		{Name: "choice", V: Tagged{Tag: "Lit", Data: Object{{Name: "v", V: String("1")}}}},
	}
	err := Verify(v, root, tc)
	require.ErrorContains(t, err, "$.head")
}

func TestVerify_UnknownTag(t *testing.T) {
	tc, root := buildTC(t)
	v := Object{
		{Name: "head", V: Node{}},
		{Name: "tail", V: Null{}},
		{Name: "choice", V: Tagged{Tag: "Nope", Data: Null{}}},
	}
	err := Verify(v, root, tc)
	require.ErrorContains(t, err, "unknown variant")
}

func TestVerify_PlusArrayCardinality(t *testing.T) {
	tc := ir.NewTypeContext()
	plus := tc.Wrap(ir.ArrayPlus, tc.Scalar(ir.Node))
	require.Error(t, Verify(Array{}, plus, tc))
	require.NoError(t, Verify(Array{Node{}}, plus, tc))

	star := tc.Wrap(ir.ArrayStar, tc.Scalar(ir.Node))
	require.NoError(t, Verify(Array{}, star, tc))
}

func TestVerify_MissingOptionalMemberAllowed(t *testing.T) {
	tc := ir.NewTypeContext()
	root := tc.StructType([]ir.Member{
		{Name: "x", Type: tc.Wrap(ir.Optional, tc.Scalar(ir.Node))},
	})
	require.NoError(t, Verify(Object{}, root, tc))
}
