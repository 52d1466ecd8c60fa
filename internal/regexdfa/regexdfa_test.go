package regexdfa

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plotnik-lang/plotnik-sub003/internal/diag"
)

func TestCompileAndRun(t *testing.T) {
	cases := []struct {
		pattern string
		match   string
		want    bool
	}{
		{"[A-Z][a-zA-Z0-9_]*", "FooBar", true},
		{"[A-Z][a-zA-Z0-9_]*", "fooBar", false},
		{"get|set", "get", true},
		{"get|set", "getX", false},
		{"a+b", "aaab", true},
		{"a+b", "b", false},
	}
	for _, c := range cases {
		d, err := Compile(c.pattern)
		require.NoError(t, err, c.pattern)
		require.Equal(t, c.want, d.Run([]byte(c.match)), "pattern %q against %q", c.pattern, c.match)
	}
}

func TestCompileRejectsEmpty(t *testing.T) {
	_, err := Compile("")
	require.Error(t, err)
	require.Equal(t, diag.EmptyRegex, Kind(err))
}

func TestCompileRejectsBackreference(t *testing.T) {
	_, err := Compile(`(a)\1`)
	require.Error(t, err)
	require.Equal(t, diag.RegexBackreference, Kind(err))
}

func TestCompileRejectsLookaround(t *testing.T) {
	_, err := Compile(`foo(?=bar)`)
	require.Error(t, err)
	require.Equal(t, diag.RegexLookaround, Kind(err))
}

func TestCompileRejectsNamedCapture(t *testing.T) {
	_, err := Compile(`(?P<x>abc)`)
	require.Error(t, err)
	require.Equal(t, diag.RegexNamedCapture, Kind(err))
}

func TestCompileRejectsSyntaxError(t *testing.T) {
	_, err := Compile(`[a-`)
	require.Error(t, err)
	require.Equal(t, diag.RegexSyntaxError, Kind(err))
}
