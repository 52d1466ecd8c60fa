package regexdfa

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshal_RoundTrip(t *testing.T) {
	patterns := []string{`^_.*`, `[a-z]+[0-9]?`, `foo|bar`, `^x$`}
	inputs := []string{"_hidden", "abc1", "foo", "x", "nope", ""}

	for _, pattern := range patterns {
		d, err := Compile(pattern)
		require.NoError(t, err, pattern)

		img := d.Marshal()
		require.Zero(t, len(img)%4, "image must stay 4-byte aligned")

		back, err := Unmarshal(img)
		require.NoError(t, err)
		require.Len(t, back.States, len(d.States))
		for _, in := range inputs {
			require.Equal(t, d.Run([]byte(in)), back.Run([]byte(in)),
				"pattern %q input %q", pattern, in)
		}
	}
}

func TestUnmarshal_Truncated(t *testing.T) {
	d, err := Compile(`abc`)
	require.NoError(t, err)
	img := d.Marshal()
	_, err = Unmarshal(img[:len(img)-2])
	require.Error(t, err)
	_, err = Unmarshal(nil)
	require.Error(t, err)
}
