package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	t.Run("ParseVersion accepts strict semantic versions", func(t *testing.T) {
		v, err := ParseVersion("1.2.3")

		require.NoError(t, err)
		assert.Equal(t, Version{Major: 1, Minor: 2, Patch: 3}, v)
		assert.Equal(t, "1.2.3", v.String())
	})

	t.Run("ParseVersion rejects malformed input", func(t *testing.T) {
		for _, s := range []string{"", "1", "1.2", "v1.2.3", "1.2.x", "01.2.3"} {
			_, err := ParseVersion(s)
			assert.Error(t, err, s)
			assert.True(t, errors.Is(err, ErrInvalidVersion), s)
		}
	})

	t.Run("ParseVersion rejects pre-release and build metadata", func(t *testing.T) {
		_, err := ParseVersion("1.2.3-beta.1")
		assert.ErrorIs(t, err, ErrInvalidVersion)

		_, err = ParseVersion("1.2.3+build.5")
		assert.ErrorIs(t, err, ErrInvalidVersion)
	})

	t.Run("MustParseVersion panics on invalid input", func(t *testing.T) {
		assert.Panics(t, func() { MustParseVersion("nope") })
	})
}

func TestVersionOrdering(t *testing.T) {
	t.Run("Compare orders by major then minor then patch", func(t *testing.T) {
		cases := []struct {
			a, b string
			want int
		}{
			{"1.0.0", "1.0.0", 0},
			{"1.0.0", "1.0.1", -1},
			{"1.2.0", "1.1.9", 1},
			{"2.0.0", "1.99.99", 1},
			{"1.10.0", "1.9.0", 1},
		}
		for _, tc := range cases {
			got, err := CompareVersions(tc.a, tc.b)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got, "%s vs %s", tc.a, tc.b)
		}
	})

	t.Run("Less and Equal follow Compare", func(t *testing.T) {
		a := MustParseVersion("1.0.0")
		b := MustParseVersion("1.1.0")

		assert.True(t, a.Less(b))
		assert.False(t, b.Less(a))
		assert.True(t, a.Equal(MustParseVersion("1.0.0")))
	})

	t.Run("IsCompatible requires the same major version", func(t *testing.T) {
		assert.True(t, MustParseVersion("1.0.0").IsCompatible(MustParseVersion("1.9.3")))
		assert.False(t, MustParseVersion("1.0.0").IsCompatible(MustParseVersion("2.0.0")))
	})

	t.Run("CompareVersions reports parse errors", func(t *testing.T) {
		_, err := CompareVersions("1.0.0", "bad")
		assert.ErrorIs(t, err, ErrInvalidVersion)
	})
}
