package version

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfIsDeterministic(t *testing.T) {
	diffs := []string{"", "@@ -1,4 +1,4 @@\n", "some diff text", "@@ -0,0 +1 @@\n+hello\n"}
	for _, d := range diffs {
		assert.Equal(t, Of(d), Of(d), "Of must be deterministic for %q", d)
	}
}

func TestDefaultIsVersionOfEmptyDiff(t *testing.T) {
	assert.Equal(t, Of(""), Default())

	sum := sha256.Sum256(nil)
	assert.Equal(t, sum[:Size], Default().Bytes())
}

func TestDistinctDiffsYieldDistinctVersions(t *testing.T) {
	assert.NotEqual(t, Of("a"), Of("b"))
	assert.False(t, Of("a").IsZero())
}

func TestParseHexRoundTrip(t *testing.T) {
	v := Of("round trip me")

	parsed, err := Parse(v.String())
	require.NoError(t, err)
	assert.True(t, v.Equal(parsed))
}

func TestParseUUIDRoundTrip(t *testing.T) {
	v := Of("uuid form")

	parsed, err := Parse(v.UUID())
	require.NoError(t, err)
	assert.Equal(t, v, parsed)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("not-a-version")
	assert.Error(t, err)

	_, err = Parse("zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz")
	assert.Error(t, err)
}

func TestTextMarshalling(t *testing.T) {
	v := Of("marshal me")

	text, err := v.MarshalText()
	require.NoError(t, err)

	var back Version
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, v, back)
}
