package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loreweave/loreweave/pkg/diffcodec"
	"github.com/loreweave/loreweave/pkg/model"
	"github.com/loreweave/loreweave/pkg/version"
)

// buildChain turns a sequence of article states into a linked edit
// chain starting from the empty string.
func buildChain(states ...string) []model.Edit {
	var edits []model.Edit
	prevText := ""
	prev := version.Default()
	for _, state := range states {
		diff := diffcodec.Make(prevText, state)
		edit := model.Edit{
			Hash:            version.Of(diff),
			PreviousVersion: prev,
			Diff:            diff,
		}
		edits = append(edits, edit)
		prevText = state
		prev = edit.Hash
	}
	return edits
}

func TestReplayEveryIntermediateVersion(t *testing.T) {
	states := []string{
		"some example text\n",
		"some example text\nwith a second line\n",
		"rewritten entirely\nwith a second line\n",
	}
	edits := buildChain(states...)

	for i, edit := range edits {
		text, err := Replay(edits, edit.Hash)
		require.NoError(t, err)
		assert.Equal(t, states[i], text, "replay to edit %d", i)
	}
}

func TestReplayDefaultVersionIsEmptyWithoutTouchingChain(t *testing.T) {
	// A poisoned chain proves the chain is not consulted.
	edits := []model.Edit{{Diff: "garbage that applies to nothing"}}

	text, err := Replay(edits, version.Default())
	require.NoError(t, err)
	assert.Equal(t, "", text)
}

func TestReplayUnknownVersionFails(t *testing.T) {
	edits := buildChain("one\n", "two\n")

	_, err := Replay(edits, version.Of("a diff that is not in this chain"))
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestLatestVersion(t *testing.T) {
	assert.Equal(t, version.Default(), LatestVersion(nil))

	edits := buildChain("one\n", "two\n")
	assert.Equal(t, edits[1].Hash, LatestVersion(edits))
}
