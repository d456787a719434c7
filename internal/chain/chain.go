// Package chain reconstructs article text from the append-only edit
// chain. Replay is the single source of truth for article text; the
// Article.Text column is only a cache of its result.
package chain

import (
	"errors"
	"fmt"

	"github.com/loreweave/loreweave/pkg/diffcodec"
	"github.com/loreweave/loreweave/pkg/model"
	"github.com/loreweave/loreweave/pkg/version"
)

// ErrVersionNotFound means the chain was exhausted without reaching
// the target version: either the chain is corrupted or the caller
// asked for a version belonging to a different article or fork. It is
// a data-integrity fault, never silently swallowed.
var ErrVersionNotFound = errors.New("version not found in edit chain")

// Replay applies the edits' patches in chain order starting from the
// empty string and returns the text immediately after the edit whose
// hash equals target. Edits must be the article's non-pending edits
// ordered by published time ascending.
func Replay(edits []model.Edit, target version.Version) (string, error) {
	if target.Equal(version.Default()) {
		return "", nil
	}

	text := ""
	for _, edit := range edits {
		applied, err := diffcodec.Apply(text, edit.Diff)
		if err != nil {
			return "", fmt.Errorf("replay edit %s: %w", edit.Hash, err)
		}
		text = applied
		if edit.Hash.Equal(target) {
			return text, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrVersionNotFound, target)
}

// LatestVersion returns the hash of the most recent edit in the given
// chain order, or the default version for an empty chain.
func LatestVersion(edits []model.Edit) version.Version {
	if len(edits) == 0 {
		return version.Default()
	}
	return edits[len(edits)-1].Hash
}
