// Package diffcodec wraps the diff-match-patch algorithm behind the
// three operations the edit chain needs: producing a patch between two
// texts, applying a patch, and three-way merging. The textual patch
// format produced by Make is part of the federation protocol; its
// bytes feed the version hash and must stay stable across instances.
package diffcodec

import (
	"errors"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// ErrPatchApply is returned when a patch does not apply cleanly to the
// given text. On the origin instance this becomes a Reject activity,
// elsewhere it is logged and dropped.
var ErrPatchApply = errors.New("patch did not apply cleanly")

// Conflict marker lines. These exact bytes are part of the protocol:
// peers and tests match on them literally.
const (
	MarkerOurs     = "<<<<<<< ours\n"
	MarkerOriginal = "||||||| original\n"
	MarkerSplit    = "=======\n"
	MarkerTheirs   = ">>>>>>> theirs\n"
)

// Make returns the textual patch transforming a into b.
func Make(a, b string) string {
	dmp := diffmatchpatch.New()
	return dmp.PatchToText(dmp.PatchMake(a, b))
}

// Apply applies a textual patch to text. Every hunk must apply for the
// result to be returned; a partial application is an error.
func Apply(text, patch string) (string, error) {
	dmp := diffmatchpatch.New()
	patches, err := dmp.PatchFromText(patch)
	if err != nil {
		return "", errors.Join(ErrPatchApply, err)
	}

	applied, results := dmp.PatchApply(patches, text)
	for _, ok := range results {
		if !ok {
			return "", ErrPatchApply
		}
	}
	return applied, nil
}

// Merge performs a line-based three-way merge of ours and theirs
// against their common ancestor base. The second return value is true
// for a clean merge. On overlap the merged text contains a conflict
// block delimited by MarkerOurs, MarkerOriginal, MarkerSplit and
// MarkerTheirs.
func Merge(base, ours, theirs string) (string, bool) {
	baseLines := splitLines(base)
	oursLines := splitLines(ours)
	theirsLines := splitLines(theirs)

	hunks := append(changes(base, ours, sideOurs), changes(base, theirs, sideTheirs)...)
	sortHunks(hunks)

	var out strings.Builder
	clean := true
	basePos := 0

	for i := 0; i < len(hunks); {
		groupStart := i
		regionStart := hunks[i].baseStart
		regionEnd := hunks[i].baseStart + hunks[i].baseLen
		i++
		for i < len(hunks) && (hunks[i].baseStart < regionEnd || hunks[i].baseStart == regionStart) {
			if end := hunks[i].baseStart + hunks[i].baseLen; end > regionEnd {
				regionEnd = end
			}
			i++
		}
		group := hunks[groupStart:i]

		writeLines(&out, baseLines[basePos:regionStart])
		baseSeg := baseLines[regionStart:regionEnd]
		oursSeg := sideSegment(group, sideOurs, regionStart, regionEnd, oursLines, baseSeg)
		theirsSeg := sideSegment(group, sideTheirs, regionStart, regionEnd, theirsLines, baseSeg)

		switch {
		case linesEqual(oursSeg, theirsSeg):
			writeLines(&out, oursSeg)
		case linesEqual(oursSeg, baseSeg):
			writeLines(&out, theirsSeg)
		case linesEqual(theirsSeg, baseSeg):
			writeLines(&out, oursSeg)
		default:
			clean = false
			out.WriteString(MarkerOurs)
			writeLines(&out, oursSeg)
			out.WriteString(MarkerOriginal)
			writeLines(&out, baseSeg)
			out.WriteString(MarkerSplit)
			writeLines(&out, theirsSeg)
			out.WriteString(MarkerTheirs)
		}
		basePos = regionEnd
	}

	writeLines(&out, baseLines[basePos:])
	return out.String(), clean
}

const (
	sideOurs = iota
	sideTheirs
)

// hunk is one changed region of a two-way line diff: base lines
// [baseStart, baseStart+baseLen) were replaced by side lines
// [sideStart, sideStart+sideLen).
type hunk struct {
	side      int
	baseStart int
	baseLen   int
	sideStart int
	sideLen   int
}

// changes computes the changed regions between base and side using a
// line-granular diff.
func changes(base, side string, sideID int) []hunk {
	dmp := diffmatchpatch.New()
	c1, c2, lineArray := dmp.DiffLinesToChars(base, side)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(c1, c2, false), lineArray)

	var hunks []hunk
	basePos, sidePos := 0, 0
	runBase, runSide := -1, -1

	flush := func() {
		if runBase < 0 {
			return
		}
		hunks = append(hunks, hunk{
			side:      sideID,
			baseStart: runBase,
			baseLen:   basePos - runBase,
			sideStart: runSide,
			sideLen:   sidePos - runSide,
		})
		runBase, runSide = -1, -1
	}

	for _, d := range diffs {
		n := len(splitLines(d.Text))
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flush()
			basePos += n
			sidePos += n
		case diffmatchpatch.DiffDelete:
			if runBase < 0 {
				runBase, runSide = basePos, sidePos
			}
			basePos += n
		case diffmatchpatch.DiffInsert:
			if runBase < 0 {
				runBase, runSide = basePos, sidePos
			}
			sidePos += n
		}
	}
	flush()

	return hunks
}

// sideSegment reconstructs one side's lines over a merged base region.
// Outside its own hunks a side tracks the base, so offsets from the
// region boundary to the side's first and last hunk line up exactly.
func sideSegment(group []hunk, sideID, regionStart, regionEnd int, sideLines, baseSeg []string) []string {
	first, last := -1, -1
	for idx, h := range group {
		if h.side != sideID {
			continue
		}
		if first < 0 {
			first = idx
		}
		last = idx
	}
	if first < 0 {
		return baseSeg
	}

	start := group[first].sideStart - (group[first].baseStart - regionStart)
	end := group[last].sideStart + group[last].sideLen + (regionEnd - (group[last].baseStart + group[last].baseLen))
	return sideLines[start:end]
}

func sortHunks(hunks []hunk) {
	// Insertion sort keeps the per-side ordering stable; hunk counts
	// are tiny for article-sized texts.
	for i := 1; i < len(hunks); i++ {
		for j := i; j > 0 && hunks[j].baseStart < hunks[j-1].baseStart; j-- {
			hunks[j], hunks[j-1] = hunks[j-1], hunks[j]
		}
	}
}

// splitLines splits s into lines keeping the trailing newline on each
// line. A final line without a newline is kept as-is.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func writeLines(b *strings.Builder, lines []string) {
	for _, line := range lines {
		b.WriteString(line)
	}
}

func linesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
