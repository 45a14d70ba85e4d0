package agents

import "strings"

// NoChangesNeeded is the refiner's sentinel for "content is already fine".
const NoChangesNeeded = "NO_CHANGES_NEEDED"

// Edit is one exact-match textual patch. Search is matched as a plain
// substring (first occurrence), never as a regex.
type Edit struct {
	Search  string
	Replace string
}

const (
	editSearchMarker  = "<<<<<<< SEARCH"
	editDividerMarker = "======="
	editReplaceMarker = ">>>>>>> REPLACE"
)

// ParseEdits extracts ordered edit blocks from refiner output. The second
// return is true when the output is the no-changes sentinel.
func ParseEdits(output string) ([]Edit, bool) {
	trimmed := strings.TrimSpace(output)
	if trimmed == NoChangesNeeded {
		return nil, true
	}

	var edits []Edit
	rest := output
	for {
		start := strings.Index(rest, editSearchMarker)
		if start < 0 {
			break
		}
		rest = rest[start+len(editSearchMarker):]
		rest = strings.TrimPrefix(rest, "\n")

		div := strings.Index(rest, editDividerMarker)
		if div < 0 {
			break
		}
		search := strings.TrimSuffix(rest[:div], "\n")
		rest = rest[div+len(editDividerMarker):]
		rest = strings.TrimPrefix(rest, "\n")

		end := strings.Index(rest, editReplaceMarker)
		if end < 0 {
			break
		}
		replace := strings.TrimSuffix(rest[:end], "\n")
		rest = rest[end+len(editReplaceMarker):]

		if search != "" {
			edits = append(edits, Edit{Search: search, Replace: replace})
		}
	}

	// Some models answer the sentinel with decoration around it; treat an
	// output that yields no blocks but contains the sentinel as no-changes.
	if len(edits) == 0 && strings.Contains(trimmed, NoChangesNeeded) {
		return nil, true
	}
	return edits, false
}

// ApplyEdits applies edits in order against base, producing a new string.
// An edit whose search text is absent is skipped and returned, never fatal.
func ApplyEdits(base string, edits []Edit) (string, int, []Edit) {
	out := base
	applied := 0
	var skipped []Edit
	for _, e := range edits {
		idx := strings.Index(out, e.Search)
		if idx < 0 {
			skipped = append(skipped, e)
			continue
		}
		out = out[:idx] + e.Replace + out[idx+len(e.Search):]
		applied++
	}
	return out, applied, skipped
}
