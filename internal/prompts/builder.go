// Package prompts maps pipeline inputs to (system, user) prompt pairs.
// Everything here is a pure function: no clock, no I/O, no state.
package prompts

import (
	"fmt"
	"strings"

	"github.com/edforge/edforge-backend/internal/types"
)

// TranscriptMaxChars bounds how much transcript text is ever sent to a
// model. Longer transcripts are cut and the cut is flagged to the model.
const TranscriptMaxChars = 80000

// Prompt is one system+user pair ready for the gateway.
type Prompt struct {
	System string
	User   string
}

// SplitSubtopics tolerates the free-form separators users actually type:
// commas, semicolons and newlines.
func SplitSubtopics(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// TruncateTranscript bounds the transcript and reports whether it was cut.
func TruncateTranscript(transcript string) (string, bool) {
	if len(transcript) <= TranscriptMaxChars {
		return transcript, false
	}
	return transcript[:TranscriptMaxChars], true
}

func transcriptBlock(transcript string) string {
	text, truncated := TruncateTranscript(transcript)
	var b strings.Builder
	b.WriteString("TRANSCRIPT:\n")
	b.WriteString(text)
	if truncated {
		b.WriteString("\n\n[NOTE: the transcript was truncated at ")
		fmt.Fprintf(&b, "%d", TranscriptMaxChars)
		b.WriteString(" characters; treat it as a partial record.]")
	}
	return b.String()
}

// strictScopeDirective is injected whenever a transcript drives generation:
// the model must stay inside what the transcript covers and never pad gaps
// with outside knowledge.
const strictScopeDirective = "STRICT SCOPE: The transcript is the single source of truth. " +
	"Generate content only for subtopics the transcript actually covers. " +
	"Do not supplement missing material with outside knowledge, and do not " +
	"mention subtopics that were excluded."

// EffectiveSubtopics removes subtopics the gap analysis marked not covered.
// Excluded subtopics are omitted entirely from downstream prompts.
func EffectiveSubtopics(requested []string, gap *types.GapAnalysisResult) []string {
	if gap == nil {
		return requested
	}
	excluded := make(map[string]bool, len(gap.NotCovered))
	for _, s := range gap.NotCovered {
		excluded[s] = true
	}
	out := make([]string, 0, len(requested))
	for _, s := range requested {
		if !excluded[s] {
			out = append(out, s)
		}
	}
	return out
}

func bulleted(items []string) string {
	var b strings.Builder
	for _, it := range items {
		b.WriteString("- ")
		b.WriteString(it)
		b.WriteString("\n")
	}
	return b.String()
}
