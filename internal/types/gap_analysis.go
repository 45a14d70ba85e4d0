package types

// GapAnalysisResult classifies the requested subtopics against the supplied
// transcript. Every requested subtopic appears in exactly one of the three
// lists; Normalize enforces that after model output is parsed.
type GapAnalysisResult struct {
	Covered          []string `json:"covered"`
	PartiallyCovered []string `json:"partially_covered"`
	NotCovered       []string `json:"not_covered"`
	DiscussedTopics  []string `json:"discussed_topics,omitempty"`
	Mismatch         bool     `json:"mismatch"`
	MatchConfidence  float64  `json:"match_confidence"`
}

// Normalize forces the exactly-one-list invariant for the given requested
// subtopics: duplicates resolve in covered > partial > notCovered priority,
// unknown entries are dropped, missing entries land in NotCovered.
func (r *GapAnalysisResult) Normalize(requested []string) {
	if r == nil {
		return
	}
	want := make(map[string]bool, len(requested))
	for _, s := range requested {
		want[s] = true
	}
	seen := make(map[string]bool, len(requested))

	keep := func(list []string) []string {
		out := make([]string, 0, len(list))
		for _, s := range list {
			if !want[s] || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
		return out
	}
	r.Covered = keep(r.Covered)
	r.PartiallyCovered = keep(r.PartiallyCovered)
	r.NotCovered = keep(r.NotCovered)

	for _, s := range requested {
		if !seen[s] {
			seen[s] = true
			r.NotCovered = append(r.NotCovered, s)
		}
	}
}

// AllNotCovered is the parse-failure fallback: treat every requested
// subtopic as absent from the transcript.
func AllNotCovered(requested []string) *GapAnalysisResult {
	out := &GapAnalysisResult{
		Covered:          []string{},
		PartiallyCovered: []string{},
		NotCovered:       append([]string{}, requested...),
	}
	return out
}
