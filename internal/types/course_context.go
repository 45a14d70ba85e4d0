package types

// CourseContext is the detected subject domain plus generation guidance.
// Treated as a cache value keyed by topic+subtopics; immutable once produced
// for a generation.
type CourseContext struct {
	Domain       string   `json:"domain"`
	Confidence   float64  `json:"confidence"` // 0..1
	Vocabulary   []string `json:"vocabulary,omitempty"`
	ExampleTypes []string `json:"example_types,omitempty"`
	StyleHints   []string `json:"style_hints,omitempty"`
}

// GeneralCourseContext is the parse-failure fallback.
func GeneralCourseContext() *CourseContext {
	return &CourseContext{Domain: "general", Confidence: 0}
}
