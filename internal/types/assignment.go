package types

// Assignment question types.
const (
	QuestionSingleCorrect = "single_correct"
	QuestionMultiCorrect  = "multi_correct"
	QuestionSubjective    = "subjective"
)

// AssignmentCounts is the requested question mix for assignment mode.
type AssignmentCounts struct {
	SingleCorrect int `json:"single_correct"`
	MultiCorrect  int `json:"multi_correct"`
	Subjective    int `json:"subjective"`
}

func (c AssignmentCounts) Total() int {
	return c.SingleCorrect + c.MultiCorrect + c.Subjective
}

// AssignmentQuestion is one normalized, LMS-ready question.
type AssignmentQuestion struct {
	Type           string   `json:"type"`
	Question       string   `json:"question"`
	Options        []string `json:"options,omitempty"`
	CorrectOptions []int    `json:"correct_options,omitempty"`
	ModelAnswer    string   `json:"model_answer,omitempty"`
	Explanation    string   `json:"explanation,omitempty"`
}

// Assignment is the structured output of the formatting stage.
type Assignment struct {
	Topic     string               `json:"topic"`
	Questions []AssignmentQuestion `json:"questions"`
}
