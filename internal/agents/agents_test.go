package agents

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/edforge/edforge-backend/internal/clients/llm"
	"github.com/edforge/edforge-backend/internal/pkg/logger"
	"github.com/edforge/edforge-backend/internal/types"
)

// scriptedClient returns one fixed response for every call.
type scriptedClient struct {
	text string
	err  error
}

func (c *scriptedClient) Generate(context.Context, llm.Request) (llm.Result, error) {
	if c.err != nil {
		return llm.Result{}, c.err
	}
	return llm.Result{Text: c.text, Usage: llm.Usage{InputTokens: 10, OutputTokens: 5}}, nil
}

func (c *scriptedClient) Stream(_ context.Context, _ llm.Request, onDelta func(string)) (llm.Result, error) {
	if c.err != nil {
		return llm.Result{}, c.err
	}
	if onDelta != nil {
		onDelta(c.text)
	}
	return llm.Result{Text: c.text, Usage: llm.Usage{InputTokens: 10, OutputTokens: 5}}, nil
}

func (c *scriptedClient) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("no embedding in agent tests")
}

func TestCourseDetectorFallsBackToGeneralOnBadJSON(t *testing.T) {
	d := NewCourseDetector(logger.NewNop(), &scriptedClient{text: "I think this is math."}, nil)
	cc, _, err := d.Run(context.Background(), Input{Topic: "algebra"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if cc.Domain != "general" || cc.Confidence != 0 {
		t.Fatalf("fallback = %+v, want general domain with zero confidence", cc)
	}
}

func TestCourseDetectorClampsConfidence(t *testing.T) {
	d := NewCourseDetector(logger.NewNop(),
		&scriptedClient{text: `{"domain": "mathematics", "confidence": 1.7}`}, nil)
	cc, _, err := d.Run(context.Background(), Input{Topic: "algebra"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if cc.Domain != "mathematics" || cc.Confidence != 1 {
		t.Fatalf("cc = %+v, want confidence clamped to 1", cc)
	}
}

func TestCourseDetectorToleratesFencedJSON(t *testing.T) {
	d := NewCourseDetector(logger.NewNop(),
		&scriptedClient{text: "Here you go:\n```json\n{\"domain\": \"physics\", \"confidence\": 0.9}\n```"}, nil)
	cc, _, err := d.Run(context.Background(), Input{Topic: "mechanics"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if cc.Domain != "physics" {
		t.Fatalf("domain = %q, want fenced JSON parsed", cc.Domain)
	}
}

func TestCourseDetectorPropagatesGatewayErrors(t *testing.T) {
	gwErr := &llm.Error{Kind: llm.KindAuthError, Status: 401, Provider: "test"}
	d := NewCourseDetector(logger.NewNop(), &scriptedClient{err: gwErr}, nil)
	_, _, err := d.Run(context.Background(), Input{Topic: "algebra"})
	if err == nil {
		t.Fatal("gateway errors must propagate")
	}
	var ae *Error
	if !errors.As(err, &ae) || ae.Agent != NameCourseDetector {
		t.Fatalf("err = %v, want wrapped with the agent name", err)
	}
	if llm.KindOf(err) != llm.KindAuthError {
		t.Fatalf("kind = %s, want the gateway kind preserved through the wrap", llm.KindOf(err))
	}
}

func TestAnalyzerFallsBackToAllNotCovered(t *testing.T) {
	a := NewAnalyzer(logger.NewNop(), &scriptedClient{text: "not json at all"}, nil)
	gap, _, err := a.Run(context.Background(), Input{
		Topic:      "calculus",
		Subtopics:  []string{"limits", "derivatives"},
		Transcript: "today we discuss limits",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(gap.NotCovered) != 2 || len(gap.Covered) != 0 {
		t.Fatalf("gap = %+v, want every subtopic not covered", gap)
	}
}

func TestAnalyzerNormalizesModelOutput(t *testing.T) {
	// "derivatives" is missing from the model's answer and "integrals" was
	// never requested.
	a := NewAnalyzer(logger.NewNop(), &scriptedClient{
		text: `{"covered": ["limits", "integrals"], "partially_covered": [], "not_covered": [], "mismatch": false, "match_confidence": 0.9}`,
	}, nil)
	gap, _, err := a.Run(context.Background(), Input{
		Topic:      "calculus",
		Subtopics:  []string{"limits", "derivatives"},
		Transcript: "limits limits limits",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(gap.Covered) != 1 || gap.Covered[0] != "limits" {
		t.Fatalf("covered = %v, unrequested entries must be dropped", gap.Covered)
	}
	if len(gap.NotCovered) != 1 || gap.NotCovered[0] != "derivatives" {
		t.Fatalf("not covered = %v, missing subtopics must land here", gap.NotCovered)
	}
}

func TestSanitizerPassesThroughOnEmptyOutput(t *testing.T) {
	s := NewSanitizer(logger.NewNop(), &scriptedClient{text: "   "})
	out, _, err := s.Run(context.Background(), Input{Content: "original document body"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != "original document body" {
		t.Fatalf("out = %q, want the original passed through", out)
	}
}

func TestSanitizerPassesThroughOnSuspiciousShrink(t *testing.T) {
	original := strings.Repeat("a perfectly fine sentence. ", 20)
	s := NewSanitizer(logger.NewNop(), &scriptedClient{text: "summary"})
	out, _, err := s.Run(context.Background(), Input{Content: original})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != original {
		t.Fatal("a drastically shrunken result must be discarded")
	}
}

func TestSanitizerKeepsComparableOutput(t *testing.T) {
	original := "Contact John Smith at john@example.com about the homework."
	cleaned := "Contact the instructor at the course address about the homework."
	s := NewSanitizer(logger.NewNop(), &scriptedClient{text: cleaned})
	out, _, err := s.Run(context.Background(), Input{Content: original})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out != cleaned {
		t.Fatalf("out = %q, want the sanitized text", out)
	}
}

func TestReviewerFailsOpenOnBadJSON(t *testing.T) {
	r := NewReviewer(logger.NewNop(), &scriptedClient{text: "looks good to me"}, 8)
	review, _, err := r.Run(context.Background(), Input{Content: "content", Mode: types.ModeLecture})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if review.Score != 8 || review.NeedsPolish {
		t.Fatalf("review = %+v, want score pinned to the acceptance threshold", review)
	}
}

func TestReviewerClampsScore(t *testing.T) {
	r := NewReviewer(logger.NewNop(),
		&scriptedClient{text: `{"score": 14, "needs_polish": true, "feedback": "f"}`}, 8)
	review, _, err := r.Run(context.Background(), Input{Content: "content", Mode: types.ModeLecture})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if review.Score != 10 {
		t.Fatalf("score = %f, want clamped to 10", review.Score)
	}
	if !review.NeedsPolish {
		t.Fatal("needs_polish must survive clamping")
	}
}

func TestRefinerNoChangesSentinel(t *testing.T) {
	r := NewRefiner(logger.NewNop(), &scriptedClient{text: "NO_CHANGES_NEEDED"})
	res, _, err := r.Run(context.Background(), Input{Content: "fine as is"}, &ReviewResult{Feedback: "none"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.NoChanges || res.Content != "fine as is" {
		t.Fatalf("res = %+v, want untouched content", res)
	}
}

func TestRefinerAppliesAndCountsSkippedEdits(t *testing.T) {
	out := "<<<<<<< SEARCH\nthe erth\n=======\nthe earth\n>>>>>>> REPLACE\n" +
		"<<<<<<< SEARCH\nnot present\n=======\nirrelevant\n>>>>>>> REPLACE"
	r := NewRefiner(logger.NewNop(), &scriptedClient{text: out})
	res, _, err := r.Run(context.Background(), Input{Content: "the erth is round"}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Content != "the earth is round" {
		t.Fatalf("content = %q", res.Content)
	}
	if res.Applied != 1 || res.Skipped != 1 || !res.Changed {
		t.Fatalf("res = %+v, want 1 applied and 1 skipped", res)
	}
}

func TestFormatterRejectsBadJSON(t *testing.T) {
	f := NewFormatter(logger.NewNop(), &scriptedClient{text: "these look great"})
	_, _, err := f.Run(context.Background(), Input{Mode: types.ModeAssignment})
	if err == nil {
		t.Fatal("malformed formatter output must be fatal")
	}
}

func TestFormatterRejectsOutOfRangeCorrectOption(t *testing.T) {
	f := NewFormatter(logger.NewNop(), &scriptedClient{
		text: `{"questions": [{"type": "single_correct", "question": "2+2?", "options": ["3", "4"], "correct_options": [5]}]}`,
	})
	_, _, err := f.Run(context.Background(), Input{Mode: types.ModeAssignment})
	if err == nil {
		t.Fatal("out-of-range correct option must be fatal")
	}
}

func TestFormatterAcceptsValidAssignment(t *testing.T) {
	f := NewFormatter(logger.NewNop(), &scriptedClient{
		text: `{"questions": [
			{"type": "single_correct", "question": "2+2?", "options": ["3", "4"], "correct_options": [1], "explanation": "basic sum"},
			{"type": "subjective", "question": "Explain limits.", "model_answer": "A limit describes..."}
		]}`,
	})
	out, _, err := f.Run(context.Background(), Input{Topic: "arithmetic", Mode: types.ModeAssignment})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(out.Questions) != 2 {
		t.Fatalf("got %d questions, want 2", len(out.Questions))
	}
	if out.Topic != "arithmetic" {
		t.Fatalf("topic = %q, want filled from the input when absent", out.Topic)
	}
}
