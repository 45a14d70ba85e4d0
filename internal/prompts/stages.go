package prompts

import (
	"fmt"
	"strings"

	"github.com/edforge/edforge-backend/internal/types"
)

// CourseDetection asks for the subject domain plus style guidance as JSON.
func CourseDetection(topic string, subtopics []string) Prompt {
	return Prompt{
		System: "You classify educational topics. Respond with a single JSON object and nothing else: " +
			`{"domain": string, "confidence": number 0-1, "vocabulary": [string], "example_types": [string], "style_hints": [string]}.`,
		User: fmt.Sprintf("Topic: %s\nSubtopics:\n%s\nIdentify the subject domain and guidance for generating teaching content.",
			topic, bulleted(subtopics)),
	}
}

// GapAnalysis classifies each requested subtopic against the transcript and
// judges whether the transcript matches the topic at all.
func GapAnalysis(topic string, subtopics []string, transcript string) Prompt {
	return Prompt{
		System: "You audit lecture transcripts for coverage. Respond with a single JSON object and nothing else: " +
			`{"covered": [string], "partially_covered": [string], "not_covered": [string], "discussed_topics": [string], "mismatch": boolean, "match_confidence": number 0-1}. ` +
			"Every requested subtopic must appear in exactly one of covered/partially_covered/not_covered, spelled exactly as given. " +
			"Set mismatch=true only when the transcript discusses a different subject than the requested topic.",
		User: fmt.Sprintf("Requested topic: %s\nRequested subtopics:\n%s\n%s",
			topic, bulleted(subtopics), transcriptBlock(transcript)),
	}
}

// DraftInput carries everything the draft stage may condition on.
type DraftInput struct {
	Topic      string
	Subtopics  []string
	Mode       string
	Transcript string
	Gap        *types.GapAnalysisResult
	Course     *types.CourseContext
	Counts     types.AssignmentCounts
}

// Draft builds the creation prompt for the requested mode. When a transcript
// is present the strict-scope directive is always injected and subtopics the
// gap analysis marked not covered never appear.
func Draft(in DraftInput) Prompt {
	subtopics := EffectiveSubtopics(in.Subtopics, in.Gap)

	var sys strings.Builder
	switch in.Mode {
	case types.ModeAssignment:
		sys.WriteString("You write assessment questions for a course assignment. Respond with a single JSON array of question objects and nothing else. ")
		sys.WriteString(`Each object: {"type": "single_correct"|"multi_correct"|"subjective", "question": string, "options": [string] (4 options for choice questions), "correct_options": [int] (indices), "model_answer": string (subjective only), "explanation": string}. `)
		fmt.Fprintf(&sys, "Produce exactly %d single_correct, %d multi_correct and %d subjective questions.",
			in.Counts.SingleCorrect, in.Counts.MultiCorrect, in.Counts.Subjective)
	case types.ModePreRead:
		sys.WriteString("You write concise pre-reading material in Markdown that prepares students for an upcoming lecture. ")
		sys.WriteString("Favor intuition and motivating examples over exhaustive detail. Output Markdown only.")
	default:
		sys.WriteString("You write thorough, well-structured lecture notes in Markdown: headings per subtopic, worked examples, and a short summary. Output Markdown only.")
	}
	if in.Course != nil && in.Course.Domain != "" && in.Course.Domain != "general" {
		fmt.Fprintf(&sys, " The subject domain is %s.", in.Course.Domain)
		if len(in.Course.StyleHints) > 0 {
			fmt.Fprintf(&sys, " Style guidance: %s.", strings.Join(in.Course.StyleHints, "; "))
		}
		if len(in.Course.Vocabulary) > 0 {
			fmt.Fprintf(&sys, " Prefer domain vocabulary: %s.", strings.Join(in.Course.Vocabulary, ", "))
		}
	}
	if in.Transcript != "" {
		sys.WriteString(" ")
		sys.WriteString(strictScopeDirective)
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Topic: %s\nSubtopics:\n%s", in.Topic, bulleted(subtopics))
	if in.Gap != nil && len(in.Gap.PartiallyCovered) > 0 {
		fmt.Fprintf(&user, "The transcript only partially covers:\n%s", bulleted(in.Gap.PartiallyCovered))
		user.WriteString("Cover those only to the depth the transcript supports.\n")
	}
	if in.Transcript != "" {
		user.WriteString("\n")
		user.WriteString(transcriptBlock(in.Transcript))
	}
	return Prompt{System: sys.String(), User: user.String()}
}

// Sanitize strips PII and unsafe content without rewriting substance.
func Sanitize(content string) Prompt {
	return Prompt{
		System: "You sanitize educational content. Remove personally identifiable information (names of private " +
			"individuals, emails, phone numbers, IDs) and any unsafe or inappropriate passages. Change nothing else: " +
			"keep structure, wording and formatting intact. Output the full sanitized document only.",
		User: content,
	}
}

// Review scores content quality and lists concrete fixes as JSON.
func Review(content string, mode string) Prompt {
	focus := "clarity, correctness, structure and pedagogical quality"
	if mode == types.ModeAssignment {
		focus = "question correctness, unambiguous wording, plausible distractors and answer-key accuracy"
	}
	return Prompt{
		System: "You review educational content for " + focus + ". Respond with a single JSON object and nothing else: " +
			`{"score": number 0-10, "needs_polish": boolean, "feedback": string, "detailed_feedback": [string]}. ` +
			"Each detailed_feedback entry must name one specific, actionable fix.",
		User: content,
	}
}

// Refine turns reviewer feedback into exact search/replace edit blocks.
func Refine(content string, feedback string, detailed []string) Prompt {
	var user strings.Builder
	user.WriteString("Reviewer feedback: ")
	user.WriteString(feedback)
	user.WriteString("\n")
	if len(detailed) > 0 {
		user.WriteString("Specific fixes:\n")
		user.WriteString(bulleted(detailed))
	}
	user.WriteString("\nCONTENT:\n")
	user.WriteString(content)
	return Prompt{
		System: "You apply reviewer feedback with minimal, surgical edits. Respond with one or more edit blocks in " +
			"exactly this format:\n<<<<<<< SEARCH\n(exact text copied from the content)\n=======\n(replacement text)\n>>>>>>> REPLACE\n" +
			"The SEARCH text must match the content verbatim, including whitespace. " +
			"If nothing needs changing respond with exactly NO_CHANGES_NEEDED and nothing else.",
		User: user.String(),
	}
}

// Format normalizes assignment questions into the final LMS-ready shape.
func Format(content string, counts types.AssignmentCounts) Prompt {
	return Prompt{
		System: "You normalize assessment questions into their final structured form. Respond with a single JSON object " +
			`and nothing else: {"questions": [{"type": "single_correct"|"multi_correct"|"subjective", "question": string, ` +
			`"options": [string], "correct_options": [int], "model_answer": string, "explanation": string}]}. ` +
			"Preserve every question; fix structural problems (missing options, bad indices) without rewriting question text.",
		User: fmt.Sprintf("Expected mix: %d single_correct, %d multi_correct, %d subjective.\n\nQUESTIONS:\n%s",
			counts.SingleCorrect, counts.MultiCorrect, counts.Subjective, content),
	}
}
