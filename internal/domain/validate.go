package domain

import (
	"fmt"
	"strings"
)

// Validate checks the authoring invariants of a quiz and its questions.
func (q Quiz) Validate() error {
	if strings.TrimSpace(q.Title) == "" {
		return InvalidInputf("quiz title is required")
	}
	return ValidateQuestions(q.Questions)
}

// ValidateQuestions checks a full question set as it would be stored.
func ValidateQuestions(questions []Question) error {
	orders := make(map[int]struct{}, len(questions))
	for i, question := range questions {
		if err := question.Validate(); err != nil {
			return fmt.Errorf("question %d: %w", i+1, err)
		}
		if _, dup := orders[question.Order]; dup {
			return InvalidInputf("question %d: order %d is not unique", i+1, question.Order)
		}
		orders[question.Order] = struct{}{}
	}
	return nil
}

// Validate checks a single question.
func (q Question) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return InvalidInputf("text is required")
	}
	switch q.Type {
	case QuestionKnowledge, QuestionProgramOutput, QuestionCodeCorrection:
	default:
		return InvalidInputf("unknown question type %q", q.Type)
	}
	if q.TimeLimit < MinTimeLimitSeconds {
		return InvalidInputf("time limit must be at least %d seconds", MinTimeLimitSeconds)
	}
	if q.BaseScore < MinBaseScore {
		return InvalidInputf("base score must be at least %d", MinBaseScore)
	}
	if len(q.Options) < 2 {
		return InvalidInputf("at least two options are required")
	}
	if !q.HasCorrectOption() {
		return InvalidInputf("at least one option must be correct")
	}
	return nil
}
