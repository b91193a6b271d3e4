package app

import (
	"context"
	"fmt"
	"time"

	"classroom-quiz-service/internal/domain"
	"github.com/google/uuid"
)

// CatalogService stores validated quiz content.
type CatalogService struct {
	store Store
	now   func() time.Time
}

func NewCatalogService(store Store, opts ...Option) *CatalogService {
	o := applyOptions(opts)
	return &CatalogService{store: store, now: o.now}
}

// CreateQuiz validates and stores a new quiz, assigning missing IDs.
func (c *CatalogService) CreateQuiz(ctx context.Context, quiz domain.Quiz) (domain.Quiz, error) {
	if err := quiz.Validate(); err != nil {
		return domain.Quiz{}, err
	}
	if quiz.ID == "" {
		quiz.ID = uuid.NewString()
	}
	quiz.CreatedAt = c.now()
	quiz.Version = 1
	quiz.Questions = assignIDs(quiz.ID, quiz.Questions, nil)
	if err := c.store.CreateQuiz(ctx, quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("create quiz: %w", err)
	}
	return quiz, nil
}

// ReplaceQuestions swaps the whole question set of a quiz. Options are never
// edited in place: a supplied option ID is kept only when that option is
// unchanged, any other option gets a new ID so recorded answers keep pointing
// at the content they were scored against.
func (c *CatalogService) ReplaceQuestions(ctx context.Context, quizID string, questions []domain.Question) (domain.Quiz, error) {
	current, err := c.store.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if err := domain.ValidateQuestions(questions); err != nil {
		return domain.Quiz{}, err
	}
	if err := c.store.ReplaceQuestions(ctx, quizID, assignIDs(quizID, questions, optionsByID(current.Questions))); err != nil {
		return domain.Quiz{}, fmt.Errorf("replace questions: %w", err)
	}
	return c.store.GetQuiz(ctx, quizID)
}

// GetQuiz returns a stored quiz.
func (c *CatalogService) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	return c.store.GetQuiz(ctx, quizID)
}

// assignIDs fills in missing IDs. When stored is non-nil the questions replace
// an existing set and an option ID survives only if it names an unchanged
// stored option of the same question.
func assignIDs(quizID string, questions []domain.Question, stored map[string]domain.Option) []domain.Question {
	used := make(map[string]struct{})
	out := make([]domain.Question, len(questions))
	for i, question := range questions {
		if question.ID == "" {
			question.ID = uuid.NewString()
		}
		question.QuizID = quizID
		options := make([]domain.Option, len(question.Options))
		for j, opt := range question.Options {
			keep := opt.ID != ""
			if keep && stored != nil {
				prev, ok := stored[opt.ID]
				keep = ok && prev.QuestionID == question.ID && prev.Text == opt.Text && prev.IsCorrect == opt.IsCorrect
			}
			if _, dup := used[opt.ID]; !keep || dup {
				opt.ID = uuid.NewString()
			}
			used[opt.ID] = struct{}{}
			opt.QuestionID = question.ID
			options[j] = opt
		}
		question.Options = options
		out[i] = question
	}
	return out
}

func optionsByID(questions []domain.Question) map[string]domain.Option {
	byID := make(map[string]domain.Option)
	for _, q := range questions {
		for _, opt := range q.Options {
			byID[opt.ID] = opt
		}
	}
	return byID
}
