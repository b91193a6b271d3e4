package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"classroom-quiz-service/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// AnswerService records player answers exactly once and scores them.
type AnswerService struct {
	store     Store
	broadcast *broadcaster
	now       func() time.Time
}

func NewAnswerService(store Store, publisher Publisher, opts ...Option) *AnswerService {
	o := applyOptions(opts)
	return &AnswerService{
		store:     store,
		broadcast: newBroadcaster(NewProjector(store, opts...), publisher, o),
		now:       o.now,
	}
}

// Submit validates and records an answer. A repeated submission for the same
// (player, question) returns the first recorded answer unchanged.
func (s *AnswerService) Submit(ctx context.Context, sessionID, playerID, questionID, optionID string) (domain.Answer, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Answer{}, err
	}
	quiz, err := s.store.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return domain.Answer{}, err
	}
	question, ok := quiz.Question(questionID)
	if !ok {
		return domain.Answer{}, domain.ErrQuestionNotFound
	}
	option, ok := question.Option(optionID)
	if !ok {
		return domain.Answer{}, domain.ErrOptionNotFound
	}
	player, err := s.store.GetPlayer(ctx, playerID)
	if err != nil {
		return domain.Answer{}, err
	}
	if player.SessionID != session.ID {
		return domain.Answer{}, domain.ErrPlayerNotFound
	}

	existing, err := s.store.GetAnswer(ctx, playerID, questionID)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, domain.ErrAnswerNotFound):
		return domain.Answer{}, fmt.Errorf("lookup answer: %w", err)
	}

	if err := acceptingAnswers(session, question); err != nil {
		return domain.Answer{}, err
	}

	now := s.now()
	taken := now.Sub(*session.CurrentQuestionStartTime).Milliseconds()
	if taken < 0 {
		taken = 0
	}
	answer := domain.Answer{
		ID:               uuid.NewString(),
		SessionID:        session.ID,
		PlayerID:         playerID,
		QuestionID:       questionID,
		SelectedOptionID: optionID,
		IsCorrect:        option.IsCorrect,
		TimeTakenMs:      taken,
		Score:            domain.Score(option.IsCorrect, taken, int64(question.TimeLimit)*1000, question.BaseScore),
		CreatedAt:        now,
	}

	recorded, inserted, err := s.store.InsertAnswer(ctx, answer)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("record answer: %w", err)
	}
	if !inserted {
		// A concurrent duplicate won the insert.
		return recorded, nil
	}

	log.Debug().
		Str("session_id", session.ID).
		Str("player_id", playerID).
		Str("question_id", questionID).
		Bool("correct", recorded.IsCorrect).
		Int64("time_taken_ms", recorded.TimeTakenMs).
		Int("score", recorded.Score).
		Msg("answer recorded")

	s.broadcast.answerRecorded(ctx, session.ID, questionID)
	return recorded, nil
}

// acceptingAnswers reports whether the question is the live one.
func acceptingAnswers(session domain.GameSession, question domain.Question) error {
	if session.Status != domain.StatusActive ||
		session.CurrentQuestionID != question.ID ||
		session.CurrentQuestionStartTime == nil ||
		question.Order < session.HighestQuestionOrder {
		return domain.ErrAnswersClosed
	}
	return nil
}
