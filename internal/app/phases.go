package app

import (
	"context"
	"fmt"
	"time"

	"classroom-quiz-service/internal/domain"
	"github.com/rs/zerolog/log"
)

// PhaseController drives a session through its phases on admin request:
// WAITING -> ACTIVE -> (INTERMISSION) -> ACTIVE -> ... -> ENDED.
type PhaseController struct {
	store     Store
	broadcast *broadcaster
	now       func() time.Time
}

func NewPhaseController(store Store, publisher Publisher, opts ...Option) *PhaseController {
	o := applyOptions(opts)
	return &PhaseController{
		store:     store,
		broadcast: newBroadcaster(NewProjector(store, opts...), publisher, o),
		now:       o.now,
	}
}

// Start activates the first question of a waiting session.
func (c *PhaseController) Start(ctx context.Context, sessionID string) (domain.GameSession, error) {
	return c.transition(ctx, sessionID, "start", func(session *domain.GameSession, quiz domain.Quiz, ordered []domain.Question) error {
		switch session.Status {
		case domain.StatusEnded:
			return domain.ErrSessionEnded
		case domain.StatusActive, domain.StatusIntermission:
			return domain.ErrAlreadyStarted
		}
		if len(ordered) == 0 {
			return domain.ErrNoQuestions
		}
		now := c.now()
		session.StartTime = &now
		c.activate(session, ordered[0], now)
		session.HighestQuestionOrder = ordered[0].Order
		return nil
	})
}

// Next shows intermission stats when the quiz enables them, otherwise moves
// to the following question or ends the session after the last one.
func (c *PhaseController) Next(ctx context.Context, sessionID string) (domain.GameSession, error) {
	return c.transition(ctx, sessionID, "next", func(session *domain.GameSession, quiz domain.Quiz, ordered []domain.Question) error {
		switch session.Status {
		case domain.StatusEnded:
			return domain.ErrSessionEnded
		case domain.StatusWaiting:
			return domain.ErrNotStarted
		case domain.StatusActive:
			if quiz.ShowIntermediateStats {
				session.Status = domain.StatusIntermission
				return nil
			}
		}

		next := indexOf(ordered, session.CurrentQuestionID) + 1
		now := c.now()
		if next >= len(ordered) {
			c.end(session, now)
			return nil
		}
		c.activate(session, ordered[next], now)
		if ordered[next].Order > session.HighestQuestionOrder {
			session.HighestQuestionOrder = ordered[next].Order
		}
		return nil
	})
}

// Previous rewinds to the preceding question for review. The highest question
// watermark is left untouched so clients see the question as history.
func (c *PhaseController) Previous(ctx context.Context, sessionID string) (domain.GameSession, error) {
	return c.transition(ctx, sessionID, "previous", func(session *domain.GameSession, quiz domain.Quiz, ordered []domain.Question) error {
		if session.Status == domain.StatusEnded {
			return domain.ErrSessionEnded
		}
		if !session.AllowRewind {
			return domain.ErrRewindDisabled
		}
		if session.Status == domain.StatusWaiting || len(ordered) == 0 {
			return domain.ErrNotStarted
		}
		prev := indexOf(ordered, session.CurrentQuestionID) - 1
		if prev < 0 {
			prev = 0
		}
		c.activate(session, ordered[prev], c.now())
		return nil
	})
}

// End terminates the session. Ending an ended session is a no-op.
func (c *PhaseController) End(ctx context.Context, sessionID string) (domain.GameSession, error) {
	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.GameSession{}, err
	}
	if session.Ended() {
		return session, nil
	}
	c.end(&session, c.now())
	if err := c.store.UpdateSession(ctx, session); err != nil {
		return domain.GameSession{}, fmt.Errorf("end session: %w", err)
	}
	log.Info().Str("session_id", session.ID).Str("action", "end").Msg("session ended")
	c.broadcast.sessionUpdated(ctx, session.ID)
	return session, nil
}

func (c *PhaseController) transition(
	ctx context.Context,
	sessionID, action string,
	apply func(session *domain.GameSession, quiz domain.Quiz, ordered []domain.Question) error,
) (domain.GameSession, error) {
	session, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.GameSession{}, err
	}
	quiz, err := c.store.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return domain.GameSession{}, err
	}
	if err := apply(&session, quiz, quiz.OrderedQuestions()); err != nil {
		return domain.GameSession{}, err
	}
	if err := c.store.UpdateSession(ctx, session); err != nil {
		return domain.GameSession{}, fmt.Errorf("%s session: %w", action, err)
	}

	log.Info().
		Str("session_id", session.ID).
		Str("action", action).
		Str("status", string(session.Status)).
		Str("question_id", session.CurrentQuestionID).
		Int("highest_order", session.HighestQuestionOrder).
		Msg("session transition")

	c.broadcast.sessionUpdated(ctx, session.ID)
	return session, nil
}

func (c *PhaseController) activate(session *domain.GameSession, question domain.Question, now time.Time) {
	session.Status = domain.StatusActive
	session.CurrentQuestionID = question.ID
	session.CurrentQuestionStartTime = &now
}

func (c *PhaseController) end(session *domain.GameSession, now time.Time) {
	session.Status = domain.StatusEnded
	session.EndTime = &now
}

func indexOf(ordered []domain.Question, questionID string) int {
	for i := range ordered {
		if ordered[i].ID == questionID {
			return i
		}
	}
	return -1
}
