package app

import (
	"context"
	"time"

	"classroom-quiz-service/internal/domain"
	"github.com/rs/zerolog/log"
)

// broadcaster publishes projected state after a committed mutation. Nothing it
// does can fail the caller: errors are logged and dropped.
type broadcaster struct {
	projector *Projector
	publisher Publisher
	timeout   time.Duration
	now       func() time.Time
}

func newBroadcaster(projector *Projector, publisher Publisher, o options) *broadcaster {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	return &broadcaster{projector: projector, publisher: publisher, timeout: o.broadcastTimeout, now: o.now}
}

// detach keeps the publish alive after the request that triggered it returns.
func (b *broadcaster) detach(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), b.timeout)
}

// sessionUpdated publishes the public game state of a session.
func (b *broadcaster) sessionUpdated(parent context.Context, sessionID string) {
	ctx, cancel := b.detach(parent)
	defer cancel()

	state, err := b.projector.Project(ctx, sessionID)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("project state for broadcast")
		return
	}
	b.publish(ctx, sessionID, domain.EventUpdate, domain.PublicView(state))
}

// answerRecorded publishes the cheap answer-count event followed by the full state.
func (b *broadcaster) answerRecorded(parent context.Context, sessionID, questionID string) {
	ctx, cancel := b.detach(parent)
	defer cancel()

	state, err := b.projector.Project(ctx, sessionID)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("project state for broadcast")
		return
	}
	if state.CurrentQuestionID() == questionID {
		b.publish(ctx, sessionID, domain.EventAnswerCount, domain.AnswerCount{
			QuestionID:   questionID,
			AnswersCount: state.AnswersCount,
		})
	}
	b.publish(ctx, sessionID, domain.EventUpdate, domain.PublicView(state))
}

func (b *broadcaster) publish(ctx context.Context, sessionID, name string, payload any) {
	event, err := domain.NewEvent(name, payload, b.now())
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Str("event", name).Msg("encode push event")
		return
	}
	if err := b.publisher.Publish(ctx, domain.SessionTopic(sessionID), event); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Str("event", name).Msg("push publish failed")
	}
}
