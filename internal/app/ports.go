package app

import (
	"context"
	"time"

	"classroom-quiz-service/internal/domain"
)

// QuizStore persists quiz content.
type QuizStore interface {
	CreateQuiz(ctx context.Context, quiz domain.Quiz) error
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	// ReplaceQuestions swaps the full question set of a quiz in one transaction
	// and bumps its version.
	ReplaceQuestions(ctx context.Context, quizID string, questions []domain.Question) error
	// QuizVersion reads only the version counter of a stored quiz.
	QuizVersion(ctx context.Context, quizID string) (int64, error)
}

// SessionStore persists game sessions.
type SessionStore interface {
	// CreateSession fails with domain.ErrJoinCodeTaken when another non-ended
	// session holds the same code.
	CreateSession(ctx context.Context, session domain.GameSession) error
	GetSession(ctx context.Context, sessionID string) (domain.GameSession, error)
	// GetSessionByCode prefers the non-ended session with the code and falls
	// back to the most recent ended one.
	GetSessionByCode(ctx context.Context, code string) (domain.GameSession, error)
	UpdateSession(ctx context.Context, session domain.GameSession) error
}

// PlayerStore persists players.
type PlayerStore interface {
	// CreatePlayer assigns the join sequence and fails with
	// domain.ErrPlayerNameTaken on a duplicate (session, name).
	CreatePlayer(ctx context.Context, player domain.Player) (domain.Player, error)
	GetPlayer(ctx context.Context, playerID string) (domain.Player, error)
	FindPlayerByName(ctx context.Context, sessionID, name string) (domain.Player, error)
	// ListPlayers returns the session's players in join order.
	ListPlayers(ctx context.Context, sessionID string) ([]domain.Player, error)
	TouchPlayer(ctx context.Context, playerID string, at time.Time) error
}

// AnswerStore persists answers.
type AnswerStore interface {
	// InsertAnswer records the answer and adds its score to the player in one
	// atomic step. When an answer for (player, question) already exists it is
	// returned unchanged with inserted=false and no score is added.
	InsertAnswer(ctx context.Context, answer domain.Answer) (recorded domain.Answer, inserted bool, err error)
	GetAnswer(ctx context.Context, playerID, questionID string) (domain.Answer, error)
	CountAnswers(ctx context.Context, sessionID, questionID string) (int, error)
	// AnswerDistribution counts answers per selected option.
	AnswerDistribution(ctx context.Context, sessionID, questionID string) (map[string]int, error)
}

// Store is the persistence collaborator of the core.
type Store interface {
	QuizStore
	SessionStore
	PlayerStore
	AnswerStore
}

// Publisher delivers events to a push topic. Delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
}

// NoopPublisher is used when push notifications are not configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, domain.Event) error { return nil }

// Option tunes the services in this package.
type Option func(*options)

type options struct {
	now              func() time.Time
	broadcastTimeout time.Duration
	joinCode         func() string
}

func defaultOptions() options {
	return options{
		now:              time.Now,
		broadcastTimeout: 3 * time.Second,
		joinCode:         randomJoinCode,
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock overrides time.Now, mostly for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithBroadcastTimeout bounds how long a post-commit publish may take.
func WithBroadcastTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.broadcastTimeout = d
		}
	}
}

// WithJoinCodeGenerator replaces the random six-digit join code generator.
func WithJoinCodeGenerator(gen func() string) Option {
	return func(o *options) { o.joinCode = gen }
}
