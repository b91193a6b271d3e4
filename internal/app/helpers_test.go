package app_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"classroom-quiz-service/internal/app"
	"classroom-quiz-service/internal/domain"
	"classroom-quiz-service/internal/infra/memory"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

// Keep test output quiet.
func TestMain(m *testing.M) {
	log.Logger = zerolog.Nop()
	os.Exit(m.Run())
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) named(name string) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Event
	for _, ev := range p.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	store     *memory.Store
	clock     *fakeClock
	publisher *recordingPublisher
	services  *app.Services
	quiz      domain.Quiz
	session   domain.GameSession
}

type fixtureConfig struct {
	questions   int
	stats       bool
	randomize   bool
	allowRewind bool
}

func newFixture(t *testing.T, cfg fixtureConfig) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store:     memory.NewStore(),
		clock:     newFakeClock(),
		publisher: &recordingPublisher{},
	}
	f.services = app.NewServices(f.store, f.publisher, app.WithClock(f.clock.Now))

	quiz, err := f.services.Catalog.CreateQuiz(ctx, sampleQuiz(cfg))
	require.NoError(t, err)
	f.quiz = quiz

	session, err := f.services.Lobby.CreateSession(ctx, quiz.ID, cfg.allowRewind)
	require.NoError(t, err)
	f.session = session
	return f
}

func (f *fixture) join(t *testing.T, name string) string {
	t.Helper()
	res, err := f.services.Lobby.Join(context.Background(), f.session.JoinCode, name, "9B")
	require.NoError(t, err)
	return res.PlayerID
}

func (f *fixture) question(i int) domain.Question {
	return f.quiz.OrderedQuestions()[i]
}

func wrongOptionID(q domain.Question) string {
	for _, opt := range q.Options {
		if !opt.IsCorrect {
			return opt.ID
		}
	}
	return ""
}

func sampleQuiz(cfg fixtureConfig) domain.Quiz {
	n := cfg.questions
	if n == 0 {
		n = 2
	}
	quiz := domain.Quiz{
		Title:                 "Go basics",
		ShowIntermediateStats: cfg.stats,
		RandomizeOptions:      cfg.randomize,
	}
	for i := 1; i <= n; i++ {
		quiz.Questions = append(quiz.Questions, domain.Question{
			Text:      fmt.Sprintf("Question %d", i),
			Type:      domain.QuestionKnowledge,
			TimeLimit: 10,
			BaseScore: 1000,
			Order:     i,
			Options: []domain.Option{
				{Text: "wrong"},
				{Text: "right", IsCorrect: true},
				{Text: "also wrong"},
			},
		})
	}
	return quiz
}

var errPushDown = errors.New("push provider unavailable")
