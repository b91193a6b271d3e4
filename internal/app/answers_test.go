package app_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"classroom-quiz-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestSubmitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureConfig{})
	player := f.join(t, "Ann")
	_, err := f.services.Phases.Start(ctx, f.session.ID)
	require.NoError(t, err)

	q := f.question(0)
	f.clock.Advance(2 * time.Second)
	first, err := f.services.Answers.Submit(ctx, f.session.ID, player, q.ID, q.CorrectOptionID())
	require.NoError(t, err)
	assert.True(t, first.IsCorrect)
	assert.Equal(t, int64(2000), first.TimeTakenMs)
	assert.Equal(t, 920, first.Score)

	f.clock.Advance(3 * time.Second)
	second, err := f.services.Answers.Submit(ctx, f.session.ID, player, q.ID, wrongOptionID(q))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	stored, err := f.store.GetPlayer(ctx, player)
	require.NoError(t, err)
	assert.Equal(t, 920, stored.Score)

	count, err := f.store.CountAnswers(ctx, f.session.ID, q.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSubmitConcurrentPlayersLoseNoUpdates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureConfig{})

	const n = 30
	players := make([]string, n)
	for i := range players {
		players[i] = f.join(t, fmt.Sprintf("player-%02d", i))
	}
	_, err := f.services.Phases.Start(ctx, f.session.ID)
	require.NoError(t, err)
	f.clock.Advance(3 * time.Second)

	q := f.question(0)
	answers := make([]domain.Answer, n)
	var g errgroup.Group
	for i := range players {
		i := i
		g.Go(func() error {
			option := q.CorrectOptionID()
			if i%3 == 0 {
				option = wrongOptionID(q)
			}
			answer, err := f.services.Answers.Submit(ctx, f.session.ID, players[i], q.ID, option)
			answers[i] = answer
			return err
		})
	}
	require.NoError(t, g.Wait())

	expected := 0
	for i := range players {
		expected += domain.Score(i%3 != 0, 3000, 10000, 1000)
	}

	recorded, stored := 0, 0
	for i, answer := range answers {
		recorded += answer.Score
		player, err := f.store.GetPlayer(ctx, players[i])
		require.NoError(t, err)
		stored += player.Score
	}
	assert.Equal(t, expected, recorded)
	assert.Equal(t, expected, stored)

	state, err := f.services.Projector.Project(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, n, state.AnswersCount)
}

func TestSubmitRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureConfig{})
	player := f.join(t, "Ann")
	q1, q2 := f.question(0), f.question(1)

	_, err := f.services.Answers.Submit(ctx, f.session.ID, player, q1.ID, q1.CorrectOptionID())
	assert.ErrorIs(t, err, domain.ErrAnswersClosed, "waiting session accepts no answers")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.services.Phases.Start(ctx, f.session.ID)
	require.NoError(t, err)

	_, err = f.services.Answers.Submit(ctx, "missing", player, q1.ID, q1.CorrectOptionID())
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	_, err = f.services.Answers.Submit(ctx, f.session.ID, player, "missing", q1.CorrectOptionID())
	assert.ErrorIs(t, err, domain.ErrQuestionNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.services.Answers.Submit(ctx, f.session.ID, player, q1.ID, q2.CorrectOptionID())
	assert.ErrorIs(t, err, domain.ErrOptionNotFound)

	_, err = f.services.Answers.Submit(ctx, f.session.ID, "ghost", q1.ID, q1.CorrectOptionID())
	assert.ErrorIs(t, err, domain.ErrPlayerNotFound)

	_, err = f.services.Answers.Submit(ctx, f.session.ID, player, q2.ID, q2.CorrectOptionID())
	assert.ErrorIs(t, err, domain.ErrAnswersClosed, "only the live question accepts answers")

	other, err := f.services.Lobby.CreateSession(ctx, f.quiz.ID, false)
	require.NoError(t, err)
	_, err = f.services.Answers.Submit(ctx, other.ID, player, q1.ID, q1.CorrectOptionID())
	assert.ErrorIs(t, err, domain.ErrPlayerNotFound, "players belong to one session")
}

func TestSubmitAfterDeadlineScoresFloor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureConfig{})
	player := f.join(t, "Ann")
	_, err := f.services.Phases.Start(ctx, f.session.ID)
	require.NoError(t, err)

	f.clock.Advance(45 * time.Second)
	q := f.question(0)
	answer, err := f.services.Answers.Submit(ctx, f.session.ID, player, q.ID, q.CorrectOptionID())
	require.NoError(t, err)
	assert.Equal(t, 600, answer.Score)
}

func TestSubmitSurvivesPublishFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureConfig{})
	player := f.join(t, "Ann")
	f.publisher.err = errPushDown

	_, err := f.services.Phases.Start(ctx, f.session.ID)
	require.NoError(t, err)

	q := f.question(0)
	answer, err := f.services.Answers.Submit(ctx, f.session.ID, player, q.ID, q.CorrectOptionID())
	require.NoError(t, err)
	assert.Equal(t, 1000, answer.Score)

	stored, err := f.store.GetPlayer(ctx, player)
	require.NoError(t, err)
	assert.Equal(t, 1000, stored.Score)
}

func TestSubmitPublishesAnswerCountThenUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, fixtureConfig{})
	player := f.join(t, "Ann")
	_, err := f.services.Phases.Start(ctx, f.session.ID)
	require.NoError(t, err)

	q := f.question(0)
	_, err = f.services.Answers.Submit(ctx, f.session.ID, player, q.ID, q.CorrectOptionID())
	require.NoError(t, err)

	counts := f.publisher.named(domain.EventAnswerCount)
	require.Len(t, counts, 1)
	var payload domain.AnswerCount
	require.NoError(t, counts[0].Decode(&payload))
	assert.Equal(t, domain.AnswerCount{QuestionID: q.ID, AnswersCount: 1}, payload)

	updates := f.publisher.named(domain.EventUpdate)
	require.NotEmpty(t, updates)
	var state domain.GameState
	require.NoError(t, updates[len(updates)-1].Decode(&state))
	require.NotNil(t, state.CurrentQuestion)
	assert.Equal(t, 1, state.AnswersCount)
	for _, opt := range state.CurrentQuestion.Options {
		assert.False(t, opt.IsCorrect, "broadcast leaked the correct option")
	}
}
