package gamesync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"classroom-quiz-service/internal/app"
	"classroom-quiz-service/internal/domain"
	"classroom-quiz-service/internal/infra/memory"
	transport "classroom-quiz-service/internal/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminToken = "projector-token"

type liveServer struct {
	url      string
	services *app.Services
	session  domain.GameSession
}

func newLiveServer(t *testing.T, push bool) liveServer {
	t.Helper()
	broker := memory.NewBroker()
	services := app.NewServices(memory.NewStore(), broker)
	var ws *transport.WSHandler
	if push {
		ws = transport.NewWSHandler(broker, services.Lobby, time.Minute)
	}
	server := httptest.NewServer(transport.NewAPIHandler(services, ws, adminToken).Router())
	t.Cleanup(server.Close)

	ctx := context.Background()
	quiz, err := services.Catalog.CreateQuiz(ctx, domain.Quiz{
		Title:                 "Loops",
		ShowIntermediateStats: true,
		Questions: []domain.Question{
			{
				Text: "How many times does the loop run?", Type: domain.QuestionProgramOutput,
				CodeSnippet: "for i := 0; i < 3; i++ {}", CodeLanguage: "go",
				TimeLimit: 20, BaseScore: 1000, Order: 1,
				Options: []domain.Option{{Text: "2"}, {Text: "3", IsCorrect: true}},
			},
		},
	})
	require.NoError(t, err)
	session, err := services.Lobby.CreateSession(ctx, quiz.ID, false)
	require.NoError(t, err)
	return liveServer{url: server.URL, services: services, session: session}
}

func TestSyncersFollowLiveServer(t *testing.T) {
	srv := newLiveServer(t, true)
	ctx := context.Background()

	adminAPI := &HTTPClient{BaseURL: srv.url, SessionID: srv.session.ID, AdminToken: adminToken}
	pushOK, err := adminAPI.PushAvailable(ctx)
	require.NoError(t, err)
	require.True(t, pushOK)

	admin := New(adminAPI, &WSPushSource{BaseURL: srv.url}, nil, Options{
		Role:         RoleAdmin,
		SessionID:    srv.session.ID,
		PollInterval: time.Hour,
	})
	_, adminDone := runAsync(t, admin)
	assert.Eventually(t, func() bool { return admin.Snapshot().Connectivity.Push }, 3*time.Second, 10*time.Millisecond)

	playerAPI := &HTTPClient{BaseURL: srv.url}
	joined, err := playerAPI.Join(ctx, srv.session.JoinCode, "Alice", "7A")
	require.NoError(t, err)
	assert.Equal(t, srv.session.ID, playerAPI.SessionID)

	assert.Eventually(t, func() bool { return len(admin.Snapshot().State.Leaderboard) == 1 }, 3*time.Second, 10*time.Millisecond,
		"join reaches the projector over push")

	player := New(playerAPI, &WSPushSource{BaseURL: srv.url}, playerAPI, Options{
		Role:         RolePlayer,
		SessionID:    joined.SessionID,
		PollInterval: time.Hour,
	})
	_, playerDone := runAsync(t, player)
	assert.Eventually(t, func() bool { return player.Snapshot().Connectivity.Push }, 3*time.Second, 10*time.Millisecond)

	session, err := srv.services.Phases.Start(ctx, srv.session.ID)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return player.Snapshot().State.CurrentQuestionID() == session.CurrentQuestionID
	}, 3*time.Second, 10*time.Millisecond)

	snap := player.Snapshot()
	require.NotNil(t, snap.State.Player)
	assert.Equal(t, "Alice", snap.State.Player.Name)
	assert.Empty(t, snap.State.CurrentQuestion.CorrectOptionID(), "live question keeps its answer hidden")
	assert.Positive(t, snap.Remaining(time.Now()))

	assert.Empty(t, admin.Snapshot().State.CurrentQuestion.CorrectOptionID(), "broadcasts are public views")
	unfiltered, err := adminAPI.FetchState(ctx)
	require.NoError(t, err)
	correct := unfiltered.CurrentQuestion.CorrectOptionID()
	require.NotEmpty(t, correct)
	_, err = srv.services.Answers.Submit(ctx, srv.session.ID, joined.PlayerID, session.CurrentQuestionID, correct)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return player.Snapshot().State.HasAnswered }, 3*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return admin.Snapshot().State.AnswersCount == 1 }, 3*time.Second, 10*time.Millisecond)

	_, err = srv.services.Phases.End(ctx, srv.session.ID)
	require.NoError(t, err)
	require.NoError(t, waitRun(t, adminDone))
	require.NoError(t, waitRun(t, playerDone))
}

func TestPollingOnlyAgainstServerWithoutPush(t *testing.T) {
	srv := newLiveServer(t, false)
	ctx := context.Background()

	playerAPI := &HTTPClient{BaseURL: srv.url}
	pushOK, err := playerAPI.PushAvailable(ctx)
	require.NoError(t, err)
	require.False(t, pushOK)

	_, err = playerAPI.Join(ctx, srv.session.JoinCode, "Bob", "7B")
	require.NoError(t, err)

	var questions []string
	player := New(playerAPI, nil, playerAPI, Options{
		Role:         RolePlayer,
		SessionID:    playerAPI.SessionID,
		PollInterval: 25 * time.Millisecond,
		OnNewQuestion: func(q domain.Question) {
			questions = append(questions, q.ID)
		},
	})
	_, done := runAsync(t, player)

	session, err := srv.services.Phases.Start(ctx, srv.session.ID)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return player.Snapshot().State.Status == domain.StatusActive }, 3*time.Second, 10*time.Millisecond)

	_, err = srv.services.Phases.End(ctx, srv.session.ID)
	require.NoError(t, err)
	require.NoError(t, waitRun(t, done))
	assert.Equal(t, []string{session.CurrentQuestionID}, questions)
}

func TestHTTPClientReportsAPIErrors(t *testing.T) {
	srv := newLiveServer(t, false)
	ctx := context.Background()

	_, err := (&HTTPClient{BaseURL: srv.url, PlayerID: "ghost"}).FetchState(ctx)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.Status)

	_, err = (&HTTPClient{BaseURL: srv.url, SessionID: srv.session.ID}).FetchState(ctx)
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.Status)

	_, err = (&HTTPClient{BaseURL: srv.url}).Join(ctx, "12", "Eve", "")
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.Status)
}

func TestWSPushSourceRejectsUnknownSession(t *testing.T) {
	srv := newLiveServer(t, true)
	_, err := (&WSPushSource{BaseURL: srv.url}).Subscribe(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
