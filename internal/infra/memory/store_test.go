package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"classroom-quiz-service/internal/domain"
)

func TestStoreJoinCodeUniqueAmongLiveSessions(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	first := domain.GameSession{ID: "s1", JoinCode: "123456", Status: domain.StatusWaiting}
	if err := store.CreateSession(ctx, first); err != nil {
		t.Fatalf("create session: %v", err)
	}
	err := store.CreateSession(ctx, domain.GameSession{ID: "s2", JoinCode: "123456", Status: domain.StatusWaiting})
	if !errors.Is(err, domain.ErrJoinCodeTaken) {
		t.Fatalf("expected ErrJoinCodeTaken, got %v", err)
	}

	first.Status = domain.StatusEnded
	if err := store.UpdateSession(ctx, first); err != nil {
		t.Fatalf("update session: %v", err)
	}
	if err := store.CreateSession(ctx, domain.GameSession{ID: "s2", JoinCode: "123456", Status: domain.StatusWaiting}); err != nil {
		t.Fatalf("code should be reusable once ended: %v", err)
	}

	got, err := store.GetSessionByCode(ctx, "123456")
	if err != nil {
		t.Fatalf("get by code: %v", err)
	}
	if got.ID != "s2" {
		t.Fatalf("expected live session s2, got %s", got.ID)
	}
}

func TestStoreGetSessionByCodeFallsBackToLatestEnded(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"old", "new"} {
		session := domain.GameSession{ID: id, JoinCode: "4242", Status: domain.StatusEnded, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := store.CreateSession(ctx, session); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	got, err := store.GetSessionByCode(ctx, "4242")
	if err != nil {
		t.Fatalf("get by code: %v", err)
	}
	if got.ID != "new" {
		t.Fatalf("expected most recent ended session, got %s", got.ID)
	}

	if _, err := store.GetSessionByCode(ctx, "0000"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestStorePlayersKeepJoinOrderAndUniqueNames(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	if err := store.CreateSession(ctx, domain.GameSession{ID: "s1", JoinCode: "1111"}); err != nil {
		t.Fatalf("create session: %v", err)
	}

	for _, name := range []string{"Ann", "Bob", "Cid"} {
		if _, err := store.CreatePlayer(ctx, domain.Player{ID: "p-" + name, SessionID: "s1", Name: name}); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	if _, err := store.CreatePlayer(ctx, domain.Player{ID: "dup", SessionID: "s1", Name: "Bob"}); !errors.Is(err, domain.ErrPlayerNameTaken) {
		t.Fatalf("expected ErrPlayerNameTaken, got %v", err)
	}

	players, err := store.ListPlayers(ctx, "s1")
	if err != nil {
		t.Fatalf("list players: %v", err)
	}
	if len(players) != 3 {
		t.Fatalf("expected 3 players, got %d", len(players))
	}
	for i, want := range []string{"Ann", "Bob", "Cid"} {
		if players[i].Name != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, players[i].Name)
		}
	}
}

func TestStoreInsertAnswerIsIdempotentUnderContention(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	if err := store.CreateSession(ctx, domain.GameSession{ID: "s1", JoinCode: "1111"}); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := store.CreatePlayer(ctx, domain.Player{ID: "p1", SessionID: "s1", Name: "Ann"}); err != nil {
		t.Fatalf("create player: %v", err)
	}

	const attempts = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, ok, err := store.InsertAnswer(ctx, domain.Answer{
				ID: "a", SessionID: "s1", PlayerID: "p1", QuestionID: "q1", SelectedOptionID: "o1", Score: 500 + i,
			})
			if err != nil {
				t.Errorf("insert: %v", err)
				return
			}
			if ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if inserted != 1 {
		t.Fatalf("expected exactly one insert, got %d", inserted)
	}
	answer, err := store.GetAnswer(ctx, "p1", "q1")
	if err != nil {
		t.Fatalf("get answer: %v", err)
	}
	player, _ := store.GetPlayer(ctx, "p1")
	if player.Score != answer.Score {
		t.Fatalf("player score %d should equal the single recorded answer %d", player.Score, answer.Score)
	}

	count, _ := store.CountAnswers(ctx, "s1", "q1")
	if count != 1 {
		t.Fatalf("expected 1 answer, got %d", count)
	}
	dist, _ := store.AnswerDistribution(ctx, "s1", "q1")
	if dist["o1"] != 1 {
		t.Fatalf("expected distribution o1=1, got %v", dist)
	}
}

func TestStoreReturnsCopiesOfQuizContent(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	quiz := sampleQuiz()
	if err := store.CreateQuiz(ctx, quiz); err != nil {
		t.Fatalf("create quiz: %v", err)
	}

	got, _ := store.GetQuiz(ctx, quiz.ID)
	got.Questions[0].Options[0].IsCorrect = true

	again, _ := store.GetQuiz(ctx, quiz.ID)
	if again.Questions[0].Options[0].IsCorrect {
		t.Fatalf("mutating a returned quiz must not leak into the store")
	}
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Arithmetic",
		Questions: []domain.Question{
			{
				ID:        "q1",
				QuizID:    "quiz-1",
				Text:      "What is 2 + 2?",
				Type:      domain.QuestionKnowledge,
				TimeLimit: 20,
				BaseScore: 1000,
				Order:     1,
				Options: []domain.Option{
					{ID: "o1", QuestionID: "q1", Text: "3"},
					{ID: "o2", QuestionID: "q1", Text: "4", IsCorrect: true},
				},
			},
		},
	}
}
