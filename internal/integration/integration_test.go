package integration

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"classroom-quiz-service/internal/app"
	"classroom-quiz-service/internal/domain"
	"classroom-quiz-service/internal/infra/memory"
	"classroom-quiz-service/internal/infra/postgres"
	pgmigrations "classroom-quiz-service/internal/infra/postgres/migrations"
	infraredis "classroom-quiz-service/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

// Keep test output quiet.
func TestMain(m *testing.M) {
	log.Logger = zerolog.Nop()
	os.Exit(m.Run())
}

func TestLiveSessionEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	runMigrations(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	store := infraredis.NewQuizCache(postgres.NewStore(pool), redisClient, 5*time.Minute)
	broker := infraredis.NewBroker(redisClient, "quiz:")
	services := app.NewServices(store, broker)

	quiz, err := services.Catalog.CreateQuiz(ctx, sampleQuiz())
	if err != nil {
		t.Fatalf("create quiz: %v", err)
	}
	session, err := services.Lobby.CreateSession(ctx, quiz.ID, false)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	events, unsubscribe, err := broker.Subscribe(ctx, domain.SessionTopic(session.ID))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	alice, err := services.Lobby.Join(ctx, session.JoinCode, "Alice", "7A")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	bob, err := services.Lobby.Join(ctx, session.JoinCode, "Bob", "7A")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := services.Phases.Start(ctx, session.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	question := quiz.OrderedQuestions()[0]
	correct := question.CorrectOptionID()

	// Bob double-submits concurrently; only one answer may count.
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := services.Answers.Submit(ctx, session.ID, bob.PlayerID, question.ID, correct); err != nil {
				t.Errorf("submit: %v", err)
			}
		}()
	}
	wg.Wait()

	state, err := services.Lobby.SessionState(ctx, session.ID)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state.AnswersCount != 1 {
		t.Fatalf("expected 1 answer, got %d", state.AnswersCount)
	}
	if len(state.Leaderboard) != 2 || state.Leaderboard[0].PlayerID != bob.PlayerID {
		t.Fatalf("expected bob leading, got %+v", state.Leaderboard)
	}
	if state.Leaderboard[0].Score < question.BaseScore*6/10 || state.Leaderboard[1].PlayerID != alice.PlayerID {
		t.Fatalf("unexpected leaderboard %+v", state.Leaderboard)
	}

	sawCount := false
	deadline := time.After(5 * time.Second)
	for !sawCount {
		select {
		case ev := <-events:
			sawCount = ev.Name == domain.EventAnswerCount
		case <-deadline:
			t.Fatalf("no answer-count event received")
		}
	}

	// A second instance with its own cache must see a replace made here.
	otherInstance := memory.NewQuizCache(postgres.NewStore(pool), 5*time.Minute)
	if _, err := otherInstance.GetQuiz(ctx, quiz.ID); err != nil {
		t.Fatalf("warm second cache: %v", err)
	}
	extra := sampleQuiz().Questions[0]
	extra.Order = 2
	updated, err := services.Catalog.ReplaceQuestions(ctx, quiz.ID, append(quiz.OrderedQuestions(), extra))
	if err != nil {
		t.Fatalf("replace questions: %v", err)
	}
	if updated.OrderedQuestions()[0].CorrectOptionID() != correct {
		t.Fatalf("unchanged answered option lost its id")
	}
	seen, err := otherInstance.GetQuiz(ctx, quiz.ID)
	if err != nil {
		t.Fatalf("read through second cache: %v", err)
	}
	if len(seen.Questions) != 2 || seen.Version != 2 {
		t.Fatalf("second instance served stale quiz: %d questions at version %d", len(seen.Questions), seen.Version)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func runMigrations(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		Title: "Arithmetic",
		Questions: []domain.Question{
			{
				Text:      "What is 2 + 2?",
				Type:      domain.QuestionKnowledge,
				TimeLimit: 30,
				BaseScore: 1000,
				Order:     1,
				Options: []domain.Option{
					{Text: "3"},
					{Text: "4", IsCorrect: true},
					{Text: "5"},
				},
			},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
