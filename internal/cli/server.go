package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"classroom-quiz-service/internal/app"
	"classroom-quiz-service/internal/config"
	"classroom-quiz-service/internal/domain"
	"classroom-quiz-service/internal/infra/memory"
	"classroom-quiz-service/internal/infra/postgres"
	infraredis "classroom-quiz-service/internal/infra/redis"
	transport "classroom-quiz-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viperForCmd(cmd)
			cfg, err := config.Load(v.GetString("config"))
			if err != nil {
				return err
			}
			applyLogConfig(v, cfg)
			return runServer(cmd.Context(), cfg, v.GetString("port"))
		},
	}
}

// applyLogConfig lets the config file choose logging unless a flag or
// environment variable already did.
func applyLogConfig(v *viper.Viper, cfg config.Config) {
	if cfg.Log.Level != "" && !v.IsSet("log-level") {
		v.Set("log-level", cfg.Log.Level)
	}
	if cfg.Log.Format != "" && !v.IsSet("log-format") {
		v.Set("log-format", cfg.Log.Format)
	}
	setupLogging(v)
}

// pushBroker is both ends of the push channel.
type pushBroker interface {
	app.Publisher
	transport.Subscriber
}

func runServer(ctx context.Context, cfg config.Config, portFlag string) error {
	port := portFlag
	if port == "" {
		port = cfg.Server.Port
	}
	if port == "" {
		port = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
	}

	store, closeStore, err := openStore(ctx, cfg, redisClient)
	if err != nil {
		return err
	}
	defer closeStore()

	var broker pushBroker
	if redisClient != nil {
		broker = infraredis.NewBroker(redisClient, cfg.Redis.ChannelPrefix)
	} else {
		broker = memory.NewBroker()
	}

	var publisher app.Publisher = app.NoopPublisher{}
	if cfg.Push.Enabled {
		publisher = broker
	}
	services := app.NewServices(store, publisher, app.WithBroadcastTimeout(cfg.BroadcastTimeout()))

	if cfg.Postgres.URL == "" {
		if err := seedSampleQuiz(ctx, services.Catalog); err != nil {
			return err
		}
	}

	var ws *transport.WSHandler
	if cfg.Push.Enabled {
		ws = transport.NewWSHandler(broker, services.Lobby, cfg.StreamLifetime())
	}
	if cfg.Admin.Token == "" {
		log.Warn().Msg("admin.token is empty, admin routes are unauthenticated")
	}

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           transport.NewAPIHandler(services, ws, cfg.Admin.Token).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", port).Bool("push", ws != nil).Msg("starting quiz service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		// Open push streams are hijacked connections; shutdown does not wait for them.
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStore picks postgres when configured, fronted by a quiz cache in Redis
// or in process. Without postgres everything lives in memory.
func openStore(ctx context.Context, cfg config.Config, redisClient *redis.Client) (app.Store, func(), error) {
	if cfg.Postgres.URL == "" {
		log.Info().Msg("postgres not configured, using in-memory store")
		return memory.NewStore(), func() {}, nil
	}

	if err := runMigrations(ctx, cfg); err != nil {
		return nil, nil, err
	}
	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}

	base := postgres.NewStore(pool)
	if redisClient != nil {
		return infraredis.NewQuizCache(base, redisClient, cfg.QuizTTL()), pool.Close, nil
	}
	return memory.NewQuizCache(base, cfg.QuizTTL()), pool.Close, nil
}

// seedSampleQuiz gives an empty in-memory deployment something to play.
func seedSampleQuiz(ctx context.Context, catalog *app.CatalogService) error {
	quiz, err := catalog.CreateQuiz(ctx, domain.Quiz{
		ID:                    "sample",
		Title:                 "Go warm-up",
		Description:           "Three quick questions to try the service",
		ShowIntermediateStats: true,
		Questions: []domain.Question{
			{
				Text:      "What is 2 + 2?",
				Type:      domain.QuestionKnowledge,
				TimeLimit: 20,
				BaseScore: 1000,
				Order:     1,
				Options: []domain.Option{
					{Text: "3"},
					{Text: "4", IsCorrect: true},
					{Text: "5"},
				},
			},
			{
				Text:         "What does this program print?",
				Type:         domain.QuestionProgramOutput,
				CodeSnippet:  "s := []int{1, 2, 3}\nfmt.Println(len(s[1:]))",
				CodeLanguage: "go",
				TimeLimit:    30,
				BaseScore:    1000,
				Order:        2,
				Section:      "slices",
				Options: []domain.Option{
					{Text: "1"},
					{Text: "2", IsCorrect: true},
					{Text: "3"},
				},
			},
			{
				Text:         "Which line fixes the data race?",
				Type:         domain.QuestionCodeCorrection,
				CodeSnippet:  "var n int\nfor i := 0; i < 10; i++ {\n\tgo func() { n++ }()\n}",
				CodeLanguage: "go",
				TimeLimit:    45,
				BaseScore:    1500,
				Order:        3,
				Section:      "concurrency",
				Options: []domain.Option{
					{Text: "Use atomic.AddInt64 for the increment", IsCorrect: true},
					{Text: "Add time.Sleep after the loop"},
					{Text: "Make n a pointer"},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("seed sample quiz: %w", err)
	}
	log.Info().Str("quiz_id", quiz.ID).Msg("seeded sample quiz")
	return nil
}
