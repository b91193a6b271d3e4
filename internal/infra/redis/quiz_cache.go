package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"classroom-quiz-service/internal/app"
	"classroom-quiz-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// QuizCache keeps quiz content in Redis as JSON (quiz:{quizID}) shared by all
// instances and falls back to the wrapped store on a miss. A cached quiz is
// served only while its version matches the stored one.
type QuizCache struct {
	app.Store
	client *redis.Client
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuizCache(store app.Store, client *redis.Client, ttl time.Duration) *QuizCache {
	return &QuizCache{
		Store:  store,
		client: client,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuizCache) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	version, err := c.Store.QuizVersion(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if quiz, ok := c.lookup(ctx, quizID); ok && quiz.Version == version {
		return quiz, nil
	}

	result, err, _ := c.sf.Do(quizID, func() (interface{}, error) {
		quiz, err := c.Store.GetQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		// A late fill may overwrite a newer entry; the version check on the
		// next read sends it back to the store.
		if raw, err := json.Marshal(quiz); err == nil {
			if err := c.client.Set(ctx, c.key(quizID), raw, c.ttlWithJitter()).Err(); err != nil {
				log.Warn().Err(err).Str("quiz_id", quizID).Msg("cache quiz in redis")
			}
		}
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	quiz := result.(domain.Quiz)
	if quiz.Version < version {
		return c.Store.GetQuiz(ctx, quizID)
	}
	return quiz, nil
}

func (c *QuizCache) ReplaceQuestions(ctx context.Context, quizID string, questions []domain.Question) error {
	if err := c.Store.ReplaceQuestions(ctx, quizID, questions); err != nil {
		return err
	}
	if err := c.client.Del(ctx, c.key(quizID)).Err(); err != nil {
		log.Warn().Err(err).Str("quiz_id", quizID).Msg("invalidate cached quiz")
	}
	return nil
}

func (c *QuizCache) lookup(ctx context.Context, quizID string) (domain.Quiz, bool) {
	raw, err := c.client.Get(ctx, c.key(quizID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("quiz_id", quizID).Msg("read cached quiz")
		}
		return domain.Quiz{}, false
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return domain.Quiz{}, false
	}
	return quiz, true
}

func (c *QuizCache) key(quizID string) string {
	return "quiz:" + quizID
}

func (c *QuizCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
