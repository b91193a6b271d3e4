package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"classroom-quiz-service/internal/app"
	"classroom-quiz-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// QuizCache decorates a store with a TTL cache of quiz content. Every read
// checks the stored version first, so an entry filled before a replacement,
// here or on another instance, is never served.
type QuizCache struct {
	app.Store
	ttl   time.Duration
	clock func() time.Time
	sf    singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedQuiz
}

type cachedQuiz struct {
	quiz      domain.Quiz
	expiresAt time.Time
}

func NewQuizCache(store app.Store, ttl time.Duration) *QuizCache {
	return &QuizCache{
		Store: store,
		ttl:   ttl,
		clock: time.Now,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
		cache: make(map[string]cachedQuiz),
	}
}

func (c *QuizCache) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	version, err := c.Store.QuizVersion(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if quiz, ok := c.lookup(quizID, version); ok {
		return quiz, nil
	}

	result, err, _ := c.sf.Do(quizID, func() (interface{}, error) {
		quiz, err := c.Store.GetQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		c.fill(quiz)
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	quiz := result.(domain.Quiz)
	if quiz.Version < version {
		// Joined a load that started before the last replacement.
		return c.Store.GetQuiz(ctx, quizID)
	}
	return cloneQuiz(quiz), nil
}

func (c *QuizCache) ReplaceQuestions(ctx context.Context, quizID string, questions []domain.Question) error {
	defer c.Invalidate(quizID)
	return c.Store.ReplaceQuestions(ctx, quizID, questions)
}

// Invalidate drops a cached quiz.
func (c *QuizCache) Invalidate(quizID string) {
	c.mu.Lock()
	delete(c.cache, quizID)
	c.mu.Unlock()
}

// fill never replaces a newer entry with an older load.
func (c *QuizCache) fill(quiz domain.Quiz) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.cache[quiz.ID]; ok && entry.quiz.Version > quiz.Version {
		return
	}
	c.cache[quiz.ID] = cachedQuiz{quiz: cloneQuiz(quiz), expiresAt: c.clock().Add(c.ttlWithJitter())}
}

func (c *QuizCache) lookup(quizID string, version int64) (domain.Quiz, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[quizID]
	if !ok || entry.quiz.Version != version || !entry.expiresAt.After(c.clock()) {
		return domain.Quiz{}, false
	}
	return cloneQuiz(entry.quiz), true
}

func (c *QuizCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter spreads expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
