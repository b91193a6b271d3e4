package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"classroom-quiz-service/internal/domain"
)

// Store is an in-memory implementation of app.Store. A single mutex guards
// every table so multi-record writes are atomic.
type Store struct {
	mu       sync.RWMutex
	quizzes  map[string]domain.Quiz
	sessions map[string]domain.GameSession
	players  map[string]domain.Player
	answers  map[answerKey]domain.Answer
	joinSeq  int64
}

type answerKey struct {
	playerID   string
	questionID string
}

func NewStore() *Store {
	return &Store{
		quizzes:  make(map[string]domain.Quiz),
		sessions: make(map[string]domain.GameSession),
		players:  make(map[string]domain.Player),
		answers:  make(map[answerKey]domain.Answer),
	}
}

func (s *Store) CreateQuiz(_ context.Context, quiz domain.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	quiz.Version = 1
	s.quizzes[quiz.ID] = cloneQuiz(quiz)
	return nil
}

func (s *Store) GetQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quiz, ok := s.quizzes[quizID]
	if !ok {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	return cloneQuiz(quiz), nil
}

func (s *Store) ReplaceQuestions(_ context.Context, quizID string, questions []domain.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	quiz, ok := s.quizzes[quizID]
	if !ok {
		return domain.ErrQuizNotFound
	}
	quiz.Questions = questions
	quiz.Version++
	s.quizzes[quizID] = cloneQuiz(quiz)
	return nil
}

func (s *Store) QuizVersion(_ context.Context, quizID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	quiz, ok := s.quizzes[quizID]
	if !ok {
		return 0, domain.ErrQuizNotFound
	}
	return quiz.Version, nil
}

func (s *Store) CreateSession(_ context.Context, session domain.GameSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessions {
		if existing.JoinCode == session.JoinCode && !existing.Ended() {
			return domain.ErrJoinCodeTaken
		}
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *Store) GetSession(_ context.Context, sessionID string) (domain.GameSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.GameSession{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *Store) GetSessionByCode(_ context.Context, code string) (domain.GameSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		latest domain.GameSession
		found  bool
	)
	for _, session := range s.sessions {
		if session.JoinCode != code {
			continue
		}
		if !session.Ended() {
			return session, nil
		}
		if !found || session.CreatedAt.After(latest.CreatedAt) {
			latest, found = session, true
		}
	}
	if !found {
		return domain.GameSession{}, domain.ErrSessionNotFound
	}
	return latest, nil
}

func (s *Store) UpdateSession(_ context.Context, session domain.GameSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return domain.ErrSessionNotFound
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *Store) CreatePlayer(_ context.Context, player domain.Player) (domain.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[player.SessionID]; !ok {
		return domain.Player{}, domain.ErrSessionNotFound
	}
	for _, existing := range s.players {
		if existing.SessionID == player.SessionID && existing.Name == player.Name {
			return domain.Player{}, domain.ErrPlayerNameTaken
		}
	}
	s.joinSeq++
	player.JoinSeq = s.joinSeq
	player.Score = 0
	s.players[player.ID] = player
	return player, nil
}

func (s *Store) GetPlayer(_ context.Context, playerID string) (domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	player, ok := s.players[playerID]
	if !ok {
		return domain.Player{}, domain.ErrPlayerNotFound
	}
	return player, nil
}

func (s *Store) FindPlayerByName(_ context.Context, sessionID, name string) (domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, player := range s.players {
		if player.SessionID == sessionID && player.Name == name {
			return player, nil
		}
	}
	return domain.Player{}, domain.ErrPlayerNotFound
}

func (s *Store) ListPlayers(_ context.Context, sessionID string) ([]domain.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	players := make([]domain.Player, 0)
	for _, player := range s.players {
		if player.SessionID == sessionID {
			players = append(players, player)
		}
	}
	sort.Slice(players, func(i, j int) bool { return players[i].JoinSeq < players[j].JoinSeq })
	return players, nil
}

func (s *Store) TouchPlayer(_ context.Context, playerID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	player, ok := s.players[playerID]
	if !ok {
		return domain.ErrPlayerNotFound
	}
	player.LastActive = at
	s.players[playerID] = player
	return nil
}

func (s *Store) InsertAnswer(_ context.Context, answer domain.Answer) (domain.Answer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := answerKey{playerID: answer.PlayerID, questionID: answer.QuestionID}
	if existing, ok := s.answers[key]; ok {
		return existing, false, nil
	}
	player, ok := s.players[answer.PlayerID]
	if !ok {
		return domain.Answer{}, false, domain.ErrPlayerNotFound
	}
	s.answers[key] = answer
	player.Score += answer.Score
	s.players[player.ID] = player
	return answer, true, nil
}

func (s *Store) GetAnswer(_ context.Context, playerID, questionID string) (domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	answer, ok := s.answers[answerKey{playerID: playerID, questionID: questionID}]
	if !ok {
		return domain.Answer{}, domain.ErrAnswerNotFound
	}
	return answer, nil
}

func (s *Store) CountAnswers(_ context.Context, sessionID, questionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, answer := range s.answers {
		if answer.SessionID == sessionID && answer.QuestionID == questionID {
			count++
		}
	}
	return count, nil
}

func (s *Store) AnswerDistribution(_ context.Context, sessionID, questionID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dist := make(map[string]int)
	for _, answer := range s.answers {
		if answer.SessionID == sessionID && answer.QuestionID == questionID {
			dist[answer.SelectedOptionID]++
		}
	}
	return dist, nil
}

func cloneQuiz(quiz domain.Quiz) domain.Quiz {
	questions := make([]domain.Question, len(quiz.Questions))
	for i, question := range quiz.Questions {
		question.Options = append([]domain.Option(nil), question.Options...)
		questions[i] = question
	}
	quiz.Questions = questions
	return quiz
}
