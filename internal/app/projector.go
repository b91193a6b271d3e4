package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"classroom-quiz-service/internal/domain"
)

// Projector builds the canonical GameState of a session from persisted records.
// It holds no state of its own; every call reads the store again.
type Projector struct {
	store Store
	now   func() time.Time
}

func NewProjector(store Store, opts ...Option) *Projector {
	o := applyOptions(opts)
	return &Projector{store: store, now: o.now}
}

// Project returns the current game state of a session.
func (p *Projector) Project(ctx context.Context, sessionID string) (domain.GameState, error) {
	session, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.GameState{}, err
	}
	quiz, err := p.store.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return domain.GameState{}, err
	}
	players, err := p.store.ListPlayers(ctx, sessionID)
	if err != nil {
		return domain.GameState{}, fmt.Errorf("list players: %w", err)
	}

	ordered := quiz.OrderedQuestions()
	state := domain.GameState{
		SessionID:            session.ID,
		Status:               session.Status,
		TotalQuestions:       len(ordered),
		Leaderboard:          rankPlayers(players),
		HighestQuestionOrder: session.HighestQuestionOrder,
		SupportsIntermission: quiz.ShowIntermediateStats,
		AntiTabSwitchEnabled: quiz.AntiTabSwitchEnabled,
		RandomizeOptions:     quiz.RandomizeOptions,
		ServerTime:           p.now(),
	}

	if session.CurrentQuestionID == "" {
		return state, nil
	}
	for i := range ordered {
		if ordered[i].ID != session.CurrentQuestionID {
			continue
		}
		question := ordered[i]
		question.Options = append([]domain.Option(nil), question.Options...)
		state.CurrentQuestion = &question
		state.QuestionIndex = i + 1
		state.TimeLimit = question.TimeLimit
		state.QuestionStartTime = session.CurrentQuestionStartTime
		state.IsHistory = question.Order < session.HighestQuestionOrder
		break
	}
	if state.CurrentQuestion == nil {
		// The pointer references a question removed by a quiz edit.
		return state, nil
	}

	count, err := p.store.CountAnswers(ctx, session.ID, state.CurrentQuestion.ID)
	if err != nil {
		return domain.GameState{}, fmt.Errorf("count answers: %w", err)
	}
	state.AnswersCount = count

	if session.Status == domain.StatusIntermission {
		dist, err := p.store.AnswerDistribution(ctx, session.ID, state.CurrentQuestion.ID)
		if err != nil {
			return domain.GameState{}, fmt.Errorf("answer distribution: %w", err)
		}
		state.AnswerDistribution = make(map[string]int, len(state.CurrentQuestion.Options))
		for _, opt := range state.CurrentQuestion.Options {
			state.AnswerDistribution[opt.ID] = dist[opt.ID]
		}
		state.CorrectAnswerID = state.CurrentQuestion.CorrectOptionID()
	}
	return state, nil
}

// rankPlayers orders players by score, keeping join order among equal scores.
func rankPlayers(players []domain.Player) []domain.LeaderboardEntry {
	sorted := append([]domain.Player(nil), players...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].JoinSeq < sorted[j].JoinSeq })
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	entries := make([]domain.LeaderboardEntry, 0, len(sorted))
	for i, player := range sorted {
		entries = append(entries, domain.LeaderboardEntry{
			Rank:     i + 1,
			PlayerID: player.ID,
			Name:     player.Name,
			Class:    player.Class,
			Score:    player.Score,
		})
	}
	return entries
}
