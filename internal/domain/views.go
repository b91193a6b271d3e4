package domain

import (
	"hash/fnv"
	"math/rand"
)

// revealsAnswers reports whether option correctness may be shown to players.
func (s GameState) revealsAnswers() bool {
	return s.Status != StatusActive || s.IsHistory
}

// PublicView is the broadcast-safe form of a game state: while a question is
// live its correct option is hidden.
func PublicView(state GameState) GameState {
	out := state
	out.Leaderboard = append([]LeaderboardEntry(nil), state.Leaderboard...)
	if state.AnswerDistribution != nil {
		out.AnswerDistribution = make(map[string]int, len(state.AnswerDistribution))
		for k, v := range state.AnswerDistribution {
			out.AnswerDistribution[k] = v
		}
	}
	if state.CurrentQuestion == nil {
		return out
	}
	q := *state.CurrentQuestion
	q.Options = append([]Option(nil), state.CurrentQuestion.Options...)
	if !state.revealsAnswers() {
		for i := range q.Options {
			q.Options[i].IsCorrect = false
		}
		out.CorrectAnswerID = ""
	}
	out.CurrentQuestion = &q
	return out
}

// PlayerView personalizes the public view for one player. answer is the
// player's recorded answer to the current question, if any.
func PlayerView(state GameState, player Player, answer *Answer) PlayerState {
	view := PlayerState{GameState: PublicView(state)}

	standing := &PlayerStanding{
		ID:    player.ID,
		Name:  player.Name,
		Class: player.Class,
		Score: player.Score,
	}
	for _, entry := range state.Leaderboard {
		if entry.PlayerID == player.ID {
			standing.Rank = entry.Rank
			standing.Score = entry.Score
			break
		}
	}
	view.Player = standing

	if answer != nil && answer.QuestionID == state.CurrentQuestionID() {
		view.HasAnswered = true
		view.SelectedOptionID = answer.SelectedOptionID
	}

	if state.RandomizeOptions && view.CurrentQuestion != nil {
		shuffleOptions(view.CurrentQuestion.Options, player.ID+":"+view.CurrentQuestion.ID)
	}
	return view
}

// shuffleOptions reorders options deterministically for a seed so repeated
// polls show a player the same order.
func shuffleOptions(options []Option, seed string) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed))
	rnd := rand.New(rand.NewSource(int64(h.Sum64())))
	rnd.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})
}
