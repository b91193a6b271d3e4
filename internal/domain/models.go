package domain

import (
	"sort"
	"time"
)

// QuestionType classifies how a question is presented to players.
type QuestionType string

const (
	QuestionKnowledge      QuestionType = "KNOWLEDGE"
	QuestionProgramOutput  QuestionType = "PROGRAM_OUTPUT"
	QuestionCodeCorrection QuestionType = "CODE_CORRECTION"
)

// SessionStatus is the phase a game session is in.
type SessionStatus string

const (
	StatusWaiting      SessionStatus = "WAITING"
	StatusActive       SessionStatus = "ACTIVE"
	StatusIntermission SessionStatus = "INTERMISSION"
	StatusEnded        SessionStatus = "ENDED"
)

const (
	MinTimeLimitSeconds = 5
	MinBaseScore        = 100
)

// Option represents a possible answer for a question.
type Option struct {
	ID         string `json:"id"`
	QuestionID string `json:"questionId,omitempty"`
	Text       string `json:"text"`
	IsCorrect  bool   `json:"isCorrect"`
}

// Question models a multiple-choice question, optionally carrying a code snippet.
type Question struct {
	ID           string       `json:"id"`
	QuizID       string       `json:"quizId,omitempty"`
	Text         string       `json:"text"`
	Type         QuestionType `json:"type"`
	CodeSnippet  string       `json:"codeSnippet,omitempty"`
	CodeLanguage string       `json:"codeLanguage,omitempty"`
	Options      []Option     `json:"options"`
	TimeLimit    int          `json:"timeLimit"` // seconds
	BaseScore    int          `json:"baseScore"`
	Order        int          `json:"order"`
	Section      string       `json:"section,omitempty"`
}

// Option returns the option with the given ID.
func (q Question) Option(optionID string) (Option, bool) {
	for _, opt := range q.Options {
		if opt.ID == optionID {
			return opt, true
		}
	}
	return Option{}, false
}

// HasCorrectOption reports whether any option is flagged correct. Unlike
// CorrectOptionID it does not depend on options having IDs yet.
func (q Question) HasCorrectOption() bool {
	for _, opt := range q.Options {
		if opt.IsCorrect {
			return true
		}
	}
	return false
}

// CorrectOptionID returns the first option flagged correct.
func (q Question) CorrectOptionID() string {
	for _, opt := range q.Options {
		if opt.IsCorrect {
			return opt.ID
		}
	}
	return ""
}

// Quiz is an ordered collection of questions plus presentation flags.
type Quiz struct {
	ID                    string     `json:"id"`
	Title                 string     `json:"title"`
	Description           string     `json:"description"`
	Questions             []Question `json:"questions"`
	ShowIntermediateStats bool       `json:"showIntermediateStats"`
	ShuffleQuestions      bool       `json:"shuffleQuestions"`
	RandomizeOptions      bool       `json:"randomizeOptions"`
	AntiTabSwitchEnabled  bool       `json:"antiTabSwitchEnabled"`
	CreatedAt             time.Time  `json:"createdAt"`
	// Version starts at 1 and is bumped by every question set replacement.
	Version               int64      `json:"version"`
}

// OrderedQuestions returns the questions sorted by their order field.
func (q Quiz) OrderedQuestions() []Question {
	out := make([]Question, len(q.Questions))
	copy(out, q.Questions)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Question looks up a question belonging to this quiz.
func (q Quiz) Question(questionID string) (Question, bool) {
	for _, question := range q.Questions {
		if question.ID == questionID {
			return question, true
		}
	}
	return Question{}, false
}

// GameSession is one live run of a quiz.
type GameSession struct {
	ID                       string        `json:"id"`
	QuizID                   string        `json:"quizId"`
	JoinCode                 string        `json:"joinCode"`
	Status                   SessionStatus `json:"status"`
	CurrentQuestionID        string        `json:"currentQuestionId,omitempty"`
	CurrentQuestionStartTime *time.Time    `json:"currentQuestionStartTime,omitempty"`
	HighestQuestionOrder     int           `json:"highestQuestionOrder"`
	AllowRewind              bool          `json:"allowRewind"`
	StartTime                *time.Time    `json:"startTime,omitempty"`
	EndTime                  *time.Time    `json:"endTime,omitempty"`
	CreatedAt                time.Time     `json:"createdAt"`
}

// Ended reports whether the session reached its terminal state.
func (s GameSession) Ended() bool {
	return s.Status == StatusEnded
}

// Player is a participant in a single session.
type Player struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	Name       string    `json:"name"`
	Class      string    `json:"class"`
	Score      int       `json:"score"`
	LastActive time.Time `json:"lastActive"`
	JoinedAt   time.Time `json:"joinedAt"`
	JoinSeq    int64     `json:"-"`
}

// Answer is the single recorded response of a player to a question.
type Answer struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"sessionId"`
	PlayerID         string    `json:"playerId"`
	QuestionID       string    `json:"questionId"`
	SelectedOptionID string    `json:"selectedOptionId"`
	IsCorrect        bool      `json:"isCorrect"`
	TimeTakenMs      int64     `json:"timeTakenMs"`
	Score            int       `json:"score"`
	CreatedAt        time.Time `json:"createdAt"`
}

// LeaderboardEntry is a ranked, snapshot-friendly view of a player.
type LeaderboardEntry struct {
	Rank     int    `json:"rank"`
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Class    string `json:"class"`
	Score    int    `json:"score"`
}

// GameState is the canonical read model of a session handed to every client.
type GameState struct {
	SessionID            string             `json:"sessionId"`
	Status               SessionStatus      `json:"status"`
	CurrentQuestion      *Question          `json:"currentQuestion"`
	QuestionStartTime    *time.Time         `json:"questionStartTime"`
	TimeLimit            int                `json:"timeLimit"`
	QuestionIndex        int                `json:"questionIndex"`
	TotalQuestions       int                `json:"totalQuestions"`
	Leaderboard          []LeaderboardEntry `json:"leaderboard"`
	IsHistory            bool               `json:"isHistory"`
	HighestQuestionOrder int                `json:"highestQuestionOrder"`
	AnswerDistribution   map[string]int     `json:"answerDistribution,omitempty"`
	CorrectAnswerID      string             `json:"correctAnswerId,omitempty"`
	AnswersCount         int                `json:"answersCount"`
	SupportsIntermission bool               `json:"supportsIntermission"`
	AntiTabSwitchEnabled bool               `json:"antiTabSwitchEnabled"`
	RandomizeOptions     bool               `json:"randomizeOptions"`
	ServerTime           time.Time          `json:"serverTime"`
}

// CurrentQuestionID returns the ID of the active question or "".
func (s GameState) CurrentQuestionID() string {
	if s.CurrentQuestion == nil {
		return ""
	}
	return s.CurrentQuestion.ID
}

// Deadline is the server-clock instant the current question closes.
func (s GameState) Deadline() (time.Time, bool) {
	if s.QuestionStartTime == nil || s.TimeLimit <= 0 {
		return time.Time{}, false
	}
	return s.QuestionStartTime.Add(time.Duration(s.TimeLimit) * time.Second), true
}

// PlayerStanding is the requesting player's own row in a personalized view.
type PlayerStanding struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Class string `json:"class"`
	Score int    `json:"score"`
	Rank  int    `json:"rank"`
}

// PlayerState is the game state personalized for one player.
type PlayerState struct {
	GameState
	Player           *PlayerStanding `json:"player,omitempty"`
	HasAnswered      bool            `json:"hasAnswered"`
	SelectedOptionID string          `json:"selectedOptionId,omitempty"`
}

// JoinResult is returned to a student after joining a session.
type JoinResult struct {
	PlayerID        string        `json:"playerId"`
	SessionID       string        `json:"sessionId"`
	Status          SessionStatus `json:"status"`
	CurrentQuestion *Question     `json:"currentQuestion"`
}
