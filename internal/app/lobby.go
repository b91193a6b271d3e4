package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"classroom-quiz-service/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	joinCodeLength    = 6
	minJoinCodeLength = 4
	joinCodeAttempts  = 8
)

// LobbyService is the client-facing surface around a session: creating it,
// joining it, reading personalized state and recording heartbeats.
type LobbyService struct {
	store     Store
	projector *Projector
	broadcast *broadcaster
	now       func() time.Time
	joinCode  func() string
}

func NewLobbyService(store Store, publisher Publisher, opts ...Option) *LobbyService {
	o := applyOptions(opts)
	projector := NewProjector(store, opts...)
	return &LobbyService{
		store:     store,
		projector: projector,
		broadcast: newBroadcaster(projector, publisher, o),
		now:       o.now,
		joinCode:  o.joinCode,
	}
}

// CreateSession opens a WAITING session for a quiz under a fresh join code.
func (s *LobbyService) CreateSession(ctx context.Context, quizID string, allowRewind bool) (domain.GameSession, error) {
	if _, err := s.store.GetQuiz(ctx, quizID); err != nil {
		return domain.GameSession{}, err
	}

	for attempt := 0; attempt < joinCodeAttempts; attempt++ {
		session := domain.GameSession{
			ID:          uuid.NewString(),
			QuizID:      quizID,
			JoinCode:    s.joinCode(),
			Status:      domain.StatusWaiting,
			AllowRewind: allowRewind,
			CreatedAt:   s.now(),
		}
		err := s.store.CreateSession(ctx, session)
		if errors.Is(err, domain.ErrJoinCodeTaken) {
			continue
		}
		if err != nil {
			return domain.GameSession{}, fmt.Errorf("create session: %w", err)
		}
		log.Info().Str("session_id", session.ID).Str("quiz_id", quizID).Str("join_code", session.JoinCode).Msg("session created")
		return session, nil
	}
	return domain.GameSession{}, fmt.Errorf("create session: %w after %d attempts", domain.ErrJoinCodeTaken, joinCodeAttempts)
}

// Join adds a student to the session behind a join code. Joining again under
// the same name returns the existing player so a refreshed browser keeps its
// score.
func (s *LobbyService) Join(ctx context.Context, code, name, class string) (domain.JoinResult, error) {
	code = strings.TrimSpace(code)
	name = strings.TrimSpace(name)
	class = strings.TrimSpace(class)
	if len(code) < minJoinCodeLength {
		return domain.JoinResult{}, domain.InvalidInputf("join code must have at least %d digits", minJoinCodeLength)
	}
	if name == "" {
		return domain.JoinResult{}, domain.InvalidInputf("name is required")
	}

	session, err := s.store.GetSessionByCode(ctx, code)
	if err != nil {
		return domain.JoinResult{}, err
	}
	if session.Ended() {
		return domain.JoinResult{}, domain.ErrSessionClosed
	}

	now := s.now()
	player, err := s.store.CreatePlayer(ctx, domain.Player{
		ID:         uuid.NewString(),
		SessionID:  session.ID,
		Name:       name,
		Class:      class,
		LastActive: now,
		JoinedAt:   now,
	})
	switch {
	case errors.Is(err, domain.ErrPlayerNameTaken):
		player, err = s.store.FindPlayerByName(ctx, session.ID, name)
		if err != nil {
			return domain.JoinResult{}, err
		}
		if err := s.store.TouchPlayer(ctx, player.ID, now); err != nil {
			return domain.JoinResult{}, err
		}
	case err != nil:
		return domain.JoinResult{}, fmt.Errorf("create player: %w", err)
	default:
		log.Info().Str("session_id", session.ID).Str("player_id", player.ID).Str("name", name).Msg("player joined")
		s.broadcast.sessionUpdated(ctx, session.ID)
	}

	result := domain.JoinResult{
		PlayerID:  player.ID,
		SessionID: session.ID,
		Status:    session.Status,
	}
	state, err := s.projector.Project(ctx, session.ID)
	if err != nil {
		return domain.JoinResult{}, err
	}
	result.Status = state.Status
	result.CurrentQuestion = domain.PublicView(state).CurrentQuestion
	return result, nil
}

// PlayerState returns the game state personalized for a player.
func (s *LobbyService) PlayerState(ctx context.Context, playerID string) (domain.PlayerState, error) {
	player, err := s.store.GetPlayer(ctx, playerID)
	if err != nil {
		return domain.PlayerState{}, err
	}
	state, err := s.projector.Project(ctx, player.SessionID)
	if err != nil {
		return domain.PlayerState{}, err
	}

	var answer *domain.Answer
	if questionID := state.CurrentQuestionID(); questionID != "" {
		recorded, err := s.store.GetAnswer(ctx, player.ID, questionID)
		switch {
		case err == nil:
			answer = &recorded
		case !errors.Is(err, domain.ErrAnswerNotFound):
			return domain.PlayerState{}, fmt.Errorf("lookup answer: %w", err)
		}
	}
	return domain.PlayerView(state, player, answer), nil
}

// SessionState returns the unfiltered state used by admin and projector screens.
func (s *LobbyService) SessionState(ctx context.Context, sessionID string) (domain.GameState, error) {
	return s.projector.Project(ctx, sessionID)
}

// Heartbeat marks a player as recently active.
func (s *LobbyService) Heartbeat(ctx context.Context, playerID string) error {
	return s.store.TouchPlayer(ctx, playerID, s.now())
}

func randomJoinCode() string {
	return fmt.Sprintf("%0*d", joinCodeLength, rand.Intn(1_000_000))
}
