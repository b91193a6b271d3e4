package domain

import (
	"errors"
	"fmt"
)

// Error categories. Every specific error below wraps exactly one of them so
// transports can map with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrInvalidInput       = errors.New("invalid input")
)

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = fmt.Errorf("quiz %w", ErrNotFound)
	// ErrSessionNotFound is returned for unknown session IDs or join codes.
	ErrSessionNotFound = fmt.Errorf("game session %w", ErrNotFound)
	// ErrQuestionNotFound indicates a question ID outside the session's quiz.
	ErrQuestionNotFound = fmt.Errorf("question %w", ErrNotFound)
	// ErrOptionNotFound indicates an option ID outside the question.
	ErrOptionNotFound = fmt.Errorf("option %w", ErrNotFound)
	// ErrPlayerNotFound is returned when a player is unknown to the session.
	ErrPlayerNotFound = fmt.Errorf("player %w", ErrNotFound)
	// ErrAnswerNotFound is returned by stores when no answer exists yet.
	ErrAnswerNotFound = fmt.Errorf("answer %w", ErrNotFound)

	ErrSessionClosed  = fmt.Errorf("%w: session is no longer accepting players", ErrForbidden)
	ErrSessionEnded   = fmt.Errorf("%w: session has ended", ErrForbidden)
	ErrAlreadyStarted = fmt.Errorf("%w: session already started", ErrForbidden)
	ErrNotStarted     = fmt.Errorf("%w: session has not started", ErrForbidden)
	ErrRewindDisabled = fmt.Errorf("%w: rewinding is disabled for this session", ErrForbidden)
	ErrAnswersClosed  = fmt.Errorf("%w: question is not accepting answers", ErrForbidden)

	ErrNoQuestions = fmt.Errorf("%w: quiz has no questions", ErrPreconditionFailed)

	// Store-level uniqueness violations.
	ErrJoinCodeTaken   = errors.New("join code already in use")
	ErrPlayerNameTaken = errors.New("player name already taken in session")
)

// InvalidInputf builds a validation error wrapping ErrInvalidInput.
func InvalidInputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
