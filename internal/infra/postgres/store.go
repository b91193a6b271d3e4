package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"classroom-quiz-service/internal/domain"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const uniqueViolation = "23505"

// Store persists quizzes, sessions, players and answers in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateQuiz(ctx context.Context, quiz domain.Quiz) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO quizzes (id, title, description, show_intermediate_stats, shuffle_questions,
				randomize_options, anti_tab_switch_enabled, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			quiz.ID, quiz.Title, quiz.Description, quiz.ShowIntermediateStats, quiz.ShuffleQuestions,
			quiz.RandomizeOptions, quiz.AntiTabSwitchEnabled, quiz.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert quiz: %w", err)
		}
		return insertQuestions(ctx, tx, quiz.ID, quiz.Questions)
	})
}

func (s *Store) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var quiz domain.Quiz
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, description, show_intermediate_stats, shuffle_questions,
			randomize_options, anti_tab_switch_enabled, created_at, version
		FROM quizzes WHERE id = $1`, quizID).Scan(
		&quiz.ID, &quiz.Title, &quiz.Description, &quiz.ShowIntermediateStats, &quiz.ShuffleQuestions,
		&quiz.RandomizeOptions, &quiz.AntiTabSwitchEnabled, &quiz.CreatedAt, &quiz.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, text, type, code_snippet, code_language, time_limit, base_score, question_order, section
		FROM questions WHERE quiz_id = $1 ORDER BY question_order`, quizID)
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()
	index := make(map[string]int)
	for rows.Next() {
		q := domain.Question{QuizID: quizID}
		if err := rows.Scan(&q.ID, &q.Text, &q.Type, &q.CodeSnippet, &q.CodeLanguage,
			&q.TimeLimit, &q.BaseScore, &q.Order, &q.Section); err != nil {
			return domain.Quiz{}, fmt.Errorf("scan question: %w", err)
		}
		index[q.ID] = len(quiz.Questions)
		quiz.Questions = append(quiz.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return domain.Quiz{}, fmt.Errorf("load questions: %w", err)
	}
	rows.Close()

	optRows, err := s.pool.Query(ctx, `
		SELECT o.id, o.question_id, o.text, o.is_correct
		FROM options o JOIN questions q ON q.id = o.question_id
		WHERE q.quiz_id = $1 ORDER BY o.question_id, o.position`, quizID)
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load options: %w", err)
	}
	defer optRows.Close()
	for optRows.Next() {
		var opt domain.Option
		if err := optRows.Scan(&opt.ID, &opt.QuestionID, &opt.Text, &opt.IsCorrect); err != nil {
			return domain.Quiz{}, fmt.Errorf("scan option: %w", err)
		}
		if i, ok := index[opt.QuestionID]; ok {
			quiz.Questions[i].Options = append(quiz.Questions[i].Options, opt)
		}
	}
	if err := optRows.Err(); err != nil {
		return domain.Quiz{}, fmt.Errorf("load options: %w", err)
	}
	return quiz, nil
}

func (s *Store) ReplaceQuestions(ctx context.Context, quizID string, questions []domain.Question) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE quizzes SET version = version + 1 WHERE id = $1`, quizID)
		if err != nil {
			return fmt.Errorf("bump quiz version: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrQuizNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM questions WHERE quiz_id = $1`, quizID); err != nil {
			return fmt.Errorf("delete questions: %w", err)
		}
		return insertQuestions(ctx, tx, quizID, questions)
	})
}

func (s *Store) QuizVersion(ctx context.Context, quizID string) (int64, error) {
	var version int64
	err := s.pool.QueryRow(ctx, `SELECT version FROM quizzes WHERE id = $1`, quizID).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrQuizNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("load quiz version: %w", err)
	}
	return version, nil
}

func insertQuestions(ctx context.Context, tx pgx.Tx, quizID string, questions []domain.Question) error {
	if len(questions) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, q := range questions {
		batch.Queue(`
			INSERT INTO questions (id, quiz_id, text, type, code_snippet, code_language,
				time_limit, base_score, question_order, section)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			q.ID, quizID, q.Text, string(q.Type), q.CodeSnippet, q.CodeLanguage,
			q.TimeLimit, q.BaseScore, q.Order, q.Section)
		for pos, opt := range q.Options {
			batch.Queue(`
				INSERT INTO options (id, question_id, text, is_correct, position)
				VALUES ($1, $2, $3, $4, $5)`,
				opt.ID, q.ID, opt.Text, opt.IsCorrect, pos)
		}
	}
	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("insert questions: %w", err)
		}
	}
	return results.Close()
}

const sessionColumns = `id, quiz_id, join_code, status, current_question_id, current_question_start_time,
	highest_question_order, allow_rewind, start_time, end_time, created_at`

func (s *Store) CreateSession(ctx context.Context, session domain.GameSession) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO game_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		session.ID, session.QuizID, session.JoinCode, string(session.Status), nullable(session.CurrentQuestionID),
		session.CurrentQuestionStartTime, session.HighestQuestionOrder, session.AllowRewind,
		session.StartTime, session.EndTime, session.CreatedAt)
	if isUniqueViolation(err) {
		return domain.ErrJoinCodeTaken
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (domain.GameSession, error) {
	return scanSession(s.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM game_sessions WHERE id = $1`, sessionID))
}

func (s *Store) GetSessionByCode(ctx context.Context, code string) (domain.GameSession, error) {
	return scanSession(s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+` FROM game_sessions
		WHERE join_code = $1
		ORDER BY (status <> 'ENDED') DESC, created_at DESC
		LIMIT 1`, code))
}

func (s *Store) UpdateSession(ctx context.Context, session domain.GameSession) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE game_sessions SET status = $2, current_question_id = $3, current_question_start_time = $4,
			highest_question_order = $5, allow_rewind = $6, start_time = $7, end_time = $8
		WHERE id = $1`,
		session.ID, string(session.Status), nullable(session.CurrentQuestionID), session.CurrentQuestionStartTime,
		session.HighestQuestionOrder, session.AllowRewind, session.StartTime, session.EndTime)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func scanSession(row pgx.Row) (domain.GameSession, error) {
	var (
		session   domain.GameSession
		status    string
		currentID *string
	)
	err := row.Scan(&session.ID, &session.QuizID, &session.JoinCode, &status, &currentID,
		&session.CurrentQuestionStartTime, &session.HighestQuestionOrder, &session.AllowRewind,
		&session.StartTime, &session.EndTime, &session.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.GameSession{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.GameSession{}, fmt.Errorf("load session: %w", err)
	}
	session.Status = domain.SessionStatus(status)
	if currentID != nil {
		session.CurrentQuestionID = *currentID
	}
	return session, nil
}

const playerColumns = `id, session_id, name, class, score, last_active, joined_at, join_seq`

func (s *Store) CreatePlayer(ctx context.Context, player domain.Player) (domain.Player, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO players (id, session_id, name, class, last_active, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING score, join_seq`,
		player.ID, player.SessionID, player.Name, player.Class, player.LastActive, player.JoinedAt,
	).Scan(&player.Score, &player.JoinSeq)
	if isUniqueViolation(err) {
		return domain.Player{}, domain.ErrPlayerNameTaken
	}
	if err != nil {
		return domain.Player{}, fmt.Errorf("insert player: %w", err)
	}
	return player, nil
}

func (s *Store) GetPlayer(ctx context.Context, playerID string) (domain.Player, error) {
	return scanPlayer(s.pool.QueryRow(ctx, `SELECT `+playerColumns+` FROM players WHERE id = $1`, playerID))
}

func (s *Store) FindPlayerByName(ctx context.Context, sessionID, name string) (domain.Player, error) {
	return scanPlayer(s.pool.QueryRow(ctx,
		`SELECT `+playerColumns+` FROM players WHERE session_id = $1 AND name = $2`, sessionID, name))
}

func (s *Store) ListPlayers(ctx context.Context, sessionID string) ([]domain.Player, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+playerColumns+` FROM players WHERE session_id = $1 ORDER BY join_seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()
	players := make([]domain.Player, 0)
	for rows.Next() {
		player, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, player)
	}
	return players, rows.Err()
}

func (s *Store) TouchPlayer(ctx context.Context, playerID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE players SET last_active = $2 WHERE id = $1`, playerID, at)
	if err != nil {
		return fmt.Errorf("touch player: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPlayerNotFound
	}
	return nil
}

func scanPlayer(row pgx.Row) (domain.Player, error) {
	var p domain.Player
	err := row.Scan(&p.ID, &p.SessionID, &p.Name, &p.Class, &p.Score, &p.LastActive, &p.JoinedAt, &p.JoinSeq)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Player{}, domain.ErrPlayerNotFound
	}
	if err != nil {
		return domain.Player{}, fmt.Errorf("load player: %w", err)
	}
	return p, nil
}

const answerColumns = `id, session_id, player_id, question_id, selected_option_id, is_correct,
	time_taken_ms, score, created_at`

// InsertAnswer relies on the (player_id, question_id) constraint: the loser
// of a concurrent insert reads back the winner's row and adds no score.
func (s *Store) InsertAnswer(ctx context.Context, answer domain.Answer) (domain.Answer, bool, error) {
	var (
		recorded domain.Answer
		inserted bool
	)
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx, `
			INSERT INTO answers (`+answerColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (player_id, question_id) DO NOTHING
			RETURNING id`,
			answer.ID, answer.SessionID, answer.PlayerID, answer.QuestionID, answer.SelectedOptionID,
			answer.IsCorrect, answer.TimeTakenMs, answer.Score, answer.CreatedAt,
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			recorded, err = scanAnswer(tx.QueryRow(ctx,
				`SELECT `+answerColumns+` FROM answers WHERE player_id = $1 AND question_id = $2`,
				answer.PlayerID, answer.QuestionID))
			return err
		}
		if err != nil {
			return fmt.Errorf("insert answer: %w", err)
		}
		tag, err := tx.Exec(ctx, `UPDATE players SET score = score + $2 WHERE id = $1`, answer.PlayerID, answer.Score)
		if err != nil {
			return fmt.Errorf("add score: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrPlayerNotFound
		}
		recorded, inserted = answer, true
		return nil
	})
	if err != nil {
		return domain.Answer{}, false, err
	}
	return recorded, inserted, nil
}

func (s *Store) GetAnswer(ctx context.Context, playerID, questionID string) (domain.Answer, error) {
	return scanAnswer(s.pool.QueryRow(ctx,
		`SELECT `+answerColumns+` FROM answers WHERE player_id = $1 AND question_id = $2`, playerID, questionID))
}

func (s *Store) CountAnswers(ctx context.Context, sessionID, questionID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM answers WHERE session_id = $1 AND question_id = $2`, sessionID, questionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count answers: %w", err)
	}
	return count, nil
}

func (s *Store) AnswerDistribution(ctx context.Context, sessionID, questionID string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT selected_option_id, count(*) FROM answers
		WHERE session_id = $1 AND question_id = $2
		GROUP BY selected_option_id`, sessionID, questionID)
	if err != nil {
		return nil, fmt.Errorf("answer distribution: %w", err)
	}
	defer rows.Close()
	dist := make(map[string]int)
	for rows.Next() {
		var (
			optionID string
			count    int
		)
		if err := rows.Scan(&optionID, &count); err != nil {
			return nil, fmt.Errorf("scan distribution: %w", err)
		}
		dist[optionID] = count
	}
	return dist, rows.Err()
}

func scanAnswer(row pgx.Row) (domain.Answer, error) {
	var a domain.Answer
	err := row.Scan(&a.ID, &a.SessionID, &a.PlayerID, &a.QuestionID, &a.SelectedOptionID, &a.IsCorrect,
		&a.TimeTakenMs, &a.Score, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Answer{}, domain.ErrAnswerNotFound
	}
	if err != nil {
		return domain.Answer{}, fmt.Errorf("load answer: %w", err)
	}
	return a, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
