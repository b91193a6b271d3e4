package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"classroom-quiz-service/internal/config"
	"classroom-quiz-service/internal/domain"
	"classroom-quiz-service/internal/gamesync"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a session from the terminal as the projector or as a player",
		RunE:  runWatch,
	}
	f := cmd.Flags()
	f.String("server", "http://localhost:8080", "quiz service base URL")
	f.String("session", "", "session id to project (admin view)")
	f.String("admin-token", "", "admin bearer token for the projector view")
	f.String("code", "", "join code; joins as a player instead of projecting")
	f.String("name", "", "player name")
	f.String("class", "", "player class")
	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	v := viperForCmd(cmd)
	cfg, err := config.Load(v.GetString("config"))
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	api := &gamesync.HTTPClient{BaseURL: v.GetString("server")}
	role := gamesync.RoleAdmin
	var heartbeat gamesync.Heartbeater

	switch {
	case v.GetString("code") != "":
		res, err := api.Join(ctx, v.GetString("code"), v.GetString("name"), v.GetString("class"))
		if err != nil {
			return fmt.Errorf("join: %w", err)
		}
		role = gamesync.RolePlayer
		heartbeat = api
		fmt.Fprintf(out, "joined session %s as %s\n", res.SessionID, v.GetString("name"))
	case v.GetString("session") != "":
		api.SessionID = v.GetString("session")
		api.AdminToken = v.GetString("admin-token")
	default:
		return errors.New("either --code or --session is required")
	}

	var push gamesync.PushSource
	available, err := api.PushAvailable(ctx)
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("capability check failed, polling only")
	case available:
		push = &gamesync.WSPushSource{BaseURL: api.BaseURL}
	default:
		log.Info().Msg("push disabled on server, polling only")
	}

	syncer := gamesync.New(api, push, heartbeat, gamesync.Options{
		Role:              role,
		SessionID:         api.SessionID,
		PollInterval:      config.TTLDuration(cfg.Sync.PollInterval, 0),
		ReconnectInterval: config.TTLDuration(cfg.Sync.ReconnectInterval, 0),
		HeartbeatInterval: config.TTLDuration(cfg.Sync.HeartbeatInterval, 0),
		OnState: func(s gamesync.Snapshot) {
			printSnapshot(out, s)
		},
		OnNewQuestion: func(q domain.Question) {
			printQuestion(out, q)
		},
		OnConnectivity: func(c gamesync.Connectivity) {
			log.Info().Bool("push", c.Push).Bool("fetch", c.Fetch).Msg("connectivity changed")
		},
	})

	log.Info().Str("role", role.String()).Str("session_id", api.SessionID).Bool("push", push != nil).Msg("watching session")
	if err := syncer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Fprintln(out, "session closed")
	return nil
}

func printQuestion(w io.Writer, q domain.Question) {
	fmt.Fprintf(w, "\n== %s ==\n", q.Text)
	if q.CodeSnippet != "" {
		fmt.Fprintf(w, "%s\n", q.CodeSnippet)
	}
	for i, opt := range q.Options {
		fmt.Fprintf(w, "  %c) %s\n", 'A'+i, opt.Text)
	}
}

func printSnapshot(w io.Writer, s gamesync.Snapshot) {
	state := s.State
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", state.Status)
	if state.QuestionIndex > 0 {
		fmt.Fprintf(&b, " question %d/%d", state.QuestionIndex, state.TotalQuestions)
	}
	if left := s.Remaining(time.Now()); left > 0 {
		fmt.Fprintf(&b, " %ds left", int(left.Round(time.Second)/time.Second))
	}
	if state.IsHistory {
		b.WriteString(" (review)")
	}
	fmt.Fprintf(&b, " answers=%d", state.AnswersCount)
	if state.Player != nil {
		fmt.Fprintf(&b, " you: #%d %d pts", state.Player.Rank, state.Player.Score)
		if state.HasAnswered {
			b.WriteString(" (answered)")
		}
	}
	for i, entry := range state.Leaderboard {
		if i == 3 {
			break
		}
		fmt.Fprintf(&b, " | %d. %s %d", entry.Rank, entry.Name, entry.Score)
	}
	fmt.Fprintln(w, b.String())
}
