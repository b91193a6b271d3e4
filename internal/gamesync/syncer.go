// Package gamesync keeps a client's view of a game session current by
// merging a push stream with a wall-clock aligned polling fallback.
package gamesync

import (
	"context"
	"sync"
	"time"

	"classroom-quiz-service/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Role distinguishes the projector, which trusts broadcasts as canonical
// state, from players, who need a personalized re-fetch.
type Role int

const (
	RolePlayer Role = iota
	RoleAdmin
)

func (r Role) String() string {
	if r == RoleAdmin {
		return "admin"
	}
	return "player"
}

const (
	defaultPollInterval      = 3 * time.Second
	defaultReconnectInterval = 4 * time.Minute
	defaultHeartbeatInterval = 60 * time.Second
	defaultRetryDelay        = time.Second
	maxRetryDelay            = 30 * time.Second
)

// StateFetcher reads the latest projected state for this client.
type StateFetcher interface {
	FetchState(ctx context.Context) (domain.PlayerState, error)
}

// PushSource opens a session event stream. The channel is closed when the
// stream ends, either by the server or because ctx was cancelled.
type PushSource interface {
	Subscribe(ctx context.Context, sessionID string) (<-chan domain.Event, error)
}

// Heartbeater reports player liveness.
type Heartbeater interface {
	Heartbeat(ctx context.Context) error
}

// Connectivity reports the health of each channel.
type Connectivity struct {
	Push  bool `json:"push"`
	Fetch bool `json:"fetch"`
}

// Snapshot is the local mirror of the session.
type Snapshot struct {
	State          domain.PlayerState
	ClockOffset    time.Duration
	LastQuestionID string
	Connectivity   Connectivity
	Synced         bool
}

// Remaining is the time left on the live question as seen from a local
// clock reading, corrected by the last known server offset.
func (s Snapshot) Remaining(localNow time.Time) time.Duration {
	if s.State.Status != domain.StatusActive || s.State.IsHistory {
		return 0
	}
	deadline, ok := s.State.Deadline()
	if !ok {
		return 0
	}
	left := deadline.Sub(localNow.Add(s.ClockOffset))
	if left < 0 {
		return 0
	}
	return left
}

type Options struct {
	Role      Role
	SessionID string

	PollInterval      time.Duration
	ReconnectInterval time.Duration
	HeartbeatInterval time.Duration
	RetryDelay        time.Duration

	Now func() time.Time

	// Callbacks run one at a time, never concurrently with each other.
	OnState        func(Snapshot)
	OnNewQuestion  func(domain.Question)
	OnConnectivity func(Connectivity)
}

func (o *Options) defaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = defaultReconnectInterval
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = defaultHeartbeatInterval
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Syncer is the per-client synchronization loop.
type Syncer struct {
	opts      Options
	fetcher   StateFetcher
	push      PushSource
	heartbeat Heartbeater
	refetch   singleflight.Group

	notifyMu sync.Mutex // serializes callbacks

	mu   sync.Mutex
	snap Snapshot

	done     chan struct{}
	doneOnce sync.Once
}

// New builds a syncer. push and heartbeat may be nil: without push the syncer
// runs on polling alone.
func New(fetcher StateFetcher, push PushSource, heartbeat Heartbeater, opts Options) *Syncer {
	opts.defaults()
	return &Syncer{
		opts:      opts,
		fetcher:   fetcher,
		push:      push,
		heartbeat: heartbeat,
		done:      make(chan struct{}),
	}
}

// Run drives every channel until ctx is cancelled, Close is called or the
// session ends. It returns nil when the session ended or Close was called.
func (s *Syncer) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		select {
		case <-s.done:
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	if err := s.refresh(gctx); err != nil {
		log.Warn().Err(err).Str("session_id", s.opts.SessionID).Msg("initial state fetch failed")
	}

	if s.push != nil {
		g.Go(func() error { return s.pushLoop(gctx) })
	}
	g.Go(func() error { return s.pollLoop(gctx) })
	if s.opts.Role == RolePlayer && s.heartbeat != nil {
		g.Go(func() error { return s.heartbeatLoop(gctx) })
	}

	err := g.Wait()
	select {
	case <-s.done:
		return err
	default:
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

// Close stops Run. It is safe to call more than once.
func (s *Syncer) Close() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Snapshot returns a copy of the current local state.
func (s *Syncer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *Syncer) pushLoop(ctx context.Context) error {
	delay := s.opts.RetryDelay
	for {
		connected, err := s.stream(ctx)
		s.setPush(false)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			delay = s.opts.RetryDelay
			continue
		}
		log.Debug().Err(err).Str("session_id", s.opts.SessionID).Dur("retry_in", delay).Msg("push stream unavailable")
		if !sleep(ctx, delay) {
			return nil
		}
		delay *= 2
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}

// stream consumes one push connection. The connection is dropped after
// ReconnectInterval so long-lived streams never go silently stale.
func (s *Syncer) stream(ctx context.Context) (bool, error) {
	streamCtx, cancel := context.WithTimeout(ctx, s.opts.ReconnectInterval)
	defer cancel()

	events, err := s.push.Subscribe(streamCtx, s.opts.SessionID)
	if err != nil {
		return false, err
	}
	connected := false
	for {
		select {
		case <-streamCtx.Done():
			return true, nil
		case ev, ok := <-events:
			if !ok {
				return connected, nil
			}
			if ev.Name == domain.EventConnected {
				connected = true
			}
			s.handleEvent(streamCtx, ev)
		}
	}
}

func (s *Syncer) handleEvent(ctx context.Context, ev domain.Event) {
	switch ev.Name {
	case domain.EventConnected:
		s.setPush(true)
		// Anything published while disconnected was missed.
		if err := s.refresh(ctx); err != nil {
			log.Debug().Err(err).Msg("refresh after connect failed")
		}
	case domain.EventUpdate:
		if s.opts.Role == RoleAdmin {
			var state domain.GameState
			if err := ev.Decode(&state); err != nil {
				log.Warn().Err(err).Msg("malformed update event")
				return
			}
			s.apply(domain.PlayerState{GameState: state})
			return
		}
		if err := s.refresh(ctx); err != nil {
			log.Debug().Err(err).Msg("refresh after update failed")
		}
	case domain.EventAnswerCount:
		var count domain.AnswerCount
		if err := ev.Decode(&count); err != nil {
			log.Warn().Err(err).Msg("malformed answer-count event")
			return
		}
		s.applyCount(count)
	}
}

func (s *Syncer) pollLoop(ctx context.Context) error {
	for {
		if !sleep(ctx, s.untilNextPoll()) {
			return nil
		}
		if !s.shouldPoll() {
			continue
		}
		if err := s.refresh(ctx); err != nil && ctx.Err() == nil {
			log.Debug().Err(err).Str("session_id", s.opts.SessionID).Msg("poll failed")
		}
	}
}

// untilNextPoll aligns polls to multiples of PollInterval on the server clock
// so all clients of a session fetch at about the same moment.
func (s *Syncer) untilNextPoll() time.Duration {
	s.mu.Lock()
	offset := s.snap.ClockOffset
	s.mu.Unlock()

	interval := s.opts.PollInterval
	now := s.opts.Now().Add(offset)
	next := now.Truncate(interval).Add(interval)
	return next.Sub(now)
}

// shouldPoll: players always poll because broadcasts cannot carry their
// answer status; admins only while push is down.
func (s *Syncer) shouldPoll() bool {
	if s.opts.Role == RolePlayer {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.snap.Connectivity.Push
}

func (s *Syncer) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.ended() {
				return nil
			}
			if err := s.heartbeat.Heartbeat(ctx); err != nil && ctx.Err() == nil {
				log.Debug().Err(err).Msg("heartbeat failed")
			}
		}
	}
}

// refresh fetches state, coalescing concurrent triggers into one request.
func (s *Syncer) refresh(ctx context.Context) error {
	_, err, _ := s.refetch.Do("state", func() (any, error) {
		state, err := s.fetcher.FetchState(ctx)
		if err != nil {
			s.setFetch(false)
			return nil, err
		}
		s.setFetch(true)
		s.apply(state)
		return nil, nil
	})
	return err
}

// apply installs state unconditionally. The server projects from persisted
// truth, so an out-of-order snapshot is corrected by the next one.
func (s *Syncer) apply(state domain.PlayerState) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.snap.State = state
	s.snap.Synced = true
	if !state.ServerTime.IsZero() {
		s.snap.ClockOffset = state.ServerTime.Sub(s.opts.Now())
	}
	var fresh *domain.Question
	if q := state.CurrentQuestion; q != nil && q.ID != s.snap.LastQuestionID {
		s.snap.LastQuestionID = q.ID
		copied := *q
		fresh = &copied
	}
	snap := s.snap
	s.mu.Unlock()

	if s.opts.OnState != nil {
		s.opts.OnState(snap)
	}
	if fresh != nil && s.opts.OnNewQuestion != nil {
		s.opts.OnNewQuestion(*fresh)
	}
	if state.Status == domain.StatusEnded {
		log.Debug().Str("session_id", s.opts.SessionID).Msg("session ended, stopping sync")
		s.Close()
	}
}

func (s *Syncer) applyCount(count domain.AnswerCount) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.snap.State.CurrentQuestionID() != count.QuestionID {
		s.mu.Unlock()
		return
	}
	s.snap.State.AnswersCount = count.AnswersCount
	snap := s.snap
	s.mu.Unlock()

	if s.opts.OnState != nil {
		s.opts.OnState(snap)
	}
}

func (s *Syncer) setPush(up bool) {
	s.setConnectivity(func(c *Connectivity) { c.Push = up })
}

func (s *Syncer) setFetch(up bool) {
	s.setConnectivity(func(c *Connectivity) { c.Fetch = up })
}

func (s *Syncer) setConnectivity(update func(*Connectivity)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	before := s.snap.Connectivity
	update(&s.snap.Connectivity)
	after := s.snap.Connectivity
	s.mu.Unlock()

	if before != after && s.opts.OnConnectivity != nil {
		s.opts.OnConnectivity(after)
	}
}

func (s *Syncer) ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.State.Status == domain.StatusEnded
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
