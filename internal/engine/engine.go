// Package engine holds the authoritative game logic: session lifecycle,
// target assignment and advancement, catches, scoring and completion.
// It is transport-agnostic; the server layer turns its outcomes into
// protocol events.
//
// Gameplay deadlines (zone activation, session expiry) are stored
// timestamps re-checked lazily on reads and updates, never live timers,
// so a process restart loses nothing. Read-modify-write sequences on a
// single player's target are serialized with a per-player lock; session
// lifecycle transitions with a per-session lock. A lock in one namespace
// may acquire the other only in the session-then-player direction, which
// keeps the pair deadlock-free.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/foxhuntgame/foxhunt/internal/game"
	"github.com/foxhuntgame/foxhunt/internal/geo"
	"github.com/foxhuntgame/foxhunt/internal/store"
)

var (
	// ErrValidation wraps all reject-before-mutation input errors.
	ErrValidation = errors.New("invalid request")

	ErrAlreadyStarted   = errors.New("session already started")
	ErrSessionCompleted = errors.New("session already completed")
	ErrSessionNotActive = errors.New("session is not active")
	ErrNotARunner       = errors.New("player is not currently a runner")
	ErrWrongSession     = errors.New("player does not belong to this session")
)

// errNoChange aborts an UpdateX closure without treating it as a
// failure; used by idempotent transitions that found nothing to do.
var errNoChange = errors.New("no change")

type Engine struct {
	store store.Store
	trail store.TrailStore
	rules game.Rules
	log   *slog.Logger
	now   func() time.Time
	locks keyedMutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the engine's time source; tests use this to step
// through activation deadlines and session expiry.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(st store.Store, trail store.TrailStore, rules game.Rules, log *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store: st,
		trail: trail,
		rules: rules,
		log:   log,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rules returns the engine's rule set, handy for building views.
func (e *Engine) Rules() game.Rules { return e.rules }

// Now reads the engine's clock. Transports use it so rendered views
// agree with the clock that gameplay deadlines are held against.
func (e *Engine) Now() time.Time { return e.now() }

// SessionParams are the caller-supplied knobs for a new session. Zero
// values fall back to the rules' defaults.
type SessionParams struct {
	Name            string
	Anchor          geo.Point
	PlayRadius      float64
	ActivationDelay time.Duration
	Duration        time.Duration
}

// CreateSession creates a session in lobby status.
func (e *Engine) CreateSession(ctx context.Context, p SessionParams) (game.Session, error) {
	name := game.NormalizeName(p.Name)
	if name == "" {
		return game.Session{}, fmt.Errorf("%w: session name is required", ErrValidation)
	}
	if !p.Anchor.Valid() {
		return game.Session{}, fmt.Errorf("%w: anchor outside coordinate domain", ErrValidation)
	}
	if p.PlayRadius < 0 || p.ActivationDelay < 0 || p.Duration < 0 {
		return game.Session{}, fmt.Errorf("%w: radius, delay and duration must not be negative", ErrValidation)
	}
	if p.PlayRadius == 0 {
		p.PlayRadius = e.rules.DefaultPlayRadius
	}
	if p.ActivationDelay == 0 {
		p.ActivationDelay = e.rules.DefaultActivationDelay
	}
	if p.Duration == 0 {
		p.Duration = e.rules.DefaultGameDuration
	}

	s := game.Session{
		ID:              uuid.NewString(),
		Name:            name,
		Anchor:          p.Anchor,
		PlayRadius:      p.PlayRadius,
		ActivationDelay: p.ActivationDelay,
		Duration:        p.Duration,
		Status:          game.SessionLobby,
		CreatedAt:       e.now(),
	}
	if err := e.store.CreateSession(ctx, s); err != nil {
		return game.Session{}, err
	}

	e.log.Info("session created", "session", s.ID, "name", s.Name, "playRadius", s.PlayRadius)
	return s, nil
}

// SessionByID returns one session, lazily completing it if its clock
// has run out.
func (e *Engine) SessionByID(ctx context.Context, id string) (game.Session, error) {
	s, err := e.store.SessionByID(ctx, id)
	if err != nil {
		return game.Session{}, err
	}
	if s.Expired(e.now()) {
		if _, err := e.completeExpired(ctx, s.ID); err != nil {
			return game.Session{}, err
		}
		return e.store.SessionByID(ctx, id)
	}
	return s, nil
}

// SessionByName resolves a session by its unique name.
func (e *Engine) SessionByName(ctx context.Context, name string) (game.Session, error) {
	return e.store.SessionByName(ctx, game.NormalizeName(name))
}

// SessionSummary is a directory row: the session plus how many players
// it holds. Expired reports that this listing performed the completion
// flip, so the caller can announce the ending to the room.
type SessionSummary struct {
	Session     game.Session
	PlayerCount int
	Expired     bool
}

// ListSessions returns every session, newest first. Expired ones are
// completed on the way out so the directory never advertises a dead
// session as active.
func (e *Engine) ListSessions(ctx context.Context) ([]SessionSummary, error) {
	sessions, err := e.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}

	now := e.now()
	summaries := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		sum := SessionSummary{Session: s}
		if s.Expired(now) {
			flipped, err := e.completeExpired(ctx, s.ID)
			if err != nil {
				return nil, err
			}
			sum.Expired = flipped
			sum.Session.Status = game.SessionCompleted
		}
		if sum.PlayerCount, err = e.store.CountPlayers(ctx, s.ID); err != nil {
			return nil, err
		}
		summaries = append(summaries, sum)
	}
	return summaries, nil
}

// JoinSession adds a player to a session, or returns the existing
// record when the username is already taken there (reconnect-by-name).
// A rejoining player who was marked inactive comes back active.
func (e *Engine) JoinSession(ctx context.Context, sessionID, username string, team game.Team) (JoinOutcome, error) {
	username = game.NormalizeName(username)
	if username == "" {
		return JoinOutcome{}, fmt.Errorf("%w: username is required", ErrValidation)
	}
	if !team.Valid() {
		return JoinOutcome{}, fmt.Errorf("%w: team must be %q or %q", ErrValidation, game.TeamHunter, game.TeamRunner)
	}

	unlock := e.locks.lock(sessionKey(sessionID))
	defer unlock()

	s, err := e.store.SessionByID(ctx, sessionID)
	if err != nil {
		return JoinOutcome{}, err
	}
	if s.Status == game.SessionCompleted {
		return JoinOutcome{}, ErrSessionCompleted
	}

	existing, err := e.store.PlayerByUsername(ctx, sessionID, username)
	switch {
	case err == nil:
		if existing.Status == game.PlayerInactive {
			unlockP := e.locks.lock(playerKey(existing.ID))
			existing, err = e.store.UpdatePlayer(ctx, existing.ID, func(p *game.Player) error {
				if p.Status == game.PlayerInactive {
					p.Status = game.PlayerActive
				}
				return nil
			})
			unlockP()
			if err != nil {
				return JoinOutcome{}, err
			}
		}
		e.log.Info("player rejoined", "session", sessionID, "player", existing.ID, "username", username)
		return JoinOutcome{Session: s, Player: existing, Rejoined: true}, nil

	case errors.Is(err, store.ErrNotFound):
		p := game.Player{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Username:  username,
			Team:      team,
			Status:    game.PlayerActive,
		}
		if err := e.store.CreatePlayer(ctx, p); err != nil {
			return JoinOutcome{}, err
		}
		e.log.Info("player joined", "session", sessionID, "player", p.ID, "username", username, "team", team)
		return JoinOutcome{Session: s, Player: p}, nil

	default:
		return JoinOutcome{}, err
	}
}

// StartSession moves a lobby session to active, stamps its clock, and
// assigns a target to every runner who already has a known location.
// Runners without one get theirs on their first location update.
func (e *Engine) StartSession(ctx context.Context, sessionID string) (StartOutcome, error) {
	unlock := e.locks.lock(sessionKey(sessionID))
	s, err := e.store.UpdateSession(ctx, sessionID, func(s *game.Session) error {
		switch s.Status {
		case game.SessionActive:
			return ErrAlreadyStarted
		case game.SessionCompleted:
			return ErrSessionCompleted
		}
		now := e.now()
		end := now.Add(s.Duration)
		s.Status = game.SessionActive
		s.StartTime = &now
		s.EndTime = &end
		return nil
	})
	unlock()
	if err != nil {
		return StartOutcome{}, err
	}

	players, err := e.store.PlayersBySession(ctx, sessionID)
	if err != nil {
		return StartOutcome{}, err
	}

	out := StartOutcome{Session: s}
	for _, p := range players {
		if p.Team != game.TeamRunner || p.Location == nil {
			continue
		}
		unlockP := e.locks.lock(playerKey(p.ID))
		t, created, err := e.assignTarget(ctx, s, p.ID)
		unlockP()
		if err != nil {
			return StartOutcome{}, err
		}
		if created {
			out.Assigned = append(out.Assigned, t)
		}
	}

	e.log.Info("session started", "session", sessionID, "targets", len(out.Assigned), "ends", s.EndTime)
	return out, nil
}

// DeleteSession tears down a session and everything attached to it.
func (e *Engine) DeleteSession(ctx context.Context, sessionID string) error {
	unlock := e.locks.lock(sessionKey(sessionID))
	defer unlock()

	if err := e.store.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	e.log.Info("session deleted", "session", sessionID)
	return nil
}

// Disconnect marks a player inactive unless a terminal fate (caught,
// won) already sticks. The returned flag says whether anything flipped.
func (e *Engine) Disconnect(ctx context.Context, playerID string) (game.Player, bool, error) {
	unlock := e.locks.lock(playerKey(playerID))
	defer unlock()

	flipped := false
	p, err := e.store.UpdatePlayer(ctx, playerID, func(p *game.Player) error {
		if p.Status == game.PlayerActive {
			p.Status = game.PlayerInactive
			flipped = true
		}
		return nil
	})
	if err != nil {
		return game.Player{}, false, err
	}
	return p, flipped, nil
}

// Resync restores a client that lost its connection state: the player
// comes back active if they were inactive, and a fresh private snapshot
// is computed for them.
func (e *Engine) Resync(ctx context.Context, sessionID, playerID string) (SnapshotOutcome, game.Player, error) {
	p, err := e.store.PlayerByID(ctx, playerID)
	if err != nil {
		return SnapshotOutcome{}, game.Player{}, err
	}
	if p.SessionID != sessionID {
		return SnapshotOutcome{}, game.Player{}, ErrWrongSession
	}

	if p.Status == game.PlayerInactive {
		unlock := e.locks.lock(playerKey(playerID))
		p, err = e.store.UpdatePlayer(ctx, playerID, func(p *game.Player) error {
			if p.Status == game.PlayerInactive {
				p.Status = game.PlayerActive
			}
			return nil
		})
		unlock()
		if err != nil {
			return SnapshotOutcome{}, game.Player{}, err
		}
	}

	out, err := e.Snapshot(ctx, sessionID, playerID)
	if err != nil {
		return SnapshotOutcome{}, game.Player{}, err
	}
	return out, p, nil
}

// Trail returns the most recent location fixes for a player, newest
// first.
func (e *Engine) Trail(ctx context.Context, playerID string, n int) ([]store.Fix, error) {
	if _, err := e.store.PlayerByID(ctx, playerID); err != nil {
		return nil, err
	}
	return e.trail.Recent(ctx, playerID, n)
}

// randomPoint picks a uniformly distributed point inside the disc of
// the given radius around center. The square root keeps the density
// uniform by area rather than clustering near the center.
func (e *Engine) randomPoint(center geo.Point, radius float64) geo.Point {
	bearing := rand.Float64() * 360
	dist := radius * math.Sqrt(rand.Float64())
	return geo.Destination(center, bearing, dist)
}

func sessionKey(id string) string { return "session:" + id }
func playerKey(id string) string  { return "player:" + id }
