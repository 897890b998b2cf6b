package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/foxhuntgame/foxhunt/internal/game"
	"github.com/foxhuntgame/foxhunt/internal/geo"
	"github.com/foxhuntgame/foxhunt/internal/store"
)

// UpdateLocation records a player's position and, for active runners,
// evaluates it against their target: activating a due zone, advancing
// through the radius schedule, or resolving the target entirely. Updates
// arriving faster than the configured throttle are dropped whole.
func (e *Engine) UpdateLocation(ctx context.Context, sessionID, playerID string, loc geo.Point) (UpdateOutcome, error) {
	if !loc.Valid() {
		return UpdateOutcome{}, fmt.Errorf("%w: location outside coordinate domain", ErrValidation)
	}

	p, err := e.store.PlayerByID(ctx, playerID)
	if err != nil {
		return UpdateOutcome{}, err
	}
	if p.SessionID != sessionID {
		return UpdateOutcome{}, ErrWrongSession
	}

	s, err := e.store.SessionByID(ctx, sessionID)
	if err != nil {
		return UpdateOutcome{}, err
	}
	if s.Status == game.SessionCompleted {
		return UpdateOutcome{}, ErrSessionCompleted
	}
	if s.Expired(e.now()) {
		completed, err := e.completeExpired(ctx, sessionID)
		if err != nil {
			return UpdateOutcome{}, err
		}
		return UpdateOutcome{Player: p, Completed: completed}, nil
	}

	unlock := e.locks.lock(playerKey(playerID))
	out, err := e.applyLocation(ctx, s, playerID, loc)
	unlock()
	if err != nil {
		return UpdateOutcome{}, err
	}

	if out.Won {
		completed, err := e.checkCompletion(ctx, sessionID)
		if err != nil {
			return UpdateOutcome{}, err
		}
		out.Completed = completed
	}
	return out, nil
}

// applyLocation does the per-player work of UpdateLocation. The caller
// holds the player lock.
func (e *Engine) applyLocation(ctx context.Context, s game.Session, playerID string, loc geo.Point) (UpdateOutcome, error) {
	now := e.now()

	p, err := e.store.PlayerByID(ctx, playerID)
	if err != nil {
		return UpdateOutcome{}, err
	}
	if p.LastPing != nil && now.Sub(*p.LastPing) < e.rules.LocationThrottle {
		return UpdateOutcome{Player: p, Throttled: true}, nil
	}

	p, err = e.store.UpdatePlayer(ctx, playerID, func(p *game.Player) error {
		p.Location = &loc
		p.LastPing = &now
		return nil
	})
	if err != nil {
		return UpdateOutcome{}, err
	}

	if err := e.trail.Append(ctx, playerID, store.FixFrom(loc, now)); err != nil {
		// Trails are display-only; a Redis hiccup must not block play.
		e.log.Warn("appending location trail", "player", playerID, "error", err)
	}

	out := UpdateOutcome{Player: p}
	if s.Status != game.SessionActive || p.Team != game.TeamRunner || p.Status != game.PlayerActive {
		return out, nil
	}

	t, err := e.store.ActiveTargetByPlayer(ctx, playerID)
	if errors.Is(err, store.ErrNotFound) {
		t, _, err := e.assignTarget(ctx, s, playerID)
		if err != nil {
			return UpdateOutcome{}, err
		}
		out.Change = &TargetChange{Kind: TargetAssigned, Target: t}
		return out, nil
	}
	if err != nil {
		return UpdateOutcome{}, err
	}

	if t.ZoneStatus == game.ZoneInactive {
		if now.Before(t.ActivatesAt) {
			return out, nil
		}
		t, err = e.store.UpdateTarget(ctx, t.ID, func(t *game.Target) error {
			t.ZoneStatus = game.ZoneActive
			return nil
		})
		if err != nil {
			return UpdateOutcome{}, err
		}
		out.Change = &TargetChange{Kind: ZoneActivated, Target: t}
		return out, nil
	}

	if !geo.InNestedArea(loc, t.Anchor, t.RadiusLevel, e.rules.RadiusLevels) {
		return out, nil
	}

	if t.RadiusLevel == e.rules.SmallestLevel() {
		reachedAt := now
		t, err = e.store.UpdateTarget(ctx, t.ID, func(t *game.Target) error {
			t.Status = game.TargetReached
			t.ReachedAt = &reachedAt
			return nil
		})
		if err != nil {
			return UpdateOutcome{}, err
		}
		p, err = e.store.UpdatePlayer(ctx, playerID, func(p *game.Player) error {
			p.Status = game.PlayerWon
			return nil
		})
		if err != nil {
			return UpdateOutcome{}, err
		}
		e.log.Info("target reached", "session", s.ID, "player", playerID, "points", t.Points)
		out.Player = p
		out.Change = &TargetChange{Kind: TargetReached, Target: t}
		out.Won = true
		return out, nil
	}

	next, ok := e.rules.NextLevel(t.RadiusLevel)
	if !ok {
		// Level drifted outside the configured schedule: freeze rather
		// than guess. Reaching here means the rules changed under a
		// live game.
		e.log.Warn("target level not in schedule", "target", t.ID, "level", t.RadiusLevel)
		return out, nil
	}
	t, err = e.store.UpdateTarget(ctx, t.ID, func(t *game.Target) error {
		t.RadiusLevel = next
		t.ZoneStatus = game.ZoneInactive
		t.ActivatesAt = now.Add(s.ActivationDelay)
		t.Points = e.rules.PointsAtLevel(next)
		return nil
	})
	if err != nil {
		return UpdateOutcome{}, err
	}
	e.log.Info("target advanced", "session", s.ID, "player", playerID, "level", next)
	out.Change = &TargetChange{Kind: TargetAdvanced, Target: t}
	return out, nil
}

// assignTarget gives a runner their target if they lack one; it returns
// the existing target untouched otherwise. The caller holds the player
// lock. The anchor is a uniformly random point inside the session's
// play disc, never revealed to clients except level by level.
func (e *Engine) assignTarget(ctx context.Context, s game.Session, playerID string) (game.Target, bool, error) {
	existing, err := e.store.ActiveTargetByPlayer(ctx, playerID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return game.Target{}, false, err
	}

	now := e.now()
	t := game.Target{
		ID:          uuid.NewString(),
		SessionID:   s.ID,
		PlayerID:    playerID,
		Anchor:      e.randomPoint(s.Anchor, s.PlayRadius),
		RadiusLevel: e.rules.LargestLevel(),
		Status:      game.TargetActive,
		ZoneStatus:  game.ZoneInactive,
		ActivatesAt: now.Add(s.ActivationDelay),
		Points:      e.rules.BasePoints,
		CreatedAt:   now,
	}
	if err := e.store.CreateTarget(ctx, t); err != nil {
		return game.Target{}, false, err
	}

	e.log.Info("target assigned", "session", s.ID, "player", playerID, "level", t.RadiusLevel)
	return t, true, nil
}
