package engine

import (
	"context"
	"errors"

	"github.com/foxhuntgame/foxhunt/internal/game"
)

// Snapshot recomputes the full game-state view for one session. The
// read has teeth: an active session past its end time is completed on
// the spot, and any zone whose activation deadline has passed is
// flipped active, so idle sessions resolve correctly when next queried.
// viewerID selects whose private target rides along; pass "" for the
// shared view.
func (e *Engine) Snapshot(ctx context.Context, sessionID, viewerID string) (SnapshotOutcome, error) {
	s, err := e.store.SessionByID(ctx, sessionID)
	if err != nil {
		return SnapshotOutcome{}, err
	}

	var out SnapshotOutcome
	if s.Expired(e.now()) {
		expired, err := e.completeExpired(ctx, sessionID)
		if err != nil {
			return SnapshotOutcome{}, err
		}
		out.Expired = expired
		if s, err = e.store.SessionByID(ctx, sessionID); err != nil {
			return SnapshotOutcome{}, err
		}
	}

	players, err := e.store.PlayersBySession(ctx, sessionID)
	if err != nil {
		return SnapshotOutcome{}, err
	}
	targets, err := e.store.TargetsBySession(ctx, sessionID)
	if err != nil {
		return SnapshotOutcome{}, err
	}

	if s.Status == game.SessionActive {
		now := e.now()
		for i, t := range targets {
			if t.Status != game.TargetActive || t.ZoneStatus != game.ZoneInactive || now.Before(t.ActivatesAt) {
				continue
			}
			activated, err := e.activateZone(ctx, t.ID, t.PlayerID)
			if err != nil {
				return SnapshotOutcome{}, err
			}
			if activated != nil {
				targets[i] = *activated
				out.Activated = append(out.Activated, *activated)
			}
		}
	}

	snap := game.Snapshot{
		PlayerID: viewerID,
		Session:  s.View(e.now()),
		Players:  make([]game.PlayerView, 0, len(players)),
		Scores:   game.ComputeScores(players, targets, e.rules),
	}
	for _, p := range players {
		snap.Players = append(snap.Players, p.View())
	}

	if viewerID != "" {
		// Targets are ordered oldest first; keep the viewer's most
		// recent one so a winner still sees their reached target.
		for _, t := range targets {
			if t.PlayerID == viewerID {
				v := t.View()
				snap.Target = &v
			}
		}
	}

	out.Snapshot = snap
	return out, nil
}

// activateZone flips one due zone to active under the owning player's
// lock, re-checking the deadline once the lock is held. A nil target
// with nil error means someone else already advanced it.
func (e *Engine) activateZone(ctx context.Context, targetID, playerID string) (*game.Target, error) {
	unlock := e.locks.lock(playerKey(playerID))
	defer unlock()

	t, err := e.store.UpdateTarget(ctx, targetID, func(t *game.Target) error {
		if t.Status != game.TargetActive || t.ZoneStatus != game.ZoneInactive {
			return errNoChange
		}
		if e.now().Before(t.ActivatesAt) {
			return errNoChange
		}
		t.ZoneStatus = game.ZoneActive
		return nil
	})
	if errors.Is(err, errNoChange) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}
