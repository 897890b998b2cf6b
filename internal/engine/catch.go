package engine

import (
	"context"
	"errors"

	"github.com/foxhuntgame/foxhunt/internal/game"
)

// ReportCatch records that hunters physically caught a runner: the
// runner's fate becomes caught and they switch to the hunter team for
// the rest of the session. Catching anyone who is not currently an
// uncaught, unresolved runner is a conflict. A report that arrives
// after the clock ran out does not land; it completes the session
// instead.
func (e *Engine) ReportCatch(ctx context.Context, sessionID, caughtPlayerID string) (CatchOutcome, error) {
	s, err := e.store.SessionByID(ctx, sessionID)
	if err != nil {
		return CatchOutcome{}, err
	}
	if s.Expired(e.now()) {
		completed, err := e.completeExpired(ctx, sessionID)
		if err != nil {
			return CatchOutcome{}, err
		}
		if completed {
			return CatchOutcome{Completed: true}, nil
		}
		return CatchOutcome{}, ErrSessionCompleted
	}
	switch s.Status {
	case game.SessionCompleted:
		return CatchOutcome{}, ErrSessionCompleted
	case game.SessionLobby:
		return CatchOutcome{}, ErrSessionNotActive
	}

	unlock := e.locks.lock(playerKey(caughtPlayerID))
	var caught game.Player
	caught, err = e.store.UpdatePlayer(ctx, caughtPlayerID, func(p *game.Player) error {
		if p.SessionID != sessionID {
			return ErrWrongSession
		}
		if p.Team != game.TeamRunner || p.Status.Terminal() {
			return ErrNotARunner
		}
		p.Status = game.PlayerCaught
		p.Team = game.TeamHunter
		return nil
	})
	unlock()
	if err != nil {
		return CatchOutcome{}, err
	}

	e.log.Info("runner caught", "session", sessionID, "player", caughtPlayerID)

	completed, err := e.checkCompletion(ctx, sessionID)
	if err != nil {
		return CatchOutcome{}, err
	}
	return CatchOutcome{Caught: caught, Completed: completed}, nil
}

// checkCompletion ends an active session once no runner with status
// active remains. It runs after every won or caught transition.
func (e *Engine) checkCompletion(ctx context.Context, sessionID string) (bool, error) {
	unlock := e.locks.lock(sessionKey(sessionID))
	defer unlock()

	s, err := e.store.SessionByID(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if s.Status != game.SessionActive {
		return false, nil
	}

	players, err := e.store.PlayersBySession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	for _, p := range players {
		if p.Team == game.TeamRunner && p.Status == game.PlayerActive {
			return false, nil
		}
	}

	_, err = e.store.UpdateSession(ctx, sessionID, func(s *game.Session) error {
		if s.Status != game.SessionActive {
			return errNoChange
		}
		now := e.now()
		s.Status = game.SessionCompleted
		s.EndTime = &now
		return nil
	})
	if errors.Is(err, errNoChange) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	e.log.Info("session completed", "session", sessionID, "reason", "no active runners")
	return true, nil
}

// completeExpired finishes an active session whose scheduled end has
// passed. The stored end time is kept as the official end.
func (e *Engine) completeExpired(ctx context.Context, sessionID string) (bool, error) {
	unlock := e.locks.lock(sessionKey(sessionID))
	defer unlock()

	_, err := e.store.UpdateSession(ctx, sessionID, func(s *game.Session) error {
		if !s.Expired(e.now()) {
			return errNoChange
		}
		s.Status = game.SessionCompleted
		return nil
	})
	if errors.Is(err, errNoChange) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	e.log.Info("session completed", "session", sessionID, "reason", "time expired")
	return true, nil
}
