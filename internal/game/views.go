package game

import (
	"time"

	"github.com/foxhuntgame/foxhunt/internal/geo"
)

// Snapshot is the full recomputed game-state view pushed to clients.
// Target is only populated for the requesting runner's own target;
// everyone else gets the shared fields and nothing that would leak a
// hidden anchor.
type Snapshot struct {
	PlayerID string       `json:"playerId,omitempty"`
	Session  SessionView  `json:"session"`
	Players  []PlayerView `json:"players"`
	Scores   Scores       `json:"scores"`
	Target   *TargetView  `json:"target,omitempty"`
}

// Winner decides the outcome as rendered in this snapshot: runners win
// if any of them reached their final zone, otherwise the hunters held
// the field.
func (s Snapshot) Winner() Team {
	for _, p := range s.Players {
		if p.Team == TeamRunner && p.Status == PlayerWon {
			return TeamRunner
		}
	}
	return TeamHunter
}

// SessionView is the client-facing projection of a session.
type SessionView struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Anchor          geo.Point     `json:"anchor"`
	PlayRadius      float64       `json:"playRadius"`
	ActivationDelay int           `json:"activationDelaySec"`
	Status          SessionStatus `json:"status"`
	StartTime       *time.Time    `json:"startTime,omitempty"`
	EndTime         *time.Time    `json:"endTime,omitempty"`
	ElapsedSec      int           `json:"elapsedSec"`
	RemainingSec    int           `json:"remainingSec"`
}

// View projects s for clients, deriving elapsed and remaining seconds
// at the given instant. Both clamp at zero so clients never see
// negative clocks around the start and end edges.
func (s Session) View(now time.Time) SessionView {
	v := SessionView{
		ID:              s.ID,
		Name:            s.Name,
		Anchor:          s.Anchor,
		PlayRadius:      s.PlayRadius,
		ActivationDelay: int(s.ActivationDelay / time.Second),
		Status:          s.Status,
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
	}
	if s.StartTime != nil {
		if el := now.Sub(*s.StartTime); el > 0 {
			v.ElapsedSec = int(el / time.Second)
		}
	}
	if s.Status == SessionActive && s.EndTime != nil {
		if rem := s.EndTime.Sub(now); rem > 0 {
			v.RemainingSec = int(rem / time.Second)
		}
	}
	return v
}

// PlayerView is the roster entry every client sees. Live coordinates
// are shared with the whole session; clients filter by team locally.
type PlayerView struct {
	ID       string       `json:"id"`
	Username string       `json:"username"`
	Team     Team         `json:"team"`
	Status   PlayerStatus `json:"status"`
	Location *geo.Point   `json:"location,omitempty"`
	LastPing *time.Time   `json:"lastPing,omitempty"`
}

// View projects p for clients.
func (p Player) View() PlayerView {
	return PlayerView{
		ID:       p.ID,
		Username: p.Username,
		Team:     p.Team,
		Status:   p.Status,
		Location: p.Location,
		LastPing: p.LastPing,
	}
}

// TargetView is the runner-private projection of their own target.
type TargetView struct {
	ID          string       `json:"id"`
	Anchor      geo.Point    `json:"anchor"`
	RadiusLevel float64      `json:"radiusLevel"`
	Status      TargetStatus `json:"status"`
	ZoneStatus  ZoneStatus   `json:"zoneStatus"`
	ActivatesAt time.Time    `json:"activatesAt"`
	Points      int          `json:"points"`
}

// View projects t for its owning runner.
func (t Target) View() TargetView {
	return TargetView{
		ID:          t.ID,
		Anchor:      t.Anchor,
		RadiusLevel: t.RadiusLevel,
		Status:      t.Status,
		ZoneStatus:  t.ZoneStatus,
		ActivatesAt: t.ActivatesAt,
		Points:      t.Points,
	}
}
