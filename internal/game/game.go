// Package game defines the core domain types and scoring rules of a
// foxhunt session. It depends only on the geo package; nothing here
// touches storage, transport, or clocks.
package game

import (
	"fmt"
	"strings"
	"time"

	"github.com/foxhuntgame/foxhunt/internal/geo"
)

// Team is the side a player hunts for.
type Team string

const (
	TeamHunter Team = "hunter"
	TeamRunner Team = "runner"
)

// Valid reports whether t is a known team.
func (t Team) Valid() bool {
	return t == TeamHunter || t == TeamRunner
}

// SessionStatus is the lifecycle phase of a session. Transitions are
// one-way: lobby, then active, then completed.
type SessionStatus string

const (
	SessionLobby     SessionStatus = "lobby"
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// PlayerStatus tracks both connectivity and game fate. The active and
// inactive values flip with connectivity; caught and won are terminal
// and never overwritten by connection churn.
type PlayerStatus string

const (
	PlayerActive   PlayerStatus = "active"
	PlayerInactive PlayerStatus = "inactive"
	PlayerCaught   PlayerStatus = "caught"
	PlayerWon      PlayerStatus = "won"
)

// Terminal reports whether s is a final fate that connectivity changes
// must not touch.
func (s PlayerStatus) Terminal() bool {
	return s == PlayerCaught || s == PlayerWon
}

// TargetStatus is the lifecycle of a runner's target.
type TargetStatus string

const (
	TargetActive  TargetStatus = "active"
	TargetReached TargetStatus = "reached"
)

// ZoneStatus says whether the current capture zone already counts hits.
// A zone starts inactive and flips active once its activation time
// passes; entries while inactive are ignored.
type ZoneStatus string

const (
	ZoneInactive ZoneStatus = "inactive"
	ZoneActive   ZoneStatus = "active"
)

// Session is one round of the game played inside a fixed disc of the
// real world.
type Session struct {
	ID              string
	Name            string
	Anchor          geo.Point
	PlayRadius      float64
	ActivationDelay time.Duration
	Duration        time.Duration
	Status          SessionStatus
	StartTime       *time.Time
	EndTime         *time.Time
	CreatedAt       time.Time
}

// Expired reports whether an active session has outlived its scheduled
// end at the given instant.
func (s Session) Expired(now time.Time) bool {
	return s.Status == SessionActive && s.EndTime != nil && now.After(*s.EndTime)
}

// Player is a participant in one session. Usernames are unique within
// a session and double as the rejoin handle.
type Player struct {
	ID        string
	SessionID string
	Username  string
	Team      Team
	Status    PlayerStatus
	Location  *geo.Point
	LastPing  *time.Time
}

// Target is a runner's hidden destination together with the state of
// the shrinking capture zones around it. The anchor never moves; only
// RadiusLevel, ZoneStatus, ActivatesAt and Points change as the runner
// advances.
type Target struct {
	ID          string
	SessionID   string
	PlayerID    string
	Anchor      geo.Point
	RadiusLevel float64
	Status      TargetStatus
	ZoneStatus  ZoneStatus
	ActivatesAt time.Time
	Points      int
	CreatedAt   time.Time
	ReachedAt   *time.Time
}

// Rules bundles the tunables that shape every session: the shrinking
// radius schedule, the point values, and the default timings applied
// when a session is created without overrides.
type Rules struct {
	// RadiusLevels is the zone schedule in meters, sorted descending.
	// A fresh target starts at the first entry and advances toward the
	// last; reaching the last entry's zone wins.
	RadiusLevels []float64

	BasePoints      int // value of a fresh target
	PointsPerShrink int // added on every radius advance
	CatchPoints     int // awarded to hunters per catch

	DefaultPlayRadius      float64
	DefaultActivationDelay time.Duration
	DefaultGameDuration    time.Duration

	// LocationThrottle drops location updates that arrive sooner than
	// this after a player's previous accepted one.
	LocationThrottle time.Duration
}

// DefaultRules returns the stock configuration.
func DefaultRules() Rules {
	return Rules{
		RadiusLevels:           []float64{2000, 1000, 500, 250, 100},
		BasePoints:             100,
		PointsPerShrink:        50,
		CatchPoints:            100,
		DefaultPlayRadius:      5000,
		DefaultActivationDelay: 60 * time.Second,
		DefaultGameDuration:    60 * time.Minute,
		LocationThrottle:       2 * time.Second,
	}
}

// Validate checks that the rules are internally consistent.
func (r Rules) Validate() error {
	if len(r.RadiusLevels) == 0 {
		return fmt.Errorf("radius levels: need at least one level")
	}
	for i, lv := range r.RadiusLevels {
		if lv <= 0 {
			return fmt.Errorf("radius levels: level %d is %v, must be positive", i, lv)
		}
		if i > 0 && lv >= r.RadiusLevels[i-1] {
			return fmt.Errorf("radius levels: must be strictly descending, got %v after %v", lv, r.RadiusLevels[i-1])
		}
	}
	if r.DefaultPlayRadius <= 0 {
		return fmt.Errorf("default play radius must be positive, got %v", r.DefaultPlayRadius)
	}
	if r.DefaultGameDuration <= 0 {
		return fmt.Errorf("default game duration must be positive, got %v", r.DefaultGameDuration)
	}
	if r.DefaultActivationDelay < 0 || r.LocationThrottle < 0 {
		return fmt.Errorf("activation delay and location throttle must not be negative")
	}
	return nil
}

// LargestLevel is the radius a fresh target starts at.
func (r Rules) LargestLevel() float64 { return r.RadiusLevels[0] }

// SmallestLevel is the radius whose zone wins the game when entered.
func (r Rules) SmallestLevel() float64 { return r.RadiusLevels[len(r.RadiusLevels)-1] }

// NextLevel returns the level following current in the shrink schedule,
// or false if current is the smallest or unknown.
func (r Rules) NextLevel(current float64) (float64, bool) {
	for i, lv := range r.RadiusLevels {
		if lv == current && i+1 < len(r.RadiusLevels) {
			return r.RadiusLevels[i+1], true
		}
	}
	return 0, false
}

// PointsAtLevel returns the target value once it has shrunk to the
// given level: the base value plus the per-shrink bonus for every
// advance it took to get there. Unknown levels value as a fresh target.
func (r Rules) PointsAtLevel(level float64) int {
	for i, lv := range r.RadiusLevels {
		if lv == level {
			return r.BasePoints + i*r.PointsPerShrink
		}
	}
	return r.BasePoints
}

// Scores is the running team tally of a session.
type Scores struct {
	Hunters int `json:"hunters"`
	Runners int `json:"runners"`
}

// ComputeScores derives the tally from scratch: runners bank the point
// value of each reached target, hunters bank a fixed bounty per caught
// player. Deriving instead of accumulating keeps the tally correct under
// replays and reconnects.
func ComputeScores(players []Player, targets []Target, rules Rules) Scores {
	var s Scores
	for _, t := range targets {
		if t.Status == TargetReached {
			s.Runners += t.Points
		}
	}
	for _, p := range players {
		if p.Status == PlayerCaught {
			s.Hunters += rules.CatchPoints
		}
	}
	return s
}

// Winner decides the final outcome of a completed session: runners win
// if any one of them reached their final zone, otherwise the hunters
// held the field.
func Winner(players []Player) Team {
	for _, p := range players {
		if p.Team == TeamRunner && p.Status == PlayerWon {
			return TeamRunner
		}
	}
	return TeamHunter
}

// NormalizeName trims the whitespace callers tend to leave on session
// names and usernames.
func NormalizeName(s string) string { return strings.TrimSpace(s) }
