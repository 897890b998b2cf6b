package engine

import "github.com/foxhuntgame/foxhunt/internal/game"

// TargetChangeKind names what happened to a runner's target during one
// location evaluation.
type TargetChangeKind string

const (
	TargetAssigned TargetChangeKind = "assigned"
	ZoneActivated  TargetChangeKind = "zone_activated"
	TargetAdvanced TargetChangeKind = "advanced"
	TargetReached  TargetChangeKind = "reached"
)

// TargetChange pairs the kind with the target's state after the change.
type TargetChange struct {
	Kind   TargetChangeKind
	Target game.Target
}

// UpdateOutcome is everything a location update produced. Throttled
// updates carry nothing else; Won implies Change.Kind == TargetReached;
// Completed means the session finished as a consequence of this update
// (last active runner won, or the session clock ran out).
type UpdateOutcome struct {
	Player    game.Player
	Throttled bool
	Change    *TargetChange
	Won       bool
	Completed bool
}

// JoinOutcome reports a join, distinguishing a fresh player from a
// reconnect-by-name.
type JoinOutcome struct {
	Session  game.Session
	Player   game.Player
	Rejoined bool
}

// StartOutcome carries the started session and the targets assigned at
// start time (runners with a known location only).
type StartOutcome struct {
	Session  game.Session
	Assigned []game.Target
}

// CatchOutcome reports a catch and whether the session ended. A report
// that only discovered time expiry carries Completed with a zero Caught.
type CatchOutcome struct {
	Caught    game.Player
	Completed bool
}

// SnapshotOutcome is a computed snapshot plus the side effects the read
// performed lazily: zones whose activation deadline had passed, and
// whether the session was force-completed by time expiry.
type SnapshotOutcome struct {
	Snapshot  game.Snapshot
	Activated []game.Target
	Expired   bool
}
