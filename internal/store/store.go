// Package store persists sessions, players and targets behind small
// interfaces so the engine never sees SQL. The SQLite implementation is
// the source of truth; Redis keeps the short-lived location trails that
// are not worth a relational table.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/foxhuntgame/foxhunt/internal/game"
	"github.com/foxhuntgame/foxhunt/internal/geo"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateName     = errors.New("session name already in use")
	ErrDuplicateUsername = errors.New("username already taken in this session")
)

// Store is the persistence surface the engine works against. The
// UpdateX methods load a record, apply fn to it and write it back in
// one transaction; fn returning an error aborts the write and the
// error is passed through unchanged.
type Store interface {
	CreateSession(ctx context.Context, s game.Session) error
	SessionByID(ctx context.Context, id string) (game.Session, error)
	SessionByName(ctx context.Context, name string) (game.Session, error)
	ListSessions(ctx context.Context) ([]game.Session, error)
	UpdateSession(ctx context.Context, id string, fn func(*game.Session) error) (game.Session, error)
	DeleteSession(ctx context.Context, id string) error

	CreatePlayer(ctx context.Context, p game.Player) error
	PlayerByID(ctx context.Context, id string) (game.Player, error)
	PlayerByUsername(ctx context.Context, sessionID, username string) (game.Player, error)
	PlayersBySession(ctx context.Context, sessionID string) ([]game.Player, error)
	CountPlayers(ctx context.Context, sessionID string) (int, error)
	UpdatePlayer(ctx context.Context, id string, fn func(*game.Player) error) (game.Player, error)

	CreateTarget(ctx context.Context, t game.Target) error
	ActiveTargetByPlayer(ctx context.Context, playerID string) (game.Target, error)
	TargetsBySession(ctx context.Context, sessionID string) ([]game.Target, error)
	UpdateTarget(ctx context.Context, id string, fn func(*game.Target) error) (game.Target, error)
}

// AdminIdentity is the resolved owner of an admin session cookie.
type AdminIdentity struct {
	AdminID string
	Email   string
}

// AdminStore backs the password-protected admin surface.
type AdminStore interface {
	CountAdmins(ctx context.Context) (int, error)
	CreateAdmin(ctx context.Context, email, passwordHash string) error
	AdminByEmail(ctx context.Context, email string) (adminID, passwordHash string, err error)
	CreateAdminSession(ctx context.Context, adminID string) (sessionID string, err error)
	DeleteAdminSession(ctx context.Context, sessionID string) error
	AdminBySession(ctx context.Context, sessionID string) (AdminIdentity, error)
}

// Fix is one recorded location sample in a player's trail.
type Fix struct {
	Lat float64   `json:"lat"`
	Lng float64   `json:"lng"`
	At  time.Time `json:"at"`
}

// FixFrom builds a Fix from a point and a timestamp.
func FixFrom(p geo.Point, at time.Time) Fix {
	return Fix{Lat: p.Lat, Lng: p.Lng, At: at.UTC()}
}

// TrailStore keeps a bounded, recent-first history of location fixes
// per player. Trails are decoration for spectators and post-game
// replays; losing them never corrupts game state.
type TrailStore interface {
	Append(ctx context.Context, playerID string, fix Fix) error
	Recent(ctx context.Context, playerID string, n int) ([]Fix, error)
}
