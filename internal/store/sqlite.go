package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/foxhuntgame/foxhunt/internal/game"
	"github.com/foxhuntgame/foxhunt/internal/geo"
)

// SQLite stores all durable game state in a libSQL/SQLite database.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

// Ensure SQLite implements both surfaces at compile time.
var (
	_ Store      = (*SQLite)(nil)
	_ AdminStore = (*SQLite)(nil)
)

// Timestamps are stored as RFC 3339 UTC strings; SQLite has no native
// time type and string order matches time order in this format.

func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func isUniqueViolation(err error, hint string) bool {
	return err != nil &&
		strings.Contains(err.Error(), "UNIQUE constraint failed") &&
		strings.Contains(err.Error(), hint)
}

// Sessions

const sessionCols = `id, name, anchor_lat, anchor_lng, play_radius, activation_delay, duration, status, start_time, end_time, created_at`

func (s *SQLite) CreateSession(ctx context.Context, sess game.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?)
	`, sess.ID, sess.Name, sess.Anchor.Lat, sess.Anchor.Lng, sess.PlayRadius,
		int(sess.ActivationDelay/time.Second), int(sess.Duration/time.Second),
		string(sess.Status), fmtTime(sess.CreatedAt))
	if isUniqueViolation(err, "sessions.name") {
		return ErrDuplicateName
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (game.Session, error) {
	var (
		sess             game.Session
		delaySec, durSec int64
		status           string
		startRaw, endRaw sql.NullString
		createdRaw       string
	)
	err := row.Scan(&sess.ID, &sess.Name, &sess.Anchor.Lat, &sess.Anchor.Lng,
		&sess.PlayRadius, &delaySec, &durSec, &status, &startRaw, &endRaw, &createdRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return sess, ErrNotFound
	}
	if err != nil {
		return sess, err
	}

	sess.ActivationDelay = time.Duration(delaySec) * time.Second
	sess.Duration = time.Duration(durSec) * time.Second
	sess.Status = game.SessionStatus(status)
	if sess.CreatedAt, err = parseTime(createdRaw); err != nil {
		return sess, fmt.Errorf("parsing created_at: %w", err)
	}
	if startRaw.Valid {
		t, err := parseTime(startRaw.String)
		if err != nil {
			return sess, fmt.Errorf("parsing start_time: %w", err)
		}
		sess.StartTime = &t
	}
	if endRaw.Valid {
		t, err := parseTime(endRaw.String)
		if err != nil {
			return sess, fmt.Errorf("parsing end_time: %w", err)
		}
		sess.EndTime = &t
	}
	return sess, nil
}

func (s *SQLite) SessionByID(ctx context.Context, id string) (game.Session, error) {
	return scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE id = ?`, id))
}

func (s *SQLite) SessionByName(ctx context.Context, name string) (game.Session, error) {
	return scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE name = ?`, name))
}

func (s *SQLite) ListSessions(ctx context.Context) ([]game.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionCols+` FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []game.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// UpdateSession loads the session, applies fn, and saves the mutable
// columns in a transaction.
func (s *SQLite) UpdateSession(ctx context.Context, id string, fn func(*game.Session) error) (game.Session, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return game.Session{}, err
	}
	defer tx.Rollback()

	sess, err := scanSession(tx.QueryRowContext(ctx,
		`SELECT `+sessionCols+` FROM sessions WHERE id = ?`, id))
	if err != nil {
		return game.Session{}, err
	}

	if err := fn(&sess); err != nil {
		return game.Session{}, err
	}

	var startRaw, endRaw any
	if sess.StartTime != nil {
		startRaw = fmtTime(*sess.StartTime)
	}
	if sess.EndTime != nil {
		endRaw = fmtTime(*sess.EndTime)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE sessions
		SET status = ?, start_time = ?, end_time = ?, activation_delay = ?, duration = ?
		WHERE id = ?
	`, string(sess.Status), startRaw, endRaw,
		int(sess.ActivationDelay/time.Second), int(sess.Duration/time.Second), id)
	if err != nil {
		return game.Session{}, err
	}

	return sess, tx.Commit()
}

func (s *SQLite) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Players

const playerCols = `id, session_id, username, team, status, last_lat, last_lng, last_ping_time`

func (s *SQLite) CreatePlayer(ctx context.Context, p game.Player) error {
	var lat, lng, ping any
	if p.Location != nil {
		lat, lng = p.Location.Lat, p.Location.Lng
	}
	if p.LastPing != nil {
		ping = fmtTime(*p.LastPing)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO players (`+playerCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.SessionID, p.Username, string(p.Team), string(p.Status), lat, lng, ping)
	if isUniqueViolation(err, "players.") {
		return ErrDuplicateUsername
	}
	return err
}

func scanPlayer(row rowScanner) (game.Player, error) {
	var (
		p        game.Player
		team     string
		status   string
		lat, lng sql.NullFloat64
		pingRaw  sql.NullString
	)
	err := row.Scan(&p.ID, &p.SessionID, &p.Username, &team, &status, &lat, &lng, &pingRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}

	p.Team = game.Team(team)
	p.Status = game.PlayerStatus(status)
	if lat.Valid && lng.Valid {
		p.Location = &geo.Point{Lat: lat.Float64, Lng: lng.Float64}
	}
	if pingRaw.Valid {
		t, err := parseTime(pingRaw.String)
		if err != nil {
			return p, fmt.Errorf("parsing last_ping_time: %w", err)
		}
		p.LastPing = &t
	}
	return p, nil
}

func (s *SQLite) PlayerByID(ctx context.Context, id string) (game.Player, error) {
	return scanPlayer(s.db.QueryRowContext(ctx,
		`SELECT `+playerCols+` FROM players WHERE id = ?`, id))
}

func (s *SQLite) PlayerByUsername(ctx context.Context, sessionID, username string) (game.Player, error) {
	return scanPlayer(s.db.QueryRowContext(ctx,
		`SELECT `+playerCols+` FROM players WHERE session_id = ? AND username = ?`,
		sessionID, username))
}

func (s *SQLite) PlayersBySession(ctx context.Context, sessionID string) ([]game.Player, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+playerCols+` FROM players WHERE session_id = ? ORDER BY rowid`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []game.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

func (s *SQLite) CountPlayers(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM players WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

func (s *SQLite) UpdatePlayer(ctx context.Context, id string, fn func(*game.Player) error) (game.Player, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return game.Player{}, err
	}
	defer tx.Rollback()

	p, err := scanPlayer(tx.QueryRowContext(ctx,
		`SELECT `+playerCols+` FROM players WHERE id = ?`, id))
	if err != nil {
		return game.Player{}, err
	}

	if err := fn(&p); err != nil {
		return game.Player{}, err
	}

	var lat, lng, ping any
	if p.Location != nil {
		lat, lng = p.Location.Lat, p.Location.Lng
	}
	if p.LastPing != nil {
		ping = fmtTime(*p.LastPing)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE players
		SET team = ?, status = ?, last_lat = ?, last_lng = ?, last_ping_time = ?
		WHERE id = ?
	`, string(p.Team), string(p.Status), lat, lng, ping, id)
	if err != nil {
		return game.Player{}, err
	}

	return p, tx.Commit()
}

// Targets

const targetCols = `id, session_id, player_id, anchor_lat, anchor_lng, radius_level, status, zone_status, activation_time, points_value, created_at, reached_at`

func (s *SQLite) CreateTarget(ctx context.Context, t game.Target) error {
	var reachedRaw any
	if t.ReachedAt != nil {
		reachedRaw = fmtTime(*t.ReachedAt)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO targets (`+targetCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.SessionID, t.PlayerID, t.Anchor.Lat, t.Anchor.Lng, t.RadiusLevel,
		string(t.Status), string(t.ZoneStatus), fmtTime(t.ActivatesAt), t.Points,
		fmtTime(t.CreatedAt), reachedRaw)
	return err
}

func scanTarget(row rowScanner) (game.Target, error) {
	var (
		t             game.Target
		status        string
		zone          string
		activationRaw string
		createdRaw    string
		reachedRaw    sql.NullString
	)
	err := row.Scan(&t.ID, &t.SessionID, &t.PlayerID, &t.Anchor.Lat, &t.Anchor.Lng,
		&t.RadiusLevel, &status, &zone, &activationRaw, &t.Points, &createdRaw, &reachedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}

	t.Status = game.TargetStatus(status)
	t.ZoneStatus = game.ZoneStatus(zone)
	if t.ActivatesAt, err = parseTime(activationRaw); err != nil {
		return t, fmt.Errorf("parsing activation_time: %w", err)
	}
	if t.CreatedAt, err = parseTime(createdRaw); err != nil {
		return t, fmt.Errorf("parsing created_at: %w", err)
	}
	if reachedRaw.Valid {
		at, err := parseTime(reachedRaw.String)
		if err != nil {
			return t, fmt.Errorf("parsing reached_at: %w", err)
		}
		t.ReachedAt = &at
	}
	return t, nil
}

// ActiveTargetByPlayer returns the player's current non-reached target.
// Each runner has at most one; ErrNotFound means they have none yet.
func (s *SQLite) ActiveTargetByPlayer(ctx context.Context, playerID string) (game.Target, error) {
	return scanTarget(s.db.QueryRowContext(ctx, `
		SELECT `+targetCols+` FROM targets
		WHERE player_id = ? AND status != 'reached'
		ORDER BY created_at DESC LIMIT 1
	`, playerID))
}

func (s *SQLite) TargetsBySession(ctx context.Context, sessionID string) ([]game.Target, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+targetCols+` FROM targets WHERE session_id = ? ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []game.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

func (s *SQLite) UpdateTarget(ctx context.Context, id string, fn func(*game.Target) error) (game.Target, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return game.Target{}, err
	}
	defer tx.Rollback()

	t, err := scanTarget(tx.QueryRowContext(ctx,
		`SELECT `+targetCols+` FROM targets WHERE id = ?`, id))
	if err != nil {
		return game.Target{}, err
	}

	if err := fn(&t); err != nil {
		return game.Target{}, err
	}

	var reachedRaw any
	if t.ReachedAt != nil {
		reachedRaw = fmtTime(*t.ReachedAt)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE targets
		SET radius_level = ?, status = ?, zone_status = ?, activation_time = ?, points_value = ?, reached_at = ?
		WHERE id = ?
	`, t.RadiusLevel, string(t.Status), string(t.ZoneStatus), fmtTime(t.ActivatesAt),
		t.Points, reachedRaw, id)
	if err != nil {
		return game.Target{}, err
	}

	return t, tx.Commit()
}
