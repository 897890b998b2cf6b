package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"github.com/foxhuntgame/foxhunt/internal/database"
	"github.com/foxhuntgame/foxhunt/internal/engine"
	"github.com/foxhuntgame/foxhunt/internal/game"
	"github.com/foxhuntgame/foxhunt/internal/geo"
	"github.com/foxhuntgame/foxhunt/internal/migrations"
	"github.com/foxhuntgame/foxhunt/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	router *chi.Mux
	eng    *engine.Engine
	st     *store.SQLite
	clk    *fakeClock
}

// newTestEnv wires the full HTTP surface against an in-memory database,
// a memory trail store and a fake clock. The zone schedule is cut to
// two levels so win flows stay short.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.Run(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	clk := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	rules := game.DefaultRules()
	rules.RadiusLevels = []float64{1000, 500}
	rules.LocationThrottle = 0

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := store.NewSQLite(db)
	eng := engine.New(st, store.NewMemoryTrail(50), rules, logger, engine.WithClock(clk.Now))

	r := chi.NewRouter()
	addRoutes(r, Deps{
		Logger: logger,
		Engine: eng,
		Admin:  st,
		DB:     db,
		Redis:  deadRedis(),
	})

	return &testEnv{router: r, eng: eng, st: st, clk: clk}
}

func newTestServer(t *testing.T) (*httptest.Server, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)
	return srv, env
}

func dialWS(t *testing.T, ctx context.Context, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + srv.URL[len("http"):] + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func sendEvent(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshaling %s: %v", typ, err)
	}
	env, err := json.Marshal(Envelope{Type: typ, Data: data})
	if err != nil {
		t.Fatalf("marshaling envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, env); err != nil {
		t.Fatalf("writing %s: %v", typ, err)
	}
}

// awaitEvent reads events until one of the wanted type arrives,
// skipping everything else. An unexpected error event fails the test.
func awaitEvent[T any](t *testing.T, ctx context.Context, conn *websocket.Conn, typ string) T {
	t.Helper()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("bad envelope: %v", err)
		}
		if env.Type == evError && typ != evError {
			t.Fatalf("waiting for %s, got error: %s", typ, env.Data)
		}
		if env.Type != typ {
			continue
		}
		var payload T
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			t.Fatalf("decoding %s: %v", typ, err)
		}
		return payload
	}
}

// awaitPrivateSnapshot skips broadcast snapshots until the viewer's own
// snapshot (the one carrying playerId) arrives.
func awaitPrivateSnapshot(t *testing.T, ctx context.Context, conn *websocket.Conn) game.Snapshot {
	t.Helper()
	for {
		snap := awaitEvent[game.Snapshot](t, ctx, conn, evSnapshot)
		if snap.PlayerID != "" {
			return snap
		}
	}
}

func rosterStatus(t *testing.T, snap game.Snapshot, playerID string) game.PlayerStatus {
	t.Helper()
	for _, p := range snap.Players {
		if p.ID == playerID {
			return p.Status
		}
	}
	t.Fatalf("player %s not in roster", playerID)
	return ""
}

func TestRunnerWinFlow(t *testing.T) {
	srv, env := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	anchor := geo.Point{Lat: 40.0, Lng: -74.0}

	runner := dialWS(t, ctx, srv)
	sendEvent(t, ctx, runner, evCreateSession, createSessionRequest{
		Name:               "downtown",
		Anchor:             anchor,
		PlayRadius:         2000,
		ActivationDelaySec: 5,
		DurationMin:        30,
	})
	created := awaitEvent[game.Snapshot](t, ctx, runner, evSnapshot)
	if created.Session.Status != game.SessionLobby {
		t.Fatalf("created status = %q, want lobby", created.Session.Status)
	}
	sessionID := created.Session.ID

	sendEvent(t, ctx, runner, evJoinSession, joinSessionRequest{
		SessionName: "downtown", Username: "fox", Team: game.TeamRunner,
	})
	runnerSnap := awaitPrivateSnapshot(t, ctx, runner)
	runnerID := runnerSnap.PlayerID
	if runnerID == "" {
		t.Fatal("join: no player id in private snapshot")
	}

	hunter := dialWS(t, ctx, srv)
	sendEvent(t, ctx, hunter, evJoinSession, joinSessionRequest{
		SessionName: "downtown", Username: "hound", Team: game.TeamHunter,
	})
	hunterSnap := awaitPrivateSnapshot(t, ctx, hunter)
	if hunterSnap.Target != nil {
		t.Fatal("hunter snapshot must not carry a target")
	}

	// Lobby location share; the hunter sees it, and the start below can
	// assign the runner a target.
	sendEvent(t, ctx, runner, evLocationUpdate, locationUpdateRequest{Lat: anchor.Lat, Lng: anchor.Lng})
	loc := awaitEvent[runnerLocationPayload](t, ctx, hunter, evRunnerLocation)
	if loc.PlayerID != runnerID || loc.Team != game.TeamRunner {
		t.Fatalf("runner_location = %+v", loc)
	}

	sendEvent(t, ctx, runner, evStartSession, startSessionRequest{SessionID: sessionID})
	tgt := awaitEvent[targetPayload](t, ctx, runner, evNewTarget)
	if tgt.Target.RadiusLevel != 1000 {
		t.Fatalf("first radius = %v, want 1000", tgt.Target.RadiusLevel)
	}
	if tgt.Target.ZoneStatus != game.ZoneInactive {
		t.Fatalf("zone status = %q, want inactive", tgt.Target.ZoneStatus)
	}
	target := tgt.Target.Anchor

	started := awaitEvent[game.Snapshot](t, ctx, hunter, evSnapshot)
	if started.Session.Status != game.SessionActive {
		t.Fatalf("session status = %q, want active", started.Session.Status)
	}
	if started.Target != nil {
		t.Fatal("broadcast snapshot must not carry a target")
	}

	// Standing on the hidden anchor is inside every nested zone, so the
	// schedule walks: activate 1000, shrink to 500, activate 500, reach.
	env.clk.Advance(5 * time.Second)
	sendEvent(t, ctx, runner, evLocationUpdate, locationUpdateRequest{Lat: target.Lat, Lng: target.Lng})
	act := awaitEvent[targetPayload](t, ctx, runner, evZoneActivated)
	if act.Target.RadiusLevel != 1000 || act.Target.ZoneStatus != game.ZoneActive {
		t.Fatalf("zone_activated = %+v", act.Target)
	}

	sendEvent(t, ctx, runner, evLocationUpdate, locationUpdateRequest{Lat: target.Lat, Lng: target.Lng})
	adv := awaitEvent[targetPayload](t, ctx, runner, evTargetRadiusUpdate)
	if adv.Target.RadiusLevel != 500 {
		t.Fatalf("advanced radius = %v, want 500", adv.Target.RadiusLevel)
	}
	if adv.Target.ZoneStatus != game.ZoneInactive {
		t.Fatalf("advanced zone status = %q, want inactive", adv.Target.ZoneStatus)
	}

	env.clk.Advance(5 * time.Second)
	sendEvent(t, ctx, runner, evLocationUpdate, locationUpdateRequest{Lat: target.Lat, Lng: target.Lng})
	awaitEvent[targetPayload](t, ctx, runner, evZoneActivated)

	sendEvent(t, ctx, runner, evLocationUpdate, locationUpdateRequest{Lat: target.Lat, Lng: target.Lng})

	reached := awaitEvent[targetReachedPayload](t, ctx, hunter, evTargetReached)
	if reached.PlayerID != runnerID {
		t.Fatalf("target_reached player = %s, want %s", reached.PlayerID, runnerID)
	}
	if reached.Points != 150 {
		t.Fatalf("target_reached points = %d, want 150", reached.Points)
	}

	won := awaitEvent[runnerWonPayload](t, ctx, hunter, evRunnerWon)
	if won.Username != "fox" {
		t.Fatalf("runner_won username = %q, want fox", won.Username)
	}

	over := awaitEvent[gameOverPayload](t, ctx, hunter, evGameOver)
	if over.Winner != game.TeamRunner {
		t.Fatalf("winner = %q, want %q", over.Winner, game.TeamRunner)
	}
	if over.Scores.Runners != 150 || over.Scores.Hunters != 0 {
		t.Fatalf("scores = %+v, want runners 150 hunters 0", over.Scores)
	}

	final := awaitEvent[game.Snapshot](t, ctx, hunter, evSnapshot)
	if final.Session.Status != game.SessionCompleted {
		t.Fatalf("final status = %q, want completed", final.Session.Status)
	}
	if got := rosterStatus(t, final, runnerID); got != game.PlayerWon {
		t.Fatalf("runner status = %q, want won", got)
	}

	// The runner hears the ending too.
	awaitEvent[gameOverPayload](t, ctx, runner, evGameOver)
}

func TestCatchFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	anchor := geo.Point{Lat: 52.52, Lng: 13.405}

	runner := dialWS(t, ctx, srv)
	sendEvent(t, ctx, runner, evCreateSession, createSessionRequest{
		Name: "tiergarten", Anchor: anchor, DurationMin: 30,
	})
	created := awaitEvent[game.Snapshot](t, ctx, runner, evSnapshot)
	sessionID := created.Session.ID

	sendEvent(t, ctx, runner, evJoinSession, joinSessionRequest{
		SessionName: "tiergarten", Username: "fox", Team: game.TeamRunner,
	})
	runnerID := awaitPrivateSnapshot(t, ctx, runner).PlayerID

	hunter := dialWS(t, ctx, srv)
	sendEvent(t, ctx, hunter, evJoinSession, joinSessionRequest{
		SessionName: "tiergarten", Username: "hound", Team: game.TeamHunter,
	})
	awaitPrivateSnapshot(t, ctx, hunter)

	// Catching in the lobby is refused.
	sendEvent(t, ctx, hunter, evReportCatch, reportCatchRequest{CaughtPlayerID: runnerID})
	refused := awaitEvent[errorPayload](t, ctx, hunter, evError)
	if refused.Code != codeConflict {
		t.Fatalf("lobby catch code = %q, want %q", refused.Code, codeConflict)
	}

	sendEvent(t, ctx, hunter, evStartSession, startSessionRequest{SessionID: sessionID})
	started := awaitEvent[game.Snapshot](t, ctx, hunter, evSnapshot)
	if started.Session.Status != game.SessionActive {
		t.Fatalf("session status = %q, want active", started.Session.Status)
	}

	// The only runner is caught, so the session ends with a hunter win.
	sendEvent(t, ctx, hunter, evReportCatch, reportCatchRequest{CaughtPlayerID: runnerID})

	over := awaitEvent[gameOverPayload](t, ctx, hunter, evGameOver)
	if over.Winner != game.TeamHunter {
		t.Fatalf("winner = %q, want %q", over.Winner, game.TeamHunter)
	}
	if over.Scores.Hunters != 100 {
		t.Fatalf("hunter score = %d, want 100", over.Scores.Hunters)
	}

	final := awaitEvent[game.Snapshot](t, ctx, hunter, evSnapshot)
	if final.Session.Status != game.SessionCompleted {
		t.Fatalf("final status = %q, want completed", final.Session.Status)
	}
	if got := rosterStatus(t, final, runnerID); got != game.PlayerCaught {
		t.Fatalf("runner status = %q, want caught", got)
	}

	// Both sides hear the ending; a second report is refused.
	awaitEvent[gameOverPayload](t, ctx, runner, evGameOver)

	sendEvent(t, ctx, hunter, evReportCatch, reportCatchRequest{CaughtPlayerID: runnerID})
	again := awaitEvent[errorPayload](t, ctx, hunter, evError)
	if again.Code != codeConflict {
		t.Fatalf("repeat catch code = %q, want %q", again.Code, codeConflict)
	}
}

func TestStaleConnectionRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, srv)

	for _, typ := range []string{evStartSession, evLocationUpdate, evReportCatch, evDeleteSession} {
		switch typ {
		case evStartSession:
			sendEvent(t, ctx, conn, typ, startSessionRequest{SessionID: "s1"})
		case evLocationUpdate:
			sendEvent(t, ctx, conn, typ, locationUpdateRequest{Lat: 1, Lng: 2})
		case evReportCatch:
			sendEvent(t, ctx, conn, typ, reportCatchRequest{CaughtPlayerID: "p1"})
		case evDeleteSession:
			sendEvent(t, ctx, conn, typ, deleteSessionRequest{SessionID: "s1"})
		}
		pay := awaitEvent[errorPayload](t, ctx, conn, evError)
		if pay.Code != codeStaleConnection {
			t.Fatalf("%s code = %q, want %q", typ, pay.Code, codeStaleConnection)
		}
	}
}

func TestEventValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, srv)

	// Unknown session name.
	sendEvent(t, ctx, conn, evJoinSession, joinSessionRequest{
		SessionName: "nowhere", Username: "fox", Team: game.TeamRunner,
	})
	pay := awaitEvent[errorPayload](t, ctx, conn, evError)
	if pay.Code != codeNotFound {
		t.Fatalf("unknown session code = %q, want %q", pay.Code, codeNotFound)
	}

	sendEvent(t, ctx, conn, evCreateSession, createSessionRequest{
		Name: "park", Anchor: geo.Point{Lat: 40, Lng: -74},
	})
	awaitEvent[game.Snapshot](t, ctx, conn, evSnapshot)

	// Invalid team.
	sendEvent(t, ctx, conn, evJoinSession, joinSessionRequest{
		SessionName: "park", Username: "fox", Team: game.Team("spectator"),
	})
	pay = awaitEvent[errorPayload](t, ctx, conn, evError)
	if pay.Code != codeValidation {
		t.Fatalf("bad team code = %q, want %q", pay.Code, codeValidation)
	}

	// Duplicate session name.
	sendEvent(t, ctx, conn, evCreateSession, createSessionRequest{
		Name: "park", Anchor: geo.Point{Lat: 40, Lng: -74},
	})
	pay = awaitEvent[errorPayload](t, ctx, conn, evError)
	if pay.Code != codeConflict {
		t.Fatalf("duplicate name code = %q, want %q", pay.Code, codeConflict)
	}

	// Unknown event type.
	sendEvent(t, ctx, conn, "teleport", locationUpdateRequest{Lat: 1, Lng: 2})
	pay = awaitEvent[errorPayload](t, ctx, conn, evError)
	if pay.Code != codeValidation {
		t.Fatalf("unknown type code = %q, want %q", pay.Code, codeValidation)
	}

	// Garbage bytes.
	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("writing garbage: %v", err)
	}
	pay = awaitEvent[errorPayload](t, ctx, conn, evError)
	if pay.Code != codeValidation {
		t.Fatalf("garbage code = %q, want %q", pay.Code, codeValidation)
	}
}

func TestResyncAfterDisconnect(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	anchor := geo.Point{Lat: 48.86, Lng: 2.35}

	first := dialWS(t, ctx, srv)
	sendEvent(t, ctx, first, evCreateSession, createSessionRequest{Name: "harbor", Anchor: anchor})
	created := awaitEvent[game.Snapshot](t, ctx, first, evSnapshot)
	sessionID := created.Session.ID

	sendEvent(t, ctx, first, evJoinSession, joinSessionRequest{
		SessionName: "harbor", Username: "fox", Team: game.TeamRunner,
	})
	foxID := awaitPrivateSnapshot(t, ctx, first).PlayerID

	observer := dialWS(t, ctx, srv)
	sendEvent(t, ctx, observer, evJoinSession, joinSessionRequest{
		SessionName: "harbor", Username: "hound", Team: game.TeamHunter,
	})
	awaitPrivateSnapshot(t, ctx, observer)

	// Drop the runner's connection and wait until the server noticed.
	first.CloseNow()
	gone := awaitEvent[playerDisconnectedPayload](t, ctx, observer, evPlayerDisconnected)
	if gone.PlayerID != foxID || gone.Username != "fox" {
		t.Fatalf("player_disconnected = %+v", gone)
	}
	afterDrop := awaitEvent[game.Snapshot](t, ctx, observer, evSnapshot)
	if got := rosterStatus(t, afterDrop, foxID); got != game.PlayerInactive {
		t.Fatalf("dropped runner status = %q, want inactive", got)
	}

	// A fresh connection reclaims the same player.
	second := dialWS(t, ctx, srv)
	sendEvent(t, ctx, second, evResync, resyncRequest{SessionID: sessionID, PlayerID: foxID})
	snap := awaitPrivateSnapshot(t, ctx, second)
	if snap.PlayerID != foxID {
		t.Fatalf("resync player = %s, want %s", snap.PlayerID, foxID)
	}
	if got := rosterStatus(t, snap, foxID); got != game.PlayerActive {
		t.Fatalf("resynced runner status = %q, want active", got)
	}

	// Resync against an unknown session or player is refused.
	sendEvent(t, ctx, second, evResync, resyncRequest{SessionID: "nope", PlayerID: foxID})
	pay := awaitEvent[errorPayload](t, ctx, second, evError)
	if pay.Code != codeNotFound {
		t.Fatalf("bad session code = %q, want %q", pay.Code, codeNotFound)
	}
	sendEvent(t, ctx, second, evResync, resyncRequest{SessionID: sessionID, PlayerID: "ghost"})
	pay = awaitEvent[errorPayload](t, ctx, second, evError)
	if pay.Code != codeNotFound {
		t.Fatalf("bad player code = %q, want %q", pay.Code, codeNotFound)
	}
}

func TestRejoinKeepsPlayer(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	first := dialWS(t, ctx, srv)
	sendEvent(t, ctx, first, evCreateSession, createSessionRequest{
		Name: "plaza", Anchor: geo.Point{Lat: 40, Lng: -74},
	})
	awaitEvent[game.Snapshot](t, ctx, first, evSnapshot)

	sendEvent(t, ctx, first, evJoinSession, joinSessionRequest{
		SessionName: "plaza", Username: "fox", Team: game.TeamRunner,
	})
	foxID := awaitPrivateSnapshot(t, ctx, first).PlayerID

	observer := dialWS(t, ctx, srv)
	sendEvent(t, ctx, observer, evJoinSession, joinSessionRequest{
		SessionName: "plaza", Username: "hound", Team: game.TeamHunter,
	})
	awaitPrivateSnapshot(t, ctx, observer)

	first.CloseNow()
	awaitEvent[playerDisconnectedPayload](t, ctx, observer, evPlayerDisconnected)

	// Joining again under the same username resumes the old player, even
	// if the client asks for the other team.
	second := dialWS(t, ctx, srv)
	sendEvent(t, ctx, second, evJoinSession, joinSessionRequest{
		SessionName: "plaza", Username: "fox", Team: game.TeamHunter,
	})

	rejoined := awaitEvent[playerJoinedPayload](t, ctx, observer, evPlayerJoined)
	if !rejoined.Rejoined {
		t.Fatal("expected rejoined flag")
	}
	if rejoined.Player.ID != foxID {
		t.Fatalf("rejoined player = %s, want %s", rejoined.Player.ID, foxID)
	}
	if rejoined.Player.Team != game.TeamRunner {
		t.Fatalf("rejoined team = %q, want runner", rejoined.Player.Team)
	}

	snap := awaitPrivateSnapshot(t, ctx, second)
	if snap.PlayerID != foxID {
		t.Fatalf("rejoin player = %s, want %s", snap.PlayerID, foxID)
	}
}

func TestDeleteSessionEvictsEveryone(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	owner := dialWS(t, ctx, srv)
	sendEvent(t, ctx, owner, evCreateSession, createSessionRequest{
		Name: "attic", Anchor: geo.Point{Lat: 40, Lng: -74},
	})
	created := awaitEvent[game.Snapshot](t, ctx, owner, evSnapshot)
	sessionID := created.Session.ID

	sendEvent(t, ctx, owner, evJoinSession, joinSessionRequest{
		SessionName: "attic", Username: "fox", Team: game.TeamRunner,
	})
	awaitPrivateSnapshot(t, ctx, owner)

	other := dialWS(t, ctx, srv)
	sendEvent(t, ctx, other, evJoinSession, joinSessionRequest{
		SessionName: "attic", Username: "hound", Team: game.TeamHunter,
	})
	awaitPrivateSnapshot(t, ctx, other)

	// Deleting someone else's session is refused.
	sendEvent(t, ctx, owner, evDeleteSession, deleteSessionRequest{SessionID: "other"})
	pay := awaitEvent[errorPayload](t, ctx, owner, evError)
	if pay.Code != codeConflict {
		t.Fatalf("wrong session code = %q, want %q", pay.Code, codeConflict)
	}

	sendEvent(t, ctx, owner, evDeleteSession, deleteSessionRequest{SessionID: sessionID})

	for _, conn := range []*websocket.Conn{owner, other} {
		deleted := awaitEvent[roomDeletedPayload](t, ctx, conn, evRoomDeleted)
		if deleted.SessionID != sessionID {
			t.Fatalf("room_deleted session = %s, want %s", deleted.SessionID, sessionID)
		}
		if _, _, err := conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusNormalClosure {
			t.Fatalf("read after delete = %v, want normal closure", err)
		}
	}

	// The room is gone for new joiners.
	late := dialWS(t, ctx, srv)
	sendEvent(t, ctx, late, evJoinSession, joinSessionRequest{
		SessionName: "attic", Username: "badger", Team: game.TeamRunner,
	})
	pay = awaitEvent[errorPayload](t, ctx, late, evError)
	if pay.Code != codeNotFound {
		t.Fatalf("late join code = %q, want %q", pay.Code, codeNotFound)
	}
}
