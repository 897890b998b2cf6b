package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/foxhuntgame/foxhunt/internal/engine"
	"github.com/foxhuntgame/foxhunt/internal/game"
	"github.com/foxhuntgame/foxhunt/internal/geo"
)

const (
	testAdminEmail    = "admin@foxhunt.test"
	testAdminPassword = "changeme"
)

func seedTestAdmin(t *testing.T, env *testEnv) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := SeedAdmin(context.Background(), logger, env.st, testAdminEmail, testAdminPassword); err != nil {
		t.Fatalf("seeding admin: %v", err)
	}
}

func loginAdmin(t *testing.T, env *testEnv) []*http.Cookie {
	t.Helper()
	body, _ := json.Marshal(AdminLoginRequest{Email: testAdminEmail, Password: testAdminPassword})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/login", bytes.NewReader(body))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	return w.Result().Cookies()
}

func TestSeedAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// No password, no account.
	if err := SeedAdmin(ctx, logger, env.st, testAdminEmail, ""); err != nil {
		t.Fatalf("seed without password: %v", err)
	}
	if n, _ := env.st.CountAdmins(ctx); n != 0 {
		t.Fatalf("admins = %d, want 0", n)
	}

	// Seeding twice leaves one account.
	seedTestAdmin(t, env)
	seedTestAdmin(t, env)
	if n, _ := env.st.CountAdmins(ctx); n != 1 {
		t.Fatalf("admins = %d, want 1", n)
	}
}

func TestAdminLogin(t *testing.T) {
	env := newTestEnv(t)
	seedTestAdmin(t, env)

	body, _ := json.Marshal(AdminLoginRequest{Email: "ADMIN@Foxhunt.TEST", Password: testAdminPassword})
	req := httptest.NewRequest(http.MethodPost, "/api/admin/login", bytes.NewReader(body))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp AdminMeResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Email != testAdminEmail {
		t.Errorf("email = %q, want %q", resp.Email, testAdminEmail)
	}

	var found bool
	for _, c := range w.Result().Cookies() {
		if c.Name == adminCookieName && c.Value != "" {
			found = true
		}
	}
	if !found {
		t.Error("expected admin_session cookie to be set")
	}

	// Wrong password and unknown email both come back 401.
	for _, req := range []AdminLoginRequest{
		{Email: testAdminEmail, Password: "wrong"},
		{Email: "nobody@foxhunt.test", Password: testAdminPassword},
	} {
		body, _ := json.Marshal(req)
		r := httptest.NewRequest(http.MethodPost, "/api/admin/login", bytes.NewReader(body))
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, r)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("login %q: expected 401, got %d", req.Email, w.Code)
		}
	}
}

func TestAdminMe(t *testing.T) {
	env := newTestEnv(t)
	seedTestAdmin(t, env)
	cookies := loginAdmin(t, env)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/me", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp AdminMeResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Email != testAdminEmail {
		t.Errorf("email = %q, want %q", resp.Email, testAdminEmail)
	}

	// Without the cookie it is 401.
	req = httptest.NewRequest(http.MethodGet, "/api/admin/me", nil)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no cookie: expected 401, got %d", w.Code)
	}
}

func TestAdminLogout(t *testing.T) {
	env := newTestEnv(t)
	seedTestAdmin(t, env)
	cookies := loginAdmin(t, env)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/logout", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", w.Code)
	}

	// The old cookie no longer works.
	req = httptest.NewRequest(http.MethodGet, "/api/admin/me", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("me after logout: expected 401, got %d", w.Code)
	}
}

func TestAdminListSessions(t *testing.T) {
	env := newTestEnv(t)
	seedTestAdmin(t, env)
	ctx := context.Background()
	anchor := geo.Point{Lat: 40, Lng: -74}

	if _, err := env.eng.CreateSession(ctx, engine.SessionParams{Name: "alpha", Anchor: anchor}); err != nil {
		t.Fatalf("create alpha: %v", err)
	}
	beta, err := env.eng.CreateSession(ctx, engine.SessionParams{
		Name: "beta", Anchor: anchor, Duration: time.Minute,
	})
	if err != nil {
		t.Fatalf("create beta: %v", err)
	}
	if _, err := env.eng.StartSession(ctx, beta.ID); err != nil {
		t.Fatalf("start beta: %v", err)
	}
	env.clk.Advance(2 * time.Minute)

	// The admin listing requires the cookie.
	req := httptest.NewRequest(http.MethodGet, "/api/admin/sessions", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no cookie: expected 401, got %d", w.Code)
	}

	cookies := loginAdmin(t, env)
	req = httptest.NewRequest(http.MethodGet, "/api/admin/sessions", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Unlike the public listing, completed sessions show up here.
	var resp SessionListResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if len(resp.Sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(resp.Sessions))
	}
	statuses := map[string]game.SessionStatus{}
	for _, item := range resp.Sessions {
		statuses[item.Session.Name] = item.Session.Status
	}
	if statuses["alpha"] != game.SessionLobby || statuses["beta"] != game.SessionCompleted {
		t.Errorf("statuses = %v", statuses)
	}
}

func TestAdminDeleteSessionEvictsPlayers(t *testing.T) {
	srv, env := newTestServer(t)
	seedTestAdmin(t, env)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	player := dialWS(t, ctx, srv)
	sendEvent(t, ctx, player, evCreateSession, createSessionRequest{
		Name: "cellar", Anchor: geo.Point{Lat: 40, Lng: -74},
	})
	created := awaitEvent[game.Snapshot](t, ctx, player, evSnapshot)
	sessionID := created.Session.ID

	sendEvent(t, ctx, player, evJoinSession, joinSessionRequest{
		SessionName: "cellar", Username: "fox", Team: game.TeamRunner,
	})
	awaitPrivateSnapshot(t, ctx, player)

	cookies := loginAdmin(t, env)

	// Deleting an unknown session is a 404.
	req := httptest.NewRequest(http.MethodDelete, "/api/admin/sessions/ghost", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown: expected 404, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/admin/sessions/"+sessionID, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// The connected player is told and then dropped.
	deleted := awaitEvent[roomDeletedPayload](t, ctx, player, evRoomDeleted)
	if deleted.SessionID != sessionID {
		t.Fatalf("room_deleted session = %s, want %s", deleted.SessionID, sessionID)
	}
	if _, _, err := player.Read(ctx); websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Fatalf("read after delete = %v, want normal closure", err)
	}

	// And the session is gone.
	req = httptest.NewRequest(http.MethodGet, "/api/sessions/"+sessionID, nil)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("after delete: expected 404, got %d", w.Code)
	}
}
