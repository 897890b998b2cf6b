package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/foxhuntgame/foxhunt/internal/engine"
	"github.com/foxhuntgame/foxhunt/internal/geo"
	"github.com/foxhuntgame/foxhunt/internal/store"
)

// errStale marks events from connections the registry does not know.
var errStale = errors.New("connection is not bound to a player, resync or rejoin")

// wsAPI owns the realtime endpoint. One reader goroutine per connection
// dispatches inbound events against the engine and turns the outcomes
// into protocol events; a writer goroutine drains the outbox.
type wsAPI struct {
	eng *engine.Engine
	hub *Hub
	reg *Registry
	log *slog.Logger
}

func newWSAPI(eng *engine.Engine, hub *Hub, reg *Registry, log *slog.Logger) *wsAPI {
	return &wsAPI{eng: eng, hub: hub, reg: reg, log: log}
}

func handleWS(api *wsAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			api.log.Error("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		c := newClient(uuid.NewString(), conn)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go c.writeLoop(ctx)

		api.serve(ctx, c)
		api.cleanup(c)
	}
}

func (a *wsAPI) serve(ctx context.Context, c *client) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			a.log.Debug("websocket read ended", "conn", c.connID, "error", err)
			return
		}
		a.dispatch(ctx, c, data)
	}
}

func (a *wsAPI) dispatch(ctx context.Context, c *client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.send(encodeEvent(evError, errorPayload{Code: codeValidation, Message: "malformed event envelope"}))
		return
	}

	var err error
	switch env.Type {
	case evCreateSession:
		err = a.createSession(ctx, c, env.Data)
	case evJoinSession:
		err = a.joinSession(ctx, c, env.Data)
	case evStartSession:
		err = a.startSession(ctx, c, env.Data)
	case evLocationUpdate:
		err = a.locationUpdate(ctx, c, env.Data)
	case evReportCatch:
		err = a.reportCatch(ctx, c, env.Data)
	case evResync:
		err = a.resync(ctx, c, env.Data)
	case evDeleteSession:
		err = a.deleteSession(ctx, c, env.Data)
	default:
		err = fmt.Errorf("%w: unknown event type %q", engine.ErrValidation, env.Type)
	}
	if err == nil {
		return
	}

	// Errors go back to the originating connection only; they never
	// disturb anyone else in the session.
	pay := toErrorPayload(err)
	if pay.Code == codeInternal {
		a.log.Error("event failed", "conn", c.connID, "event", env.Type, "error", err)
	}
	c.send(encodeEvent(evError, pay))
}

func toErrorPayload(err error) errorPayload {
	switch {
	case errors.Is(err, engine.ErrValidation):
		return errorPayload{Code: codeValidation, Message: err.Error()}
	case errors.Is(err, store.ErrNotFound):
		return errorPayload{Code: codeNotFound, Message: err.Error()}
	case errors.Is(err, errStale):
		return errorPayload{Code: codeStaleConnection, Message: err.Error()}
	case errors.Is(err, store.ErrDuplicateName),
		errors.Is(err, store.ErrDuplicateUsername),
		errors.Is(err, engine.ErrAlreadyStarted),
		errors.Is(err, engine.ErrSessionCompleted),
		errors.Is(err, engine.ErrSessionNotActive),
		errors.Is(err, engine.ErrNotARunner),
		errors.Is(err, engine.ErrWrongSession):
		return errorPayload{Code: codeConflict, Message: err.Error()}
	default:
		return errorPayload{Code: codeInternal, Message: "internal error"}
	}
}

func (a *wsAPI) createSession(ctx context.Context, c *client, data json.RawMessage) error {
	req, err := decodePayload[createSessionRequest](data)
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrValidation, err)
	}

	s, err := a.eng.CreateSession(ctx, engine.SessionParams{
		Name:            req.Name,
		Anchor:          req.Anchor,
		PlayRadius:      req.PlayRadius,
		ActivationDelay: time.Duration(req.ActivationDelaySec) * time.Second,
		Duration:        time.Duration(req.DurationMin) * time.Minute,
	})
	if err != nil {
		return err
	}

	out, err := a.eng.Snapshot(ctx, s.ID, "")
	if err != nil {
		return err
	}
	c.send(encodeEvent(evSnapshot, out.Snapshot))
	return nil
}

func (a *wsAPI) joinSession(ctx context.Context, c *client, data json.RawMessage) error {
	req, err := decodePayload[joinSessionRequest](data)
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrValidation, err)
	}

	s, err := a.eng.SessionByName(ctx, req.SessionName)
	if err != nil {
		return err
	}
	out, err := a.eng.JoinSession(ctx, s.ID, req.Username, req.Team)
	if err != nil {
		return err
	}

	a.bind(c, identity{
		SessionID: s.ID,
		PlayerID:  out.Player.ID,
		Username:  out.Player.Username,
		Team:      out.Player.Team,
	})

	a.hub.Broadcast(s.ID, encodeEvent(evPlayerJoined, playerJoinedPayload{
		Player:   out.Player.View(),
		Rejoined: out.Rejoined,
	}))
	if err := a.broadcastSnapshot(ctx, s.ID); err != nil {
		return err
	}

	// The private form tells the client which player it is and carries
	// its own target, if any survives from an earlier connection.
	private, err := a.eng.Snapshot(ctx, s.ID, out.Player.ID)
	if err != nil {
		return err
	}
	c.send(encodeEvent(evSnapshot, private.Snapshot))
	return nil
}

func (a *wsAPI) startSession(ctx context.Context, c *client, data json.RawMessage) error {
	id, ok := a.reg.Lookup(c.connID)
	if !ok {
		return errStale
	}
	req, err := decodePayload[startSessionRequest](data)
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrValidation, err)
	}
	if req.SessionID != id.SessionID {
		return engine.ErrWrongSession
	}

	out, err := a.eng.StartSession(ctx, id.SessionID)
	if err != nil {
		return err
	}

	for _, t := range out.Assigned {
		a.hub.SendToPlayer(id.SessionID, t.PlayerID, encodeEvent(evNewTarget, targetPayload{Target: t.View()}))
	}
	return a.broadcastSnapshot(ctx, id.SessionID)
}

func (a *wsAPI) locationUpdate(ctx context.Context, c *client, data json.RawMessage) error {
	id, ok := a.reg.Lookup(c.connID)
	if !ok {
		return errStale
	}
	req, err := decodePayload[locationUpdateRequest](data)
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrValidation, err)
	}

	loc := geo.Point{Lat: req.Lat, Lng: req.Lng}
	out, err := a.eng.UpdateLocation(ctx, id.SessionID, id.PlayerID, loc)
	if err != nil {
		return err
	}
	if out.Throttled {
		return nil
	}

	if out.Completed && out.Change == nil {
		// The update only discovered that the session clock ran out.
		return a.finishSession(ctx, id.SessionID)
	}

	at := a.eng.Now()
	if out.Player.LastPing != nil {
		at = *out.Player.LastPing
	}
	a.hub.Broadcast(id.SessionID, encodeEvent(evRunnerLocation, runnerLocationPayload{
		PlayerID: id.PlayerID,
		Username: id.Username,
		Team:     out.Player.Team,
		Location: loc,
		At:       at,
	}))

	if ch := out.Change; ch != nil {
		view := targetPayload{Target: ch.Target.View()}
		switch ch.Kind {
		case engine.TargetAssigned:
			a.hub.SendToPlayer(id.SessionID, id.PlayerID, encodeEvent(evNewTarget, view))
		case engine.ZoneActivated:
			a.hub.SendToPlayer(id.SessionID, id.PlayerID, encodeEvent(evZoneActivated, view))
		case engine.TargetAdvanced:
			a.hub.SendToPlayer(id.SessionID, id.PlayerID, encodeEvent(evTargetRadiusUpdate, view))
		case engine.TargetReached:
			a.hub.Broadcast(id.SessionID, encodeEvent(evTargetReached, targetReachedPayload{
				PlayerID: id.PlayerID,
				Username: id.Username,
				Points:   ch.Target.Points,
			}))
			a.hub.Broadcast(id.SessionID, encodeEvent(evRunnerWon, runnerWonPayload{
				PlayerID: id.PlayerID,
				Username: id.Username,
			}))
		}
	}

	if out.Completed {
		return a.finishSession(ctx, id.SessionID)
	}
	return nil
}

func (a *wsAPI) reportCatch(ctx context.Context, c *client, data json.RawMessage) error {
	id, ok := a.reg.Lookup(c.connID)
	if !ok {
		return errStale
	}
	req, err := decodePayload[reportCatchRequest](data)
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrValidation, err)
	}
	if req.CaughtPlayerID == "" {
		return fmt.Errorf("%w: caughtPlayerId is required", engine.ErrValidation)
	}

	out, err := a.eng.ReportCatch(ctx, id.SessionID, req.CaughtPlayerID)
	if err != nil {
		return err
	}
	if out.Completed {
		return a.finishSession(ctx, id.SessionID)
	}
	return a.broadcastSnapshot(ctx, id.SessionID)
}

func (a *wsAPI) resync(ctx context.Context, c *client, data json.RawMessage) error {
	req, err := decodePayload[resyncRequest](data)
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrValidation, err)
	}
	if req.SessionID == "" || req.PlayerID == "" {
		return fmt.Errorf("%w: sessionId and playerId are required", engine.ErrValidation)
	}

	out, p, err := a.eng.Resync(ctx, req.SessionID, req.PlayerID)
	if err != nil {
		return err
	}

	a.bind(c, identity{
		SessionID: req.SessionID,
		PlayerID:  p.ID,
		Username:  p.Username,
		Team:      p.Team,
	})

	a.deliverSnapshotEffects(req.SessionID, out)
	c.send(encodeEvent(evSnapshot, out.Snapshot))

	// Coming back is visible to the whole session.
	return a.broadcastSnapshot(ctx, req.SessionID)
}

func (a *wsAPI) deleteSession(ctx context.Context, c *client, data json.RawMessage) error {
	id, ok := a.reg.Lookup(c.connID)
	if !ok {
		return errStale
	}
	req, err := decodePayload[deleteSessionRequest](data)
	if err != nil {
		return fmt.Errorf("%w: %v", engine.ErrValidation, err)
	}
	if req.SessionID != id.SessionID {
		return engine.ErrWrongSession
	}

	if err := a.eng.DeleteSession(ctx, req.SessionID); err != nil {
		return err
	}
	a.evictSession(req.SessionID)
	return nil
}

// bind attaches a resolved identity to the connection, moving it
// between sessions when it rejoined somewhere else.
func (a *wsAPI) bind(c *client, id identity) {
	if old, ok := a.reg.Lookup(c.connID); ok && old.SessionID != id.SessionID {
		a.hub.Leave(old.SessionID, c)
	}
	a.reg.Bind(c.connID, id)
	a.hub.Join(id.SessionID, c, id.PlayerID)
}

// broadcastSnapshot pushes a fresh viewerless snapshot to the whole
// session, first delivering whatever the read performed lazily.
func (a *wsAPI) broadcastSnapshot(ctx context.Context, sessionID string) error {
	out, err := a.eng.Snapshot(ctx, sessionID, "")
	if err != nil {
		return err
	}
	a.deliverSnapshotEffects(sessionID, out)
	if !out.Expired {
		// The expired case already pushed the terminal snapshot.
		a.hub.Broadcast(sessionID, encodeEvent(evSnapshot, out.Snapshot))
	}
	return nil
}

// deliverSnapshotEffects notifies about side effects a snapshot read
// surfaced: zone activations go privately to their runners, a session
// whose clock ran out becomes game_over for everyone, followed by the
// terminal snapshot.
func (a *wsAPI) deliverSnapshotEffects(sessionID string, out engine.SnapshotOutcome) {
	for _, t := range out.Activated {
		a.hub.SendToPlayer(sessionID, t.PlayerID, encodeEvent(evZoneActivated, targetPayload{Target: t.View()}))
	}
	if out.Expired {
		a.hub.Broadcast(sessionID, encodeEvent(evGameOver, gameOverPayload{
			Winner: out.Snapshot.Winner(),
			Scores: out.Snapshot.Scores,
		}))
		// The outcome may be one viewer's private form; the room gets
		// the spectator shape.
		final := out.Snapshot
		final.PlayerID = ""
		final.Target = nil
		a.hub.Broadcast(sessionID, encodeEvent(evSnapshot, final))
	}
}

// finishSession announces a completion the engine just performed:
// game_over with the final tally, then the terminal snapshot.
func (a *wsAPI) finishSession(ctx context.Context, sessionID string) error {
	out, err := a.eng.Snapshot(ctx, sessionID, "")
	if err != nil {
		return err
	}
	a.hub.Broadcast(sessionID, encodeEvent(evGameOver, gameOverPayload{
		Winner: out.Snapshot.Winner(),
		Scores: out.Snapshot.Scores,
	}))
	a.hub.Broadcast(sessionID, encodeEvent(evSnapshot, out.Snapshot))
	return nil
}

// announceExpiry is finishSession for read paths that have no error
// channel of their own, such as the session directory.
func (a *wsAPI) announceExpiry(ctx context.Context, sessionID string) {
	if err := a.finishSession(ctx, sessionID); err != nil {
		a.log.Error("announcing expiry", "session_id", sessionID, "error", err)
	}
}

// evictSession pushes room_deleted to everyone in the session and closes
// their connections; bindings unwind as each read loop exits.
func (a *wsAPI) evictSession(sessionID string) {
	a.hub.CloseSession(sessionID, encodeEvent(evRoomDeleted, roomDeletedPayload{SessionID: sessionID}), "room deleted")
}

// cleanup runs when a connection's read loop ends for any reason. It
// marks the player inactive unless another connection already took the
// player over, and tells the session.
func (a *wsAPI) cleanup(c *client) {
	id, ok := a.reg.Unbind(c.connID)
	if !ok {
		return
	}
	a.hub.Leave(id.SessionID, c)

	// A quick reconnect may already own this player on another socket.
	if _, rebound := a.reg.ConnByPlayer(id.PlayerID); rebound {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, flipped, err := a.eng.Disconnect(ctx, id.PlayerID)
	if err != nil {
		// The session may have been torn down while we were connected.
		if !errors.Is(err, store.ErrNotFound) {
			a.log.Warn("marking player disconnected", "player", id.PlayerID, "error", err)
		}
		return
	}
	if !flipped {
		return
	}

	a.hub.Broadcast(id.SessionID, encodeEvent(evPlayerDisconnected, playerDisconnectedPayload{
		PlayerID: p.ID,
		Username: p.Username,
	}))
	if err := a.broadcastSnapshot(ctx, id.SessionID); err != nil && !errors.Is(err, store.ErrNotFound) {
		a.log.Warn("broadcasting disconnect snapshot", "session", id.SessionID, "error", err)
	}
}
