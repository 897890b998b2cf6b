package server

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/foxhuntgame/foxhunt/internal/game"
	"github.com/foxhuntgame/foxhunt/internal/geo"
)

// Client → server event types.
const (
	evCreateSession  = "create_session"
	evJoinSession    = "join_session"
	evStartSession   = "start_session"
	evLocationUpdate = "location_update"
	evReportCatch    = "report_catch"
	evResync         = "resync"
	evDeleteSession  = "delete_session"
)

// Server → client event types.
const (
	evSnapshot           = "snapshot"
	evPlayerJoined       = "player_joined"
	evPlayerDisconnected = "player_disconnected"
	evNewTarget          = "new_target"
	evZoneActivated      = "zone_activated"
	evTargetRadiusUpdate = "target_radius_update"
	evRunnerLocation     = "runner_location"
	evTargetReached      = "target_reached"
	evRunnerWon          = "runner_won"
	evGameOver           = "game_over"
	evRoomDeleted        = "room_deleted"
	evError              = "error"
)

// Error codes carried by the error event.
const (
	codeValidation      = "validation"
	codeNotFound        = "not_found"
	codeConflict        = "conflict"
	codeStaleConnection = "stale_connection"
	codeInternal        = "internal"
)

// Envelope is the wire form of every message in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// encodeEvent renders a complete wire message. Payloads are our own
// types, so a marshal failure is a programming error; it yields nil,
// which send and the hub skip.
func encodeEvent(typ string, payload any) []byte {
	env := Envelope{Type: typ}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil
		}
		env.Data = data
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil
	}
	return out
}

func decodePayload[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 {
		return v, errors.New("missing event data")
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, err
	}
	return v, nil
}

type createSessionRequest struct {
	Name               string    `json:"name"`
	Anchor             geo.Point `json:"anchor"`
	PlayRadius         float64   `json:"playRadius,omitempty"`
	ActivationDelaySec int       `json:"activationDelaySec,omitempty"`
	DurationMin        int       `json:"durationMin,omitempty"`
}

type joinSessionRequest struct {
	SessionName string    `json:"sessionName"`
	Username    string    `json:"username"`
	Team        game.Team `json:"team"`
}

type startSessionRequest struct {
	SessionID string `json:"sessionId"`
}

type locationUpdateRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type reportCatchRequest struct {
	CaughtPlayerID string `json:"caughtPlayerId"`
}

type resyncRequest struct {
	SessionID string `json:"sessionId"`
	PlayerID  string `json:"playerId"`
}

type deleteSessionRequest struct {
	SessionID string `json:"sessionId"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type playerJoinedPayload struct {
	Player   game.PlayerView `json:"player"`
	Rejoined bool            `json:"rejoined,omitempty"`
}

type playerDisconnectedPayload struct {
	PlayerID string `json:"playerId"`
	Username string `json:"username"`
}

// targetPayload carries runner-private target state for new_target,
// zone_activated and target_radius_update.
type targetPayload struct {
	Target game.TargetView `json:"target"`
}

// runnerLocationPayload is broadcast unfiltered; clients filter by team
// locally. Only target anchors are secret, never live coordinates.
type runnerLocationPayload struct {
	PlayerID string    `json:"playerId"`
	Username string    `json:"username"`
	Team     game.Team `json:"team"`
	Location geo.Point `json:"location"`
	At       time.Time `json:"at"`
}

type targetReachedPayload struct {
	PlayerID string `json:"playerId"`
	Username string `json:"username"`
	Points   int    `json:"points"`
}

type runnerWonPayload struct {
	PlayerID string `json:"playerId"`
	Username string `json:"username"`
}

type gameOverPayload struct {
	Winner game.Team   `json:"winner"`
	Scores game.Scores `json:"scores"`
}

type roomDeletedPayload struct {
	SessionID string `json:"sessionId"`
}
