package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxhuntgame/foxhunt/internal/engine"
	"github.com/foxhuntgame/foxhunt/internal/game"
	"github.com/foxhuntgame/foxhunt/internal/geo"
	"github.com/foxhuntgame/foxhunt/internal/store"
)

type CreateSessionRequest struct {
	Name               string    `json:"name"`
	Anchor             geo.Point `json:"anchor"`
	PlayRadius         float64   `json:"playRadius,omitempty"`
	ActivationDelaySec int       `json:"activationDelaySec,omitempty"`
	DurationMin        int       `json:"durationMin,omitempty"`
}

type SessionListItem struct {
	Session     game.SessionView `json:"session"`
	PlayerCount int              `json:"playerCount"`
}

type SessionListResponse struct {
	Sessions []SessionListItem `json:"sessions"`
}

type TrailResponse struct {
	PlayerID string      `json:"playerId"`
	Fixes    []store.Fix `json:"fixes"`
}

func handleCreateSession(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSessionRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		s, err := eng.CreateSession(r.Context(), engine.SessionParams{
			Name:            req.Name,
			Anchor:          req.Anchor,
			PlayRadius:      req.PlayRadius,
			ActivationDelay: time.Duration(req.ActivationDelaySec) * time.Second,
			Duration:        time.Duration(req.DurationMin) * time.Minute,
		})
		if errors.Is(err, engine.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, store.ErrDuplicateName) {
			writeError(w, http.StatusConflict, "session name already in use")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusCreated, s.View(eng.Now()))
	}
}

// handleListSessions serves the lobby browser: completed sessions are
// left out. A session whose clock ran out during this read is announced
// to its room before it disappears from the listing.
func handleListSessions(eng *engine.Engine, ws *wsAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sums, err := eng.ListSessions(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		now := eng.Now()
		items := make([]SessionListItem, 0, len(sums))
		for _, sum := range sums {
			if sum.Expired {
				ws.announceExpiry(r.Context(), sum.Session.ID)
			}
			if sum.Session.Status == game.SessionCompleted {
				continue
			}
			items = append(items, SessionListItem{
				Session:     sum.Session.View(now),
				PlayerCount: sum.PlayerCount,
			})
		}
		writeJSON(w, http.StatusOK, SessionListResponse{Sessions: items})
	}
}

// handleGetSession serves the viewerless snapshot, the same shape the
// realtime channel broadcasts. Lazy effects of the read still reach
// connected players through the hub.
func handleGetSession(eng *engine.Engine, ws *wsAPI) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		out, err := eng.Snapshot(r.Context(), id, "")
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		ws.deliverSnapshotEffects(id, out)
		writeJSON(w, http.StatusOK, out.Snapshot)
	}
}

func handleTrail(eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID := chi.URLParam(r, "id")

		n := 50
		if raw := r.URL.Query().Get("n"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v < 1 {
				writeError(w, http.StatusBadRequest, "n must be a positive integer")
				return
			}
			n = v
		}

		fixes, err := eng.Trail(r.Context(), playerID, n)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "player not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if fixes == nil {
			fixes = []store.Fix{}
		}

		writeJSON(w, http.StatusOK, TrailResponse{PlayerID: playerID, Fixes: fixes})
	}
}
