package server

import (
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/swaggest/swgui/v5emb"
)

func addRoutes(r chi.Router, deps Deps) {
	hub := NewHub()
	reg := NewRegistry()
	ws := newWSAPI(deps.Engine, hub, reg, deps.Logger)

	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("Foxhunt API", "/openapi.json", "/docs"))
	r.Get("/healthz", handleHealth(deps.Logger, deps.DB, deps.Redis))
	r.Get("/ws", handleWS(ws))

	// Player-facing REST mirror of the realtime channel.
	r.Route("/api/sessions", func(r chi.Router) {
		r.Get("/", handleListSessions(deps.Engine, ws))
		r.Post("/", handleCreateSession(deps.Engine))
		r.Get("/{id}", handleGetSession(deps.Engine, ws))
	})
	r.Get("/api/players/{id}/trail", handleTrail(deps.Engine))

	// Admin auth.
	r.Post("/api/admin/login", handleAdminLogin(deps.Admin))
	r.Post("/api/admin/logout", handleAdminLogout(deps.Admin))
	r.Get("/api/admin/me", handleAdminMe(deps.Admin))

	// Admin session management, behind the cookie check.
	r.Route("/api/admin/sessions", func(r chi.Router) {
		r.Use(adminAuthMiddleware(deps.Admin))
		r.Get("/", handleAdminListSessions(deps.Engine, ws))
		r.Delete("/{id}", handleAdminDeleteSession(deps.Engine, ws))
	})

	if deps.SPADir != "" {
		if info, err := os.Stat(deps.SPADir); err == nil && info.IsDir() {
			deps.Logger.Info("serving SPA", "dir", deps.SPADir)
			r.NotFound(handleSPA(deps.SPADir))
		}
	}
}
