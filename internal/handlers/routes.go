package handlers

import "github.com/go-chi/chi/v5"

// Mount registers the API routes on r.
func (g *Gateway) Mount(r chi.Router) {
	r.Get("/health", g.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/connections/connect", g.Connect)
		r.Get("/connections/status", g.ConnectionStatus)
		r.Get("/connections", g.ListConnections)
		r.Delete("/connections/{id}", g.CloseConnection)
		r.Get("/connections/ws/{id}", g.ConnectionWS)

		r.Post("/profiles", CreateProfile)
		r.Get("/profiles", ListProfiles)
		r.Get("/profiles/groups", ListProfileGroups)
		r.Get("/profiles/export", ExportProfiles)
		r.Post("/profiles/import", ImportProfiles)
		r.Get("/profiles/{id}", GetProfile)
		r.Put("/profiles/{id}", UpdateProfile)
		r.Delete("/profiles/{id}", DeleteProfile)
		r.Post("/profiles/{id}/use", UseProfile)

		r.Post("/ssh-keys", g.CreateSSHKey)
		r.Get("/ssh-keys", ListSSHKeys)
		r.Get("/ssh-keys/{id}", g.GetSSHKey)
		r.Put("/ssh-keys/{id}", UpdateSSHKey)
		r.Delete("/ssh-keys/{id}", DeleteSSHKey)

		r.Get("/server-logs", GetServerLogs)
		r.Delete("/server-logs", ClearServerLogs)
	})
}
