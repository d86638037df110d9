package httpapi

import (
	"net/http"

	"github.com/cedricfoucault/bomberman/internal/lobby"
	"github.com/go-chi/chi/v5"
)

func SetupRoutes(g *lobby.Registry) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Get("/rooms", ListRooms(g))
	return r
}
