// Package httpapi is the small ops surface next to the game protocol: a
// health check and a JSON view of the pending rooms.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cedricfoucault/bomberman/internal/lobby"
)

type roomView struct {
	ID         uint32 `json:"id"`
	Address    string `json:"address"`
	Players    uint32 `json:"players"`
	MaxPlayers uint32 `json:"max_players"`
}

func ListRooms(g *lobby.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		infos := g.Snapshot()
		views := make([]roomView, 0, len(infos))
		for _, ri := range infos {
			views = append(views, roomView{
				ID:         ri.ID,
				Address:    fmt.Sprintf("%d.%d.%d.%d:%d", ri.IP[0], ri.IP[1], ri.IP[2], ri.IP[3], ri.Port),
				Players:    ri.Players,
				MaxPlayers: ri.MaxPlayers,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(views)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
