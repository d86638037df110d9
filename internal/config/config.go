// Package config loads server settings from the environment, with an optional
// .env file for development.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is everything cmd/server needs to bring the lobby up. Defaults
// mirror the classic game constants: 4 players, 200 ms turns, a 17x15 board.
type Config struct {
	LobbyAddr string // well-known registry address
	HTTPAddr  string // ops surface (healthz, room listing)

	MaxPlayers  int
	TurnLength  time.Duration
	BoardWidth  int
	BoardHeight int

	IdleTimeout      time.Duration
	DropStaleActions bool
}

// Load reads a .env file if present (missing is fine), then the environment.
func Load() Config {
	_ = godotenv.Load()
	return Config{
		LobbyAddr:        getString("LOBBY_ADDR", ":42042"),
		HTTPAddr:         getString("HTTP_ADDR", ":8080"),
		MaxPlayers:       getInt("MAX_PLAYERS", 4),
		TurnLength:       time.Duration(getInt("TURN_MS", 200)) * time.Millisecond,
		BoardWidth:       getInt("BOARD_WIDTH", 17),
		BoardHeight:      getInt("BOARD_HEIGHT", 15),
		IdleTimeout:      time.Duration(getInt("IDLE_TIMEOUT_S", 600)) * time.Second,
		DropStaleActions: getBool("DROP_STALE_ACTIONS", true),
	}
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
