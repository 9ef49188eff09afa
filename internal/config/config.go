package config

import (
	"os"
	"strconv"
)

// Client holds the endpoints the terminal client talks to.
type Client struct {
	APIBaseURL string
	WSURL      string
}

// Server holds the dev backend's wiring.
type Server struct {
	Addr        string
	DatabaseDSN string
	RedisAddr   string
	RedisDB     int
	JWTSecret   string
}

// LoadClient reads client settings from the environment. Defaults
// point at a locally running dev backend.
func LoadClient() Client {
	return Client{
		APIBaseURL: getenv("CHATLINE_API_URL", "http://localhost:8080"),
		WSURL:      getenv("CHATLINE_WS_URL", "ws://localhost:8080/ws"),
	}
}

// LoadServer reads dev backend settings from the environment.
func LoadServer() Server {
	return Server{
		Addr:        getenv("CHATLINE_ADDR", ":8080"),
		DatabaseDSN: getenv("CHATLINE_DB_DSN", "host=localhost user=user password=password dbname=chatline port=5432 sslmode=disable"),
		RedisAddr:   getenv("CHATLINE_REDIS_ADDR", "localhost:6379"),
		RedisDB:     getenvInt("CHATLINE_REDIS_DB", 0),
		JWTSecret:   getenv("CHATLINE_JWT_SECRET", "dev-only-secret"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
