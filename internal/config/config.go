package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig is the process configuration, loaded from the environment.
type AppConfig struct {
	ListenAddr string // WebSocket gateway
	APIAddr    string // HTTP side surface (health, rank, replays)

	RedisURL    string
	DatabaseURL string

	RulesDir string // optional ruleset override directory

	TurnTimeout     time.Duration
	GraceWindow     time.Duration
	RetentionWindow time.Duration
	ReplayRetention time.Duration

	FirstTurn string // "random" | "first"

	MaxConcurrentMatches int
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:           ":8080",
		APIAddr:              ":8081",
		TurnTimeout:          45 * time.Second,
		GraceWindow:          30 * time.Second,
		RetentionWindow:      2 * time.Minute,
		ReplayRetention:      30 * 24 * time.Hour,
		FirstTurn:            "random",
		MaxConcurrentMatches: 500,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("API_ADDR")); v != "" {
		cfg.APIAddr = v
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.RulesDir = strings.TrimSpace(os.Getenv("RULES_DIR"))

	if d, ok := durationEnv("TURN_TIMEOUT"); ok {
		cfg.TurnTimeout = d
	}
	if d, ok := durationEnv("GRACE_WINDOW"); ok {
		cfg.GraceWindow = d
	}
	if d, ok := durationEnv("RETENTION_WINDOW"); ok {
		cfg.RetentionWindow = d
	}
	if d, ok := durationEnv("REPLAY_RETENTION"); ok {
		cfg.ReplayRetention = d
	}

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("FIRST_TURN"))); v != "" {
		if v != "random" && v != "first" {
			return nil, errors.New("FIRST_TURN must be 'random' or 'first'")
		}
		cfg.FirstTurn = v
	}
	if v := strings.TrimSpace(os.Getenv("MAX_CONCURRENT_MATCHES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConcurrentMatches = n
		}
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.TurnTimeout <= 0 || cfg.GraceWindow <= 0 {
		return nil, errors.New("TURN_TIMEOUT and GRACE_WINDOW must be positive")
	}
	return cfg, nil
}

// durationEnv accepts either a Go duration ("45s") or bare seconds.
func durationEnv(key string) (time.Duration, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, true
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second, true
	}
	return 0, false
}
