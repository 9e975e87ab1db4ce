package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

const (
	DriverPostgres = "postgres"
	DriverSqlite   = "sqlite3"
)

type Config struct {
	DatabaseDriver string
	DatabaseDSN    string
	ServerAddr     string
	SigningKey     []byte
	AllowedOrigins []string
	Options        Options
}

// Options holds the tunables of rooms, anti-cheat sessions and the
// background jobs.
type Options struct {
	ParticipantGrace time.Duration
	HostGrace        time.Duration
	SessionTTL       time.Duration
	ReapInterval     time.Duration
	// PruneAt is the daily wall-clock time of the leaderboard prune, "15:04".
	PruneAt    string
	Timezone   string
	StatsRate  float64
	StatsBurst int
}

func DefaultOptions() Options {
	return Options{
		ParticipantGrace: 30 * time.Second,
		SessionTTL:       10 * time.Minute,
		ReapInterval:     5 * time.Minute,
		PruneAt:          "05:00",
		Timezone:         "America/New_York",
		StatsRate:        20,
		StatsBurst:       40,
	}
}

func (o Options) Validate() error {
	if o.ParticipantGrace < 0 || o.HostGrace < 0 {
		return fmt.Errorf("grace periods cannot be negative")
	}
	if o.SessionTTL <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}
	if o.ReapInterval <= 0 {
		return fmt.Errorf("reap interval must be positive")
	}
	if _, err := time.Parse("15:04", o.PruneAt); err != nil {
		return fmt.Errorf("prune time %q: %w", o.PruneAt, err)
	}
	if _, err := time.LoadLocation(o.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", o.Timezone, err)
	}
	if o.StatsRate <= 0 || o.StatsBurst <= 0 {
		return fmt.Errorf("stats rate and burst must be positive")
	}
	return nil
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("signing secret is empty")
	}
	return key, nil
}

func NewConfig(serverAddr, databaseDriver, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDriver != DriverPostgres && databaseDriver != DriverSqlite {
		return nil, fmt.Errorf("unsupported database driver %q", databaseDriver)
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		DatabaseDriver: databaseDriver,
		DatabaseDSN:    databaseDSN,
		ServerAddr:     serverAddr,
		SigningKey:     signingKey,
		AllowedOrigins: allowedOrigins,
		Options:        DefaultOptions(),
	}, nil
}
