package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileConfig is the optional TOML overlay. Nil fields leave the flag value
// in place.
type FileConfig struct {
	ServerAddr     *string        `toml:"addr"`
	SigningKey     *string        `toml:"signing-key"`
	AllowedOrigins []string       `toml:"allowed-origins"`
	Database       DatabaseConfig `toml:"database"`
	Rooms          RoomsConfig    `toml:"rooms"`
	Jobs           JobsConfig     `toml:"jobs"`
}

type DatabaseConfig struct {
	Driver *string `toml:"driver"`
	DSN    *string `toml:"dsn"`
}

type RoomsConfig struct {
	ParticipantGrace *Duration `toml:"participant-grace"`
	HostGrace        *Duration `toml:"host-grace"`
	StatsRate        *float64  `toml:"stats-rate"`
	StatsBurst       *int      `toml:"stats-burst"`
}

type JobsConfig struct {
	SessionTTL   *Duration `toml:"session-ttl"`
	ReapInterval *Duration `toml:"reap-interval"`
	PruneAt      *string   `toml:"prune-at"`
	Timezone     *string   `toml:"timezone"`
}

// Duration decodes TOML strings such as "30s" or "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// LoadFile reads a TOML config from path. Unknown keys are an error so
// typos do not silently fall back to defaults.
func LoadFile(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		return FileConfig{}, fmt.Errorf("stat config: %w", err)
	}

	var fc FileConfig
	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return FileConfig{}, fmt.Errorf("decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return FileConfig{}, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return fc, nil
}

// ApplyOptions overlays the room and job settings of fc onto o.
func (fc FileConfig) ApplyOptions(o Options) Options {
	if v := fc.Rooms.ParticipantGrace; v != nil {
		o.ParticipantGrace = v.Duration
	}
	if v := fc.Rooms.HostGrace; v != nil {
		o.HostGrace = v.Duration
	}
	if v := fc.Rooms.StatsRate; v != nil {
		o.StatsRate = *v
	}
	if v := fc.Rooms.StatsBurst; v != nil {
		o.StatsBurst = *v
	}
	if v := fc.Jobs.SessionTTL; v != nil {
		o.SessionTTL = v.Duration
	}
	if v := fc.Jobs.ReapInterval; v != nil {
		o.ReapInterval = v.Duration
	}
	if v := fc.Jobs.PruneAt; v != nil {
		o.PruneAt = *v
	}
	if v := fc.Jobs.Timezone; v != nil {
		o.Timezone = *v
	}
	return o
}
