package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	var (
		addr   = "localhost:8080"
		driver = DriverPostgres
		dsn    = "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"
		key    = "c29tZV9zZWNyZXQ="
		orig   = []string{"http://localhost:3000"}
	)

	tcases := []struct {
		name   string
		addr   string
		driver string
		dsn    string
		key    string
		err    bool
	}{
		{name: "valid config", addr: addr, driver: driver, dsn: dsn, key: key},
		{name: "sqlite driver", addr: addr, driver: DriverSqlite, dsn: "file:typerace.db", key: key},
		{name: "empty address", addr: "", driver: driver, dsn: dsn, key: key, err: true},
		{name: "unknown driver", addr: addr, driver: "mysql", dsn: dsn, key: key, err: true},
		{name: "empty DSN", addr: addr, driver: driver, dsn: "", key: key, err: true},
		{name: "empty signing key", addr: addr, driver: driver, dsn: dsn, key: "", err: true},
		{name: "invalid signing key", addr: addr, driver: driver, dsn: dsn, key: "not base64!", err: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			config, err := NewConfig(tc.addr, tc.driver, tc.dsn, tc.key, orig)
			if tc.err {
				assert.Error(t, err, "expected error for config: %s", tc.name)
				return
			}
			require.NoError(t, err, "expected no error for config: %s", tc.name)

			assert.Equal(t, tc.addr, config.ServerAddr, "expected server address to match")
			assert.Equal(t, tc.driver, config.DatabaseDriver, "expected driver to match")
			assert.Equal(t, tc.dsn, config.DatabaseDSN, "expected database DSN to match")
			assert.Equal(t, orig, config.AllowedOrigins, "expected allowed origins to match")
			assert.NotEmpty(t, config.SigningKey, "expected signing key to be decoded and not empty")
			assert.Equal(t, DefaultOptions(), config.Options, "expected default options")
		})
	}
}

func Test_decodeSigningKey(t *testing.T) {
	tcases := []struct {
		name         string
		base64Secret string
		expectedKey  []byte
		expectError  bool
	}{
		{
			name:         "valid base64 secret",
			base64Secret: "c29tZV9zZWNyZXQ=",
			expectedKey:  []byte("some_secret"),
		},
		{
			name:         "invalid base64 secret",
			base64Secret: "invalid_base64",
			expectError:  true,
		},
		{
			name:         "empty base64 secret",
			base64Secret: "",
			expectError:  true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			key, err := decodeSigningSecret(tc.base64Secret)
			if tc.expectError {
				assert.Error(t, err, "expected error for base64 secret: %s", tc.base64Secret)
			} else {
				assert.NoError(t, err, "expected no error for base64 secret: %s", tc.base64Secret)
				assert.Equal(t, tc.expectedKey, key, "expected decoded key to match for base64 secret: %s", tc.base64Secret)
			}
		})
	}
}

func TestOptionsValidate(t *testing.T) {
	tcases := []struct {
		name   string
		modify func(o *Options)
		err    bool
	}{
		{name: "defaults", modify: func(o *Options) {}},
		{name: "host grace enabled", modify: func(o *Options) { o.HostGrace = time.Minute }},
		{name: "negative grace", modify: func(o *Options) { o.ParticipantGrace = -time.Second }, err: true},
		{name: "zero ttl", modify: func(o *Options) { o.SessionTTL = 0 }, err: true},
		{name: "zero reap interval", modify: func(o *Options) { o.ReapInterval = 0 }, err: true},
		{name: "bad prune time", modify: func(o *Options) { o.PruneAt = "5am" }, err: true},
		{name: "bad timezone", modify: func(o *Options) { o.Timezone = "Mars/Olympus" }, err: true},
		{name: "zero stats rate", modify: func(o *Options) { o.StatsRate = 0 }, err: true},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			o := DefaultOptions()
			tc.modify(&o)
			if tc.err {
				assert.Error(t, o.Validate())
			} else {
				assert.NoError(t, o.Validate())
			}
		})
	}
}

func writeConfig(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "typerace.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
addr = ":9000"
allowed-origins = ["https://typerace.example"]

[database]
driver = "sqlite3"
dsn = "file:dev.db"

[rooms]
participant-grace = "45s"
host-grace = "10s"

[jobs]
prune-at = "04:30"
`)

	fc, err := LoadFile(path)
	require.NoError(t, err)

	require.NotNil(t, fc.ServerAddr)
	assert.Equal(t, ":9000", *fc.ServerAddr)
	require.NotNil(t, fc.Database.Driver)
	assert.Equal(t, DriverSqlite, *fc.Database.Driver)
	assert.Equal(t, []string{"https://typerace.example"}, fc.AllowedOrigins)
	assert.Nil(t, fc.SigningKey, "expected unset keys to stay nil")

	opts := fc.ApplyOptions(DefaultOptions())
	assert.Equal(t, 45*time.Second, opts.ParticipantGrace)
	assert.Equal(t, 10*time.Second, opts.HostGrace)
	assert.Equal(t, "04:30", opts.PruneAt)
	assert.Equal(t, 5*time.Minute, opts.ReapInterval, "expected unset options to keep defaults")
	assert.NoError(t, opts.Validate())
}

func TestLoadFile_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
		assert.Error(t, err)
	})
	t.Run("empty path", func(t *testing.T) {
		_, err := LoadFile("")
		assert.Error(t, err)
	})
	t.Run("unknown key", func(t *testing.T) {
		_, err := LoadFile(writeConfig(t, "adress = \":9000\"\n"))
		assert.ErrorContains(t, err, "adress")
	})
	t.Run("bad duration", func(t *testing.T) {
		_, err := LoadFile(writeConfig(t, "[rooms]\nhost-grace = \"soon\"\n"))
		assert.Error(t, err)
	})
}
