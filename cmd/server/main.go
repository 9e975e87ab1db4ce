package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/npezzotti/go-typerace/internal/anticheat"
	"github.com/npezzotti/go-typerace/internal/api"
	"github.com/npezzotti/go-typerace/internal/config"
	"github.com/npezzotti/go-typerace/internal/database"
	"github.com/npezzotti/go-typerace/internal/metrics"
	"github.com/npezzotti/go-typerace/internal/scheduler"
	"github.com/npezzotti/go-typerace/internal/server"
	"github.com/npezzotti/go-typerace/internal/statscache"
	"github.com/npezzotti/go-typerace/internal/submission"
	"github.com/npezzotti/go-typerace/internal/window"
	"golang.org/x/time/rate"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	configPath     string
	addr           string
	driver         string
	dsn            string
	signingKey     string
	allowedOrigins stringSliceFlag
	opts           = config.DefaultOptions()
)

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func main() {
	_ = godotenv.Load()

	flag.StringVar(&configPath, "config", "", "path to a TOML config file")
	flag.StringVar(&addr, "addr", envOr("TYPERACE_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&driver, "driver", envOr("TYPERACE_DB_DRIVER", config.DriverPostgres), "database driver (postgres or sqlite3)")
	flag.StringVar(&dsn, "dsn", envOr("TYPERACE_DSN", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "database connection string")
	flag.StringVar(&signingKey, "signing-key", envOr("TYPERACE_SIGNING_KEY", defaultSigningKey), "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.DurationVar(&opts.ParticipantGrace, "participant-grace", opts.ParticipantGrace, "how long a disconnected participant's slot is kept")
	flag.DurationVar(&opts.HostGrace, "host-grace", opts.HostGrace, "how long a room survives its host disconnecting")
	flag.DurationVar(&opts.SessionTTL, "session-ttl", opts.SessionTTL, "idle lifetime of an anti-cheat session")
	flag.DurationVar(&opts.ReapInterval, "reap-interval", opts.ReapInterval, "how often expired anti-cheat sessions are removed")
	flag.StringVar(&opts.PruneAt, "prune-at", opts.PruneAt, "daily leaderboard prune time (HH:MM)")
	flag.StringVar(&opts.Timezone, "timezone", opts.Timezone, "timezone delimiting the today and week leaderboards")
	flag.Float64Var(&opts.StatsRate, "stats-rate", opts.StatsRate, "live stats messages per second allowed per connection")
	flag.IntVar(&opts.StatsBurst, "stats-burst", opts.StatsBurst, "burst size of the live stats limit")
	flag.Parse()

	logger := log.New(os.Stderr, "[typerace] ", log.LstdFlags)

	if configPath != "" {
		if err := applyConfigFile(configPath); err != nil {
			logger.Fatal("config file:", err)
		}
	}

	cfg, err := config.NewConfig(addr, driver, dsn, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}
	if err := opts.Validate(); err != nil {
		logger.Fatal("config:", err)
	}
	cfg.Options = opts

	loc, err := window.LoadLocation(cfg.Options.Timezone)
	if err != nil {
		logger.Fatal("timezone:", err)
	}

	dbConn, err := database.NewDatabaseConnection(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	if err := dbConn.Migrate(); err != nil {
		logger.Fatal("db migrate:", err)
	}

	mux := http.NewServeMux()

	statsUpdater := metrics.NewStatsUpdater(mux)

	sessions := anticheat.NewSessionStore(logger, cfg.Options.SessionTTL)
	cache := statscache.New(logger, window.Cutoffs(loc))
	pipeline := submission.NewPipeline(logger, dbConn, cache, sessions, nil, statsUpdater)

	rooms := server.NewRoomRegistry(logger, statsUpdater, sessions, server.Options{
		ParticipantGrace: cfg.Options.ParticipantGrace,
		HostGrace:        cfg.Options.HostGrace,
		StatsRate:        rate.Limit(cfg.Options.StatsRate),
		StatsBurst:       cfg.Options.StatsBurst,
	})

	jobs, err := scheduler.New(logger, loc, cfg.Options.ReapInterval, cfg.Options.PruneAt,
		sessions, cache, dbConn, statsUpdater)
	if err != nil {
		logger.Fatal("scheduler:", err)
	}

	srv := api.NewTypeRaceApp(mux, logger, rooms, dbConn, pipeline, cache, sessions, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	jobs.Start()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	jobs.Stop()

	logger.Println("shutting down room registry...")
	if err := rooms.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("room registry shutdown:", err)
	}

	logger.Println("shutdown complete")
}

// applyConfigFile overlays the TOML file at path. Flags given on the
// command line keep precedence over the file.
func applyConfigFile(path string) error {
	fc, err := config.LoadFile(path)
	if err != nil {
		return err
	}

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	if fc.ServerAddr != nil && !set["addr"] {
		addr = *fc.ServerAddr
	}
	if fc.SigningKey != nil && !set["signing-key"] {
		signingKey = *fc.SigningKey
	}
	if len(fc.AllowedOrigins) > 0 && !set["allowed-origins"] {
		allowedOrigins = fc.AllowedOrigins
	}
	if fc.Database.Driver != nil && !set["driver"] {
		driver = *fc.Database.Driver
	}
	if fc.Database.DSN != nil && !set["dsn"] {
		dsn = *fc.Database.DSN
	}

	fileOpts := fc.ApplyOptions(opts)
	fromFile := func(name string, apply func()) {
		if !set[name] {
			apply()
		}
	}
	fromFile("participant-grace", func() { opts.ParticipantGrace = fileOpts.ParticipantGrace })
	fromFile("host-grace", func() { opts.HostGrace = fileOpts.HostGrace })
	fromFile("session-ttl", func() { opts.SessionTTL = fileOpts.SessionTTL })
	fromFile("reap-interval", func() { opts.ReapInterval = fileOpts.ReapInterval })
	fromFile("prune-at", func() { opts.PruneAt = fileOpts.PruneAt })
	fromFile("timezone", func() { opts.Timezone = fileOpts.Timezone })
	fromFile("stats-rate", func() { opts.StatsRate = fileOpts.StatsRate })
	fromFile("stats-burst", func() { opts.StatsBurst = fileOpts.StatsBurst })

	return nil
}
