// Command typerace-admin runs one-off maintenance against the typerace
// database: migrations, cache backfills and rebuilds, the leaderboard prune
// and manual reclassification of results.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/npezzotti/go-typerace/internal/anticheat"
	"github.com/npezzotti/go-typerace/internal/config"
	"github.com/npezzotti/go-typerace/internal/database"
	"github.com/npezzotti/go-typerace/internal/metrics"
	"github.com/npezzotti/go-typerace/internal/statscache"
	"github.com/npezzotti/go-typerace/internal/submission"
	"github.com/npezzotti/go-typerace/internal/window"
	"github.com/spf13/cobra"
)

const defaultBatchSize = 50

var (
	driver   string
	dsn      string
	timezone string

	batchSize int

	rebuildUser int

	reclassifyId    int64
	reclassifyValid bool

	auditFix bool
)

var logger = log.New(os.Stderr, "[typerace-admin] ", log.LstdFlags)

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func main() {
	_ = godotenv.Load()

	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "typerace-admin",
		Short:        "Typerace maintenance commands",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&driver, "driver", envOr("TYPERACE_DB_DRIVER", config.DriverPostgres), "database driver (postgres or sqlite3)")
	rootCmd.PersistentFlags().StringVar(&dsn, "dsn", envOr("TYPERACE_DSN", ""), "database connection string")
	rootCmd.PersistentFlags().StringVar(&timezone, "timezone", window.DefaultTimezone, "timezone delimiting the today and week leaderboards")

	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newBackfillCmd())
	rootCmd.AddCommand(newRebuildCmd())
	rootCmd.AddCommand(newPruneCmd())
	rootCmd.AddCommand(newReclassifyCmd())
	rootCmd.AddCommand(newAuditIdentityCmd())

	return rootCmd
}

func openDatabase() (*database.DBConn, error) {
	if dsn == "" {
		return nil, fmt.Errorf("--dsn or TYPERACE_DSN is required")
	}

	db, err := database.NewDatabaseConnection(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	return db, nil
}

func newCache() (*statscache.Cache, error) {
	loc, err := window.LoadLocation(timezone)
	if err != nil {
		return nil, err
	}
	return statscache.New(logger, window.Cutoffs(loc)), nil
}

// withDatabase opens the database and the stats cache, runs fn and closes
// the connection.
func withDatabase(fn func(ctx context.Context, db *database.DBConn, cache *statscache.Cache) error) error {
	cache, err := newCache()
	if err != nil {
		return err
	}

	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logger.Printf("failed to close db: %v", cerr)
		}
	}()

	return fn(context.Background(), db, cache)
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			db, err := openDatabase()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(); err != nil {
				return err
			}
			logger.Println("migrations applied")
			return nil
		},
	}
}

func newBackfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Rebuild the stats and leaderboard caches of every user",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withDatabase(func(ctx context.Context, db *database.DBConn, cache *statscache.Cache) error {
				res, err := cache.Backfill(ctx, db, batchSize)
				if err != nil {
					return err
				}
				logger.Printf("backfilled %d users, %d failed", res.Users, res.Failed)
				if res.Failed > 0 {
					return fmt.Errorf("%d users failed", res.Failed)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", defaultBatchSize, "users rebuilt per batch")
	return cmd
}

func newRebuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the caches of a single user",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if rebuildUser <= 0 {
				return fmt.Errorf("--user must be a positive user id")
			}

			return withDatabase(func(ctx context.Context, db *database.DBConn, cache *statscache.Cache) error {
				err := db.InUserTx(ctx, rebuildUser, func(q database.Queries) error {
					return cache.Rebuild(ctx, q, rebuildUser)
				})
				if err != nil {
					return fmt.Errorf("rebuild user %d: %w", rebuildUser, err)
				}
				logger.Printf("rebuilt caches for user %d", rebuildUser)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&rebuildUser, "user", 0, "user id")
	cmd.MarkFlagRequired("user")
	return cmd
}

func newPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Repair today and week leaderboard rows that fell out of their window",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withDatabase(func(ctx context.Context, db *database.DBConn, cache *statscache.Cache) error {
				_, err := cache.Prune(ctx, db)
				return err
			})
		},
	}
}

func newReclassifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reclassify",
		Short: "Mark a result valid or invalid and update the caches",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return withDatabase(func(ctx context.Context, db *database.DBConn, cache *statscache.Cache) error {
				su := metrics.NewStatsUpdater(nil)
				su.Run()
				defer su.Stop()

				sessions := anticheat.NewSessionStore(logger, 0)
				pipeline := submission.NewPipeline(logger, db, cache, sessions, nil, su)
				if err := pipeline.Reclassify(ctx, reclassifyId, reclassifyValid); err != nil {
					return fmt.Errorf("reclassify result %d: %w", reclassifyId, err)
				}
				logger.Printf("result %d marked valid=%t", reclassifyId, reclassifyValid)
				return nil
			})
		},
	}

	cmd.Flags().Int64Var(&reclassifyId, "id", 0, "result id")
	cmd.Flags().BoolVar(&reclassifyValid, "valid", false, "whether the result counts")
	cmd.MarkFlagRequired("id")
	return cmd
}

func newAuditIdentityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit-identity",
		Short: "Report leaderboard rows whose username or avatar differs from the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(func(ctx context.Context, db *database.DBConn, cache *statscache.Cache) error {
				res, err := cache.AuditIdentity(ctx, db, batchSize, auditFix)
				if err != nil {
					return err
				}
				printDrift(cmd.OutOrStdout(), res.Drifted)
				logger.Printf("audited %d users, %d rows drifted, %d users fixed", res.Users, len(res.Drifted), res.Fixed)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", defaultBatchSize, "users audited per batch")
	cmd.Flags().BoolVar(&auditFix, "fix", false, "rewrite drifted rows from the account")
	return cmd
}

func printDrift(w io.Writer, drifted []statscache.IdentityDrift) {
	for _, d := range drifted {
		fmt.Fprintf(w, "user %d %s: %q -> %q\n", d.UserId, d.TimeRange, d.Cached, d.Account)
	}
}
