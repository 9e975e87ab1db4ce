package statscache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/npezzotti/go-typerace/internal/database"
	"github.com/npezzotti/go-typerace/internal/window"
)

type PruneResult struct {
	Deleted    int
	Recomputed int
	Failed     int
}

// Prune repairs today and week rows whose holder fell out of the window.
// A row is recomputed from the submissions still inside the window and
// deleted only when none qualify. All cutoffs come from one clock reading,
// and a failing row is logged and skipped.
func (c *Cache) Prune(ctx context.Context, repo database.TypeRaceRepository) (PruneResult, error) {
	var res PruneResult
	now := c.now()

	for _, r := range []window.Range{window.Today, window.Week} {
		cutoff := c.cutoff(now, r)

		stale, err := repo.ListStaleLeaderboardEntries(ctx, r, cutoff)
		if err != nil {
			c.log.Printf("list stale %s entries: %v", r, err)
			res.Failed++
			continue
		}

		for _, e := range stale {
			if err := ctx.Err(); err != nil {
				return res, err
			}

			var outcome repairOutcome
			err := repo.InUserTx(ctx, e.UserId, func(q database.Queries) error {
				cur, err := q.GetLeaderboardEntry(ctx, e.UserId, r)
				if errors.Is(err, sql.ErrNoRows) {
					return nil
				}
				if err != nil {
					return fmt.Errorf("get entry: %w", err)
				}
				// replaced by a newer score since it was listed
				if cur.BestWpmAt >= cutoff {
					return nil
				}

				outcome, err = c.recomputeEntry(ctx, q, cur, cutoff, now)
				return err
			})
			if err != nil {
				c.log.Printf("prune %s entry for user %d: %v", r, e.UserId, err)
				res.Failed++
				continue
			}

			switch outcome {
			case repairDeleted:
				res.Deleted++
			case repairReplaced:
				res.Recomputed++
			}
		}
	}

	c.log.Printf("pruned leaderboard: %d deleted, %d recomputed, %d failed", res.Deleted, res.Recomputed, res.Failed)
	return res, nil
}

type BackfillResult struct {
	Users  int
	Failed int
}

// Backfill rebuilds the caches of every account, batchSize accounts at a
// time, each in its own transaction. Users that fail are logged and
// skipped.
func (c *Cache) Backfill(ctx context.Context, repo database.TypeRaceRepository, batchSize int) (BackfillResult, error) {
	var res BackfillResult
	if batchSize <= 0 {
		batchSize = 50
	}

	afterId := 0
	for {
		ids, err := repo.ListAccountIds(ctx, afterId, batchSize)
		if err != nil {
			return res, fmt.Errorf("list accounts: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return res, err
			}

			err := repo.InUserTx(ctx, id, func(q database.Queries) error {
				return c.Rebuild(ctx, q, id)
			})
			if err != nil {
				c.log.Printf("backfill user %d: %v", id, err)
				res.Failed++
				continue
			}
			res.Users++
		}

		afterId = ids[len(ids)-1]
		c.log.Printf("backfilled %d users so far", res.Users)
	}

	return res, nil
}

// IdentityDrift is a leaderboard row whose denormalized identity no longer
// matches the account.
type IdentityDrift struct {
	UserId    int
	TimeRange window.Range
	Cached    string
	Account   string
}

type AuditResult struct {
	Users   int
	Drifted []IdentityDrift
	Fixed   int
}

func identity(username, avatarUrl string) string {
	return username + " <" + avatarUrl + ">"
}

// AuditIdentity compares every leaderboard row with its account. With fix
// unset nothing is written.
func (c *Cache) AuditIdentity(ctx context.Context, repo database.TypeRaceRepository, batchSize int, fix bool) (AuditResult, error) {
	var res AuditResult
	if batchSize <= 0 {
		batchSize = 50
	}

	afterId := 0
	for {
		ids, err := repo.ListAccountIds(ctx, afterId, batchSize)
		if err != nil {
			return res, fmt.Errorf("list accounts: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return res, err
			}

			u, err := repo.GetAccountById(ctx, id)
			if err != nil {
				return res, fmt.Errorf("get account %d: %w", id, err)
			}
			entries, err := repo.ListLeaderboardEntriesByUser(ctx, id)
			if err != nil {
				return res, fmt.Errorf("list leaderboard entries of %d: %w", id, err)
			}
			res.Users++

			want := identity(u.Username, u.AvatarUrl)
			drifted := false
			for _, e := range entries {
				if got := identity(e.Username, e.AvatarUrl); got != want {
					res.Drifted = append(res.Drifted, IdentityDrift{UserId: id, TimeRange: e.TimeRange, Cached: got, Account: want})
					drifted = true
				}
			}

			if !drifted || !fix {
				continue
			}
			err = repo.InUserTx(ctx, id, func(q database.Queries) error {
				return c.SyncIdentity(ctx, q, id, u.Username, u.AvatarUrl)
			})
			if err != nil {
				c.log.Printf("sync identity of user %d: %v", id, err)
				continue
			}
			res.Fixed++
		}

		afterId = ids[len(ids)-1]
	}

	return res, nil
}
