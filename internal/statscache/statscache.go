// Package statscache keeps the per-user stats row and the windowed
// leaderboard rows in step with the submissions table.
//
// Every mutating method takes the database.Queries of the caller's per-user
// transaction; the cache never opens transactions of its own except while
// pruning.
package statscache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/npezzotti/go-typerace/internal/database"
	"github.com/npezzotti/go-typerace/internal/window"
	"github.com/samber/lo"
)

// MinLeaderboardAccuracy is the accuracy a submission needs to be ranked.
const MinLeaderboardAccuracy = 90

type Cache struct {
	log    *log.Logger
	best   BestFinder
	cutoff window.CutoffFunc
	now    func() time.Time
}

func New(logger *log.Logger, cutoff window.CutoffFunc) *Cache {
	return &Cache{
		log:    logger,
		best:   ScanBestFinder{},
		cutoff: cutoff,
		now:    time.Now,
	}
}

// WithBestFinder swaps the strategy used to recompute a best score.
func (c *Cache) WithBestFinder(bf BestFinder) *Cache {
	c.best = bf
	return c
}

func centi(v float64) int64 {
	return int64(math.Round(v * 100))
}

func leaderboardEligible(s database.Submission) bool {
	return s.Valid() && s.Accuracy >= MinLeaderboardAccuracy
}

// beats reports whether a should hold a record over the holder (wpm, at).
// Ties go to the earlier submission no matter which was inserted first.
func beats(a database.Submission, wpm float64, at int64) bool {
	return a.Wpm > wpm || (a.Wpm == wpm && a.CreatedAt < at)
}

func addContribution(us database.UserStats, s database.Submission) database.UserStats {
	us.TotalTests++
	us.TotalWpmCenti += centi(s.Wpm)
	us.TotalAccuracyCenti += centi(s.Accuracy)
	us.TotalTimeTyped += int64(s.Duration)
	us.TotalWordsTyped += int64(s.WordCount)
	us.BestWpm = max(us.BestWpm, s.Wpm)
	return us
}

func removeContribution(us database.UserStats, s database.Submission) database.UserStats {
	us.TotalTests--
	us.TotalWpmCenti -= centi(s.Wpm)
	us.TotalAccuracyCenti -= centi(s.Accuracy)
	us.TotalTimeTyped -= int64(s.Duration)
	us.TotalWordsTyped -= int64(s.WordCount)
	return us
}

func newEntry(u database.User, r window.Range, s database.Submission, now int64) database.LeaderboardEntry {
	return database.LeaderboardEntry{
		UserId:    u.Id,
		TimeRange: r,
		BestWpm:   s.Wpm,
		BestWpmAt: s.CreatedAt,
		Username:  u.Username,
		AvatarUrl: u.AvatarUrl,
		UpdatedAt: now,
	}
}

// ApplyInsert folds a newly stored submission into both caches. Invalid
// submissions are ignored.
func (c *Cache) ApplyInsert(ctx context.Context, q database.Queries, s database.Submission) error {
	if !s.Valid() {
		return nil
	}

	now := c.now()
	us, err := q.GetUserStats(ctx, s.UserId)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("get user stats: %w", err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		us = database.UserStats{UserId: s.UserId}
	}

	us = addContribution(us, s)
	us.UpdatedAt = now.UnixMilli()
	if err := q.SaveUserStats(ctx, us); err != nil {
		return fmt.Errorf("save user stats: %w", err)
	}

	if !leaderboardEligible(s) {
		return nil
	}

	u, err := q.GetAccountById(ctx, s.UserId)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}

	for _, r := range window.Ranges {
		cutoff := c.cutoff(now, r)
		if s.CreatedAt < cutoff {
			continue
		}

		e, err := q.GetLeaderboardEntry(ctx, s.UserId, r)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("get %s leaderboard entry: %w", r, err)
		case e.BestWpmAt < cutoff:
			// the holder aged out before the pruner got to it; other
			// submissions inside the window may outrank s
			if _, err := c.recomputeEntry(ctx, q, e, cutoff, now); err != nil {
				return err
			}
			continue
		case !beats(s, e.BestWpm, e.BestWpmAt):
			continue
		}

		if err := q.SaveLeaderboardEntry(ctx, newEntry(u, r, s, now.UnixMilli())); err != nil {
			return fmt.Errorf("save %s leaderboard entry: %w", r, err)
		}
	}

	return nil
}

// ApplyDelete reverts a submission that has already been removed from the
// submissions table, or already marked invalid there. s must carry the
// validity it had while it was counted.
func (c *Cache) ApplyDelete(ctx context.Context, q database.Queries, s database.Submission) error {
	if !s.Valid() {
		return nil
	}

	now := c.now()
	us, err := q.GetUserStats(ctx, s.UserId)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		c.log.Printf("no stats row for user %d while removing submission %d", s.UserId, s.Id)
	case err != nil:
		return fmt.Errorf("get user stats: %w", err)
	default:
		if err := c.decrementStats(ctx, q, us, s, now); err != nil {
			return err
		}
	}

	for _, r := range window.Ranges {
		e, err := q.GetLeaderboardEntry(ctx, s.UserId, r)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return fmt.Errorf("get %s leaderboard entry: %w", r, err)
		}

		if e.BestWpm != s.Wpm || e.BestWpmAt != s.CreatedAt {
			continue
		}

		if _, err := c.recomputeEntry(ctx, q, e, c.cutoff(now, r), now); err != nil {
			return err
		}
	}

	return nil
}

func (c *Cache) decrementStats(ctx context.Context, q database.Queries, us database.UserStats, s database.Submission, now time.Time) error {
	us = removeContribution(us, s)
	if us.TotalTests <= 0 {
		if err := q.DeleteUserStats(ctx, s.UserId); err != nil {
			return fmt.Errorf("delete user stats: %w", err)
		}
		return nil
	}

	if s.Wpm == us.BestWpm {
		best, ok, err := c.best.Best(ctx, q, s.UserId, Criteria{})
		if err != nil {
			return fmt.Errorf("recompute best wpm: %w", err)
		}
		us.BestWpm = 0
		if ok {
			us.BestWpm = best.Wpm
		}
	}

	us.UpdatedAt = now.UnixMilli()
	if err := q.SaveUserStats(ctx, us); err != nil {
		return fmt.Errorf("save user stats: %w", err)
	}

	return nil
}

type repairOutcome int

const (
	repairKept repairOutcome = iota
	repairReplaced
	repairDeleted
)

// recomputeEntry replaces e with the best eligible submission created at or
// after cutoff, or deletes it when there is none.
func (c *Cache) recomputeEntry(ctx context.Context, q database.Queries, e database.LeaderboardEntry, cutoff int64, now time.Time) (repairOutcome, error) {
	best, ok, err := c.best.Best(ctx, q, e.UserId, Criteria{
		Since:       cutoff,
		MinAccuracy: MinLeaderboardAccuracy,
	})
	if err != nil {
		return repairKept, fmt.Errorf("recompute %s best: %w", e.TimeRange, err)
	}

	if !ok {
		if err := q.DeleteLeaderboardEntry(ctx, e.UserId, e.TimeRange); err != nil {
			return repairKept, fmt.Errorf("delete %s leaderboard entry: %w", e.TimeRange, err)
		}
		return repairDeleted, nil
	}

	e.BestWpm = best.Wpm
	e.BestWpmAt = best.CreatedAt
	e.UpdatedAt = now.UnixMilli()
	if err := q.SaveLeaderboardEntry(ctx, e); err != nil {
		return repairKept, fmt.Errorf("save %s leaderboard entry: %w", e.TimeRange, err)
	}

	return repairReplaced, nil
}

// Rebuild recomputes both caches for userId from the stored submissions
// using the same rules as the incremental path.
func (c *Cache) Rebuild(ctx context.Context, q database.Queries, userId int) error {
	subs, err := q.ListSubmissionsByUser(ctx, userId, 0)
	if err != nil {
		return err
	}

	now := c.now()
	valid := lo.Filter(subs, func(s database.Submission, _ int) bool { return s.Valid() })
	if len(valid) == 0 {
		if err := q.DeleteUserStats(ctx, userId); err != nil {
			return fmt.Errorf("delete user stats: %w", err)
		}
	} else {
		us := lo.Reduce(valid, func(acc database.UserStats, s database.Submission, _ int) database.UserStats {
			return addContribution(acc, s)
		}, database.UserStats{UserId: userId})
		us.UpdatedAt = now.UnixMilli()
		if err := q.SaveUserStats(ctx, us); err != nil {
			return fmt.Errorf("save user stats: %w", err)
		}
	}

	u, err := q.GetAccountById(ctx, userId)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}

	for _, r := range window.Ranges {
		best, ok := pickBest(subs, Criteria{Since: c.cutoff(now, r), MinAccuracy: MinLeaderboardAccuracy})
		if !ok {
			if err := q.DeleteLeaderboardEntry(ctx, userId, r); err != nil {
				return fmt.Errorf("delete %s leaderboard entry: %w", r, err)
			}
			continue
		}

		if err := q.SaveLeaderboardEntry(ctx, newEntry(u, r, best, now.UnixMilli())); err != nil {
			return fmt.Errorf("save %s leaderboard entry: %w", r, err)
		}
	}

	return nil
}

// SyncIdentity copies a changed username or avatar onto every leaderboard
// row of the user.
func (c *Cache) SyncIdentity(ctx context.Context, q database.Queries, userId int, username, avatarUrl string) error {
	if err := q.UpdateLeaderboardIdentity(ctx, userId, username, avatarUrl, c.now().UnixMilli()); err != nil {
		return fmt.Errorf("sync leaderboard identity: %w", err)
	}
	return nil
}

// Leaderboard returns the top entries of r that are still inside the
// window, so rows waiting for the next prune never show up.
func (c *Cache) Leaderboard(ctx context.Context, q database.Queries, r window.Range, limit int) ([]database.LeaderboardEntry, error) {
	return q.TopLeaderboard(ctx, r, c.cutoff(c.now(), r), limit)
}

// charsPerWord is the standard word length used to compute WPM.
const charsPerWord = 5

type Summary struct {
	TotalTests           int     `json:"total_tests"`
	AverageWpm           float64 `json:"average_wpm"`
	BestWpm              float64 `json:"best_wpm"`
	AverageAccuracy      float64 `json:"average_accuracy"`
	TotalTimeTyped       int64   `json:"total_time_typed"`
	TotalWordsTyped      int64   `json:"total_words_typed"`
	TotalCharactersTyped int64   `json:"total_characters_typed"`
}

func Summarize(us database.UserStats) Summary {
	s := Summary{
		TotalTests:           us.TotalTests,
		BestWpm:              us.BestWpm,
		TotalTimeTyped:       us.TotalTimeTyped,
		TotalWordsTyped:      us.TotalWordsTyped,
		TotalCharactersTyped: us.TotalWordsTyped * charsPerWord,
	}
	if us.TotalTests > 0 {
		n := float64(us.TotalTests)
		s.AverageWpm = math.Round(float64(us.TotalWpmCenti)/n) / 100
		s.AverageAccuracy = math.Round(float64(us.TotalAccuracyCenti)/n) / 100
	}
	return s
}
