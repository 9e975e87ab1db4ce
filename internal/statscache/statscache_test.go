package statscache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/npezzotti/go-typerace/internal/database"
	"github.com/npezzotti/go-typerace/internal/database/memstore"
	"github.com/npezzotti/go-typerace/internal/testutil"
	"github.com/npezzotti/go-typerace/internal/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time { return c.t }

func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type testEnv struct {
	cache *Cache
	store *memstore.Store
	clock *testClock
	loc   *time.Location
}

func newTestEnv(t *testing.T) *testEnv {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	clock := &testClock{t: time.Date(2024, 6, 10, 15, 0, 0, 0, loc)}
	c := New(testutil.TestLogger(t), window.Cutoffs(loc))
	c.now = clock.Now

	return &testEnv{cache: c, store: memstore.New(), clock: clock, loc: loc}
}

func (env *testEnv) account(t *testing.T, name string) database.User {
	u, err := env.store.CreateAccount(context.Background(), database.CreateAccountParams{
		Username:     name,
		EmailAddress: name + "@example.com",
	})
	require.NoError(t, err)
	return u
}

func (env *testEnv) insert(t *testing.T, s database.Submission) database.Submission {
	ctx := context.Background()
	err := env.store.InUserTx(ctx, s.UserId, func(q database.Queries) error {
		id, err := q.InsertSubmission(ctx, s)
		if err != nil {
			return err
		}
		s.Id = id
		return env.cache.ApplyInsert(ctx, q, s)
	})
	require.NoError(t, err)
	return s
}

func (env *testEnv) remove(t *testing.T, userId int, id int64) {
	ctx := context.Background()
	err := env.store.InUserTx(ctx, userId, func(q database.Queries) error {
		s, err := q.GetSubmission(ctx, id)
		if err != nil {
			return err
		}
		if err := q.DeleteSubmission(ctx, id); err != nil {
			return err
		}
		return env.cache.ApplyDelete(ctx, q, s)
	})
	require.NoError(t, err)
}

func (env *testEnv) ago(d time.Duration) int64 {
	return env.clock.t.Add(-d).UnixMilli()
}

func (env *testEnv) entries(t *testing.T, userId int) map[window.Range]database.LeaderboardEntry {
	es, err := env.store.ListLeaderboardEntriesByUser(context.Background(), userId)
	require.NoError(t, err)

	m := make(map[window.Range]database.LeaderboardEntry, len(es))
	for _, e := range es {
		e.UpdatedAt = 0
		m[e.TimeRange] = e
	}
	return m
}

func (env *testEnv) stats(t *testing.T, userId int) (database.UserStats, bool) {
	us, err := env.store.GetUserStats(context.Background(), userId)
	if errors.Is(err, sql.ErrNoRows) {
		return database.UserStats{}, false
	}
	require.NoError(t, err)
	us.UpdatedAt = 0
	return us, true
}

func TestInsertThenDelete_SingleRecord(t *testing.T) {
	env := newTestEnv(t)
	u := env.account(t, "racer")

	created := env.ago(time.Hour)
	s := env.insert(t, database.Submission{UserId: u.Id, Wpm: 120, Accuracy: 96, Duration: 30, WordCount: 60, CreatedAt: created})

	entries := env.entries(t, u.Id)
	require.Len(t, entries, 3)
	for _, r := range window.Ranges {
		assert.Equal(t, 120.0, entries[r].BestWpm, "range %s", r)
		assert.Equal(t, created, entries[r].BestWpmAt, "range %s", r)
		assert.Equal(t, "racer", entries[r].Username)
	}

	us, ok := env.stats(t, u.Id)
	require.True(t, ok)
	assert.Equal(t, database.UserStats{
		UserId:             u.Id,
		TotalTests:         1,
		TotalWpmCenti:      12000,
		BestWpm:            120,
		TotalAccuracyCenti: 9600,
		TotalTimeTyped:     30,
		TotalWordsTyped:    60,
	}, us)

	env.remove(t, u.Id, s.Id)

	assert.Empty(t, env.entries(t, u.Id))
	_, ok = env.stats(t, u.Id)
	assert.False(t, ok, "stats row should be removed with the last valid submission")
}

func TestInsert_InvalidAndLowAccuracy(t *testing.T) {
	env := newTestEnv(t)
	u := env.account(t, "racer")
	invalid := false

	env.insert(t, database.Submission{UserId: u.Id, Wpm: 250, Accuracy: 99, CreatedAt: env.ago(time.Hour), IsValid: &invalid})
	_, ok := env.stats(t, u.Id)
	assert.False(t, ok, "invalid submissions never touch the cache")
	assert.Empty(t, env.entries(t, u.Id))

	env.insert(t, database.Submission{UserId: u.Id, Wpm: 90, Accuracy: 85, CreatedAt: env.ago(time.Hour)})
	us, ok := env.stats(t, u.Id)
	require.True(t, ok)
	assert.Equal(t, 1, us.TotalTests)
	assert.Empty(t, env.entries(t, u.Id), "accuracy below 90 is not ranked")
}

func TestInsert_OutsideWindow(t *testing.T) {
	env := newTestEnv(t)
	u := env.account(t, "racer")

	env.insert(t, database.Submission{UserId: u.Id, Wpm: 100, Accuracy: 95, CreatedAt: env.ago(3 * 24 * time.Hour)})

	entries := env.entries(t, u.Id)
	assert.Contains(t, entries, window.AllTime)
	assert.Contains(t, entries, window.Week)
	assert.NotContains(t, entries, window.Today)
}

func TestTieBreak_EarlierHolderWins(t *testing.T) {
	for _, order := range []string{"earlier first", "later first"} {
		t.Run(order, func(t *testing.T) {
			env := newTestEnv(t)
			u := env.account(t, "racer")

			earlier := database.Submission{UserId: u.Id, Wpm: 100, Accuracy: 95, CreatedAt: env.ago(2 * time.Hour)}
			later := database.Submission{UserId: u.Id, Wpm: 100, Accuracy: 97, CreatedAt: env.ago(time.Hour)}

			if order == "earlier first" {
				env.insert(t, earlier)
				env.insert(t, later)
			} else {
				env.insert(t, later)
				env.insert(t, earlier)
			}

			for r, e := range env.entries(t, u.Id) {
				assert.Equal(t, earlier.CreatedAt, e.BestWpmAt, "range %s", r)
			}
		})
	}
}

func TestDelete_RecomputesBest(t *testing.T) {
	env := newTestEnv(t)
	u := env.account(t, "racer")

	env.insert(t, database.Submission{UserId: u.Id, Wpm: 80, Accuracy: 95, CreatedAt: env.ago(3 * 24 * time.Hour)})
	env.insert(t, database.Submission{UserId: u.Id, Wpm: 95, Accuracy: 85, CreatedAt: env.ago(2 * time.Hour)})
	best := env.insert(t, database.Submission{UserId: u.Id, Wpm: 110, Accuracy: 92, CreatedAt: env.ago(time.Hour)})

	env.remove(t, u.Id, best.Id)

	us, ok := env.stats(t, u.Id)
	require.True(t, ok)
	assert.Equal(t, 2, us.TotalTests)
	assert.Equal(t, 95.0, us.BestWpm, "stats best ignores accuracy")

	entries := env.entries(t, u.Id)
	assert.Equal(t, 80.0, entries[window.AllTime].BestWpm)
	assert.Equal(t, 80.0, entries[window.Week].BestWpm)
	assert.NotContains(t, entries, window.Today, "nothing eligible left today")
}

func TestDelete_NonHolderKeepsEntries(t *testing.T) {
	env := newTestEnv(t)
	u := env.account(t, "racer")

	env.insert(t, database.Submission{UserId: u.Id, Wpm: 110, Accuracy: 92, CreatedAt: env.ago(2 * time.Hour)})
	other := env.insert(t, database.Submission{UserId: u.Id, Wpm: 70, Accuracy: 92, CreatedAt: env.ago(time.Hour)})
	before := env.entries(t, u.Id)

	env.remove(t, u.Id, other.Id)

	assert.Equal(t, before, env.entries(t, u.Id))
}

func TestInsert_StaleHolderIsRecomputed(t *testing.T) {
	env := newTestEnv(t)
	u := env.account(t, "racer")

	env.insert(t, database.Submission{UserId: u.Id, Wpm: 150, Accuracy: 95, CreatedAt: env.ago(time.Hour)})
	env.clock.advance(5 * 24 * time.Hour)
	env.insert(t, database.Submission{UserId: u.Id, Wpm: 100, Accuracy: 95, CreatedAt: env.ago(time.Hour)})
	env.clock.advance(3 * 24 * time.Hour)

	// the 150 holder is now older than the week window; 100 is still inside
	env.insert(t, database.Submission{UserId: u.Id, Wpm: 90, Accuracy: 95, CreatedAt: env.ago(time.Hour)})

	entries := env.entries(t, u.Id)
	assert.Equal(t, 150.0, entries[window.AllTime].BestWpm)
	assert.Equal(t, 100.0, entries[window.Week].BestWpm)
	assert.Equal(t, 90.0, entries[window.Today].BestWpm)
}

func TestPrune(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u1 := env.account(t, "one")
	u2 := env.account(t, "two")

	env.insert(t, database.Submission{UserId: u1.Id, Wpm: 90, Accuracy: 95, CreatedAt: env.ago(time.Hour)})
	env.insert(t, database.Submission{UserId: u2.Id, Wpm: 150, Accuracy: 95, CreatedAt: env.ago(time.Hour)})
	env.clock.advance(5 * 24 * time.Hour)
	env.insert(t, database.Submission{UserId: u2.Id, Wpm: 100, Accuracy: 95, CreatedAt: env.ago(time.Hour)})
	env.clock.advance(3 * 24 * time.Hour)

	res, err := env.cache.Prune(ctx, env.store)
	require.NoError(t, err)
	assert.Equal(t, PruneResult{Deleted: 3, Recomputed: 1}, res)

	e1 := env.entries(t, u1.Id)
	assert.Len(t, e1, 1)
	assert.Contains(t, e1, window.AllTime)

	e2 := env.entries(t, u2.Id)
	assert.Equal(t, 150.0, e2[window.AllTime].BestWpm)
	assert.Equal(t, 100.0, e2[window.Week].BestWpm, "other scores inside the week survive the prune")
	assert.NotContains(t, e2, window.Today)

	// idempotent
	res, err = env.cache.Prune(ctx, env.store)
	require.NoError(t, err)
	assert.Equal(t, PruneResult{}, res)
	assert.Equal(t, e1, env.entries(t, u1.Id))
	assert.Equal(t, e2, env.entries(t, u2.Id))
}

func TestPrune_ContinuesPastFailures(t *testing.T) {
	env := newTestEnv(t)
	u1 := env.account(t, "one")
	u2 := env.account(t, "two")

	env.insert(t, database.Submission{UserId: u1.Id, Wpm: 90, Accuracy: 95, CreatedAt: env.ago(time.Hour)})
	env.insert(t, database.Submission{UserId: u2.Id, Wpm: 90, Accuracy: 95, CreatedAt: env.ago(time.Hour)})
	env.clock.advance(2 * 24 * time.Hour)

	env.store.FailUser(u1.Id, assert.AnError)

	res, err := env.cache.Prune(context.Background(), env.store)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Deleted)
	assert.NotContains(t, env.entries(t, u2.Id), window.Today)
}

func TestLeaderboard_HidesStaleRows(t *testing.T) {
	env := newTestEnv(t)
	u := env.account(t, "racer")

	env.insert(t, database.Submission{UserId: u.Id, Wpm: 90, Accuracy: 95, CreatedAt: env.ago(time.Hour)})
	env.clock.advance(24 * time.Hour)

	today, err := env.cache.Leaderboard(context.Background(), env.store, window.Today, 10)
	require.NoError(t, err)
	assert.Empty(t, today)

	week, err := env.cache.Leaderboard(context.Background(), env.store, window.Week, 10)
	require.NoError(t, err)
	assert.Len(t, week, 1)
}

func TestSyncIdentity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.account(t, "racer")
	env.insert(t, database.Submission{UserId: u.Id, Wpm: 90, Accuracy: 95, CreatedAt: env.ago(time.Hour)})

	require.NoError(t, env.cache.SyncIdentity(ctx, env.store, u.Id, "speedy", "https://example.com/a.png"))

	for r, e := range env.entries(t, u.Id) {
		assert.Equal(t, "speedy", e.Username, "range %s", r)
		assert.Equal(t, "https://example.com/a.png", e.AvatarUrl, "range %s", r)
	}
}

func TestBackfill(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var users []database.User
	for i := range 3 {
		u := env.account(t, fmt.Sprintf("racer%d", i))
		env.insert(t, database.Submission{UserId: u.Id, Wpm: float64(80 + i), Accuracy: 95, CreatedAt: env.ago(time.Hour)})
		users = append(users, u)
	}

	want := make(map[int]database.UserStats)
	for _, u := range users {
		us, _ := env.stats(t, u.Id)
		want[u.Id] = us
		require.NoError(t, env.store.DeleteUserStats(ctx, u.Id))
		require.NoError(t, env.store.DeleteLeaderboardEntry(ctx, u.Id, window.AllTime))
	}

	res, err := env.cache.Backfill(ctx, env.store, 1)
	require.NoError(t, err)
	assert.Equal(t, BackfillResult{Users: 3}, res)

	for _, u := range users {
		us, ok := env.stats(t, u.Id)
		require.True(t, ok)
		assert.Equal(t, want[u.Id], us)
		assert.Len(t, env.entries(t, u.Id), 3)
	}
}

func TestAuditIdentity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	steady := env.account(t, "steady")
	renamed := env.account(t, "racer")
	for _, u := range []database.User{steady, renamed} {
		env.insert(t, database.Submission{UserId: u.Id, Wpm: 90, Accuracy: 95, CreatedAt: env.ago(time.Hour)})
	}

	// renamed without going through SyncIdentity
	_, err := env.store.UpdateAccount(ctx, database.UpdateAccountParams{UserId: renamed.Id, Username: "speedy"})
	require.NoError(t, err)

	res, err := env.cache.AuditIdentity(ctx, env.store, 1, false)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Users)
	assert.Zero(t, res.Fixed)
	require.Len(t, res.Drifted, 3)
	for _, d := range res.Drifted {
		assert.Equal(t, renamed.Id, d.UserId)
		assert.Equal(t, "racer <>", d.Cached)
		assert.Equal(t, "speedy <>", d.Account)
	}
	for _, e := range env.entries(t, renamed.Id) {
		assert.Equal(t, "racer", e.Username, "a dry run writes nothing")
	}

	res, err = env.cache.AuditIdentity(ctx, env.store, 10, true)
	require.NoError(t, err)
	assert.Len(t, res.Drifted, 3)
	assert.Equal(t, 1, res.Fixed)
	for _, e := range env.entries(t, renamed.Id) {
		assert.Equal(t, "speedy", e.Username)
	}

	res, err = env.cache.AuditIdentity(ctx, env.store, 10, false)
	require.NoError(t, err)
	assert.Empty(t, res.Drifted)
}

func TestSummarize(t *testing.T) {
	s := Summarize(database.UserStats{
		TotalTests:         3,
		TotalWpmCenti:      30050,
		BestWpm:            120,
		TotalAccuracyCenti: 28500,
		TotalWordsTyped:    142,
	})
	assert.Equal(t, 100.17, s.AverageWpm)
	assert.Equal(t, 95.0, s.AverageAccuracy)
	assert.Equal(t, 120.0, s.BestWpm)
	assert.Equal(t, int64(142), s.TotalWordsTyped)
	assert.Equal(t, int64(710), s.TotalCharactersTyped)

	assert.Equal(t, Summary{}, Summarize(database.UserStats{}))
}

// expectedEntry brute forces the leaderboard row for r.
func expectedEntry(subs []database.Submission, cutoff int64) (database.Submission, bool) {
	var (
		best  database.Submission
		found bool
	)
	for _, s := range subs {
		if !s.Valid() || s.Accuracy < MinLeaderboardAccuracy || s.CreatedAt < cutoff {
			continue
		}
		if !found || s.Wpm > best.Wpm || (s.Wpm == best.Wpm && s.CreatedAt < best.CreatedAt) {
			best, found = s, true
		}
	}
	return best, found
}

func TestRandomHistories_IncrementalMatchesRebuild(t *testing.T) {
	for seed := int64(1); seed <= 25; seed++ {
		t.Run(fmt.Sprintf("seed %d", seed), func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			rng := rand.New(rand.NewSource(seed))
			u := env.account(t, "racer")

			var live []int64
			for range 60 {
				if len(live) > 0 && rng.Intn(100) < 35 {
					i := rng.Intn(len(live))
					env.remove(t, u.Id, live[i])
					live = append(live[:i], live[i+1:]...)
					continue
				}

				s := database.Submission{
					UserId:    u.Id,
					Wpm:       float64(40+rng.Intn(20)) + float64(rng.Intn(2))*0.5,
					Accuracy:  float64(8000+rng.Intn(2001)) / 100,
					Duration:  []int{15, 30, 60}[rng.Intn(3)],
					WordCount: 10 + rng.Intn(90),
					CreatedAt: env.ago(time.Duration(rng.Int63n(int64(10 * 24 * time.Hour)))),
				}
				if rng.Intn(100) < 15 {
					invalid := false
					s.IsValid = &invalid
				}
				live = append(live, env.insert(t, s).Id)
			}

			incStats, incOk := env.stats(t, u.Id)
			incEntries := env.entries(t, u.Id)

			subs, err := env.store.ListSubmissionsByUser(ctx, u.Id, 0)
			require.NoError(t, err)
			cutoff := window.Cutoffs(env.loc)
			for _, r := range window.Ranges {
				want, ok := expectedEntry(subs, cutoff(env.clock.t, r))
				got, present := incEntries[r]
				require.Equal(t, ok, present, "range %s presence", r)
				if ok {
					assert.Equal(t, want.Wpm, got.BestWpm, "range %s wpm", r)
					assert.Equal(t, want.CreatedAt, got.BestWpmAt, "range %s holder", r)
				}
			}

			require.NoError(t, env.store.InUserTx(ctx, u.Id, func(q database.Queries) error {
				return env.cache.Rebuild(ctx, q, u.Id)
			}))

			rebuiltStats, rebuiltOk := env.stats(t, u.Id)
			assert.Equal(t, incOk, rebuiltOk)
			assert.Equal(t, incStats, rebuiltStats)
			assert.Equal(t, incEntries, env.entries(t, u.Id))
		})
	}
}
