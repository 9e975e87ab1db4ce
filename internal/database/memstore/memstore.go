// Package memstore is an in-memory TypeRaceRepository for tests. Per-user
// transactions run against a copy of the data that replaces the live copy
// only on success.
package memstore

import (
	"context"
	"database/sql"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/npezzotti/go-typerace/internal/database"
	"github.com/npezzotti/go-typerace/internal/window"
)

type entryKey struct {
	userId int
	r      window.Range
}

type state struct {
	accounts    map[int]database.User
	lastAccount int
	subs        map[int64]database.Submission
	lastSub     int64
	stats       map[int]database.UserStats
	entries     map[entryKey]database.LeaderboardEntry
}

func (st *state) clone() *state {
	return &state{
		accounts:    maps.Clone(st.accounts),
		lastAccount: st.lastAccount,
		subs:        maps.Clone(st.subs),
		lastSub:     st.lastSub,
		stats:       maps.Clone(st.stats),
		entries:     maps.Clone(st.entries),
	}
}

type Store struct {
	mu        sync.Mutex
	data      *state
	failUsers map[int]error
}

var _ database.TypeRaceRepository = (*Store)(nil)

func New() *Store {
	return &Store{
		data: &state{
			accounts: make(map[int]database.User),
			subs:     make(map[int64]database.Submission),
			stats:    make(map[int]database.UserStats),
			entries:  make(map[entryKey]database.LeaderboardEntry),
		},
		failUsers: make(map[int]error),
	}
}

// FailUser makes every transaction for userId return err.
func (s *Store) FailUser(userId int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failUsers[userId] = err
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}

func (s *Store) InUserTx(ctx context.Context, userId int, fn func(q database.Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failUsers[userId]; err != nil {
		return err
	}

	tx := s.data.clone()
	if err := fn(tx); err != nil {
		return err
	}
	s.data = tx

	return nil
}

func (s *Store) locked(fn func(st *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.data)
}

func (s *Store) CreateAccount(ctx context.Context, p database.CreateAccountParams) (u database.User, err error) {
	s.locked(func(st *state) { u, err = st.CreateAccount(ctx, p) })
	return
}
func (s *Store) UpdateAccount(ctx context.Context, p database.UpdateAccountParams) (u database.User, err error) {
	s.locked(func(st *state) { u, err = st.UpdateAccount(ctx, p) })
	return
}
func (s *Store) GetAccountById(ctx context.Context, id int) (u database.User, err error) {
	s.locked(func(st *state) { u, err = st.GetAccountById(ctx, id) })
	return
}
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (u database.User, err error) {
	s.locked(func(st *state) { u, err = st.GetAccountByEmail(ctx, email) })
	return
}
func (s *Store) ListAccountIds(ctx context.Context, afterId, limit int) (ids []int, err error) {
	s.locked(func(st *state) { ids, err = st.ListAccountIds(ctx, afterId, limit) })
	return
}
func (s *Store) InsertSubmission(ctx context.Context, sub database.Submission) (id int64, err error) {
	s.locked(func(st *state) { id, err = st.InsertSubmission(ctx, sub) })
	return
}
func (s *Store) GetSubmission(ctx context.Context, id int64) (sub database.Submission, err error) {
	s.locked(func(st *state) { sub, err = st.GetSubmission(ctx, id) })
	return
}
func (s *Store) DeleteSubmission(ctx context.Context, id int64) (err error) {
	s.locked(func(st *state) { err = st.DeleteSubmission(ctx, id) })
	return
}
func (s *Store) SetSubmissionValidity(ctx context.Context, id int64, valid bool) (err error) {
	s.locked(func(st *state) { err = st.SetSubmissionValidity(ctx, id, valid) })
	return
}
func (s *Store) ListSubmissionsByUser(ctx context.Context, userId, limit int) (subs []database.Submission, err error) {
	s.locked(func(st *state) { subs, err = st.ListSubmissionsByUser(ctx, userId, limit) })
	return
}
func (s *Store) GetUserStats(ctx context.Context, userId int) (us database.UserStats, err error) {
	s.locked(func(st *state) { us, err = st.GetUserStats(ctx, userId) })
	return
}
func (s *Store) SaveUserStats(ctx context.Context, us database.UserStats) (err error) {
	s.locked(func(st *state) { err = st.SaveUserStats(ctx, us) })
	return
}
func (s *Store) DeleteUserStats(ctx context.Context, userId int) (err error) {
	s.locked(func(st *state) { err = st.DeleteUserStats(ctx, userId) })
	return
}
func (s *Store) GetLeaderboardEntry(ctx context.Context, userId int, r window.Range) (e database.LeaderboardEntry, err error) {
	s.locked(func(st *state) { e, err = st.GetLeaderboardEntry(ctx, userId, r) })
	return
}
func (s *Store) ListLeaderboardEntriesByUser(ctx context.Context, userId int) (es []database.LeaderboardEntry, err error) {
	s.locked(func(st *state) { es, err = st.ListLeaderboardEntriesByUser(ctx, userId) })
	return
}
func (s *Store) SaveLeaderboardEntry(ctx context.Context, e database.LeaderboardEntry) (err error) {
	s.locked(func(st *state) { err = st.SaveLeaderboardEntry(ctx, e) })
	return
}
func (s *Store) DeleteLeaderboardEntry(ctx context.Context, userId int, r window.Range) (err error) {
	s.locked(func(st *state) { err = st.DeleteLeaderboardEntry(ctx, userId, r) })
	return
}
func (s *Store) ListStaleLeaderboardEntries(ctx context.Context, r window.Range, cutoff int64) (es []database.LeaderboardEntry, err error) {
	s.locked(func(st *state) { es, err = st.ListStaleLeaderboardEntries(ctx, r, cutoff) })
	return
}
func (s *Store) TopLeaderboard(ctx context.Context, r window.Range, cutoff int64, limit int) (es []database.LeaderboardEntry, err error) {
	s.locked(func(st *state) { es, err = st.TopLeaderboard(ctx, r, cutoff, limit) })
	return
}
func (s *Store) UpdateLeaderboardIdentity(ctx context.Context, userId int, username, avatarUrl string, updatedAt int64) (err error) {
	s.locked(func(st *state) { err = st.UpdateLeaderboardIdentity(ctx, userId, username, avatarUrl, updatedAt) })
	return
}

func (st *state) CreateAccount(_ context.Context, p database.CreateAccountParams) (database.User, error) {
	st.lastAccount++
	now := time.Now().UTC()
	u := database.User{
		Id:           st.lastAccount,
		Username:     p.Username,
		EmailAddress: p.EmailAddress,
		PasswordHash: p.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	st.accounts[u.Id] = u
	return u, nil
}

func (st *state) UpdateAccount(_ context.Context, p database.UpdateAccountParams) (database.User, error) {
	u, ok := st.accounts[p.UserId]
	if !ok {
		return database.User{}, sql.ErrNoRows
	}
	u.Username = p.Username
	u.AvatarUrl = p.AvatarUrl
	if p.PasswordHash != "" {
		u.PasswordHash = p.PasswordHash
	}
	u.UpdatedAt = time.Now().UTC()
	st.accounts[u.Id] = u
	return u, nil
}

func (st *state) GetAccountById(_ context.Context, id int) (database.User, error) {
	u, ok := st.accounts[id]
	if !ok {
		return database.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (st *state) GetAccountByEmail(_ context.Context, email string) (database.User, error) {
	for _, u := range st.accounts {
		if u.EmailAddress == email {
			return u, nil
		}
	}
	return database.User{}, sql.ErrNoRows
}

func (st *state) ListAccountIds(_ context.Context, afterId, limit int) ([]int, error) {
	var ids []int
	for id := range st.accounts {
		if id > afterId {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (st *state) InsertSubmission(_ context.Context, sub database.Submission) (int64, error) {
	st.lastSub++
	sub.Id = st.lastSub
	st.subs[sub.Id] = sub
	return sub.Id, nil
}

func (st *state) GetSubmission(_ context.Context, id int64) (database.Submission, error) {
	sub, ok := st.subs[id]
	if !ok {
		return database.Submission{}, sql.ErrNoRows
	}
	return sub, nil
}

func (st *state) DeleteSubmission(_ context.Context, id int64) error {
	delete(st.subs, id)
	return nil
}

func (st *state) SetSubmissionValidity(_ context.Context, id int64, valid bool) error {
	sub, ok := st.subs[id]
	if !ok {
		return nil
	}
	sub.IsValid = &valid
	st.subs[id] = sub
	return nil
}

func (st *state) ListSubmissionsByUser(_ context.Context, userId, limit int) ([]database.Submission, error) {
	var subs []database.Submission
	for _, sub := range st.subs {
		if sub.UserId == userId {
			subs = append(subs, sub)
		}
	}
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].CreatedAt != subs[j].CreatedAt {
			return subs[i].CreatedAt > subs[j].CreatedAt
		}
		return subs[i].Id > subs[j].Id
	})
	if limit > 0 && len(subs) > limit {
		subs = subs[:limit]
	}
	return subs, nil
}

func (st *state) GetUserStats(_ context.Context, userId int) (database.UserStats, error) {
	us, ok := st.stats[userId]
	if !ok {
		return database.UserStats{}, sql.ErrNoRows
	}
	return us, nil
}

func (st *state) SaveUserStats(_ context.Context, us database.UserStats) error {
	st.stats[us.UserId] = us
	return nil
}

func (st *state) DeleteUserStats(_ context.Context, userId int) error {
	delete(st.stats, userId)
	return nil
}

func (st *state) GetLeaderboardEntry(_ context.Context, userId int, r window.Range) (database.LeaderboardEntry, error) {
	e, ok := st.entries[entryKey{userId, r}]
	if !ok {
		return database.LeaderboardEntry{}, sql.ErrNoRows
	}
	return e, nil
}

func (st *state) ListLeaderboardEntriesByUser(_ context.Context, userId int) ([]database.LeaderboardEntry, error) {
	var es []database.LeaderboardEntry
	for k, e := range st.entries {
		if k.userId == userId {
			es = append(es, e)
		}
	}
	sort.Slice(es, func(i, j int) bool { return es[i].TimeRange < es[j].TimeRange })
	return es, nil
}

func (st *state) SaveLeaderboardEntry(_ context.Context, e database.LeaderboardEntry) error {
	st.entries[entryKey{e.UserId, e.TimeRange}] = e
	return nil
}

func (st *state) DeleteLeaderboardEntry(_ context.Context, userId int, r window.Range) error {
	delete(st.entries, entryKey{userId, r})
	return nil
}

func (st *state) ListStaleLeaderboardEntries(_ context.Context, r window.Range, cutoff int64) ([]database.LeaderboardEntry, error) {
	var es []database.LeaderboardEntry
	for k, e := range st.entries {
		if k.r == r && e.BestWpmAt < cutoff {
			es = append(es, e)
		}
	}
	sort.Slice(es, func(i, j int) bool { return es[i].UserId < es[j].UserId })
	return es, nil
}

func (st *state) TopLeaderboard(_ context.Context, r window.Range, cutoff int64, limit int) ([]database.LeaderboardEntry, error) {
	var es []database.LeaderboardEntry
	for k, e := range st.entries {
		if k.r == r && e.BestWpmAt >= cutoff {
			es = append(es, e)
		}
	}
	sort.Slice(es, func(i, j int) bool {
		if es[i].BestWpm != es[j].BestWpm {
			return es[i].BestWpm > es[j].BestWpm
		}
		if es[i].BestWpmAt != es[j].BestWpmAt {
			return es[i].BestWpmAt < es[j].BestWpmAt
		}
		return es[i].UserId < es[j].UserId
	})
	if len(es) > limit {
		es = es[:limit]
	}
	return es, nil
}

func (st *state) UpdateLeaderboardIdentity(_ context.Context, userId int, username, avatarUrl string, updatedAt int64) error {
	for k, e := range st.entries {
		if k.userId == userId {
			e.Username = username
			e.AvatarUrl = avatarUrl
			e.UpdatedAt = updatedAt
			st.entries[k] = e
		}
	}
	return nil
}
