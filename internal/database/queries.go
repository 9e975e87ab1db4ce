package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/npezzotti/go-typerace/internal/window"
)

const (
	accountColumns     = "id, username, email, password_hash, avatar_url, created_at, updated_at"
	submissionColumns  = "id, user_id, wpm, accuracy, mode, duration, word_count, difficulty, punctuation, numbers, capitalization, words_correct, words_incorrect, chars_missed, chars_extra, created_at, is_valid"
	userStatsColumns   = "user_id, total_tests, total_wpm_centi, best_wpm, total_accuracy_centi, total_time_typed, total_words_typed, updated_at"
	leaderboardColumns = "user_id, time_range, best_wpm, best_wpm_at, username, avatar_url, updated_at"
)

// queries runs every statement through ext, which is either the pool or a
// transaction. Statements are written with ? placeholders and rebound for
// the active driver.
type queries struct {
	ext sqlx.ExtContext
}

func (q *queries) get(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.GetContext(ctx, q.ext, dest, q.ext.Rebind(query), args...)
}

func (q *queries) selectAll(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, q.ext, dest, q.ext.Rebind(query), args...)
}

func (q *queries) exec(ctx context.Context, query string, args ...any) error {
	_, err := q.ext.ExecContext(ctx, q.ext.Rebind(query), args...)
	return err
}

func (q *queries) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	now := time.Now().UTC()

	var u User
	err := q.get(ctx, &u,
		"INSERT INTO accounts (username, email, password_hash, created_at, updated_at) "+
			"VALUES (?, ?, ?, ?, ?) RETURNING "+accountColumns,
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		now,
		now,
	)

	return u, err
}

func (q *queries) UpdateAccount(ctx context.Context, params UpdateAccountParams) (User, error) {
	var u User
	err := q.get(ctx, &u,
		"UPDATE accounts SET username = ?, avatar_url = ?, "+
			"password_hash = CASE WHEN ? = '' THEN password_hash ELSE ? END, updated_at = ? "+
			"WHERE id = ? RETURNING "+accountColumns,
		params.Username,
		params.AvatarUrl,
		params.PasswordHash,
		params.PasswordHash,
		time.Now().UTC(),
		params.UserId,
	)

	return u, err
}

func (q *queries) GetAccountById(ctx context.Context, id int) (User, error) {
	var u User
	err := q.get(ctx, &u, "SELECT "+accountColumns+" FROM accounts WHERE id = ? LIMIT 1", id)
	return u, err
}

func (q *queries) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := q.get(ctx, &u, "SELECT "+accountColumns+" FROM accounts WHERE email = ? LIMIT 1", email)
	return u, err
}

func (q *queries) ListAccountIds(ctx context.Context, afterId, limit int) ([]int, error) {
	var ids []int
	err := q.selectAll(ctx, &ids, "SELECT id FROM accounts WHERE id > ? ORDER BY id LIMIT ?", afterId, limit)
	return ids, err
}

func (q *queries) InsertSubmission(ctx context.Context, s Submission) (int64, error) {
	var id int64
	err := q.get(ctx, &id,
		"INSERT INTO test_results (user_id, wpm, accuracy, mode, duration, word_count, difficulty, "+
			"punctuation, numbers, capitalization, words_correct, words_incorrect, chars_missed, chars_extra, "+
			"created_at, is_valid) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id",
		s.UserId, s.Wpm, s.Accuracy, s.Mode, s.Duration, s.WordCount, s.Difficulty,
		s.Punctuation, s.Numbers, s.Capitalization, s.WordsCorrect, s.WordsIncorrect, s.CharsMissed, s.CharsExtra,
		s.CreatedAt, s.IsValid,
	)
	if err != nil {
		return 0, fmt.Errorf("insert submission: %w", err)
	}

	return id, nil
}

func (q *queries) GetSubmission(ctx context.Context, id int64) (Submission, error) {
	var s Submission
	err := q.get(ctx, &s, "SELECT "+submissionColumns+" FROM test_results WHERE id = ?", id)
	return s, err
}

func (q *queries) DeleteSubmission(ctx context.Context, id int64) error {
	return q.exec(ctx, "DELETE FROM test_results WHERE id = ?", id)
}

func (q *queries) SetSubmissionValidity(ctx context.Context, id int64, valid bool) error {
	return q.exec(ctx, "UPDATE test_results SET is_valid = ? WHERE id = ?", valid, id)
}

// ListSubmissionsByUser returns newest first. A limit of zero returns every
// row.
func (q *queries) ListSubmissionsByUser(ctx context.Context, userId, limit int) ([]Submission, error) {
	query := "SELECT " + submissionColumns + " FROM test_results WHERE user_id = ? ORDER BY created_at DESC, id DESC"
	args := []any{userId}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var subs []Submission
	if err := q.selectAll(ctx, &subs, query, args...); err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}

	return subs, nil
}

func (q *queries) GetUserStats(ctx context.Context, userId int) (UserStats, error) {
	var s UserStats
	err := q.get(ctx, &s, "SELECT "+userStatsColumns+" FROM user_stats_cache WHERE user_id = ?", userId)
	return s, err
}

func (q *queries) SaveUserStats(ctx context.Context, s UserStats) error {
	return q.exec(ctx,
		"INSERT INTO user_stats_cache ("+userStatsColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?) "+
			"ON CONFLICT (user_id) DO UPDATE SET total_tests = excluded.total_tests, "+
			"total_wpm_centi = excluded.total_wpm_centi, best_wpm = excluded.best_wpm, "+
			"total_accuracy_centi = excluded.total_accuracy_centi, total_time_typed = excluded.total_time_typed, "+
			"total_words_typed = excluded.total_words_typed, updated_at = excluded.updated_at",
		s.UserId, s.TotalTests, s.TotalWpmCenti, s.BestWpm, s.TotalAccuracyCenti,
		s.TotalTimeTyped, s.TotalWordsTyped, s.UpdatedAt,
	)
}

func (q *queries) DeleteUserStats(ctx context.Context, userId int) error {
	return q.exec(ctx, "DELETE FROM user_stats_cache WHERE user_id = ?", userId)
}

func (q *queries) GetLeaderboardEntry(ctx context.Context, userId int, r window.Range) (LeaderboardEntry, error) {
	var e LeaderboardEntry
	err := q.get(ctx, &e,
		"SELECT "+leaderboardColumns+" FROM leaderboard_cache WHERE user_id = ? AND time_range = ?",
		userId, r,
	)
	return e, err
}

func (q *queries) ListLeaderboardEntriesByUser(ctx context.Context, userId int) ([]LeaderboardEntry, error) {
	var entries []LeaderboardEntry
	err := q.selectAll(ctx, &entries,
		"SELECT "+leaderboardColumns+" FROM leaderboard_cache WHERE user_id = ? ORDER BY time_range",
		userId,
	)
	return entries, err
}

func (q *queries) SaveLeaderboardEntry(ctx context.Context, e LeaderboardEntry) error {
	return q.exec(ctx,
		"INSERT INTO leaderboard_cache ("+leaderboardColumns+") VALUES (?, ?, ?, ?, ?, ?, ?) "+
			"ON CONFLICT (user_id, time_range) DO UPDATE SET best_wpm = excluded.best_wpm, "+
			"best_wpm_at = excluded.best_wpm_at, username = excluded.username, "+
			"avatar_url = excluded.avatar_url, updated_at = excluded.updated_at",
		e.UserId, e.TimeRange, e.BestWpm, e.BestWpmAt, e.Username, e.AvatarUrl, e.UpdatedAt,
	)
}

func (q *queries) DeleteLeaderboardEntry(ctx context.Context, userId int, r window.Range) error {
	return q.exec(ctx, "DELETE FROM leaderboard_cache WHERE user_id = ? AND time_range = ?", userId, r)
}

func (q *queries) ListStaleLeaderboardEntries(ctx context.Context, r window.Range, cutoff int64) ([]LeaderboardEntry, error) {
	var entries []LeaderboardEntry
	err := q.selectAll(ctx, &entries,
		"SELECT "+leaderboardColumns+" FROM leaderboard_cache WHERE time_range = ? AND best_wpm_at < ?",
		r, cutoff,
	)
	return entries, err
}

func (q *queries) TopLeaderboard(ctx context.Context, r window.Range, cutoff int64, limit int) ([]LeaderboardEntry, error) {
	var entries []LeaderboardEntry
	err := q.selectAll(ctx, &entries,
		"SELECT "+leaderboardColumns+" FROM leaderboard_cache WHERE time_range = ? AND best_wpm_at >= ? "+
			"ORDER BY best_wpm DESC, best_wpm_at ASC, user_id ASC LIMIT ?",
		r, cutoff, limit,
	)
	return entries, err
}

func (q *queries) UpdateLeaderboardIdentity(ctx context.Context, userId int, username, avatarUrl string, updatedAt int64) error {
	return q.exec(ctx,
		"UPDATE leaderboard_cache SET username = ?, avatar_url = ?, updated_at = ? WHERE user_id = ?",
		username, avatarUrl, updatedAt, userId,
	)
}
