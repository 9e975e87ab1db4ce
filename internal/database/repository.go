package database

import (
	"context"

	"github.com/npezzotti/go-typerace/internal/window"
)

// Queries is the set of statements available both on the pool and inside a
// per-user transaction.
type Queries interface {
	CreateAccount(ctx context.Context, params CreateAccountParams) (User, error)
	UpdateAccount(ctx context.Context, params UpdateAccountParams) (User, error)
	GetAccountById(ctx context.Context, id int) (User, error)
	GetAccountByEmail(ctx context.Context, email string) (User, error)
	ListAccountIds(ctx context.Context, afterId, limit int) ([]int, error)

	InsertSubmission(ctx context.Context, s Submission) (int64, error)
	GetSubmission(ctx context.Context, id int64) (Submission, error)
	DeleteSubmission(ctx context.Context, id int64) error
	SetSubmissionValidity(ctx context.Context, id int64, valid bool) error
	ListSubmissionsByUser(ctx context.Context, userId, limit int) ([]Submission, error)

	GetUserStats(ctx context.Context, userId int) (UserStats, error)
	SaveUserStats(ctx context.Context, stats UserStats) error
	DeleteUserStats(ctx context.Context, userId int) error

	GetLeaderboardEntry(ctx context.Context, userId int, r window.Range) (LeaderboardEntry, error)
	ListLeaderboardEntriesByUser(ctx context.Context, userId int) ([]LeaderboardEntry, error)
	SaveLeaderboardEntry(ctx context.Context, e LeaderboardEntry) error
	DeleteLeaderboardEntry(ctx context.Context, userId int, r window.Range) error
	ListStaleLeaderboardEntries(ctx context.Context, r window.Range, cutoff int64) ([]LeaderboardEntry, error)
	TopLeaderboard(ctx context.Context, r window.Range, cutoff int64, limit int) ([]LeaderboardEntry, error)
	UpdateLeaderboardIdentity(ctx context.Context, userId int, username, avatarUrl string, updatedAt int64) error
}

type TypeRaceRepository interface {
	Queries
	Ping(ctx context.Context) error
	InUserTx(ctx context.Context, userId int, fn func(q Queries) error) error
}
