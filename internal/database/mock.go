package database

import (
	"context"

	"github.com/npezzotti/go-typerace/internal/window"
	"github.com/stretchr/testify/mock"
)

type MockTypeRaceRepository struct {
	mock.Mock
}

func (m *MockTypeRaceRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// InUserTx runs fn against the mock itself so expectations set on the
// query methods apply inside the transaction.
func (m *MockTypeRaceRepository) InUserTx(ctx context.Context, userId int, fn func(q Queries) error) error {
	args := m.Called(ctx, userId)
	if err := args.Error(0); err != nil {
		return err
	}
	return fn(m)
}

func (m *MockTypeRaceRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockTypeRaceRepository) UpdateAccount(ctx context.Context, params UpdateAccountParams) (User, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockTypeRaceRepository) GetAccountById(ctx context.Context, id int) (User, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockTypeRaceRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockTypeRaceRepository) ListAccountIds(ctx context.Context, afterId, limit int) ([]int, error) {
	args := m.Called(ctx, afterId, limit)
	return args.Get(0).([]int), args.Error(1)
}
func (m *MockTypeRaceRepository) InsertSubmission(ctx context.Context, s Submission) (int64, error) {
	args := m.Called(ctx, s)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockTypeRaceRepository) GetSubmission(ctx context.Context, id int64) (Submission, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Submission), args.Error(1)
}
func (m *MockTypeRaceRepository) DeleteSubmission(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
func (m *MockTypeRaceRepository) SetSubmissionValidity(ctx context.Context, id int64, valid bool) error {
	args := m.Called(ctx, id, valid)
	return args.Error(0)
}
func (m *MockTypeRaceRepository) ListSubmissionsByUser(ctx context.Context, userId, limit int) ([]Submission, error) {
	args := m.Called(ctx, userId, limit)
	return args.Get(0).([]Submission), args.Error(1)
}
func (m *MockTypeRaceRepository) GetUserStats(ctx context.Context, userId int) (UserStats, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(UserStats), args.Error(1)
}
func (m *MockTypeRaceRepository) SaveUserStats(ctx context.Context, stats UserStats) error {
	args := m.Called(ctx, stats)
	return args.Error(0)
}
func (m *MockTypeRaceRepository) DeleteUserStats(ctx context.Context, userId int) error {
	args := m.Called(ctx, userId)
	return args.Error(0)
}
func (m *MockTypeRaceRepository) GetLeaderboardEntry(ctx context.Context, userId int, r window.Range) (LeaderboardEntry, error) {
	args := m.Called(ctx, userId, r)
	return args.Get(0).(LeaderboardEntry), args.Error(1)
}
func (m *MockTypeRaceRepository) ListLeaderboardEntriesByUser(ctx context.Context, userId int) ([]LeaderboardEntry, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).([]LeaderboardEntry), args.Error(1)
}
func (m *MockTypeRaceRepository) SaveLeaderboardEntry(ctx context.Context, e LeaderboardEntry) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}
func (m *MockTypeRaceRepository) DeleteLeaderboardEntry(ctx context.Context, userId int, r window.Range) error {
	args := m.Called(ctx, userId, r)
	return args.Error(0)
}
func (m *MockTypeRaceRepository) ListStaleLeaderboardEntries(ctx context.Context, r window.Range, cutoff int64) ([]LeaderboardEntry, error) {
	args := m.Called(ctx, r, cutoff)
	return args.Get(0).([]LeaderboardEntry), args.Error(1)
}
func (m *MockTypeRaceRepository) TopLeaderboard(ctx context.Context, r window.Range, cutoff int64, limit int) ([]LeaderboardEntry, error) {
	args := m.Called(ctx, r, cutoff, limit)
	return args.Get(0).([]LeaderboardEntry), args.Error(1)
}
func (m *MockTypeRaceRepository) UpdateLeaderboardIdentity(ctx context.Context, userId int, username, avatarUrl string, updatedAt int64) error {
	args := m.Called(ctx, userId, username, avatarUrl, updatedAt)
	return args.Error(0)
}
