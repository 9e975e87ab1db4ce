package statscache

import (
	"context"

	"github.com/npezzotti/go-typerace/internal/database"
)

// Criteria narrows the submissions considered for a best score. Invalid
// submissions never qualify.
type Criteria struct {
	Since       int64
	MinAccuracy float64
}

func (cr Criteria) match(s database.Submission) bool {
	return s.Valid() && s.CreatedAt >= cr.Since && s.Accuracy >= cr.MinAccuracy
}

// BestFinder finds the highest-wpm submission of a user matching cr, with
// the earliest createdAt winning ties.
type BestFinder interface {
	Best(ctx context.Context, q database.Queries, userId int, cr Criteria) (database.Submission, bool, error)
}

// ScanBestFinder reads every submission of the user. The cost is linear in
// the user's history and is only paid when a record holder goes away.
type ScanBestFinder struct{}

func (ScanBestFinder) Best(ctx context.Context, q database.Queries, userId int, cr Criteria) (database.Submission, bool, error) {
	subs, err := q.ListSubmissionsByUser(ctx, userId, 0)
	if err != nil {
		return database.Submission{}, false, err
	}

	best, ok := pickBest(subs, cr)
	return best, ok, nil
}

func pickBest(subs []database.Submission, cr Criteria) (database.Submission, bool) {
	var (
		best  database.Submission
		found bool
	)
	for _, s := range subs {
		if !cr.match(s) {
			continue
		}
		if !found || beats(s, best.Wpm, best.CreatedAt) {
			best, found = s, true
		}
	}
	return best, found
}
