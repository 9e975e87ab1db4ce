// Package submission turns a finished test into a stored result: it checks
// the anti-cheat evidence, writes the row, updates the caches in the same
// per-user transaction and finally asks the achievement evaluator what was
// unlocked.
package submission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/npezzotti/go-typerace/internal/anticheat"
	"github.com/npezzotti/go-typerace/internal/database"
	"github.com/npezzotti/go-typerace/internal/metrics"
	"github.com/npezzotti/go-typerace/internal/statscache"
)

var (
	ErrResultNotFound = errors.New("result not found")
	ErrNotOwner       = errors.New("result belongs to another user")
	ErrInvalidRequest = errors.New("invalid result")
)

// Evaluator reports achievements unlocked by a stored submission.
type Evaluator interface {
	Evaluate(ctx context.Context, s database.Submission) ([]string, error)
}

type NoopEvaluator struct{}

func (NoopEvaluator) Evaluate(context.Context, database.Submission) ([]string, error) {
	return nil, nil
}

type Request struct {
	SessionId      string  `json:"session_id,omitempty"`
	Wpm            float64 `json:"wpm"`
	Accuracy       float64 `json:"accuracy"`
	Mode           string  `json:"mode"`
	Duration       int     `json:"duration"`
	WordCount      int     `json:"word_count"`
	Difficulty     string  `json:"difficulty"`
	Punctuation    bool    `json:"punctuation"`
	Numbers        bool    `json:"numbers"`
	Capitalization *bool   `json:"capitalization,omitempty"`
	WordsCorrect   int     `json:"words_correct"`
	WordsIncorrect int     `json:"words_incorrect"`
	CharsMissed    int     `json:"chars_missed"`
	CharsExtra     int     `json:"chars_extra"`
}

func (r Request) validate() error {
	switch {
	case r.Mode == "":
		return fmt.Errorf("%w: mode is required", ErrInvalidRequest)
	case math.IsNaN(r.Wpm) || r.Wpm < 0:
		return fmt.Errorf("%w: wpm must be non-negative", ErrInvalidRequest)
	case math.IsNaN(r.Accuracy) || r.Accuracy < 0 || r.Accuracy > 100:
		return fmt.Errorf("%w: accuracy must be between 0 and 100", ErrInvalidRequest)
	case r.Duration < 0 || r.WordCount < 0:
		return fmt.Errorf("%w: duration and word count must be non-negative", ErrInvalidRequest)
	case r.WordsCorrect < 0 || r.WordsIncorrect < 0 || r.CharsMissed < 0 || r.CharsExtra < 0:
		return fmt.Errorf("%w: counts must be non-negative", ErrInvalidRequest)
	}
	return nil
}

type Result struct {
	Id              int64    `json:"id"`
	IsValid         bool     `json:"is_valid"`
	Reason          string   `json:"reason,omitempty"`
	NewAchievements []string `json:"new_achievements"`
}

type Pipeline struct {
	log          *log.Logger
	db           database.TypeRaceRepository
	cache        *statscache.Cache
	sessions     *anticheat.SessionStore
	achievements Evaluator
	stats        metrics.StatsProvider
	now          func() time.Time
}

func NewPipeline(logger *log.Logger, db database.TypeRaceRepository, cache *statscache.Cache,
	sessions *anticheat.SessionStore, achievements Evaluator, stats metrics.StatsProvider) *Pipeline {
	if achievements == nil {
		achievements = NoopEvaluator{}
	}

	stats.RegisterMetric(metrics.NumSubmissions)
	stats.RegisterMetric(metrics.NumInvalidSubmissions)

	return &Pipeline{
		log:          logger,
		db:           db,
		cache:        cache,
		sessions:     sessions,
		achievements: achievements,
		stats:        stats,
		now:          time.Now,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// verdict classifies the attempt behind a submission. Results without a
// monitored session are trusted.
func (p *Pipeline) verdict(userId int, req Request) anticheat.Verdict {
	if req.SessionId == "" {
		return anticheat.Verdict{Valid: true}
	}

	sess, err := p.sessions.Claim(req.SessionId, userId)
	switch {
	case errors.Is(err, anticheat.ErrSessionNotFound):
		p.log.Printf("session %q for user %d not found, accepting result", req.SessionId, userId)
		return anticheat.Verdict{Valid: true}
	case errors.Is(err, anticheat.ErrNotSessionOwner):
		return anticheat.Verdict{Valid: false, Reason: err.Error()}
	case err != nil:
		p.log.Printf("claim session %q: %v", req.SessionId, err)
		return anticheat.Verdict{Valid: true}
	}

	return anticheat.Validate(sess.Attempt(req.Mode, req.Duration))
}

func (p *Pipeline) Submit(ctx context.Context, userId int, req Request) (Result, error) {
	if err := req.validate(); err != nil {
		return Result{}, err
	}

	v := p.verdict(userId, req)
	if !v.Valid {
		p.log.Printf("flagged result for user %d: %s", userId, v.Reason)
	}

	s := database.Submission{
		UserId:         userId,
		Wpm:            round2(req.Wpm),
		Accuracy:       round2(req.Accuracy),
		Mode:           req.Mode,
		Duration:       req.Duration,
		WordCount:      req.WordCount,
		Difficulty:     req.Difficulty,
		Punctuation:    req.Punctuation,
		Numbers:        req.Numbers,
		Capitalization: req.Capitalization,
		WordsCorrect:   req.WordsCorrect,
		WordsIncorrect: req.WordsIncorrect,
		CharsMissed:    req.CharsMissed,
		CharsExtra:     req.CharsExtra,
		CreatedAt:      p.now().UnixMilli(),
		IsValid:        &v.Valid,
	}

	err := p.db.InUserTx(ctx, userId, func(q database.Queries) error {
		id, err := q.InsertSubmission(ctx, s)
		if err != nil {
			return err
		}
		s.Id = id

		return p.cache.ApplyInsert(ctx, q, s)
	})
	if err != nil {
		return Result{}, fmt.Errorf("store result: %w", err)
	}

	p.stats.Incr(metrics.NumSubmissions)
	if !v.Valid {
		p.stats.Incr(metrics.NumInvalidSubmissions)
	}

	res := Result{
		Id:              s.Id,
		IsValid:         v.Valid,
		Reason:          v.Reason,
		NewAchievements: []string{},
	}

	unlocked, err := p.achievements.Evaluate(ctx, s)
	if err != nil {
		// the result is already stored; achievements can be recomputed later
		p.log.Printf("evaluate achievements for result %d: %v", s.Id, err)
		return res, nil
	}
	if unlocked != nil {
		res.NewAchievements = unlocked
	}

	return res, nil
}

// Delete removes a result owned by userId and reverts its contribution to
// the caches. Ownership is checked before anything is written.
func (p *Pipeline) Delete(ctx context.Context, userId int, id int64) error {
	return p.db.InUserTx(ctx, userId, func(q database.Queries) error {
		s, err := q.GetSubmission(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrResultNotFound
		}
		if err != nil {
			return fmt.Errorf("get result: %w", err)
		}

		if s.UserId != userId {
			return ErrNotOwner
		}

		if err := q.DeleteSubmission(ctx, id); err != nil {
			return fmt.Errorf("delete result: %w", err)
		}

		return p.cache.ApplyDelete(ctx, q, s)
	})
}

// Reclassify changes the validity of a stored result and moves it into or
// out of every aggregate.
func (p *Pipeline) Reclassify(ctx context.Context, id int64, valid bool) error {
	s, err := p.db.GetSubmission(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrResultNotFound
	}
	if err != nil {
		return fmt.Errorf("get result: %w", err)
	}

	return p.db.InUserTx(ctx, s.UserId, func(q database.Queries) error {
		cur, err := q.GetSubmission(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrResultNotFound
		}
		if err != nil {
			return fmt.Errorf("get result: %w", err)
		}

		if cur.Valid() == valid {
			return nil
		}

		if err := q.SetSubmissionValidity(ctx, id, valid); err != nil {
			return fmt.Errorf("set validity: %w", err)
		}

		if valid {
			cur.IsValid = &valid
			return p.cache.ApplyInsert(ctx, q, cur)
		}
		return p.cache.ApplyDelete(ctx, q, cur)
	})
}

func (p *Pipeline) History(ctx context.Context, userId, limit int) ([]database.Submission, error) {
	return p.db.ListSubmissionsByUser(ctx, userId, limit)
}
