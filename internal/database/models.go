package database

import (
	"time"

	"github.com/npezzotti/go-typerace/internal/window"
)

type User struct {
	Id           int       `db:"id"`
	Username     string    `db:"username"`
	EmailAddress string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	AvatarUrl    string    `db:"avatar_url"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Submission is one persisted test result. IsValid is nil for rows written
// before anti-cheat classification existed and counts as valid.
type Submission struct {
	Id             int64   `db:"id"`
	UserId         int     `db:"user_id"`
	Wpm            float64 `db:"wpm"`
	Accuracy       float64 `db:"accuracy"`
	Mode           string  `db:"mode"`
	Duration       int     `db:"duration"`
	WordCount      int     `db:"word_count"`
	Difficulty     string  `db:"difficulty"`
	Punctuation    bool    `db:"punctuation"`
	Numbers        bool    `db:"numbers"`
	Capitalization *bool   `db:"capitalization"`
	WordsCorrect   int     `db:"words_correct"`
	WordsIncorrect int     `db:"words_incorrect"`
	CharsMissed    int     `db:"chars_missed"`
	CharsExtra     int     `db:"chars_extra"`
	CreatedAt      int64   `db:"created_at"`
	IsValid        *bool   `db:"is_valid"`
}

func (s Submission) Valid() bool {
	return s.IsValid == nil || *s.IsValid
}

// UserStats sums are kept in hundredths so incremental updates and a
// rebuild produce identical rows.
type UserStats struct {
	UserId             int     `db:"user_id"`
	TotalTests         int     `db:"total_tests"`
	TotalWpmCenti      int64   `db:"total_wpm_centi"`
	BestWpm            float64 `db:"best_wpm"`
	TotalAccuracyCenti int64   `db:"total_accuracy_centi"`
	TotalTimeTyped     int64   `db:"total_time_typed"`
	TotalWordsTyped    int64   `db:"total_words_typed"`
	UpdatedAt          int64   `db:"updated_at"`
}

type LeaderboardEntry struct {
	UserId    int          `db:"user_id"`
	TimeRange window.Range `db:"time_range"`
	BestWpm   float64      `db:"best_wpm"`
	BestWpmAt int64        `db:"best_wpm_at"`
	Username  string       `db:"username"`
	AvatarUrl string       `db:"avatar_url"`
	UpdatedAt int64        `db:"updated_at"`
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type UpdateAccountParams struct {
	UserId    int
	Username  string
	AvatarUrl string
	// PasswordHash is left unchanged when empty
	PasswordHash string
}
