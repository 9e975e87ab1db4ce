package types

import (
	"time"

	"github.com/npezzotti/go-typerace/internal/window"
)

type User struct {
	Id           int       `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	AvatarUrl    string    `json:"avatar_url,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// TestResult is one entry of a user's history. Invalid results are listed
// with IsValid false.
type TestResult struct {
	Id             int64   `json:"id"`
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
	CreatedAt      int64   `json:"created_at"`
	IsValid        bool    `json:"is_valid"`
}

type LeaderboardEntry struct {
	Rank      int          `json:"rank"`
	UserId    int          `json:"user_id"`
	Username  string       `json:"username"`
	AvatarUrl string       `json:"avatar_url,omitempty"`
	BestWpm   float64      `json:"best_wpm"`
	BestWpmAt int64        `json:"best_wpm_at"`
	TimeRange window.Range `json:"time_range"`
}
