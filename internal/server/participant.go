package server

import (
	"crypto/rand"
	"fmt"
	"maps"
	"strings"
	"unicode"

	"github.com/teris-io/shortid"
)

const (
	codeLength     = 5
	codeAlphabet   = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	maxNameRunes   = 32
	defaultName    = "Anonymous"
	maxCodeRetries = 10
)

// Settings is the opaque settings object a host configures for its room.
type Settings map[string]any

func defaultSettings() Settings {
	return Settings{
		"mode":       "time",
		"duration":   30,
		"difficulty": "medium",
	}
}

// merge applies a shallow patch on top of s.
func (s Settings) merge(patch Settings) Settings {
	merged := maps.Clone(s)
	if merged == nil {
		merged = Settings{}
	}
	maps.Copy(merged, patch)
	return merged
}

type Status string

const (
	StatusWaiting Status = "waiting"
	StatusActive  Status = "active"
)

type LiveStats struct {
	Wpm        float64 `json:"wpm"`
	Accuracy   float64 `json:"accuracy"`
	Progress   float64 `json:"progress"`
	WordsTyped int     `json:"words_typed"`
	ElapsedMs  int64   `json:"elapsed_ms"`
	IsFinished bool    `json:"is_finished"`
}

type Participant struct {
	Id        string    `json:"id"`
	Name      string    `json:"name"`
	Stats     LiveStats `json:"stats"`
	Connected bool      `json:"connected"`

	peer        Peer
	resumeToken string
	// gen invalidates grace timers armed before the participant reconnected
	gen int
}

// SanitizeName strips control characters, trims and caps a display name.
func SanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)

	runes := []rune(name)
	if len(runes) > maxNameRunes {
		name = strings.TrimSpace(string(runes[:maxNameRunes]))
	}
	if name == "" {
		return defaultName
	}
	return name
}

// generateCode returns a random room code from codeAlphabet.
func generateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}

	code := make([]byte, codeLength)
	for i, b := range buf {
		code[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(code), nil
}

func newToken() string {
	return shortid.MustGenerate()
}
