package anticheat

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrNotSessionOwner = errors.New("session belongs to another user")
)

type Session struct {
	Id        string   `json:"session_id"`
	UserId    int      `json:"-"`
	StartedAt int64    `json:"started_at"`
	ExpiresAt int64    `json:"expires_at"`
	Samples   []Sample `json:"-"`
}

func (s *Session) lastActivity() int64 {
	if len(s.Samples) == 0 {
		return s.StartedAt
	}
	return s.Samples[len(s.Samples)-1].Timestamp
}

func (s *Session) Attempt(mode string, duration int) Attempt {
	return Attempt{
		StartedAt: s.StartedAt,
		Samples:   s.Samples,
		Mode:      mode,
		Duration:  duration,
	}
}

// SessionStore holds in-progress sessions in memory. Samples are stamped
// with the server clock, never the client's.
type SessionStore struct {
	log      *log.Logger
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

func NewSessionStore(logger *log.Logger, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = SessionTTLMs * time.Millisecond
	}
	return &SessionStore{
		log:      logger,
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (ss *SessionStore) Start(userId int) Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	now := ss.now().UnixMilli()
	s := &Session{
		Id:        uuid.NewString(),
		UserId:    userId,
		StartedAt: now,
		ExpiresAt: now + ss.ttl.Milliseconds(),
	}
	ss.sessions[s.Id] = s

	return *s
}

// Resume hands back a session after a page refresh, provided the user
// reported progress within the resume grace period.
func (ss *SessionStore) Resume(id string, userId int) (Session, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	s, err := ss.lookup(id, userId)
	if err != nil {
		return Session{}, err
	}

	if ss.now().UnixMilli()-s.lastActivity() > ResumeGraceMs {
		return Session{}, ErrSessionExpired
	}

	return *s, nil
}

func (ss *SessionStore) Record(id string, userId int, charsTyped int) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	s, err := ss.lookup(id, userId)
	if err != nil {
		return err
	}

	now := ss.now().UnixMilli()
	if now > s.ExpiresAt {
		return ErrSessionExpired
	}

	s.Samples = append(s.Samples, Sample{Timestamp: now, CharsTyped: charsTyped})
	return nil
}

// Claim removes the session and returns it. A claimed session can no longer
// be reaped, so a completion that arrives close to expiry still succeeds.
func (ss *SessionStore) Claim(id string, userId int) (*Session, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	s, err := ss.lookup(id, userId)
	if err != nil {
		return nil, err
	}
	delete(ss.sessions, id)

	return s, nil
}

// Reap deletes sessions whose expiry is strictly in the past.
func (ss *SessionStore) Reap() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	now := ss.now().UnixMilli()
	n := 0
	for id, s := range ss.sessions {
		if s.ExpiresAt < now {
			delete(ss.sessions, id)
			n++
		}
	}

	if n > 0 {
		ss.log.Printf("reaped %d expired sessions, %d active", n, len(ss.sessions))
	}
	return n
}

func (ss *SessionStore) Len() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.sessions)
}

func (ss *SessionStore) lookup(id string, userId int) (*Session, error) {
	s, ok := ss.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.UserId != userId {
		return nil, ErrNotSessionOwner
	}
	return s, nil
}
