package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/npezzotti/go-typerace/internal/anticheat"
	"github.com/npezzotti/go-typerace/internal/metrics"
	"golang.org/x/time/rate"
)

type RoomNotFoundError struct {
	Code string
}

func (e *RoomNotFoundError) Error() string {
	return fmt.Sprintf("room %q not found", e.Code)
}

var errCodeSpaceExhausted = errors.New("could not allocate a room code")

type Options struct {
	ParticipantGrace time.Duration
	// HostGrace of zero destroys a room as soon as its host disconnects.
	HostGrace time.Duration
	// StatsRate and StatsBurst bound send_stats per connection.
	StatsRate  rate.Limit
	StatsBurst int
}

func DefaultOptions() Options {
	return Options{
		ParticipantGrace: 30 * time.Second,
		StatsRate:        20,
		StatsBurst:       40,
	}
}

type RoomRegistry struct {
	log         *log.Logger
	stats       metrics.StatsProvider
	sessions    *anticheat.SessionStore
	opts        Options
	rooms       map[string]*Room
	roomsLock   sync.RWMutex
	clients     map[*Client]struct{}
	clientsLock sync.Mutex
	newCode     func() (string, error)
}

func NewRoomRegistry(logger *log.Logger, stats metrics.StatsProvider, sessions *anticheat.SessionStore, opts Options) *RoomRegistry {
	stats.RegisterMetric(metrics.NumActiveRooms)
	stats.RegisterMetric(metrics.NumConnectedClients)

	return &RoomRegistry{
		log:      logger,
		stats:    stats,
		sessions: sessions,
		opts:     opts,
		rooms:    make(map[string]*Room),
		clients:  make(map[*Client]struct{}),
		newCode:  generateCode,
	}
}

// CreateRoom registers a new room hosted by host and starts its loop.
func (rr *RoomRegistry) CreateRoom(host Peer, settings Settings) (*Room, error) {
	rr.roomsLock.Lock()
	defer rr.roomsLock.Unlock()

	for range maxCodeRetries {
		code, err := rr.newCode()
		if err != nil {
			return nil, fmt.Errorf("generate room code: %w", err)
		}
		if _, taken := rr.rooms[code]; taken {
			continue
		}

		r := newRoom(code, host, settings, rr)
		rr.rooms[code] = r
		rr.stats.Incr(metrics.NumActiveRooms)
		go r.start()

		rr.log.Printf("created room %q", code)
		return r, nil
	}

	return nil, errCodeSpaceExhausted
}

func (rr *RoomRegistry) Room(code string) (*Room, bool) {
	rr.roomsLock.RLock()
	defer rr.roomsLock.RUnlock()

	r, ok := rr.rooms[NormalizeCode(code)]
	return r, ok
}

// JoinRoom adds the sender of msg to the room named in msg.JoinRoom. The
// room replies to the peer directly; a missing room is a RoomNotFoundError.
func (rr *RoomRegistry) JoinRoom(msg *ClientMessage) (*Room, error) {
	code := NormalizeCode(msg.JoinRoom.Code)
	r, ok := rr.Room(code)
	if !ok {
		return nil, &RoomNotFoundError{Code: code}
	}

	if err := r.join(msg); err != nil {
		return nil, err
	}
	return r, nil
}

func (rr *RoomRegistry) removeRoom(code string) {
	rr.roomsLock.Lock()
	defer rr.roomsLock.Unlock()

	if _, ok := rr.rooms[code]; ok {
		delete(rr.rooms, code)
		rr.stats.Decr(metrics.NumActiveRooms)
		rr.log.Printf("removed room %q", code)
	}
}

func (rr *RoomRegistry) NumRooms() int {
	rr.roomsLock.RLock()
	defer rr.roomsLock.RUnlock()
	return len(rr.rooms)
}

func (rr *RoomRegistry) addClient(c *Client) {
	rr.clientsLock.Lock()
	defer rr.clientsLock.Unlock()

	rr.clients[c] = struct{}{}
	rr.stats.Incr(metrics.NumConnectedClients)
}

func (rr *RoomRegistry) removeClient(c *Client) {
	rr.clientsLock.Lock()
	defer rr.clientsLock.Unlock()

	if _, ok := rr.clients[c]; ok {
		delete(rr.clients, c)
		rr.stats.Decr(metrics.NumConnectedClients)
	}
}

// Shutdown stops every client and room, waiting for the rooms to exit.
func (rr *RoomRegistry) Shutdown(ctx context.Context) error {
	rr.log.Println("received shutdown signal")

	rr.clientsLock.Lock()
	for c := range rr.clients {
		c.stopClient()
	}
	rr.clientsLock.Unlock()

	rr.roomsLock.Lock()
	rooms := make([]*Room, 0, len(rr.rooms))
	for code, r := range rr.rooms {
		rooms = append(rooms, r)
		delete(rr.rooms, code)
		rr.stats.Decr(metrics.NumActiveRooms)
	}
	rr.roomsLock.Unlock()

	for _, r := range rooms {
		rr.log.Println("shutting down room", r.code)
		close(r.exit)
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
