package server

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	// room settings may carry a pasted preset text
	maxMessageSize  = 64 << 10
	maxSettingsSize = 32 << 10
)

type Client struct {
	id           string
	conn         *websocket.Conn
	registry     *RoomRegistry
	log          *log.Logger
	userId       int
	send         chan *ServerMessage
	rooms        map[string]*Room
	roomsLock    sync.RWMutex
	statsLimiter *rate.Limiter
	stop         chan struct{}
	stopOnce     sync.Once
}

// NewClient wraps conn. userId is zero for anonymous connections.
func NewClient(userId int, conn *websocket.Conn, rr *RoomRegistry, l *log.Logger) *Client {
	return &Client{
		id:           newToken(),
		conn:         conn,
		registry:     rr,
		log:          l,
		userId:       userId,
		send:         make(chan *ServerMessage, 256),
		rooms:        make(map[string]*Room),
		statsLimiter: rate.NewLimiter(rr.opts.StatsRate, rr.opts.StatsBurst),
		stop:         make(chan struct{}),
	}
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) Send(msg *ServerMessage) bool {
	return c.queueMessage(msg)
}

func (c *Client) RoomClosed(code string) {
	c.delRoom(code)
}

// Register makes the client visible to the registry for shutdown.
func (c *Client) Register() {
	c.registry.addClient(c)
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.log.Println("write exiting")
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := serializeMessage(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
		c.log.Println("read exiting")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(ErrInvalidMessage(-1))
			continue
		}

		msg.peer = c
		msg.UserId = c.userId
		msg.Timestamp = Now()

		c.handleMessage(&msg)
	}
}

func (c *Client) handleMessage(msg *ClientMessage) {
	switch {
	case msg.CreateRoom != nil:
		if !settingsFit(msg.CreateRoom.Settings) {
			c.queueMessage(ErrInvalidMessage(msg.Id))
			return
		}
		c.createRoom(msg)
	case msg.JoinRoom != nil:
		c.joinRoom(msg)
	case msg.SendStats != nil:
		if !c.statsLimiter.Allow() {
			return
		}
		c.recordSample(msg.SendStats)
		c.forward(msg)
	case msg.UpdateSettings != nil:
		if !settingsFit(msg.UpdateSettings.Settings) {
			c.queueMessage(ErrInvalidMessage(msg.Id))
			return
		}
		c.forward(msg)
	case msg.StartTest != nil, msg.StopTest != nil, msg.ResetTest != nil, msg.KickUser != nil:
		c.forward(msg)
	default:
		c.queueMessage(ErrInvalidMessage(msg.Id))
	}
}

// settingsFit reports whether the encoded settings stay within
// maxSettingsSize.
func settingsFit(s Settings) bool {
	if len(s) == 0 {
		return true
	}
	b, err := json.Marshal(s)
	return err == nil && len(b) <= maxSettingsSize
}

func (c *Client) createRoom(msg *ClientMessage) {
	r, err := c.registry.CreateRoom(c, msg.CreateRoom.Settings)
	if err != nil {
		c.log.Println("CreateRoom:", err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	c.addRoom(r)
	c.queueMessage(NoErrOK(msg.Id, map[string]any{
		"code":         r.Code(),
		"resume_token": r.HostToken(),
	}))
}

func (c *Client) joinRoom(msg *ClientMessage) {
	r, err := c.registry.JoinRoom(msg)
	if err != nil {
		var notFound *RoomNotFoundError
		if errors.As(err, &notFound) {
			c.queueMessage(ErrRoomNotFound(msg.Id))
			return
		}
		c.log.Println("JoinRoom:", err)
		c.queueMessage(ErrInternalError(msg.Id))
		return
	}

	c.addRoom(r)
}

// forward hands msg to the loop of the room it targets.
func (c *Client) forward(msg *ClientMessage) {
	r := c.getRoom(msg.roomCode())
	if r == nil {
		c.queueMessage(ErrRoomNotFound(msg.Id))
		return
	}

	select {
	case r.clientMsgChan <- msg:
	default:
		c.queueMessage(ErrServiceUnavailable(msg.Id))
		c.log.Printf("clientMsgChan full for room %q", r.code)
	}
}

func (c *Client) recordSample(s *SendStats) {
	if s.SessionId == "" || c.userId == 0 || c.registry.sessions == nil {
		return
	}

	if err := c.registry.sessions.Record(s.SessionId, c.userId, s.CharsTyped); err != nil {
		c.log.Printf("record sample for session %q: %v", s.SessionId, err)
	}
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	c.registry.removeClient(c)
	c.leaveAllRooms()
	c.stopClient()
}

func (c *Client) leaveAllRooms() {
	c.roomsLock.RLock()
	rooms := make([]*Room, 0, len(c.rooms))
	for _, r := range c.rooms {
		rooms = append(rooms, r)
	}
	c.roomsLock.RUnlock()

	// rooms call back into delRoom, so the lock must not be held here
	for _, r := range rooms {
		r.leave(c)
	}
}

func (c *Client) delRoom(code string) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	if _, ok := c.rooms[code]; ok {
		delete(c.rooms, code)
		c.log.Printf("removed room %q from client %q", code, c.id)
	}
}

func (c *Client) addRoom(r *Room) {
	c.roomsLock.Lock()
	defer c.roomsLock.Unlock()

	c.rooms[r.code] = r
}

func (c *Client) getRoom(code string) *Room {
	c.roomsLock.RLock()
	defer c.roomsLock.RUnlock()

	return c.rooms[code]
}
