package server

import (
	"net/http"
	"strings"
	"time"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	BaseMessage
	CreateRoom     *CreateRoom     `json:"create_room,omitempty"`
	JoinRoom       *JoinRoom       `json:"join_room,omitempty"`
	UpdateSettings *UpdateSettings `json:"update_settings,omitempty"`
	StartTest      *RoomAction     `json:"start_test,omitempty"`
	StopTest       *RoomAction     `json:"stop_test,omitempty"`
	ResetTest      *RoomAction     `json:"reset_test,omitempty"`
	SendStats      *SendStats      `json:"send_stats,omitempty"`
	KickUser       *KickUser       `json:"kick_user,omitempty"`
	UserId         int             `json:"-"`
	peer           Peer            `json:"-"`
}

// roomCode returns the normalized code of the room a message targets.
func (m *ClientMessage) roomCode() string {
	var code string
	switch {
	case m.JoinRoom != nil:
		code = m.JoinRoom.Code
	case m.UpdateSettings != nil:
		code = m.UpdateSettings.Code
	case m.StartTest != nil:
		code = m.StartTest.Code
	case m.StopTest != nil:
		code = m.StopTest.Code
	case m.ResetTest != nil:
		code = m.ResetTest.Code
	case m.SendStats != nil:
		code = m.SendStats.Code
	case m.KickUser != nil:
		code = m.KickUser.Code
	}
	return NormalizeCode(code)
}

type CreateRoom struct {
	Settings Settings `json:"settings,omitempty"`
}

type JoinRoom struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	ResumeToken string `json:"resume_token,omitempty"`
}

type UpdateSettings struct {
	Code     string   `json:"code"`
	Settings Settings `json:"settings"`
}

type RoomAction struct {
	Code string `json:"code"`
}

type SendStats struct {
	Code      string    `json:"code"`
	Stats     LiveStats `json:"stats"`
	SessionId string    `json:"session_id,omitempty"`
	// CharsTyped is recorded as an anti-cheat sample when SessionId is set.
	CharsTyped int `json:"chars_typed,omitempty"`
}

type KickUser struct {
	Code   string `json:"code"`
	UserId string `json:"user_id"`
}

type ServerMessage struct {
	BaseMessage
	Response     *Response     `json:"response,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

type Notification struct {
	UserJoined       *UserJoined   `json:"user_joined,omitempty"`
	UserLeft         *UserLeft     `json:"user_left,omitempty"`
	SettingsUpdated  *SettingsSync `json:"settings_updated,omitempty"`
	TestStarted      *RoomEvent    `json:"test_started,omitempty"`
	TestStopped      *RoomEvent    `json:"test_stopped,omitempty"`
	TestReset        *RoomEvent    `json:"test_reset,omitempty"`
	StatsUpdate      *StatsUpdate  `json:"stats_update,omitempty"`
	HostDisconnected *RoomEvent    `json:"host_disconnected,omitempty"`
	Kicked           *RoomEvent    `json:"kicked,omitempty"`
}

type UserJoined struct {
	UserId  string    `json:"user_id"`
	Name    string    `json:"name"`
	Stats   LiveStats `json:"stats"`
	Resumed bool      `json:"resumed,omitempty"`
}

type UserLeft struct {
	UserId string `json:"user_id"`
}

type SettingsSync struct {
	Settings Settings `json:"settings"`
}

type RoomEvent struct {
	Code string `json:"code"`
}

type StatsUpdate struct {
	UserId string    `json:"user_id"`
	Stats  LiveStats `json:"stats"`
}

func notify(n *Notification) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Notification: n,
	}
}

func NoErrOK(id int, data map[string]any) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusOK,
			Data:         data,
		},
	}
}

func ErrRoomNotFound(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusNotFound,
			Error:        "room not found",
		},
	}
}

func ErrInternalError(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusInternalServerError,
			Error:        "internal server error",
		},
	}
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusServiceUnavailable,
			Error:        "service unavailable",
		},
	}
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: http.StatusBadRequest,
			Error:        "invalid message format",
		},
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}

// NormalizeCode upper-cases and trims a user supplied room code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
