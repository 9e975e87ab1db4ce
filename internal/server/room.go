package server

import (
	"log"
	"time"
)

// Peer is one side of a websocket connection as seen by a room.
type Peer interface {
	Id() string
	// Send queues msg without blocking and reports whether it was accepted.
	Send(msg *ServerMessage) bool
	// RoomClosed tells the peer it is no longer a member of the room.
	RoomClosed(code string)
}

type joinReq struct {
	msg   *ClientMessage
	reply chan error
}

type graceExpiry struct {
	participantId string // empty for the host
	gen           int
}

type Room struct {
	code     string
	registry *RoomRegistry
	log      *log.Logger
	opts     Options

	host          Peer
	hostId        string
	hostToken     string
	hostConnected bool
	hostGen       int

	settings     Settings
	status       Status
	participants []*Participant

	joinChan      chan *joinReq
	leaveChan     chan Peer
	clientMsgChan chan *ClientMessage
	graceChan     chan graceExpiry
	// exit is closed to stop the room without notifying anyone
	exit chan struct{}
	done chan struct{}
}

func newRoom(code string, host Peer, settings Settings, rr *RoomRegistry) *Room {
	return &Room{
		code:          code,
		registry:      rr,
		log:           rr.log,
		opts:          rr.opts,
		host:          host,
		hostId:        host.Id(),
		hostToken:     newToken(),
		hostConnected: true,
		settings:      defaultSettings().merge(settings),
		status:        StatusWaiting,
		joinChan:      make(chan *joinReq, 16),
		leaveChan:     make(chan Peer),
		clientMsgChan: make(chan *ClientMessage, 256),
		graceChan:     make(chan graceExpiry, 16),
		exit:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

func (r *Room) Code() string {
	return r.code
}

func (r *Room) HostToken() string {
	return r.hostToken
}

func (r *Room) start() {
	r.log.Printf("starting room %q", r.code)
	defer close(r.done)

	for {
		select {
		case join := <-r.joinChan:
			join.reply <- r.handleJoin(join.msg)
		case peer := <-r.leaveChan:
			if r.handleLeave(peer) {
				return
			}
		case msg := <-r.clientMsgChan:
			r.handleClientMessage(msg)
		case g := <-r.graceChan:
			if r.handleGraceExpiry(g) {
				return
			}
		case <-r.exit:
			r.handleRoomExit()
			return
		}
	}
}

func (r *Room) join(msg *ClientMessage) error {
	req := &joinReq{msg: msg, reply: make(chan error, 1)}
	select {
	case r.joinChan <- req:
	case <-r.done:
		return &RoomNotFoundError{Code: r.code}
	}

	select {
	case err := <-req.reply:
		return err
	case <-r.done:
		return &RoomNotFoundError{Code: r.code}
	}
}

func (r *Room) leave(peer Peer) {
	select {
	case r.leaveChan <- peer:
	case <-r.done:
	}
}

func (r *Room) isHost(peer Peer) bool {
	return r.hostConnected && peer != nil && peer.Id() == r.host.Id()
}

func (r *Room) participantByPeer(peer Peer) *Participant {
	for _, p := range r.participants {
		if p.Connected && p.peer.Id() == peer.Id() {
			return p
		}
	}
	return nil
}

func (r *Room) participantById(id string) (int, *Participant) {
	for i, p := range r.participants {
		if p.Id == id {
			return i, p
		}
	}
	return -1, nil
}

func (r *Room) roster() []Participant {
	roster := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		roster = append(roster, *p)
	}
	return roster
}

func (r *Room) handleJoin(msg *ClientMessage) error {
	join := msg.JoinRoom
	peer := msg.peer

	if !r.hostConnected && join.ResumeToken == r.hostToken {
		r.reclaimHost(msg)
		return nil
	}

	if r.isHost(peer) {
		peer.Send(NoErrOK(msg.Id, r.hostView()))
		return nil
	}

	if join.ResumeToken != "" {
		for _, p := range r.participants {
			if !p.Connected && p.resumeToken == join.ResumeToken {
				p.peer = peer
				p.Connected = true
				p.gen++
				r.log.Printf("participant %q resumed in room %q", p.Id, r.code)
				peer.Send(NoErrOK(msg.Id, r.participantView(p)))
				r.sendHost(notify(&Notification{
					UserJoined: &UserJoined{UserId: p.Id, Name: p.Name, Stats: p.Stats, Resumed: true},
				}))
				return nil
			}
		}
	}

	if p := r.participantByPeer(peer); p != nil {
		peer.Send(NoErrOK(msg.Id, r.participantView(p)))
		return nil
	}

	p := &Participant{
		Id:          peer.Id(),
		Name:        SanitizeName(join.Name),
		Connected:   true,
		peer:        peer,
		resumeToken: newToken(),
	}
	r.participants = append(r.participants, p)
	r.log.Printf("participant %q joined room %q", p.Id, r.code)

	peer.Send(NoErrOK(msg.Id, r.participantView(p)))
	r.sendHost(notify(&Notification{
		UserJoined: &UserJoined{UserId: p.Id, Name: p.Name, Stats: p.Stats},
	}))
	return nil
}

func (r *Room) reclaimHost(msg *ClientMessage) {
	r.host = msg.peer
	r.hostId = msg.peer.Id()
	r.hostConnected = true
	r.hostGen++
	r.log.Printf("host reclaimed room %q", r.code)
	msg.peer.Send(NoErrOK(msg.Id, r.hostView()))
}

func (r *Room) hostView() map[string]any {
	return map[string]any{
		"code":         r.code,
		"settings":     r.settings,
		"status":       r.status,
		"participants": r.roster(),
		"resume_token": r.hostToken,
	}
}

func (r *Room) participantView(p *Participant) map[string]any {
	return map[string]any{
		"settings":       r.settings,
		"status":         r.status,
		"participant_id": p.Id,
		"host_id":        r.hostId,
		"resume_token":   p.resumeToken,
	}
}

// handleLeave reports whether the room was destroyed.
func (r *Room) handleLeave(peer Peer) bool {
	if r.isHost(peer) {
		if r.opts.HostGrace <= 0 {
			r.destroy()
			return true
		}
		r.hostConnected = false
		r.hostGen++
		r.armGrace(r.opts.HostGrace, graceExpiry{gen: r.hostGen})
		r.log.Printf("host left room %q, holding for %s", r.code, r.opts.HostGrace)
		return false
	}

	p := r.participantByPeer(peer)
	if p == nil {
		return false
	}

	if r.opts.ParticipantGrace <= 0 {
		r.removeParticipant(p)
		return false
	}

	p.Connected = false
	p.peer = nil
	p.gen++
	r.armGrace(r.opts.ParticipantGrace, graceExpiry{participantId: p.Id, gen: p.gen})
	r.log.Printf("participant %q dropped from room %q", p.Id, r.code)
	return false
}

func (r *Room) armGrace(d time.Duration, g graceExpiry) {
	time.AfterFunc(d, func() {
		select {
		case r.graceChan <- g:
		case <-r.done:
		}
	})
}

// handleGraceExpiry reports whether the room was destroyed.
func (r *Room) handleGraceExpiry(g graceExpiry) bool {
	if g.participantId == "" {
		if r.hostConnected || g.gen != r.hostGen {
			return false
		}
		r.destroy()
		return true
	}

	_, p := r.participantById(g.participantId)
	if p == nil || p.Connected || p.gen != g.gen {
		return false
	}
	r.removeParticipant(p)
	return false
}

func (r *Room) removeParticipant(p *Participant) {
	i, _ := r.participantById(p.Id)
	if i < 0 {
		return
	}
	r.participants = append(r.participants[:i], r.participants[i+1:]...)
	r.log.Printf("participant %q removed from room %q", p.Id, r.code)

	r.sendHost(notify(&Notification{
		UserLeft: &UserLeft{UserId: p.Id},
	}))
}

func (r *Room) handleClientMessage(msg *ClientMessage) {
	switch {
	case msg.SendStats != nil:
		r.handleStats(msg)
		return
	case !r.isHost(msg.peer):
		r.log.Printf("ignoring host-only message from %q in room %q", msg.peer.Id(), r.code)
		return
	}

	switch {
	case msg.UpdateSettings != nil:
		r.settings = r.settings.merge(msg.UpdateSettings.Settings)
		r.broadcast(notify(&Notification{
			SettingsUpdated: &SettingsSync{Settings: r.settings},
		}))
	case msg.StartTest != nil:
		r.status = StatusActive
		r.broadcast(notify(&Notification{TestStarted: &RoomEvent{Code: r.code}}))
	case msg.StopTest != nil:
		r.status = StatusWaiting
		r.broadcast(notify(&Notification{TestStopped: &RoomEvent{Code: r.code}}))
	case msg.ResetTest != nil:
		r.status = StatusWaiting
		for _, p := range r.participants {
			p.Stats = LiveStats{}
		}
		r.broadcast(notify(&Notification{TestReset: &RoomEvent{Code: r.code}}))
	case msg.KickUser != nil:
		r.handleKick(msg.KickUser.UserId)
	}
}

func (r *Room) handleStats(msg *ClientMessage) {
	p := r.participantByPeer(msg.peer)
	if p == nil {
		return
	}

	p.Stats = msg.SendStats.Stats
	r.sendHost(notify(&Notification{
		StatsUpdate: &StatsUpdate{UserId: p.Id, Stats: p.Stats},
	}))
}

func (r *Room) handleKick(id string) {
	_, p := r.participantById(id)
	if p == nil {
		return
	}

	if p.Connected {
		p.peer.Send(notify(&Notification{Kicked: &RoomEvent{Code: r.code}}))
		p.peer.RoomClosed(r.code)
	}
	r.removeParticipant(p)
}

// destroy makes the room unjoinable before telling participants the host is gone.
func (r *Room) destroy() {
	r.log.Printf("host disconnected from room %q, destroying", r.code)
	r.registry.removeRoom(r.code)

	msg := notify(&Notification{HostDisconnected: &RoomEvent{Code: r.code}})
	for _, p := range r.participants {
		if p.Connected {
			p.peer.Send(msg)
			p.peer.RoomClosed(r.code)
		}
	}
	if r.hostConnected {
		r.host.RoomClosed(r.code)
	}
}

func (r *Room) handleRoomExit() {
	r.log.Printf("room %q is exiting", r.code)
	for _, p := range r.participants {
		if p.Connected {
			p.peer.RoomClosed(r.code)
		}
	}
	if r.hostConnected {
		r.host.RoomClosed(r.code)
	}
}

func (r *Room) sendHost(msg *ServerMessage) {
	if r.hostConnected {
		r.host.Send(msg)
	}
}

// broadcast sends msg to the host and every connected participant.
func (r *Room) broadcast(msg *ServerMessage) {
	r.sendHost(msg)
	for _, p := range r.participants {
		if p.Connected {
			p.peer.Send(msg)
		}
	}
}
