package server

import (
	"errors"
	"sync"
	"time"

	"github.com/npezzotti/go-callhub/internal/types"
)

var (
	errDuplicateRoom = errors.New("room already exists")
	errRoomNotFound  = errors.New("room not found")
	errRoomState     = errors.New("invalid call state")
)

// CallStatus is the lifecycle state of a call room. Values are stable
// because they are part of the wire protocol.
type CallStatus string

const (
	StateInitiated CallStatus = "initiated"
	StateRinging   CallStatus = "ringing"
	StateAccepted  CallStatus = "accepted"
	StateRejected  CallStatus = "rejected"
	StateEnded     CallStatus = "ended"
)

// Terminal reports whether no further transition may leave s.
func (s CallStatus) Terminal() bool {
	return s == StateRejected || s == StateEnded
}

// CallRoom is the in-memory record of one call negotiation between two
// fixed participants. It is never persisted; once it reaches a terminal
// status it is removed from the directory. Call history is written by
// the API layer, not by this core.
type CallRoom struct {
	Id         string
	CallerId   int
	CallerName string
	CalleeId   int
	CalleeName string
	Kind       types.CallKind
	Status     CallStatus
	CreatedAt  time.Time
	AcceptedAt *time.Time
	EndedAt    *time.Time

	// clients holds the connections joined to the room's channel once
	// the call is accepted.
	clients map[*Client]struct{}
}

func (r *CallRoom) participant(userId int) bool {
	return r.CallerId == userId || r.CalleeId == userId
}

// otherParticipant returns the counterpart of userId in the room.
func (r *CallRoom) otherParticipant(userId int) int {
	if userId == r.CallerId {
		return r.CalleeId
	}
	return r.CallerId
}

func (r *CallRoom) addClient(c *Client) {
	r.clients[c] = struct{}{}
}

func (r *CallRoom) removeClient(c *Client) {
	delete(r.clients, c)
}

// broadcast queues msg on every connection joined to the room channel.
func (r *CallRoom) broadcast(msg *ServerMessage) {
	for c := range r.clients {
		if c == msg.SkipClient {
			continue
		}
		c.queueMessage(msg)
	}
}

// roomDirectory stores the authoritative CallRoom per room id. It is
// storage only; the signaling engine owns transition legality, the
// directory just offers an atomic check-and-set so racing transitions
// have a single winner.
type roomDirectory struct {
	mu    sync.Mutex
	rooms map[string]*CallRoom
}

func newRoomDirectory() *roomDirectory {
	return &roomDirectory{
		rooms: make(map[string]*CallRoom),
	}
}

func (d *roomDirectory) create(roomId string, caller, callee int, kind types.CallKind) (*CallRoom, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.rooms[roomId]; ok {
		return nil, errDuplicateRoom
	}

	room := &CallRoom{
		Id:        roomId,
		CallerId:  caller,
		CalleeId:  callee,
		Kind:      kind,
		Status:    StateInitiated,
		CreatedAt: Now(),
		clients:   make(map[*Client]struct{}),
	}
	d.rooms[roomId] = room

	return room, nil
}

func (d *roomDirectory) get(roomId string) (*CallRoom, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	room, ok := d.rooms[roomId]
	return room, ok
}

// updateStatus moves the room to status, stamping the matching
// timestamp. When allowedFrom is non-empty the current status must be
// one of them or ErrRoomState is returned; whichever transition lands
// first on a contested room wins.
func (d *roomDirectory) updateStatus(roomId string, status CallStatus, ts time.Time, allowedFrom ...CallStatus) (*CallRoom, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	room, ok := d.rooms[roomId]
	if !ok {
		return nil, errRoomNotFound
	}

	if len(allowedFrom) > 0 {
		legal := false
		for _, from := range allowedFrom {
			if room.Status == from {
				legal = true
				break
			}
		}
		if !legal {
			return nil, errRoomState
		}
	}

	room.Status = status
	switch status {
	case StateAccepted:
		room.AcceptedAt = &ts
	case StateEnded, StateRejected:
		room.EndedAt = &ts
	}

	return room, nil
}

func (d *roomDirectory) remove(roomId string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.rooms, roomId)
}

// findByParticipant returns every room where the user is caller or
// callee. Steady state is zero or one, but concurrent initiations can
// produce more.
func (d *roomDirectory) findByParticipant(userId int) []*CallRoom {
	d.mu.Lock()
	defer d.mu.Unlock()

	var rooms []*CallRoom
	for _, room := range d.rooms {
		if room.participant(userId) {
			rooms = append(rooms, room)
		}
	}
	return rooms
}

func (d *roomDirectory) numRooms() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.rooms)
}
