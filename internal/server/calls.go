package server

import (
	"errors"

	"github.com/npezzotti/go-callhub/internal/types"
	"github.com/teris-io/shortid"
)

// handleInitiateCall validates a call request and creates the room. The
// incoming-call push goes to every live connection of the target so any
// device may answer; once at least one was reached the room is ringing.
// No room is created for an offline target.
func (cs *CallServer) handleInitiateCall(msg *ClientMessage) {
	req := msg.InitiateCall
	caller := msg.GetUserId()

	if !req.Kind.Valid() || req.TargetUserId == 0 || req.TargetUserId == caller {
		msg.client.queueMessage(ErrInvalidMessage(msg.Id))
		return
	}

	if !cs.db.AccountExists(req.TargetUserId) {
		cs.log.Printf("initiate-call: unknown target user %d", req.TargetUserId)
		msg.client.queueMessage(ErrTargetUnreachable(msg.Id))
		return
	}

	if !cs.presence.isOnline(req.TargetUserId) {
		msg.client.queueMessage(ErrTargetUnreachable(msg.Id))
		return
	}

	roomId := req.RoomId
	if roomId == "" {
		var err error
		roomId, err = shortid.Generate()
		if err != nil {
			cs.log.Println("generate room id:", err)
			msg.client.queueMessage(ErrInternalError(msg.Id))
			return
		}
	}

	room, err := cs.rooms.create(roomId, caller, req.TargetUserId, req.Kind)
	if err != nil {
		msg.client.queueMessage(ErrDuplicateRoom(msg.Id))
		return
	}
	room.CallerName = msg.client.displayName
	cs.stats.Incr("NumActiveCalls")

	reached := cs.pushToUser(req.TargetUserId, &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Notification: &Notification{
			IncomingCall: &IncomingCall{
				RoomId:     room.Id,
				CallerId:   caller,
				CallerName: msg.client.displayName,
				Kind:       req.Kind,
			},
		},
	})

	status := room.Status
	if reached > 0 {
		// the push is the ring
		if ringing, err := cs.rooms.updateStatus(room.Id, StateRinging, Now(), StateInitiated); err == nil {
			status = ringing.Status
		}
	}

	msg.client.queueMessage(NoErrOK(msg.Id, map[string]any{
		"room_id": room.Id,
		"status":  status,
	}))
}

// handleAcceptCall moves the room to accepted. Only the recorded callee
// may accept, which keeps a third party or a wrong device from claiming
// the call.
func (cs *CallServer) handleAcceptCall(msg *ClientMessage) {
	room, ok := cs.rooms.get(msg.AcceptCall.RoomId)
	if !ok {
		msg.client.queueMessage(ErrRoomNotFound(msg.Id))
		return
	}

	if room.CalleeId != msg.GetUserId() {
		msg.client.queueMessage(ErrUnauthorized(msg.Id))
		return
	}

	room, err := cs.rooms.updateStatus(room.Id, StateAccepted, Now(), StateInitiated, StateRinging)
	if err != nil {
		msg.client.queueMessage(callStateError(msg.Id, err))
		return
	}
	room.CalleeName = msg.client.displayName

	// join both participants' live connections to the room channel
	for _, c := range cs.presence.connectionsFor(room.CallerId) {
		room.addClient(c)
	}
	for _, c := range cs.presence.connectionsFor(room.CalleeId) {
		room.addClient(c)
	}

	cs.pushToUser(room.CallerId, &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Notification: &Notification{
			CallAccepted: &CallAccepted{
				RoomId:     room.Id,
				AcceptedBy: msg.GetUserId(),
			},
		},
	})

	room.broadcast(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Notification: &Notification{
			RoomReady: &RoomReady{
				RoomId: room.Id,
				Participants: []types.User{
					{Id: room.CallerId, Username: room.CallerName},
					{Id: room.CalleeId, Username: room.CalleeName},
				},
			},
		},
	})

	msg.client.queueMessage(NoErrOK(msg.Id, map[string]any{"room_id": room.Id}))
}

// handleRejectCall declines a ringing call. Any participant may reject;
// the room is terminal afterwards and leaves the directory.
func (cs *CallServer) handleRejectCall(msg *ClientMessage) {
	room, ok := cs.rooms.get(msg.RejectCall.RoomId)
	if !ok {
		msg.client.queueMessage(ErrRoomNotFound(msg.Id))
		return
	}

	if !room.participant(msg.GetUserId()) {
		msg.client.queueMessage(ErrUnauthorized(msg.Id))
		return
	}

	room, err := cs.rooms.updateStatus(room.Id, StateRejected, Now(), StateInitiated, StateRinging)
	if err != nil {
		msg.client.queueMessage(callStateError(msg.Id, err))
		return
	}

	cs.removeRoom(room)

	cs.pushToUser(room.otherParticipant(msg.GetUserId()), &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Notification: &Notification{
			CallRejected: &CallRejected{
				RoomId:     room.Id,
				RejectedBy: msg.GetUserId(),
			},
		},
	})

	msg.client.queueMessage(NoErrOK(msg.Id, nil))
}

// handleEndCall terminates a call from either participant. The room is
// resolved by id or, when the client has none, by searching the
// directory for a call between the two identities.
func (cs *CallServer) handleEndCall(msg *ClientMessage) {
	room := cs.resolveRoom(msg.EndCall, msg.GetUserId())
	if room == nil {
		msg.client.queueMessage(ErrRoomNotFound(msg.Id))
		return
	}

	if !room.participant(msg.GetUserId()) {
		msg.client.queueMessage(ErrUnauthorized(msg.Id))
		return
	}

	room, err := cs.rooms.updateStatus(room.Id, StateEnded, Now(), StateInitiated, StateRinging, StateAccepted)
	if err != nil {
		msg.client.queueMessage(callStateError(msg.Id, err))
		return
	}

	cs.removeRoom(room)

	cs.pushToUser(room.otherParticipant(msg.GetUserId()), &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Notification: &Notification{
			CallEnded: &CallEnded{
				RoomId:  room.Id,
				EndedBy: msg.GetUserId(),
				Reason:  "hangup",
			},
		},
	})

	msg.client.queueMessage(NoErrOK(msg.Id, nil))
}

func (cs *CallServer) resolveRoom(req *EndCall, userId int) *CallRoom {
	if req.RoomId != "" {
		room, ok := cs.rooms.get(req.RoomId)
		if !ok {
			return nil
		}
		return room
	}

	// at most one non-terminal room should exist between two users
	// under correct client behavior; first match wins
	for _, room := range cs.rooms.findByParticipant(userId) {
		if req.TargetUserId == 0 || room.participant(req.TargetUserId) {
			return room
		}
	}
	return nil
}

// teardownCallsFor force-ends every call the user participates in after
// its last connection dropped. Runs synchronously inside the server
// loop so teardown completes before any later event is handled.
func (cs *CallServer) teardownCallsFor(userId int) {
	for _, room := range cs.rooms.findByParticipant(userId) {
		cs.log.Printf("tearing down call %q after disconnect of user %d", room.Id, userId)
		cs.rooms.updateStatus(room.Id, StateEnded, Now())
		cs.removeRoom(room)

		cs.pushToUser(room.otherParticipant(userId), &ServerMessage{
			BaseMessage: BaseMessage{Timestamp: Now()},
			Notification: &Notification{
				CallEnded: &CallEnded{
					RoomId:  room.Id,
					EndedBy: userId,
					Reason:  "disconnect",
				},
			},
		})
	}
}

func (cs *CallServer) removeRoom(room *CallRoom) {
	cs.rooms.remove(room.Id)
	cs.stats.Decr("NumActiveCalls")
}

// handleSignal relays an opaque negotiation payload to every live
// connection of the target, stamped with the sender's identity. The
// sender gets an explicit unreachable error instead of a silent drop.
func (cs *CallServer) handleSignal(msg *ClientMessage) {
	reached := cs.pushToUser(msg.Signal.TargetUserId, &ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Notification: &Notification{
			Signal: &SignalEvent{
				FromUserId:   msg.GetUserId(),
				FromUsername: msg.client.displayName,
				Payload:      msg.Signal.Payload,
			},
		},
	})

	if reached == 0 {
		msg.client.queueMessage(ErrTargetUnreachable(msg.Id))
		return
	}

	cs.stats.Incr("NumSignalsRelayed")
}

func callStateError(id int, err error) *ServerMessage {
	if errors.Is(err, errRoomNotFound) {
		return ErrRoomNotFound(id)
	}
	return ErrInvalidState(id)
}
