package server

import (
	"encoding/json"
	"testing"

	"github.com/npezzotti/go-callhub/internal/database"
	"github.com/npezzotti/go-callhub/internal/stats"
	"github.com/npezzotti/go-callhub/internal/types"
	"github.com/stretchr/testify/assert"
)

var (
	alice = types.User{Id: 1, Username: "alice"}
	bob   = types.User{Id: 2, Username: "bob"}
)

func initiateMsg(id int, c *Client, target int, kind types.CallKind, roomId string) *ClientMessage {
	return &ClientMessage{
		BaseMessage:  BaseMessage{Id: id, Timestamp: Now()},
		InitiateCall: &InitiateCall{RoomId: roomId, TargetUserId: target, Kind: kind},
		UserId:       c.user.Id,
		client:       c,
	}
}

func TestInitiateCall_offlineTarget(t *testing.T) {
	db := &database.MockCallHubRepository{}
	db.On("AccountExists", bob.Id).Return(true)
	defer db.AssertExpectations(t)

	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)

	cs := newTestCallServer(t, db, su)
	caller := newTestClient(t, alice)
	cs.presence.register(alice.Id, caller)

	cs.handleInitiateCall(initiateMsg(1, caller, bob.Id, types.CallVideo, ""))

	got := recvMessage(t, caller)
	assert.Equal(t, 410, got.Response.ResponseCode, "expected target unreachable")
	assert.Zero(t, cs.rooms.numRooms(), "expected no room to be created for offline target")
}

func TestInitiateCall_unknownTarget(t *testing.T) {
	db := &database.MockCallHubRepository{}
	db.On("AccountExists", 99).Return(false)
	defer db.AssertExpectations(t)

	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)

	cs := newTestCallServer(t, db, su)
	caller := newTestClient(t, alice)
	cs.presence.register(alice.Id, caller)

	cs.handleInitiateCall(initiateMsg(1, caller, 99, types.CallAudio, ""))

	got := recvMessage(t, caller)
	assert.Equal(t, 410, got.Response.ResponseCode, "expected target unreachable for unknown user")
	assert.Zero(t, cs.rooms.numRooms(), "expected no room for unknown target")
}

func TestInitiateCall_invalidRequest(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)

	cs := newTestCallServer(t, &database.MockCallHubRepository{}, su)
	caller := newTestClient(t, alice)

	tcases := []struct {
		name string
		req  *InitiateCall
	}{
		{name: "bad kind", req: &InitiateCall{TargetUserId: bob.Id, Kind: "screenshare"}},
		{name: "no target", req: &InitiateCall{Kind: types.CallAudio}},
		{name: "self call", req: &InitiateCall{TargetUserId: alice.Id, Kind: types.CallAudio}},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cs.handleInitiateCall(&ClientMessage{
				BaseMessage:  BaseMessage{Id: 1},
				InitiateCall: tc.req,
				UserId:       alice.Id,
				client:       caller,
			})

			got := recvMessage(t, caller)
			assert.Equal(t, 400, got.Response.ResponseCode, "expected bad request")
		})
	}
}

// TestCall_acceptFlow walks the happy path: alice (one connection)
// calls bob (two connections), bob answers on the second device.
func TestCall_acceptFlow(t *testing.T) {
	db := &database.MockCallHubRepository{}
	db.On("AccountExists", bob.Id).Return(true)
	defer db.AssertExpectations(t)

	su := &stats.MockStatsUpdater{}
	su.On("Incr", "NumActiveCalls").Once()
	defer su.AssertExpectations(t)

	cs := newTestCallServer(t, db, su)
	aConn := newTestClient(t, alice)
	bConn1 := newTestClient(t, bob)
	bConn2 := newTestClient(t, bob)
	cs.presence.register(alice.Id, aConn)
	cs.presence.register(bob.Id, bConn1)
	cs.presence.register(bob.Id, bConn2)

	cs.handleInitiateCall(initiateMsg(1, aConn, bob.Id, types.CallVideo, "room1"))

	// every device of the callee rings
	for _, c := range []*Client{bConn1, bConn2} {
		got := recvMessage(t, c)
		if assert.NotNil(t, got.Notification, "expected a notification") {
			incoming := got.Notification.IncomingCall
			if assert.NotNil(t, incoming, "expected incoming-call notification") {
				assert.Equal(t, "room1", incoming.RoomId)
				assert.Equal(t, alice.Id, incoming.CallerId)
				assert.Equal(t, "alice", incoming.CallerName)
				assert.Equal(t, types.CallVideo, incoming.Kind)
			}
		}
	}

	resp := recvMessage(t, aConn)
	assert.Equal(t, 200, resp.Response.ResponseCode, "expected OK response to caller")
	assert.Equal(t, "room1", resp.Response.Data["room_id"])

	room, ok := cs.rooms.get("room1")
	assert.True(t, ok, "expected room to exist")
	assert.Equal(t, StateRinging, room.Status, "expected room to be ringing after push reached the callee")

	// bob answers on the second device
	cs.handleAcceptCall(&ClientMessage{
		BaseMessage: BaseMessage{Id: 2},
		AcceptCall:  &AcceptCall{RoomId: "room1"},
		UserId:      bob.Id,
		client:      bConn2,
	})

	accepted := recvMessage(t, aConn)
	if assert.NotNil(t, accepted.Notification) && assert.NotNil(t, accepted.Notification.CallAccepted) {
		assert.Equal(t, "room1", accepted.Notification.CallAccepted.RoomId)
		assert.Equal(t, bob.Id, accepted.Notification.CallAccepted.AcceptedBy)
	}

	// all connections joined to the room receive room-ready
	for _, c := range []*Client{aConn, bConn1, bConn2} {
		got := recvMessage(t, c)
		if assert.NotNil(t, got.Notification, "expected notification on %s", c.id) {
			ready := got.Notification.RoomReady
			if assert.NotNil(t, ready, "expected room-ready on %s", c.id) {
				assert.Equal(t, "room1", ready.RoomId)
				assert.Equal(t, []types.User{
					{Id: alice.Id, Username: "alice"},
					{Id: bob.Id, Username: "bob"},
				}, ready.Participants, "expected both participants to be listed")
			}
		}
	}

	resp = recvMessage(t, bConn2)
	assert.Equal(t, 200, resp.Response.ResponseCode, "expected OK response to acceptor")

	assert.Equal(t, StateAccepted, room.Status, "expected room to be accepted")
	assert.NotNil(t, room.AcceptedAt, "expected accept time to be stamped")
}

func TestAcceptCall_errors(t *testing.T) {
	t.Run("room not found", func(t *testing.T) {
		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)
		cs := newTestCallServer(t, &database.MockCallHubRepository{}, su)
		c := newTestClient(t, bob)

		cs.handleAcceptCall(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			AcceptCall:  &AcceptCall{RoomId: "nope"},
			UserId:      bob.Id,
			client:      c,
		})

		got := recvMessage(t, c)
		assert.Equal(t, 404, got.Response.ResponseCode, "expected room not found")
	})

	t.Run("only the callee may accept", func(t *testing.T) {
		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)
		cs := newTestCallServer(t, &database.MockCallHubRepository{}, su)
		cs.rooms.create("room1", alice.Id, bob.Id, types.CallAudio)

		intruder := newTestClient(t, types.User{Id: 3, Username: "eve"})
		cs.handleAcceptCall(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			AcceptCall:  &AcceptCall{RoomId: "room1"},
			UserId:      3,
			client:      intruder,
		})

		got := recvMessage(t, intruder)
		assert.Equal(t, 403, got.Response.ResponseCode, "expected unauthorized for non-callee")

		room, _ := cs.rooms.get("room1")
		assert.Equal(t, StateInitiated, room.Status, "expected room status to be unchanged")
	})

	t.Run("double accept loses", func(t *testing.T) {
		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)
		cs := newTestCallServer(t, &database.MockCallHubRepository{}, su)
		cs.rooms.create("room1", alice.Id, bob.Id, types.CallAudio)
		cs.rooms.updateStatus("room1", StateAccepted, Now())

		c := newTestClient(t, bob)
		cs.handleAcceptCall(&ClientMessage{
			BaseMessage: BaseMessage{Id: 1},
			AcceptCall:  &AcceptCall{RoomId: "room1"},
			UserId:      bob.Id,
			client:      c,
		})

		got := recvMessage(t, c)
		assert.Equal(t, 409, got.Response.ResponseCode, "expected invalid state on duplicate accept")
	})
}

func TestRejectCall(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Decr", "NumActiveCalls").Once()
	defer su.AssertExpectations(t)

	cs := newTestCallServer(t, &database.MockCallHubRepository{}, su)
	aConn := newTestClient(t, alice)
	bConn := newTestClient(t, bob)
	cs.presence.register(alice.Id, aConn)
	cs.presence.register(bob.Id, bConn)
	cs.rooms.create("room1", alice.Id, bob.Id, types.CallVideo)

	cs.handleRejectCall(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		RejectCall:  &RejectCall{RoomId: "room1"},
		UserId:      bob.Id,
		client:      bConn,
	})

	got := recvMessage(t, aConn)
	if assert.NotNil(t, got.Notification) && assert.NotNil(t, got.Notification.CallRejected) {
		assert.Equal(t, bob.Id, got.Notification.CallRejected.RejectedBy)
	}

	resp := recvMessage(t, bConn)
	assert.Equal(t, 200, resp.Response.ResponseCode, "expected OK to rejector")

	_, ok := cs.rooms.get("room1")
	assert.False(t, ok, "expected rejected room to be removed")
}

func TestRejectCall_nonParticipant(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)

	cs := newTestCallServer(t, &database.MockCallHubRepository{}, su)
	cs.rooms.create("room1", alice.Id, bob.Id, types.CallVideo)

	intruder := newTestClient(t, types.User{Id: 3, Username: "eve"})
	cs.handleRejectCall(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		RejectCall:  &RejectCall{RoomId: "room1"},
		UserId:      3,
		client:      intruder,
	})

	got := recvMessage(t, intruder)
	assert.Equal(t, 403, got.Response.ResponseCode, "expected unauthorized for non-participant")
}

// TestEndCall_unansweredByCaller covers hanging up on a call the
// callee never answered: the callee is told, the room is gone, and a
// late accept gets room-not-found.
func TestEndCall_unansweredByCaller(t *testing.T) {
	db := &database.MockCallHubRepository{}
	db.On("AccountExists", bob.Id).Return(true)
	defer db.AssertExpectations(t)

	su := &stats.MockStatsUpdater{}
	su.On("Incr", "NumActiveCalls").Once()
	su.On("Decr", "NumActiveCalls").Once()
	defer su.AssertExpectations(t)

	cs := newTestCallServer(t, db, su)
	aConn := newTestClient(t, alice)
	bConn := newTestClient(t, bob)
	cs.presence.register(alice.Id, aConn)
	cs.presence.register(bob.Id, bConn)

	cs.handleInitiateCall(initiateMsg(1, aConn, bob.Id, types.CallAudio, "room1"))
	recvMessage(t, bConn) // incoming-call
	recvMessage(t, aConn) // OK

	cs.handleEndCall(&ClientMessage{
		BaseMessage: BaseMessage{Id: 2},
		EndCall:     &EndCall{RoomId: "room1"},
		UserId:      alice.Id,
		client:      aConn,
	})

	ended := recvMessage(t, bConn)
	if assert.NotNil(t, ended.Notification) && assert.NotNil(t, ended.Notification.CallEnded) {
		assert.Equal(t, alice.Id, ended.Notification.CallEnded.EndedBy)
		assert.Equal(t, "hangup", ended.Notification.CallEnded.Reason)
	}

	resp := recvMessage(t, aConn)
	assert.Equal(t, 200, resp.Response.ResponseCode, "expected OK to ender")

	_, ok := cs.rooms.get("room1")
	assert.False(t, ok, "expected ended room to be removed")

	// a late accept for the same room is a stale event
	cs.handleAcceptCall(&ClientMessage{
		BaseMessage: BaseMessage{Id: 3},
		AcceptCall:  &AcceptCall{RoomId: "room1"},
		UserId:      bob.Id,
		client:      bConn,
	})
	got := recvMessage(t, bConn)
	assert.Equal(t, 404, got.Response.ResponseCode, "expected room not found after end")
}

func TestEndCall_resolveByParticipants(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Decr", "NumActiveCalls").Once()
	defer su.AssertExpectations(t)

	cs := newTestCallServer(t, &database.MockCallHubRepository{}, su)
	aConn := newTestClient(t, alice)
	bConn := newTestClient(t, bob)
	cs.presence.register(alice.Id, aConn)
	cs.presence.register(bob.Id, bConn)
	cs.rooms.create("room1", alice.Id, bob.Id, types.CallVideo)

	// no room id in the event, only the counterpart identity
	cs.handleEndCall(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		EndCall:     &EndCall{TargetUserId: alice.Id},
		UserId:      bob.Id,
		client:      bConn,
	})

	got := recvMessage(t, aConn)
	assert.NotNil(t, got.Notification.CallEnded, "expected call-ended notification")

	resp := recvMessage(t, bConn)
	assert.Equal(t, 200, resp.Response.ResponseCode)

	_, ok := cs.rooms.get("room1")
	assert.False(t, ok, "expected room to be removed")
}

func TestEndCall_roomNotFound(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)

	cs := newTestCallServer(t, &database.MockCallHubRepository{}, su)
	c := newTestClient(t, alice)

	cs.handleEndCall(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		EndCall:     &EndCall{RoomId: "nope"},
		UserId:      alice.Id,
		client:      c,
	})

	got := recvMessage(t, c)
	assert.Equal(t, 404, got.Response.ResponseCode, "expected room not found")
}

// TestDisconnect_teardown verifies that losing a user's last
// connection force-ends every call it participates in, with the
// counterpart notified exactly once.
func TestDisconnect_teardown(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", "NumActiveClients").Once()
	su.On("Incr", "NumOnlineUsers").Once()
	su.On("Decr", "NumActiveClients").Once()
	su.On("Decr", "NumOnlineUsers").Once()
	su.On("Decr", "NumActiveCalls").Once()
	defer su.AssertExpectations(t)

	cs := newTestCallServer(t, &database.MockCallHubRepository{}, su)
	aConn := newTestClient(t, alice)
	bConn := newTestClient(t, bob)
	cs.presence.register(alice.Id, aConn)
	cs.addClient(bConn)

	room, _ := cs.rooms.create("room1", alice.Id, bob.Id, types.CallVideo)
	cs.rooms.updateStatus("room1", StateAccepted, Now())
	room.addClient(aConn)
	room.addClient(bConn)

	// bob's only connection goes away
	cs.removeClient(bConn)

	assert.False(t, cs.presence.isOnline(bob.Id), "expected bob to be offline")

	got := recvMessage(t, aConn)
	if assert.NotNil(t, got.Notification) && assert.NotNil(t, got.Notification.CallEnded) {
		assert.Equal(t, bob.Id, got.Notification.CallEnded.EndedBy)
		assert.Equal(t, "disconnect", got.Notification.CallEnded.Reason)
	}
	assertNoMessage(t, aConn)

	_, ok := cs.rooms.get("room1")
	assert.False(t, ok, "expected room to be removed on disconnect")
}

func TestSignal_relay(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	su.On("Incr", "NumSignalsRelayed").Once()
	defer su.AssertExpectations(t)

	cs := newTestCallServer(t, &database.MockCallHubRepository{}, su)
	aConn := newTestClient(t, alice)
	bConn1 := newTestClient(t, bob)
	bConn2 := newTestClient(t, bob)
	cs.presence.register(alice.Id, aConn)
	cs.presence.register(bob.Id, bConn1)
	cs.presence.register(bob.Id, bConn2)

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	cs.handleSignal(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Signal:      &Signal{TargetUserId: bob.Id, Payload: payload},
		UserId:      alice.Id,
		client:      aConn,
	})

	for _, c := range []*Client{bConn1, bConn2} {
		got := recvMessage(t, c)
		if assert.NotNil(t, got.Notification) && assert.NotNil(t, got.Notification.Signal) {
			assert.Equal(t, alice.Id, got.Notification.Signal.FromUserId)
			assert.Equal(t, "alice", got.Notification.Signal.FromUsername)
			assert.JSONEq(t, string(payload), string(got.Notification.Signal.Payload), "expected payload to be relayed verbatim")
		}
	}

	// relay is fire-and-forget on success
	assertNoMessage(t, aConn)
}

func TestSignal_unreachable(t *testing.T) {
	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)

	cs := newTestCallServer(t, &database.MockCallHubRepository{}, su)
	aConn := newTestClient(t, alice)
	cs.presence.register(alice.Id, aConn)

	cs.handleSignal(&ClientMessage{
		BaseMessage: BaseMessage{Id: 1},
		Signal:      &Signal{TargetUserId: bob.Id, Payload: json.RawMessage(`{}`)},
		UserId:      alice.Id,
		client:      aConn,
	})

	got := recvMessage(t, aConn)
	assert.Equal(t, 410, got.Response.ResponseCode, "expected unreachable error instead of a silent drop")
}
