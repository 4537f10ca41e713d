package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/npezzotti/go-callhub/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is the envelope for every event a connection may send.
// Exactly one of the event pointers is expected to be set.
type ClientMessage struct {
	BaseMessage
	Register      *Register      `json:"register,omitempty"`
	InitiateCall  *InitiateCall  `json:"initiate_call,omitempty"`
	AcceptCall    *AcceptCall    `json:"accept_call,omitempty"`
	RejectCall    *RejectCall    `json:"reject_call,omitempty"`
	EndCall       *EndCall       `json:"end_call,omitempty"`
	Signal        *Signal        `json:"signal,omitempty"`
	MarkDelivered *MarkDelivered `json:"mark_delivered,omitempty"`
	MarkRead      *MarkRead      `json:"mark_read,omitempty"`
	UserId        int            `json:"-"`
	client        *Client        `json:"-"`
}

func (cm *ClientMessage) GetUserId() int {
	if cm.UserId != 0 {
		return cm.UserId
	}

	if cm.client != nil {
		return cm.client.user.Id
	}

	return 0
}

type Register struct {
	DisplayName string `json:"display_name"`
}

type InitiateCall struct {
	// RoomId is optional; the server generates one when absent.
	RoomId       string         `json:"room_id,omitempty"`
	TargetUserId int            `json:"target_user_id"`
	Kind         types.CallKind `json:"kind"`
}

type AcceptCall struct {
	RoomId string `json:"room_id"`
}

type RejectCall struct {
	RoomId string `json:"room_id"`
}

type EndCall struct {
	RoomId       string `json:"room_id,omitempty"`
	TargetUserId int    `json:"target_user_id,omitempty"`
}

// Signal carries an opaque negotiation payload (offer, answer or ICE
// candidate) addressed to a user. The payload is relayed verbatim.
type Signal struct {
	TargetUserId int             `json:"target_user_id"`
	Payload      json.RawMessage `json:"payload"`
}

type MarkDelivered struct {
	MessageId int `json:"message_id"`
}

// MarkRead marks a single message read when MessageId is set, or every
// unread message from WithUserId to the caller when WithUserId is set.
type MarkRead struct {
	MessageId  int `json:"message_id,omitempty"`
	WithUserId int `json:"with_user_id,omitempty"`
}

type ServerMessage struct {
	BaseMessage
	Response     *Response      `json:"response,omitempty"`
	Message      *types.Message `json:"message,omitempty"`
	Notification *Notification  `json:"notification,omitempty"`
	SkipClient   *Client        `json:"-"`
}

type Response struct {
	ResponseCode int            `json:"response_code"`
	Error        string         `json:"error,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
}

type Notification struct {
	IncomingCall     *IncomingCall     `json:"incoming_call,omitempty"`
	CallAccepted     *CallAccepted     `json:"call_accepted,omitempty"`
	CallRejected     *CallRejected     `json:"call_rejected,omitempty"`
	CallEnded        *CallEnded        `json:"call_ended,omitempty"`
	RoomReady        *RoomReady        `json:"room_ready,omitempty"`
	Signal           *SignalEvent      `json:"signal,omitempty"`
	MessageDelivered *MessageDelivered `json:"message_delivered,omitempty"`
	MessageRead      *MessageRead      `json:"message_read,omitempty"`
}

type IncomingCall struct {
	RoomId     string         `json:"room_id"`
	CallerId   int            `json:"caller_id"`
	CallerName string         `json:"caller_name"`
	Kind       types.CallKind `json:"kind"`
}

type CallAccepted struct {
	RoomId     string `json:"room_id"`
	AcceptedBy int    `json:"accepted_by"`
}

type CallRejected struct {
	RoomId     string `json:"room_id"`
	RejectedBy int    `json:"rejected_by"`
}

type CallEnded struct {
	RoomId  string `json:"room_id"`
	EndedBy int    `json:"ended_by"`
	// Reason is "hangup" for an explicit end and "disconnect" when a
	// participant lost its last connection.
	Reason string `json:"reason"`
}

type RoomReady struct {
	RoomId       string       `json:"room_id"`
	Participants []types.User `json:"participants"`
}

type SignalEvent struct {
	FromUserId   int             `json:"from_user_id"`
	FromUsername string          `json:"from_username"`
	Payload      json.RawMessage `json:"payload"`
}

type MessageDelivered struct {
	MessageId   int       `json:"message_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

type MessageRead struct {
	MessageIds []int     `json:"message_ids"`
	WithUserId int       `json:"with_user_id,omitempty"`
	ReadAt     time.Time `json:"read_at"`
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

func errResponse(id, code int, msg string) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: code,
			Error:        msg,
		},
	}
}

func ErrRoomNotFound(id int) *ServerMessage {
	return errResponse(id, http.StatusNotFound, "room not found")
}

func ErrMessageNotFound(id int) *ServerMessage {
	return errResponse(id, http.StatusNotFound, "message not found")
}

// ErrUnauthorized reports an identity mismatch against the expected
// room participant or message receiver.
func ErrUnauthorized(id int) *ServerMessage {
	return errResponse(id, http.StatusForbidden, "unauthorized")
}

// ErrInvalidState reports a duplicate or late event against a room
// that already left the required state.
func ErrInvalidState(id int) *ServerMessage {
	return errResponse(id, http.StatusConflict, "invalid call state")
}

func ErrDuplicateRoom(id int) *ServerMessage {
	return errResponse(id, http.StatusConflict, "room already exists")
}

// ErrTargetUnreachable reports that the target user has no live
// connection.
func ErrTargetUnreachable(id int) *ServerMessage {
	return errResponse(id, http.StatusGone, "target unreachable")
}

// ErrStorageFailure reports a failed durable write; the client is
// expected to retry the originating action.
func ErrStorageFailure(id int) *ServerMessage {
	return errResponse(id, http.StatusInternalServerError, "storage failure")
}

func ErrInternalError(id int) *ServerMessage {
	return errResponse(id, http.StatusInternalServerError, "internal server error")
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return errResponse(id, http.StatusServiceUnavailable, "service unavailable")
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := errResponse(0, http.StatusBadRequest, "invalid message format")
	if id > 0 {
		msg.Id = id
	}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
