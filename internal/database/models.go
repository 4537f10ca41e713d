package database

import (
	"database/sql"
	"time"

	"github.com/npezzotti/go-callhub/internal/types"
)

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Message struct {
	Id          int
	SenderId    int
	ReceiverId  int
	Content     string
	Status      types.MessageStatus
	CreatedAt   time.Time
	DeliveredAt sql.NullTime
	ReadAt      sql.NullTime
}

// CallRecord is the durable history row for a finished call. It is fed
// by the API, never by the signaling core, which keeps no call state
// past the live room.
type CallRecord struct {
	Id         int
	RoomId     string
	CallerId   int
	CalleeId   int
	Kind       string
	Outcome    string
	StartedAt  time.Time
	AcceptedAt sql.NullTime
	EndedAt    sql.NullTime
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateMessageParams struct {
	SenderId   int
	ReceiverId int
	Content    string
}

type CreateCallRecordParams struct {
	RoomId     string    `json:"room_id"`
	CallerId   int       `json:"-"`
	CalleeId   int       `json:"callee_id"`
	Kind       string    `json:"kind"`
	Outcome    string    `json:"outcome"`
	StartedAt  time.Time `json:"started_at"`
	AcceptedAt time.Time `json:"accepted_at,omitempty"`
	EndedAt    time.Time `json:"ended_at,omitempty"`
}
