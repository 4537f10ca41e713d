package server

import (
	"database/sql"
	"errors"

	"github.com/npezzotti/go-callhub/internal/types"
)

// handleMarkDelivered advances a message from sent to delivered. Only
// the receiver may report delivery, status never regresses, and the
// sender is notified only after the durable write was acknowledged. A
// repeat on an already-advanced message is a no-op without a second
// notification.
func (cs *CallServer) handleMarkDelivered(msg *ClientMessage) {
	m, err := cs.db.GetMessage(msg.MarkDelivered.MessageId)
	if err != nil {
		msg.client.queueMessage(messageLookupError(msg.Id, err))
		return
	}

	if m.ReceiverId != msg.GetUserId() {
		msg.client.queueMessage(ErrUnauthorized(msg.Id))
		return
	}

	if m.Status.Rank() >= types.MessageDelivered.Rank() {
		msg.client.queueMessage(NoErrOK(msg.Id, nil))
		return
	}

	ts := Now()
	updated, err := cs.db.MarkMessageDelivered(m.Id, ts)
	if err != nil {
		cs.log.Println("MarkMessageDelivered:", err)
		msg.client.queueMessage(ErrStorageFailure(msg.Id))
		return
	}

	if updated {
		// the receiver already has the message; only the sender's
		// devices care about the state change
		cs.pushToUser(m.SenderId, &ServerMessage{
			BaseMessage: BaseMessage{Timestamp: ts},
			Notification: &Notification{
				MessageDelivered: &MessageDelivered{
					MessageId:   m.Id,
					DeliveredAt: ts,
				},
			},
		})
		cs.stats.Incr("NumDeliveryUpdates")
	}

	msg.client.queueMessage(NoErrOK(msg.Id, nil))
}

// handleMarkRead advances one message, or every unread message of a
// conversation, to read. The bulk form sends the sender a single
// aggregated notification naming the affected messages.
func (cs *CallServer) handleMarkRead(msg *ClientMessage) {
	if msg.MarkRead.MessageId != 0 {
		cs.markMessageRead(msg)
		return
	}

	if msg.MarkRead.WithUserId != 0 {
		cs.markConversationRead(msg)
		return
	}

	msg.client.queueMessage(ErrInvalidMessage(msg.Id))
}

func (cs *CallServer) markMessageRead(msg *ClientMessage) {
	m, err := cs.db.GetMessage(msg.MarkRead.MessageId)
	if err != nil {
		msg.client.queueMessage(messageLookupError(msg.Id, err))
		return
	}

	if m.ReceiverId != msg.GetUserId() {
		msg.client.queueMessage(ErrUnauthorized(msg.Id))
		return
	}

	if m.Status.Rank() >= types.MessageRead.Rank() {
		msg.client.queueMessage(NoErrOK(msg.Id, nil))
		return
	}

	ts := Now()
	updated, err := cs.db.MarkMessageRead(m.Id, ts)
	if err != nil {
		cs.log.Println("MarkMessageRead:", err)
		msg.client.queueMessage(ErrStorageFailure(msg.Id))
		return
	}

	if updated {
		cs.pushToUser(m.SenderId, &ServerMessage{
			BaseMessage: BaseMessage{Timestamp: ts},
			Notification: &Notification{
				MessageRead: &MessageRead{
					MessageIds: []int{m.Id},
					WithUserId: msg.GetUserId(),
					ReadAt:     ts,
				},
			},
		})
		cs.stats.Incr("NumDeliveryUpdates")
	}

	msg.client.queueMessage(NoErrOK(msg.Id, nil))
}

func (cs *CallServer) markConversationRead(msg *ClientMessage) {
	ts := Now()
	ids, err := cs.db.MarkConversationRead(msg.MarkRead.WithUserId, msg.GetUserId(), ts)
	if err != nil {
		cs.log.Println("MarkConversationRead:", err)
		msg.client.queueMessage(ErrStorageFailure(msg.Id))
		return
	}

	if len(ids) > 0 {
		cs.pushToUser(msg.MarkRead.WithUserId, &ServerMessage{
			BaseMessage: BaseMessage{Timestamp: ts},
			Notification: &Notification{
				MessageRead: &MessageRead{
					MessageIds: ids,
					WithUserId: msg.GetUserId(),
					ReadAt:     ts,
				},
			},
		})
		cs.stats.Incr("NumDeliveryUpdates")
	}

	msg.client.queueMessage(NoErrOK(msg.Id, map[string]any{
		"updated": len(ids),
	}))
}

func messageLookupError(id int, err error) *ServerMessage {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrMessageNotFound(id)
	}
	return ErrStorageFailure(id)
}
