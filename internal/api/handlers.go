package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-callhub/internal/database"
	"github.com/npezzotti/go-callhub/internal/server"
	"github.com/npezzotti/go-callhub/internal/types"
)

func (s *CallHubApp) writeJson(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Println("failed to encode response:", err)
	}
}

type SendMessageRequest struct {
	ReceiverId int    `json:"receiver_id"`
	Content    string `json:"content"`
}

// sendMessage persists a message as sent, then pushes it to the
// receiver's live connections. Delivery and read receipts come back
// through the websocket as mark-delivered/mark-read events.
func (s *CallHubApp) sendMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.ReceiverId == 0 || req.ReceiverId == userId || req.Content == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !s.db.AccountExists(req.ReceiverId) {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msg, err := s.db.CreateMessage(database.CreateMessageParams{
		SenderId:   userId,
		ReceiverId: req.ReceiverId,
		Content:    req.Content,
	})
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	wireMsg := toWireMessage(msg)
	s.cs.PushMessage(wireMsg)

	s.writeJson(w, http.StatusCreated, wireMsg)
}

// getMessages returns a page of the conversation with another user,
// newest first.
func (s *CallHubApp) getMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	withUserId, err := strconv.Atoi(r.URL.Query().Get("with"))
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	before, _ := strconv.Atoi(r.URL.Query().Get("before"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	msgs, err := s.db.GetConversation(userId, withUserId, before, limit)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	wireMsgs := make([]types.Message, len(msgs))
	for i, m := range msgs {
		wireMsgs[i] = toWireMessage(m)
	}

	s.writeJson(w, http.StatusOK, wireMsgs)
}

// getUnreadMessages returns the messages from another user that the
// caller has not read yet, typically fetched right after connecting.
func (s *CallHubApp) getUnreadMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	withUserId, err := strconv.Atoi(r.URL.Query().Get("with"))
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	msgs, err := s.db.FindUnreadMessages(withUserId, userId)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	wireMsgs := make([]types.Message, len(msgs))
	for i, m := range msgs {
		wireMsgs[i] = toWireMessage(m)
	}

	s.writeJson(w, http.StatusOK, wireMsgs)
}

// createCallRecord stores a call history row. Clients report finished
// calls here; the signaling core itself keeps no state past the live
// room.
func (s *CallHubApp) createCallRecord(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var params database.CreateCallRecordParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if params.RoomId == "" || params.CalleeId == 0 {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}
	params.CallerId = userId

	rec, err := s.db.CreateCallRecord(params)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, map[string]any{
		"id":      rec.Id,
		"room_id": rec.RoomId,
	})
}

// serveWs upgrades the request to a websocket and binds the
// authenticated account to a new client connection. Registration with
// the presence registry happens via the server loop, so an
// unauthenticated request never reaches it.
func (s *CallHubApp) serveWs(w http.ResponseWriter, r *http.Request) {
	id, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(id)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client := server.NewClient(types.User{
		Id:           user.Id,
		Username:     user.Username,
		EmailAddress: user.EmailAddress,
	}, conn, s.cs, s.log)

	s.cs.RegisterClient(client)
	go client.Write()
	go client.Read()
}

func toWireMessage(m database.Message) types.Message {
	msg := types.Message{
		Id:         m.Id,
		SenderId:   m.SenderId,
		ReceiverId: m.ReceiverId,
		Content:    m.Content,
		Status:     m.Status,
		CreatedAt:  m.CreatedAt,
	}
	if m.DeliveredAt.Valid {
		msg.DeliveredAt = &m.DeliveredAt.Time
	}
	if m.ReadAt.Valid {
		msg.ReadAt = &m.ReadAt.Time
	}
	return msg
}
