package database

import (
	"database/sql"
	"time"

	"github.com/npezzotti/go-callhub/internal/types"
)

const messageColumns = "id, sender_id, receiver_id, content, status, created_at, delivered_at, read_at"

func (db *PgCallHubRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, username, email",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
	)

	return u, err
}

func (db *PgCallHubRepository) GetAccountById(accountId int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		accountId,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
	)

	return user, err
}

func (db *PgCallHubRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.PasswordHash,
	)

	return user, err
}

func (db *PgCallHubRepository) AccountExists(accountId int) bool {
	var exists bool
	err := db.conn.QueryRow(
		"SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)",
		accountId,
	).Scan(&exists)

	return err == nil && exists
}

func (db *PgCallHubRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	row := db.conn.QueryRow(
		"INSERT INTO messages (sender_id, receiver_id, content, status, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING "+messageColumns,
		params.SenderId,
		params.ReceiverId,
		params.Content,
		types.MessageSent,
		time.Now().UTC(),
	)

	return scanMessage(row)
}

func (db *PgCallHubRepository) GetMessage(id int) (Message, error) {
	row := db.conn.QueryRow(
		"SELECT "+messageColumns+" FROM messages WHERE id = $1 LIMIT 1",
		id,
	)

	return scanMessage(row)
}

// MarkMessageDelivered advances the message to delivered only when it
// is still sent. A false return means another actor advanced it first;
// the status guard in the WHERE clause is what keeps the transition
// monotonic under duplicate or racing reports.
func (db *PgCallHubRepository) MarkMessageDelivered(id int, ts time.Time) (bool, error) {
	res, err := db.conn.Exec(
		"UPDATE messages SET status = $2, delivered_at = $3 "+
			"WHERE id = $1 AND status = $4",
		id,
		types.MessageDelivered,
		ts,
		types.MessageSent,
	)
	if err != nil {
		return false, err
	}

	rows, err := res.RowsAffected()
	return rows > 0, err
}

func (db *PgCallHubRepository) MarkMessageRead(id int, ts time.Time) (bool, error) {
	res, err := db.conn.Exec(
		"UPDATE messages SET status = $2, read_at = $3 "+
			"WHERE id = $1 AND status <> $2",
		id,
		types.MessageRead,
		ts,
	)
	if err != nil {
		return false, err
	}

	rows, err := res.RowsAffected()
	return rows > 0, err
}

// MarkConversationRead marks every message from senderId to receiverId
// that is not yet read, returning the ids that changed.
func (db *PgCallHubRepository) MarkConversationRead(senderId, receiverId int, ts time.Time) ([]int, error) {
	rows, err := db.conn.Query(
		"UPDATE messages SET status = $3, read_at = $4 "+
			"WHERE sender_id = $1 AND receiver_id = $2 AND status <> $3 "+
			"RETURNING id",
		senderId,
		receiverId,
		types.MessageRead,
		ts,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (db *PgCallHubRepository) FindUnreadMessages(senderId, receiverId int) ([]Message, error) {
	rows, err := db.conn.Query(
		"SELECT "+messageColumns+" FROM messages "+
			"WHERE sender_id = $1 AND receiver_id = $2 AND status <> $3 "+
			"ORDER BY id",
		senderId,
		receiverId,
		types.MessageRead,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (db *PgCallHubRepository) GetConversation(userId, withUserId, before, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT " + messageColumns + " FROM messages " +
		"WHERE ((sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1))"
	args := []any{userId, withUserId}

	if before > 0 {
		query += " AND id < $3 ORDER BY id DESC LIMIT $4"
		args = append(args, before, limit)
	} else {
		query += " ORDER BY id DESC LIMIT $3"
		args = append(args, limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (db *PgCallHubRepository) CreateCallRecord(params CreateCallRecordParams) (CallRecord, error) {
	row := db.conn.QueryRow(
		"INSERT INTO calls (room_id, caller_id, callee_id, kind, outcome, started_at, accepted_at, ended_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8) "+
			"RETURNING id, room_id, caller_id, callee_id, kind, outcome, started_at, accepted_at, ended_at",
		params.RoomId,
		params.CallerId,
		params.CalleeId,
		params.Kind,
		params.Outcome,
		params.StartedAt,
		nullableTime(params.AcceptedAt),
		nullableTime(params.EndedAt),
	)

	var rec CallRecord
	err := row.Scan(
		&rec.Id,
		&rec.RoomId,
		&rec.CallerId,
		&rec.CalleeId,
		&rec.Kind,
		&rec.Outcome,
		&rec.StartedAt,
		&rec.AcceptedAt,
		&rec.EndedAt,
	)

	return rec, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var m Message
	err := row.Scan(
		&m.Id,
		&m.SenderId,
		&m.ReceiverId,
		&m.Content,
		&m.Status,
		&m.CreatedAt,
		&m.DeliveredAt,
		&m.ReadAt,
	)

	return m, err
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}

	return msgs, rows.Err()
}

func nullableTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
