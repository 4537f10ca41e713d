package database

import "time"

type CallHubRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	AccountExists(accountId int) bool
	CreateMessage(params CreateMessageParams) (Message, error)
	GetMessage(id int) (Message, error)
	MarkMessageDelivered(id int, ts time.Time) (bool, error)
	MarkMessageRead(id int, ts time.Time) (bool, error)
	MarkConversationRead(senderId, receiverId int, ts time.Time) ([]int, error)
	FindUnreadMessages(senderId, receiverId int) ([]Message, error)
	GetConversation(userId, withUserId, before, limit int) ([]Message, error)
	CreateCallRecord(params CreateCallRecordParams) (CallRecord, error)
}
