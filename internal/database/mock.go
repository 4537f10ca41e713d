package database

import (
	"time"

	"github.com/stretchr/testify/mock"
)

type MockCallHubRepository struct {
	mock.Mock
}

func (m *MockCallHubRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockCallHubRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockCallHubRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockCallHubRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockCallHubRepository) AccountExists(accountId int) bool {
	args := m.Called(accountId)
	return args.Bool(0)
}
func (m *MockCallHubRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockCallHubRepository) GetMessage(id int) (Message, error) {
	args := m.Called(id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockCallHubRepository) MarkMessageDelivered(id int, ts time.Time) (bool, error) {
	args := m.Called(id, ts)
	return args.Bool(0), args.Error(1)
}
func (m *MockCallHubRepository) MarkMessageRead(id int, ts time.Time) (bool, error) {
	args := m.Called(id, ts)
	return args.Bool(0), args.Error(1)
}
func (m *MockCallHubRepository) MarkConversationRead(senderId, receiverId int, ts time.Time) ([]int, error) {
	args := m.Called(senderId, receiverId, ts)
	if ids, ok := args.Get(0).([]int); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockCallHubRepository) FindUnreadMessages(senderId, receiverId int) ([]Message, error) {
	args := m.Called(senderId, receiverId)
	if msgs, ok := args.Get(0).([]Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockCallHubRepository) GetConversation(userId, withUserId, before, limit int) ([]Message, error) {
	args := m.Called(userId, withUserId, before, limit)
	if msgs, ok := args.Get(0).([]Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockCallHubRepository) CreateCallRecord(params CreateCallRecordParams) (CallRecord, error) {
	args := m.Called(params)
	return args.Get(0).(CallRecord), args.Error(1)
}
