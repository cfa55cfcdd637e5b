package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"atelier/internal/models"
	"atelier/internal/profiles"
	"atelier/internal/repositories"
)

type ConnectionRepositoryMock struct {
	mock.Mock
}

func (m *ConnectionRepositoryMock) FindByPair(ctx context.Context, userA, userB string) (models.Connection, error) {
	args := m.Called(ctx, userA, userB)
	var conn models.Connection
	if val := args.Get(0); val != nil {
		conn = val.(models.Connection)
	}
	return conn, args.Error(1)
}

func (m *ConnectionRepositoryMock) GetConnection(ctx context.Context, id string) (models.Connection, error) {
	args := m.Called(ctx, id)
	var conn models.Connection
	if val := args.Get(0); val != nil {
		conn = val.(models.Connection)
	}
	return conn, args.Error(1)
}

func (m *ConnectionRepositoryMock) UpsertRequest(ctx context.Context, senderID, receiverID string) (models.Connection, bool, error) {
	args := m.Called(ctx, senderID, receiverID)
	var conn models.Connection
	if val := args.Get(0); val != nil {
		conn = val.(models.Connection)
	}
	return conn, args.Bool(1), args.Error(2)
}

func (m *ConnectionRepositoryMock) TransitionStatus(ctx context.Context, id string, from, to models.ConnectionStatus) (models.Connection, error) {
	args := m.Called(ctx, id, from, to)
	var conn models.Connection
	if val := args.Get(0); val != nil {
		conn = val.(models.Connection)
	}
	return conn, args.Error(1)
}

func (m *ConnectionRepositoryMock) ListByStatus(ctx context.Context, userID string, status models.ConnectionStatus) ([]models.Connection, error) {
	args := m.Called(ctx, userID, status)
	var list []models.Connection
	if val := args.Get(0); val != nil {
		list = val.([]models.Connection)
	}
	return list, args.Error(1)
}

func (m *ConnectionRepositoryMock) ListIncoming(ctx context.Context, userID string) ([]models.Connection, error) {
	args := m.Called(ctx, userID)
	var list []models.Connection
	if val := args.Get(0); val != nil {
		list = val.([]models.Connection)
	}
	return list, args.Error(1)
}

func (m *ConnectionRepositoryMock) CountAccepted(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, senderID, receiverID, content string) (models.Message, error) {
	args := m.Called(ctx, senderID, receiverID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListForUser(ctx context.Context, userID string) ([]models.Message, error) {
	args := m.Called(ctx, userID)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

func (m *MessageRepositoryMock) ListThread(ctx context.Context, userID, counterpartID string) ([]models.Message, error) {
	args := m.Called(ctx, userID, counterpartID)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, receiverID, senderID string) (int64, error) {
	args := m.Called(ctx, receiverID, senderID)
	var n int64
	if val := args.Get(0); val != nil {
		n = val.(int64)
	}
	return n, args.Error(1)
}

type DirectoryMock struct {
	mock.Mock
}

func (m *DirectoryMock) LookupProfiles(ctx context.Context, ids []string) (map[string]models.Profile, error) {
	args := m.Called(ctx, ids)
	var found map[string]models.Profile
	if val := args.Get(0); val != nil {
		found = val.(map[string]models.Profile)
	}
	return found, args.Error(1)
}

var (
	_ repositories.ConnectionRepository = (*ConnectionRepositoryMock)(nil)
	_ repositories.MessageRepository    = (*MessageRepositoryMock)(nil)
	_ profiles.Directory                = (*DirectoryMock)(nil)
)
