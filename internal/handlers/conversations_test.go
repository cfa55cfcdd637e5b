package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"atelier/internal/conversations"
	"atelier/internal/mocks"
	"atelier/internal/models"
)

type conversationsResponse struct {
	Conversations []models.Conversation `json:"conversations"`
}

type messagesResponse struct {
	Messages []models.Message `json:"messages"`
}

func setupConversationRouter(svc ConversationService) *gin.Engine {
	return setupRouter(NewConversationHandler(svc).Register)
}

func TestConversationFlow(t *testing.T) {
	store := newMemoryStore()
	r := setupConversationRouter(conversations.NewService(store, testDirectory()))

	w := doRequest(t, r, http.MethodPost, "/conversations/ben/messages", "ana", gin.H{"content": "  hi ben  "})
	require.Equal(t, http.StatusCreated, w.Code)
	sent := decode[models.Message](t, w)
	assert.Equal(t, "hi ben", sent.Content)
	assert.False(t, sent.IsRead)

	w = doRequest(t, r, http.MethodPost, "/conversations/ben/messages", "cy", gin.H{"content": "hey"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(t, r, http.MethodGet, "/conversations", "ben", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[conversationsResponse](t, w).Conversations
	require.Len(t, list, 2)
	assert.Equal(t, "cy", list[0].CounterpartID)
	assert.Equal(t, 1, list[1].UnreadCount)

	w = doRequest(t, r, http.MethodGet, "/conversations?q=ana", "ben", nil)
	require.Equal(t, http.StatusOK, w.Code)
	filtered := decode[conversationsResponse](t, w).Conversations
	require.Len(t, filtered, 1)
	assert.Equal(t, "Ana Ortiz", filtered[0].Profile.Name)

	w = doRequest(t, r, http.MethodPost, "/conversations/ana/read", "ben", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[gin.H](t, w)["marked"])

	w = doRequest(t, r, http.MethodGet, "/conversations/ana/messages", "ben", nil)
	require.Equal(t, http.StatusOK, w.Code)
	msgs := decode[messagesResponse](t, w).Messages
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsRead)
}

func TestPostMessageValidation(t *testing.T) {
	r := setupConversationRouter(conversations.NewService(newMemoryStore(), testDirectory()))

	w := doRequest(t, r, http.MethodPost, "/conversations/ben/messages", "ana", gin.H{"content": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_OPERATION", decode[gin.H](t, w)["code"])

	w = doRequest(t, r, http.MethodPost, "/conversations/ana/messages", "ana", gin.H{"content": "me"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, r, http.MethodGet, "/conversations", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEmptyThreadIsEmptyArray(t *testing.T) {
	r := setupConversationRouter(conversations.NewService(newMemoryStore(), testDirectory()))

	w := doRequest(t, r, http.MethodGet, "/conversations/ben/messages", "ana", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"messages":[]}`, w.Body.String())
}

func TestConversationStoreFailure(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	repo.On("ListForUser", mock.Anything, "ana").Return(nil, errors.New("timeout")).Once()
	repo.On("MarkRead", mock.Anything, "ana", "ben").Return(int64(0), errors.New("timeout")).Once()
	r := setupConversationRouter(conversations.NewService(repo, testDirectory()))

	w := doRequest(t, r, http.MethodGet, "/conversations", "ana", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = doRequest(t, r, http.MethodPost, "/conversations/ben/read", "ana", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	repo.AssertExpectations(t)
}

type failingWriter struct{}

func (failingWriter) Upsert(context.Context, models.Profile) error {
	return errors.New("disk full")
}
