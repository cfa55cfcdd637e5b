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

	"atelier/internal/mocks"
	"atelier/internal/models"
	"atelier/internal/relationships"
)

type connectionResponse struct {
	Connection *models.ConnectionView `json:"connection"`
}

func setupConnectionRouter(svc RelationshipService) *gin.Engine {
	return setupRouter(NewConnectionHandler(svc).Register)
}

func TestConnectionRequestFlow(t *testing.T) {
	svc := relationships.NewService(newMemoryStore(), testDirectory())
	r := setupConnectionRouter(svc)

	w := doRequest(t, r, http.MethodGet, "/connections/status/ben", "ana", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, decode[connectionResponse](t, w).Connection)

	w = doRequest(t, r, http.MethodPost, "/connections/requests", "ana", gin.H{"receiver_id": "ben"})
	require.Equal(t, http.StatusOK, w.Code)
	sent := decode[connectionResponse](t, w).Connection
	require.NotNil(t, sent)
	assert.Equal(t, models.PerspectiveSent, sent.Perspective)
	assert.Equal(t, models.ConnectionPending, sent.Status)

	w = doRequest(t, r, http.MethodGet, "/connections/status/ana", "ben", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.PerspectiveReceived, decode[connectionResponse](t, w).Connection.Perspective)

	w = doRequest(t, r, http.MethodGet, "/connections/requests", "ben", nil)
	require.Equal(t, http.StatusOK, w.Code)
	requests := decode[struct {
		Requests []models.ConnectionEntry `json:"requests"`
	}](t, w).Requests
	require.Len(t, requests, 1)
	assert.Equal(t, "Ana Ortiz", requests[0].Profile.Name)

	w = doRequest(t, r, http.MethodPost, "/connections/"+sent.ID+"/accept", "ana", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "PERMISSION_DENIED", decode[gin.H](t, w)["code"])

	w = doRequest(t, r, http.MethodPost, "/connections/"+sent.ID+"/accept", "ben", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, r, http.MethodPost, "/connections/"+sent.ID+"/reject", "ben", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(t, r, http.MethodGet, "/connections", "ana", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Connections []models.ConnectionEntry `json:"connections"`
		Count       int                      `json:"count"`
	}](t, w)
	assert.Equal(t, 1, list.Count)
	require.Len(t, list.Connections, 1)
	assert.Equal(t, "Ben Carter", list.Connections[0].Profile.Name)

	w = doRequest(t, r, http.MethodGet, "/users/ben/connections/count", "cy", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[gin.H](t, w)["count"])
}

func TestSendRequestValidation(t *testing.T) {
	svc := relationships.NewService(newMemoryStore(), testDirectory())
	r := setupConnectionRouter(svc)

	w := doRequest(t, r, http.MethodPost, "/connections/requests", "ana", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, r, http.MethodPost, "/connections/requests", "ana", gin.H{"receiver_id": "ana"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_OPERATION", decode[gin.H](t, w)["code"])
}

func TestAcceptUnknownConnection(t *testing.T) {
	svc := relationships.NewService(newMemoryStore(), testDirectory())
	r := setupConnectionRouter(svc)

	w := doRequest(t, r, http.MethodPost, "/connections/missing/accept", "ben", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConnectionStoreFailure(t *testing.T) {
	repo := new(mocks.ConnectionRepositoryMock)
	repo.On("CountAccepted", mock.Anything, "ana").Return(0, errors.New("connection refused")).Once()
	svc := relationships.NewService(repo, testDirectory())
	r := setupConnectionRouter(svc)

	w := doRequest(t, r, http.MethodGet, "/users/ana/connections/count", "ben", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	body := decode[gin.H](t, w)
	assert.Equal(t, "STORE_FAILURE", body["code"])
	assert.NotContains(t, body["error"], "connection refused")
	repo.AssertExpectations(t)
}

type stubRelationships struct {
	RelationshipService
	status *models.ConnectionView
}

func (s stubRelationships) GetStatus(context.Context, string, string) (*models.ConnectionView, error) {
	return s.status, nil
}

func TestGetStatusPassesViewThrough(t *testing.T) {
	view := models.ViewFor(models.Connection{ID: "c1", SenderID: "ana", ReceiverID: "ben", Status: models.ConnectionRejected}, "ana")
	r := setupConnectionRouter(stubRelationships{status: &view})

	w := doRequest(t, r, http.MethodGet, "/connections/status/ben", "ana", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[connectionResponse](t, w).Connection
	require.NotNil(t, got)
	assert.Equal(t, models.PerspectiveRejected, got.Perspective)
}
