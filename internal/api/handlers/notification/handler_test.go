package notification

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushbox/outbox-dispatcher/internal/api/dto"
	mocks "github.com/pushbox/outbox-dispatcher/internal/mocks/api/handlers/notification"
	"github.com/pushbox/outbox-dispatcher/internal/model"
	"github.com/pushbox/outbox-dispatcher/internal/outbox"
)

func setupHandler(t *testing.T) (*Handler, *mocks.MockStore, *mocks.MockStatusReader) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockStore(ctrl)
	status := mocks.NewMockStatusReader(ctrl)
	handler := NewHandler(store, status, validator.New(), model.DefaultMaxRetries)
	return handler, store, status
}

func doRequest(method, target string, body []byte, params gin.Params) (*httptest.ResponseRecorder, *gin.Context) {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	c.Params = params
	return w, c
}

func TestHandler_Create_Accepted(t *testing.T) {
	handler, store, _ := setupHandler(t)

	reqBody, _ := json.Marshal(dto.CreateRequest{
		TargetPlatform: "fake",
		DeviceToken:    "tok",
		Title:          "hi",
	})

	w, c := doRequest(http.MethodPost, "/notifications", reqBody, nil)

	store.EXPECT().GetByIdempotencyKey(gomock.Any(), gomock.Any()).Return(nil, outbox.ErrNotFound)
	store.EXPECT().Insert(gomock.Any(), gomock.AssignableToTypeOf(model.NotificationMessage{})).Return(nil)

	handler.Create(c)

	assert.Equal(t, http.StatusAccepted, w.Result().StatusCode)

	var resp dto.CreateResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, string(model.StatusPending), resp.Status)
}

func TestHandler_Create_MissingRequiredField(t *testing.T) {
	handler, _, _ := setupHandler(t)

	reqBody, _ := json.Marshal(dto.CreateRequest{DeviceToken: "tok", Title: "hi"})
	w, c := doRequest(http.MethodPost, "/notifications", reqBody, nil)

	handler.Create(c)

	assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
}

func TestHandler_Create_IdempotencyConflict(t *testing.T) {
	handler, store, _ := setupHandler(t)

	existing := &model.NotificationMessage{ID: uuid.New(), Status: model.StatusSent}

	reqBody, _ := json.Marshal(dto.CreateRequest{
		IdempotencyKey: "dup",
		TargetPlatform: "fake",
		DeviceToken:    "tok",
		Title:          "hi",
	})
	w, c := doRequest(http.MethodPost, "/notifications", reqBody, nil)

	store.EXPECT().GetByIdempotencyKey(gomock.Any(), "dup").Return(existing, nil)

	handler.Create(c)

	assert.Equal(t, http.StatusConflict, w.Result().StatusCode)

	var resp dto.CreateResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, existing.ID.String(), resp.ID)
	assert.Equal(t, string(model.StatusSent), resp.Status)
}

func TestHandler_GetStatus_Success(t *testing.T) {
	handler, _, status := setupHandler(t)
	id := uuid.New()

	w, c := doRequest(http.MethodGet, "/notifications/"+id.String(), nil, gin.Params{{Key: "id", Value: id.String()}})

	status.EXPECT().GetStatus(gomock.Any(), id).Return(&model.NotificationMessage{
		ID: id, Status: model.StatusSent, TargetPlatform: "fake",
	}, nil)

	handler.GetStatus(c)

	assert.Equal(t, http.StatusOK, w.Result().StatusCode)
}

func TestHandler_GetStatus_NotFound(t *testing.T) {
	handler, _, status := setupHandler(t)
	id := uuid.New()

	w, c := doRequest(http.MethodGet, "/notifications/"+id.String(), nil, gin.Params{{Key: "id", Value: id.String()}})

	status.EXPECT().GetStatus(gomock.Any(), id).Return(nil, outbox.ErrNotFound)

	handler.GetStatus(c)

	assert.Equal(t, http.StatusNotFound, w.Result().StatusCode)
}

func TestHandler_GetStatus_InvalidID(t *testing.T) {
	handler, _, _ := setupHandler(t)

	w, c := doRequest(http.MethodGet, "/notifications/not-a-uuid", nil, gin.Params{{Key: "id", Value: "not-a-uuid"}})

	handler.GetStatus(c)

	assert.Equal(t, http.StatusBadRequest, w.Result().StatusCode)
}
