package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-sync/internal/mocks"
	"chat-sync/internal/session"
	msgsync "chat-sync/internal/sync"
)

func newTestRouter(t *testing.T, tenantID string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := zap.NewNop().Sugar()
	sess := session.New(session.Config{
		TenantID:       tenantID,
		Self:           "me",
		RequestTimeout: time.Second,
	}, mocks.NewFakeConnection(), new(mocks.APIClientMock), msgsync.New(time.Minute, log), nil, log)

	h := NewSessionHandler(sess)
	r := gin.New()
	r.GET("/state", h.GetState)
	r.POST("/conversation/peer", h.SelectPeer)
	r.POST("/conversation/send", h.Send)
	r.POST("/conversation/history/retry", h.RetryHistory)
	r.POST("/conversation/typing", h.SetTyping)
	return r
}

func doJSON(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGetStateReturnsSnapshot(t *testing.T) {
	r := newTestRouter(t, "acme")

	w := doJSON(r, http.MethodGet, "/state", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"connection_state"`)
	assert.Contains(t, w.Body.String(), `"messages"`)
}

func TestSelectPeerAccepted(t *testing.T) {
	r := newTestRouter(t, "acme")

	w := doJSON(r, http.MethodPost, "/conversation/peer", `{"peer":"bob"}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "bob")
}

func TestSelectPeerInvalidConversation(t *testing.T) {
	// An empty tenant makes every non-empty peer unresolvable.
	r := newTestRouter(t, "")

	w := doJSON(r, http.MethodPost, "/conversation/peer", `{"peer":"bob"}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "error")
}

func TestSelectPeerMalformedBody(t *testing.T) {
	r := newTestRouter(t, "acme")

	w := doJSON(r, http.MethodPost, "/conversation/peer", `{`)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSendWithoutActivePeer(t *testing.T) {
	r := newTestRouter(t, "acme")

	w := doJSON(r, http.MethodPost, "/conversation/send", `{"content":"hi"}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), session.ErrNoActivePeer.Error())
}

func TestSendRequiresContent(t *testing.T) {
	r := newTestRouter(t, "acme")

	w := doJSON(r, http.MethodPost, "/conversation/send", `{}`)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRetryHistoryAccepted(t *testing.T) {
	r := newTestRouter(t, "acme")

	w := doJSON(r, http.MethodPost, "/conversation/history/retry", "")

	require.Equal(t, http.StatusAccepted, w.Code)
}

func TestSetTypingNoContent(t *testing.T) {
	r := newTestRouter(t, "acme")

	w := doJSON(r, http.MethodPost, "/conversation/typing", `{"typing":true}`)

	require.Equal(t, http.StatusNoContent, w.Code)
}
