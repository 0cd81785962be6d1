package v1

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/pmpcs/internal/domain"
)

func getSession(t *testing.T, e *echo.Echo, path, sessionID string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("session_id")
	c.SetParamValues(sessionID)
	return c, rec
}

func TestGetSession(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)
	sessionID := openSession(t, e, h)["session_id"].(string)

	c, rec := getSession(t, e, "/v1/session/"+sessionID, sessionID)
	require.NoError(t, h.GetSession(c))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, sessionID, body["session_id"])
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "0", body["paid_amount"])
	assert.Equal(t, "100", body["requested_amount"])
	assert.Equal(t, "user1", body["recipient_id"])
}

func TestGetSessionNotFound(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	c, rec := getSession(t, e, "/v1/session/missing", "missing")
	require.NoError(t, h.GetSession(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody(t, rec)["code"])
}

func TestGetSessionMessages(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)
	sessionID := openSession(t, e, h)["session_id"].(string)

	c, rec := postJSON(t, e, "/v1/paymentSent", fmt.Sprintf(`{"session_id": %q, "paid_amount": 10}`, sessionID))
	require.NoError(t, h.PaymentSent(c))
	require.Equal(t, http.StatusOK, rec.Code)

	c, rec = getSession(t, e, "/v1/session/"+sessionID+"/messages", sessionID)
	require.NoError(t, h.GetSessionMessages(c))
	require.Equal(t, http.StatusOK, rec.Code)

	messages, ok := decodeBody(t, rec)["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, messages, 2)
	assert.Equal(t, "request", messages[0].(map[string]interface{})["type"])
	assert.Equal(t, "sent", messages[1].(map[string]interface{})["type"])

	c, rec = getSession(t, e, "/v1/session/missing/messages", "missing")
	require.NoError(t, h.GetSessionMessages(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	e := echo.New()
	h, db := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, h.Health(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])

	require.NoError(t, db.Close())
	rec = httptest.NewRecorder()
	require.NoError(t, h.Health(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatusFor(t *testing.T) {
	cases := map[domain.ErrorKind]int{
		domain.KindValidation: http.StatusUnprocessableEntity,
		domain.KindDecode:     http.StatusBadRequest,
		domain.KindNotFound:   http.StatusNotFound,
		domain.KindConflict:   http.StatusConflict,
		domain.KindStore:      http.StatusServiceUnavailable,
		domain.KindUnknown:    http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, StatusFor(kind), kind)
	}
	assert.Equal(t, http.StatusInternalServerError, StatusFor(domain.KindOf(errors.New("boom"))))
}
