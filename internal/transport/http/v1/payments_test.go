package v1

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/pmpcs/internal/store"
	"github.com/xiaot623/pmpcs/tests/helpers"
)

func newTestHandler(t *testing.T) (*Handler, *store.SQLiteStore) {
	t.Helper()
	svc, db := helpers.NewTestService(t)
	return NewHandler(svc), db
}

func postJSON(t *testing.T, e *echo.Echo, path, body string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func requestBody(expiry time.Time) string {
	return fmt.Sprintf(`{
		"amount": 100.00,
		"currency": "USD",
		"recipient_id": "user1",
		"description": "Test payment",
		"preferences": [{"method": "BTC", "wallet": "test_address"}],
		"expiry": %q
	}`, expiry.UTC().Format(time.RFC3339))
}

// openSession runs POST /v1/paymentRequest and returns the response body.
func openSession(t *testing.T, e *echo.Echo, h *Handler) map[string]interface{} {
	t.Helper()
	c, rec := postJSON(t, e, "/v1/paymentRequest", requestBody(time.Now().Add(time.Hour)))
	require.NoError(t, h.PaymentRequest(c))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeBody(t, rec)
}

func TestPaymentRequest(t *testing.T) {
	e := echo.New()
	h, db := newTestHandler(t)

	resp := openSession(t, e, h)
	sessionID, _ := resp["session_id"].(string)
	require.NotEmpty(t, sessionID)
	assert.NotEmpty(t, resp["encoded_message"])

	session, err := db.GetSession(t.Context(), sessionID)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "USD", session.Currency)
}

func TestPaymentRequestNaiveExpiry(t *testing.T) {
	e := echo.New()
	h, db := newTestHandler(t)

	expiry := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
	body := fmt.Sprintf(`{"amount": 5, "currency": "usd", "recipient_id": "user1", "preferences": [{"method": "BTC"}], "expiry": %q}`,
		expiry.Format("2006-01-02T15:04:05"))
	c, rec := postJSON(t, e, "/v1/paymentRequest", body)
	require.NoError(t, h.PaymentRequest(c))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	session, err := db.GetSession(t.Context(), decodeBody(t, rec)["session_id"].(string))
	require.NoError(t, err)
	assert.True(t, session.ExpiryTimestamp.Equal(expiry))
}

func TestPaymentRequestErrors(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)

	cases := []struct {
		name string
		body string
		code int
	}{
		{"invalid json", `{"amount":`, http.StatusBadRequest},
		{"amount not a number", `{"amount": "invalid", "currency": "USD", "recipient_id": "u", "preferences": [{"method": "BTC"}], "expiry": "` + future + `"}`, http.StatusBadRequest},
		{"missing expiry", `{"amount": 1, "currency": "USD", "recipient_id": "u", "preferences": [{"method": "BTC"}]}`, http.StatusUnprocessableEntity},
		{"bad expiry", `{"amount": 1, "currency": "USD", "recipient_id": "u", "preferences": [{"method": "BTC"}], "expiry": "tomorrow"}`, http.StatusUnprocessableEntity},
		{"past expiry", requestBody(time.Now().Add(-time.Hour)), http.StatusUnprocessableEntity},
		{"zero amount", `{"amount": 0, "currency": "USD", "recipient_id": "u", "preferences": [{"method": "BTC"}], "expiry": "` + future + `"}`, http.StatusUnprocessableEntity},
		{"no preferences", `{"amount": 1, "currency": "USD", "recipient_id": "u", "preferences": [], "expiry": "` + future + `"}`, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, rec := postJSON(t, e, "/v1/paymentRequest", tc.body)
			require.NoError(t, h.PaymentRequest(c))
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decodeBody(t, rec)["error"])
		})
	}
}

func TestPaymentSentAndReceived(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)
	sessionID := openSession(t, e, h)["session_id"].(string)

	c, rec := postJSON(t, e, "/v1/paymentSent", fmt.Sprintf(`{"session_id": %q, "paid_amount": 100.0, "transaction_proof": "tx_1"}`, sessionID))
	require.NoError(t, h.PaymentSent(c))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sent := decodeBody(t, rec)
	assert.Equal(t, "sent", sent["status"])
	assert.Equal(t, "100", sent["paid_amount"])
	token, _ := sent["confirmation_message"].(string)
	require.NotEmpty(t, token)

	// Duplicate submission
	c, rec = postJSON(t, e, "/v1/paymentSent", fmt.Sprintf(`{"session_id": %q, "paid_amount": 100.0}`, sessionID))
	require.NoError(t, h.PaymentSent(c))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decodeBody(t, rec)["code"])

	c, rec = postJSON(t, e, "/v1/paymentReceived", fmt.Sprintf(`{"encoded_message": %q}`, token))
	require.NoError(t, h.PaymentReceived(c))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	received := decodeBody(t, rec)
	assert.Equal(t, true, received["validation_result"])
	assert.Equal(t, "received", received["updated_status"])

	c, rec = postJSON(t, e, "/v1/paymentReceived", fmt.Sprintf(`{"encoded_message": %q}`, token))
	require.NoError(t, h.PaymentReceived(c))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPaymentSentErrors(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)
	sessionID := openSession(t, e, h)["session_id"].(string)

	cases := []struct {
		name string
		body string
		code int
		kind string
	}{
		{"invalid json", `not json`, http.StatusBadRequest, "validation"},
		{"missing session", `{"paid_amount": 1}`, http.StatusBadRequest, "validation"},
		{"unknown session", `{"session_id": "missing", "paid_amount": 1}`, http.StatusNotFound, "not_found"},
		{"zero paid", fmt.Sprintf(`{"session_id": %q, "paid_amount": 0}`, sessionID), http.StatusUnprocessableEntity, "validation"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, rec := postJSON(t, e, "/v1/paymentSent", tc.body)
			require.NoError(t, h.PaymentSent(c))
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
			assert.Equal(t, tc.kind, decodeBody(t, rec)["code"])
		})
	}
}

func TestPaymentReceivedErrors(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)
	opened := openSession(t, e, h)

	cases := []struct {
		name string
		body string
		code int
	}{
		{"missing token", `{}`, http.StatusBadRequest},
		{"corrupt token", `{"encoded_message": "%%%"}`, http.StatusBadRequest},
		// The request token references a session but is not a sent confirmation.
		{"request token", fmt.Sprintf(`{"encoded_message": %q}`, opened["encoded_message"]), http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, rec := postJSON(t, e, "/v1/paymentReceived", tc.body)
			require.NoError(t, h.PaymentReceived(c))
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
		})
	}
}
