package v1

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/xiaot623/pmpcs/internal/domain"
)

// PaymentRequestBody is the body of POST /v1/paymentRequest.
type PaymentRequestBody struct {
	Amount      decimal.Decimal     `json:"amount"`
	Currency    string              `json:"currency"`
	RecipientID string              `json:"recipient_id"`
	Description string              `json:"description"`
	Preferences []domain.Preference `json:"preferences"`
	Expiry      string              `json:"expiry"`
}

// expiryLayouts accepts RFC3339 as well as ISO timestamps without a zone,
// which are read as UTC.
var expiryLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseExpiry(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("expiry is required")
	}
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("expiry %q is not an ISO 8601 timestamp", raw)
}

// PaymentRequest opens a payment session.
// POST /v1/paymentRequest
func (h *Handler) PaymentRequest(c echo.Context) error {
	ctx := c.Request().Context()

	var body PaymentRequestBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	expiry, err := parseExpiry(body.Expiry)
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, map[string]string{
			"error": err.Error(),
			"code":  string(domain.KindValidation),
		})
	}

	resp, err := h.service.RequestPayment(ctx, domain.PaymentRequest{
		Amount:      body.Amount,
		Currency:    body.Currency,
		RecipientID: body.RecipientID,
		Description: body.Description,
		Preferences: body.Preferences,
		Expiry:      expiry,
	})
	if err != nil {
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, resp)
}

// PaymentSent records that the payee sent funds.
// POST /v1/paymentSent
func (h *Handler) PaymentSent(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.PaymentSent
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.SessionID == "" {
		return badRequest(c, "session_id is required")
	}

	resp, err := h.service.RecordSent(ctx, req)
	if err != nil {
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, resp)
}

// PaymentReceived validates a confirmation token and closes the session.
// POST /v1/paymentReceived
func (h *Handler) PaymentReceived(c echo.Context) error {
	ctx := c.Request().Context()

	var req domain.PaymentReceived
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.EncodedMessage == "" {
		return badRequest(c, "encoded_message is required")
	}

	resp, err := h.service.RecordReceived(ctx, req)
	if err != nil {
		return errorJSON(c, err)
	}

	return c.JSON(http.StatusOK, resp)
}
