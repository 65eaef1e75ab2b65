// Package platform translates call-platform webhooks into the internal call
// event union. The Twilio adapter maps Voice status callbacks onto
// call-start/call-end/error events and verifies webhook signatures.
package platform

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	twclient "github.com/twilio/twilio-go/client"

	"github.com/voxflow/voxflow/internal/models"
)

// ErrIgnoredStatus marks callback statuses that carry no traversal meaning
// (queued, initiated, ringing). Callers acknowledge and move on.
var ErrIgnoredStatus = errors.New("call status carries no traversal event")

// TwilioAdapter validates and translates Twilio Voice webhooks.
type TwilioAdapter struct {
	validator twclient.RequestValidator
	enabled   bool
	baseURL   string
}

// NewTwilioAdapter creates an adapter. An empty authToken disables signature
// validation, which is only acceptable in local development. baseURL is the
// public origin Twilio was configured to call, used to reconstruct the
// signed URL behind proxies.
func NewTwilioAdapter(authToken, baseURL string) *TwilioAdapter {
	if authToken == "" {
		slog.Warn("TwilioAdapter: no auth token configured, webhook signatures will not be verified")
	}
	return &TwilioAdapter{
		validator: twclient.NewRequestValidator(authToken),
		enabled:   authToken != "",
		baseURL:   strings.TrimSuffix(baseURL, "/"),
	}
}

// ValidateRequest checks the X-Twilio-Signature header against the request's
// form parameters. The request form must already be parsed.
func (a *TwilioAdapter) ValidateRequest(r *http.Request) bool {
	if !a.enabled {
		return true
	}
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	params := make(map[string]string, len(r.PostForm))
	for key, values := range r.PostForm {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	url := a.baseURL + r.URL.RequestURI()
	return a.validator.Validate(url, params, signature)
}

// ParseStatusCallback maps one Twilio Voice status callback onto a CallEvent.
// Statuses before the call is answered return ErrIgnoredStatus.
func (a *TwilioAdapter) ParseStatusCallback(r *http.Request) (models.CallEvent, error) {
	if err := r.ParseForm(); err != nil {
		return models.CallEvent{}, fmt.Errorf("failed to parse status callback form: %w", err)
	}

	callSid := r.FormValue("CallSid")
	if callSid == "" {
		return models.CallEvent{}, fmt.Errorf("status callback missing CallSid")
	}
	status := r.FormValue("CallStatus")

	switch status {
	case "in-progress", "answered":
		return models.CallEvent{
			Type:   models.EventCallStart,
			CallID: callSid,
			Payload: &models.CallStartPayload{
				CustomerPhone: customerNumber(r),
			},
		}, nil
	case "completed":
		return models.CallEvent{Type: models.EventCallEnd, CallID: callSid}, nil
	case "failed", "busy", "no-answer", "canceled":
		return models.CallEvent{
			Type:   models.EventError,
			CallID: callSid,
			Error:  fmt.Sprintf("call ended with status %s", status),
		}, nil
	case "queued", "initiated", "ringing":
		return models.CallEvent{}, fmt.Errorf("status %s: %w", status, ErrIgnoredStatus)
	default:
		return models.CallEvent{}, fmt.Errorf("unknown call status %q", status)
	}
}

// customerNumber picks the customer's leg of the call: the dialed number on
// outbound calls, the caller id on inbound ones.
func customerNumber(r *http.Request) string {
	direction := r.FormValue("Direction")
	if strings.HasPrefix(direction, "outbound") {
		return r.FormValue("To")
	}
	return r.FormValue("From")
}
