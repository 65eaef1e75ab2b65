// Package callctl pushes system-level context into an in-progress call
// through the opaque call-control handle captured at call start. Injection
// is fire-and-forget: the traversal engine only logs failures.
package callctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// DefaultInjectTimeout bounds one injection request.
const DefaultInjectTimeout = 5 * time.Second

// Injector sends a system context string into a live call identified by
// its control handle.
type Injector interface {
	Inject(ctx context.Context, controlURL, content string) error
}

// injectPayload is the message shape the call platform accepts on its
// control endpoint.
type injectPayload struct {
	Type    string        `json:"type"`
	Message injectMessage `json:"message"`
}

type injectMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// HTTPInjector implements Injector over the call platform's per-call
// control URL.
type HTTPInjector struct {
	httpClient *http.Client
}

// NewHTTPInjector creates an HTTPInjector. A nil client gets the default timeout.
func NewHTTPInjector(httpClient *http.Client) *HTTPInjector {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultInjectTimeout}
	}
	return &HTTPInjector{httpClient: httpClient}
}

// Inject POSTs the content as a system message to the control URL.
func (i *HTTPInjector) Inject(ctx context.Context, controlURL, content string) error {
	if controlURL == "" {
		return fmt.Errorf("no call control handle")
	}

	body, err := json.Marshal(injectPayload{
		Type:    "add-message",
		Message: injectMessage{Role: "system", Content: content},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal injection payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, controlURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build injection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("injection request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("call control endpoint returned status %d", resp.StatusCode)
	}

	slog.Debug("callctl.Inject: context injected", "content_length", len(content))
	return nil
}
