// Package action executes the external API call configured on an Action
// node and formats the response fields surfaced as conversation context.
// Execution is best-effort: failures are reported in the result and logged,
// never propagated to the traversal path.
package action

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/voxflow/voxflow/internal/models"
)

// Request limits for external action endpoints.
const (
	// DefaultRequestTimeout bounds one external action call.
	DefaultRequestTimeout = 10 * time.Second
	// maxResponseBytes caps how much of an external response is read.
	maxResponseBytes = 1 << 20
)

// PhonePlaceholder is the endpoint template token replaced with the
// customer phone captured at call start.
const PhonePlaceholder = "{phone}"

// Result is the outcome of one action execution. Context is the formatted
// block injected into the live call; it may be empty when no mapped fields
// were enabled or present.
type Result struct {
	Success bool   `json:"success"`
	Context string `json:"context,omitempty"`
	Err     string `json:"error,omitempty"`
}

// Executor performs external action requests.
type Executor struct {
	httpClient *http.Client
}

// NewExecutor creates an Executor. A nil client gets the default timeout.
func NewExecutor(httpClient *http.Client) *Executor {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultRequestTimeout}
	}
	return &Executor{httpClient: httpClient}
}

// Execute substitutes the customer phone into the endpoint template,
// attaches the configured headers, issues a single read-only request, and
// extracts the enabled response mappings by JSON path into a short
// human-readable context block. It never panics and never returns a Go
// error: failures come back as Success=false with Err set.
func (e *Executor) Execute(ctx context.Context, cfg models.ApiConfig, customerPhone string) Result {
	if cfg.Endpoint == "" {
		return failure("action endpoint not configured")
	}
	if customerPhone == "" && strings.Contains(cfg.Endpoint, PhonePlaceholder) {
		slog.Warn("action.Execute: endpoint expects a phone but none was captured", "endpoint", cfg.Endpoint)
	}

	endpoint := strings.ReplaceAll(cfg.Endpoint, PhonePlaceholder, url.QueryEscape(customerPhone))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		slog.Error("action.Execute: failed to build request", "error", err, "endpoint", endpoint)
		return failure(fmt.Sprintf("invalid endpoint: %v", err))
	}
	for _, h := range cfg.Headers {
		if h.Key == "" {
			continue
		}
		req.Header.Set(h.Key, h.Value)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		slog.Warn("action.Execute: request failed", "error", err, "endpoint", endpoint)
		return failure(fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		slog.Warn("action.Execute: failed to read response", "error", err, "endpoint", endpoint)
		return failure(fmt.Sprintf("failed to read response: %v", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Warn("action.Execute: endpoint returned error status", "status", resp.StatusCode, "endpoint", endpoint)
		return failure(fmt.Sprintf("endpoint returned status %d", resp.StatusCode))
	}

	contextBlock := formatContext(body, cfg.ResponseMapping)
	slog.Debug("action.Execute: completed", "endpoint", endpoint, "context_length", len(contextBlock))
	return Result{Success: true, Context: contextBlock}
}

// formatContext extracts the enabled mappings by JSON path and renders them
// as "Label: value" lines under a short heading. Missing paths are skipped.
func formatContext(body []byte, mappings []models.ResponseMapping) string {
	var lines []string
	for _, m := range mappings {
		if !m.Enabled || m.Path == "" {
			continue
		}
		v := gjson.GetBytes(body, m.Path)
		if !v.Exists() {
			slog.Debug("action.formatContext: mapped path not present in response", "path", m.Path)
			continue
		}
		label := m.Label
		if label == "" {
			label = m.Path
		}
		lines = append(lines, fmt.Sprintf("%s: %s", label, v.String()))
	}
	if len(lines) == 0 {
		return ""
	}
	return "Customer context:\n" + strings.Join(lines, "\n")
}

func failure(msg string) Result {
	return Result{Success: false, Err: msg}
}
