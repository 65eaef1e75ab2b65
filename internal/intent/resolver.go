// Package intent resolves a spoken utterance to one label out of a small
// candidate set. Resolution is tiered: a fast local fuzzy match, then a
// remote classification when a GenAI client is configured, then a local
// fallback. Resolve never returns an error and never returns an intent
// outside the candidate list.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"

	"github.com/voxflow/voxflow/internal/genai"
)

// Confidence levels per tier. The numbers rank tiers relative to each
// other; they are not calibrated probabilities.
const (
	ConfidenceLocal    = 0.9
	ConfidenceRemote   = 0.8
	ConfidenceFallback = 0.3
)

// Resolution is the outcome of resolving one utterance. An empty Intent
// means no candidate matched.
type Resolution struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Resolver resolves utterances against candidate labels. A nil GenAI
// client disables the remote tier; local matching still works.
type Resolver struct {
	genaiClient genai.ClientInterface
}

// NewResolver creates a resolver. genaiClient may be nil.
func NewResolver(genaiClient genai.ClientInterface) *Resolver {
	return &Resolver{genaiClient: genaiClient}
}

// Resolve maps the utterance to one of the candidates. The returned intent,
// when non-empty, is byte-identical to one element of candidates. Transport
// failures in the remote tier are logged and degrade to the fallback tier;
// Resolve itself never fails.
func (r *Resolver) Resolve(ctx context.Context, utterance string, candidates []string) Resolution {
	if len(candidates) == 0 {
		slog.Debug("intent.Resolve: no candidates provided")
		return Resolution{Reasoning: "no candidates"}
	}

	// Tier 1: local fuzzy match, no network.
	if match := fuzzyMatch(utterance, candidates); match != "" {
		slog.Debug("intent.Resolve: local match", "utterance", utterance, "intent", match)
		return Resolution{Intent: match, Confidence: ConfidenceLocal, Reasoning: "local match"}
	}

	// Tier 2: remote classification, only when a credential is configured.
	if r.genaiClient != nil {
		if res, ok := r.classifyRemote(ctx, utterance, candidates); ok {
			return res
		}
	}

	// Tier 3: fallback. Tier 1 found nothing, so the intent is empty.
	slog.Debug("intent.Resolve: no match from any tier", "utterance", utterance)
	return Resolution{Confidence: ConfidenceFallback, Reasoning: "fallback"}
}

// classifyRemote asks the language model to pick one candidate. The raw
// reply is never trusted directly: it is re-run through the local fuzzy
// matcher against the candidate list to guarantee the return contract.
// Returns ok=false when the remote tier produced nothing usable.
func (r *Resolver) classifyRemote(ctx context.Context, utterance string, candidates []string) (Resolution, bool) {
	var sb strings.Builder
	sb.WriteString("You classify what a phone caller wants. Choose the single best match for the caller's words from the numbered options:\n")
	for i, c := range candidates {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, c)
	}
	sb.WriteString("Reply with an exact copy of one option's text, nothing else. If none of the options fit, reply with the single word: none")

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(sb.String()),
		openai.UserMessage(utterance),
	}

	reply, err := r.genaiClient.GenerateWithMessages(ctx, messages)
	if err != nil {
		slog.Warn("intent.classifyRemote: classification call failed", "error", err)
		return Resolution{}, false
	}

	reply = strings.TrimSpace(reply)
	if reply == "" || strings.EqualFold(reply, "none") {
		slog.Debug("intent.classifyRemote: model declined to match", "utterance", utterance)
		return Resolution{Confidence: ConfidenceRemote, Reasoning: "model found no match"}, true
	}

	if match := fuzzyMatch(reply, candidates); match != "" {
		slog.Debug("intent.classifyRemote: model match", "utterance", utterance, "reply", reply, "intent", match)
		return Resolution{Intent: match, Confidence: ConfidenceRemote, Reasoning: "model classification"}, true
	}

	slog.Warn("intent.classifyRemote: model reply matched no candidate", "reply", reply)
	return Resolution{}, false
}

// fuzzyMatch returns the first candidate, in candidate order, that matches
// the utterance by any of three rules: case-insensitive equality,
// case-insensitive substring containment in either direction, or token
// overlap (a token longer than two characters of one side contained in the
// other). Returns "" when nothing matches.
func fuzzyMatch(utterance string, candidates []string) string {
	u := strings.ToLower(strings.TrimSpace(utterance))
	if u == "" {
		return ""
	}

	for _, candidate := range candidates {
		c := strings.ToLower(strings.TrimSpace(candidate))
		if c == "" {
			continue
		}
		if u == c {
			return candidate
		}
		if strings.Contains(u, c) || strings.Contains(c, u) {
			return candidate
		}
		if tokenOverlap(u, c) {
			return candidate
		}
	}
	return ""
}

// tokenOverlap reports whether any token of length > 2 from one string is
// contained in the other.
func tokenOverlap(a, b string) bool {
	for _, tok := range strings.Fields(a) {
		if len(tok) > 2 && strings.Contains(b, tok) {
			return true
		}
	}
	for _, tok := range strings.Fields(b) {
		if len(tok) > 2 && strings.Contains(a, tok) {
			return true
		}
	}
	return false
}
