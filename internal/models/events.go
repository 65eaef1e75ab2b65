// Package models defines call telemetry event types consumed by the traversal engine.
package models

// EventType discriminates the CallEvent union.
type EventType string

const (
	// EventCallStart signals a new live call; its payload carries the
	// customer phone and the opaque call-control handle.
	EventCallStart EventType = "call-start"
	// EventSpeechStart signals the agent started speaking.
	EventSpeechStart EventType = "speech-start"
	// EventSpeechEnd signals the agent finished speaking.
	EventSpeechEnd EventType = "speech-end"
	// EventMessage carries one transcript line with its speaker role.
	EventMessage EventType = "message"
	// EventCallEnd signals the call finished normally.
	EventCallEnd EventType = "call-end"
	// EventError signals a platform error; the traversal hard-resets.
	EventError EventType = "error"
)

// Speaker roles on message events.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// CallStartPayload is the data attached to a call-start event. Both fields
// are optional; absence is logged, never fatal.
type CallStartPayload struct {
	// FlowID names the flow design this call was configured with.
	FlowID string `json:"flow_id,omitempty"`
	// CustomerPhone is captured once and reused for {phone} substitution.
	CustomerPhone string `json:"customer_phone,omitempty"`
	// ControlURL is the opaque call-control handle used to inject context
	// into the live call.
	ControlURL string `json:"control_url,omitempty"`
}

// CallEvent is one telemetry event from the call platform. Events arrive on
// a single asynchronous stream per call and are applied one at a time.
type CallEvent struct {
	Type   EventType `json:"type"`
	CallID string    `json:"call_id"`

	// Role and Transcript are set on message events.
	Role       string `json:"role,omitempty"`
	Transcript string `json:"transcript,omitempty"`

	// Payload is set on call-start events.
	Payload *CallStartPayload `json:"payload,omitempty"`

	// Error is set on error events.
	Error string `json:"error,omitempty"`
}

// IsValidEventType checks if the given event type is part of the union.
func IsValidEventType(et EventType) bool {
	switch et {
	case EventCallStart, EventSpeechStart, EventSpeechEnd, EventMessage, EventCallEnd, EventError:
		return true
	default:
		return false
	}
}
