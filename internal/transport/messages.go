// Package transport implements the per-connection plumbing between a duplex
// client connection and the session worker: message classification, the four
// bounded queues, and the single-reader/single-writer loops around them.
package transport

import (
	"encoding/json"
	"fmt"
	"time"
)

// InboundKind is the closed set of destinations an inbound message can have.
type InboundKind int

const (
	// KindTask is the default: a new unit of work for the session worker.
	KindTask InboundKind = iota
	// KindInterrupt requests cancellation of a session's in-flight turn.
	KindInterrupt
	// KindPermissionResponse carries a tool-approval decision.
	KindPermissionResponse
	// KindPong is a heartbeat reply; consumed and discarded, never queued.
	KindPong
)

// Inbound is a classified client message.
type Inbound struct {
	Kind      InboundKind
	SessionID string
	Content   string
	Source    string
	RequestID string
	Allow     string
	Raw       json.RawMessage
}

// Approved maps the permission response's allow field to a decision:
// "y" and "yes" approve, anything else denies.
func (m *Inbound) Approved() bool {
	return m.Allow == "y" || m.Allow == "yes"
}

type inboundWire struct {
	Type      string  `json:"type"`
	SessionID string  `json:"session_id"`
	RequestID string  `json:"request_id"`
	Allow     *string `json:"allow"`
	Content   string  `json:"content"`
	Source    string  `json:"source"`
}

// ParseInbound decodes and classifies one client frame. A frame that is not a
// JSON object is an error; the router drops it and keeps reading.
func ParseInbound(data []byte) (*Inbound, error) {
	var wire inboundWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("transport.ParseInbound: %w", err)
	}

	msg := &Inbound{
		SessionID: wire.SessionID,
		Content:   wire.Content,
		Source:    wire.Source,
		RequestID: wire.RequestID,
		Raw:       json.RawMessage(data),
	}
	if wire.Allow != nil {
		msg.Allow = *wire.Allow
	}

	switch {
	case wire.Type == "pong":
		msg.Kind = KindPong
	case wire.Type == "interrupt":
		msg.Kind = KindInterrupt
	case wire.Type == "permission_response" || wire.Allow != nil:
		msg.Kind = KindPermissionResponse
	default:
		msg.Kind = KindTask
	}

	return msg, nil
}

// Outbound message shapes. Engine events pass through the outbound queue as
// raw bytes; these cover the frames the core itself produces.

type pingMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

type permissionRequestMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	ToolName  string          `json:"tool_name"`
	InputData json.RawMessage `json:"input_data,omitempty"`
}

type interruptedMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type interruptAckMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type errorMessage struct {
	Type      string `json:"type"`
	Error     string `json:"error"`
	SessionID string `json:"session_id,omitempty"`
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// All outbound shapes are plain structs; marshalling cannot fail.
		panic(fmt.Sprintf("transport: marshal outbound message: %v", err))
	}
	return data
}

// PingFrame builds a heartbeat probe.
func PingFrame(now time.Time) []byte {
	return mustMarshal(pingMessage{Type: "ping", Timestamp: now})
}

// PermissionRequestFrame builds a tool-approval request.
func PermissionRequestFrame(requestID, toolName string, input json.RawMessage) []byte {
	return mustMarshal(permissionRequestMessage{
		Type:      "permission_request",
		RequestID: requestID,
		ToolName:  toolName,
		InputData: input,
	})
}

// InterruptedFrame signals that a turn stopped early on client request.
func InterruptedFrame(sessionID string) []byte {
	return mustMarshal(interruptedMessage{Type: "interrupted", SessionID: sessionID})
}

// InterruptAckFrame acknowledges receipt of an interrupt request.
func InterruptAckFrame(sessionID string) []byte {
	return mustMarshal(interruptAckMessage{Type: "interrupt_ack", SessionID: sessionID})
}

// ErrorFrame reports a turn-level error to the client.
func ErrorFrame(sessionID string, err error) []byte {
	return mustMarshal(errorMessage{Type: "error", Error: err.Error(), SessionID: sessionID})
}
