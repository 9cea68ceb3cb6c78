// Package rpcmsg defines the JSON-RPC 2.0 message shape shared by the
// Supervisor (talking to the child language server) and the Session
// router (talking to the client). It is a thin, hand-rolled tagged union
// rather than a reuse of sourcegraph/jsonrpc2's Conn machinery, because
// the Supervisor needs direct control over id-keyed pending-map semantics
// (register before send, no put-back queue) — see internal/supervisor.
package rpcmsg

import (
	"encoding/json"

	"github.com/sourcegraph/jsonrpc2"
)

// Non-standard LSP error code not exported by sourcegraph/jsonrpc2.
const CodeServerNotInitialized jsonrpc2.ErrorCode = -32002

// Message is a tagged variant over Request, Response and Notification, as
// described in spec.md's Data Model. Request has Method and ID; Response
// has ID and exactly one of Result/Error; Notification has Method, no ID.
type Message struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      interface{}      `json:"id,omitempty"`
	Method  string           `json:"method,omitempty"`
	Params  json.RawMessage  `json:"params,omitempty"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *jsonrpc2.Error  `json:"error,omitempty"`
}

// HasID reports whether the message carries an id field at all
// (distinguishing a Request from a Notification, and a Response from
// neither).
func (m *Message) HasID() bool {
	return m.ID != nil
}

// IsRequest reports whether this message looks like a request (has
// Method and ID) as opposed to a bare notification.
func (m *Message) IsRequest() bool {
	return m.Method != "" && m.HasID()
}

// IsNotification reports whether this message has a Method but no ID.
func (m *Message) IsNotification() bool {
	return m.Method != "" && !m.HasID()
}

// IsResponse reports whether this message looks like a response: it has
// an ID but no Method.
func (m *Message) IsResponse() bool {
	return m.Method == "" && m.HasID()
}

// NewRequest builds a request message with the given id and JSON-encoded
// params.
func NewRequest(id interface{}, method string, params interface{}) (*Message, error) {
	raw, err := encodeParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: "2.0", ID: id, Method: method, Params: raw}, nil
}

// NewNotification builds a notification message (no id).
func NewNotification(method string, params interface{}) (*Message, error) {
	raw, err := encodeParams(params)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: "2.0", Method: method, Params: raw}, nil
}

// NewResponse builds a successful response echoing id.
func NewResponse(id interface{}, result interface{}) (*Message, error) {
	raw, err := encodeParams(result)
	if err != nil {
		return nil, err
	}
	return &Message{JSONRPC: "2.0", ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response echoing id (id may be nil for
// parse errors per JSON-RPC 2.0).
func NewErrorResponse(id interface{}, code jsonrpc2.ErrorCode, message string) *Message {
	return &Message{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &jsonrpc2.Error{Code: code, Message: message},
	}
}

func encodeParams(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Decode parses a single JSON-RPC message from raw bytes.
func Decode(raw json.RawMessage) (*Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
