// Server-initiated message handling: every inbound message the Supervisor
// hands to the notification sink (progress reports, diagnostics, log
// messages, and the handful of server-initiated requests editors are
// expected to acknowledge) is forwarded verbatim to the client; the three
// server-initiated requests handled below additionally get a synthesized
// local reply — it never reaches a language-model or tool layer, there is
// none here.
//
// Ported from the teacher's lsp/handler.go ClientHandler.Handle switch
// and lsp/progress.go's ProgressTracker, adapted from a jsonrpc2.Handler
// callback (driven by a jsonrpc2.Conn) to a plain function invoked
// directly by internal/supervisor.Supervisor's notification sink — this
// package never constructs a jsonrpc2.Conn (see internal/frame's design
// note on why the Supervisor hand-rolls its own reader loop instead of
// delegating to jsonrpc2.Stream).
package session

import (
	"encoding/json"
	"fmt"

	"github.com/Berri-bot/mastermind-smart-suggestions/internal/logger"
	"github.com/Berri-bot/mastermind-smart-suggestions/internal/rpcmsg"
)

// handleServerMessage processes one message arriving from the language
// server with no matching pending request id: a notification, or a
// server-initiated request the gateway must acknowledge on the client's
// behalf.
func (s *Session) handleServerMessage(msg *rpcmsg.Message) {
	switch msg.Method {
	case "window/workDoneProgress/create", "client/registerCapability":
		// LSP clients are expected to just acknowledge these. Forward the
		// raw message to the editor for visibility, then reply success to
		// the server directly from the gateway.
		s.forwardToClient(msg)
		if msg.HasID() {
			s.ackEmpty(msg.ID)
		}
		return

	case "workspace/configuration":
		s.forwardToClient(msg)
		if msg.HasID() {
			if err := s.sv.Send(mustResponse(msg.ID, []interface{}{})); err != nil {
				logger.Warn(fmt.Sprintf("session[%s]: replying to workspace/configuration: %v", s.id, err))
			}
		}
		return

	default:
		s.forwardToClient(msg)
	}
}

// forwardToClient relays msg to the client transport verbatim, as JSON
// text, matching the "install a notification sink that forwards every
// received notification verbatim to the client transport" handshake step.
func (s *Session) forwardToClient(msg *rpcmsg.Message) {
	body, err := json.Marshal(msg)
	if err != nil {
		logger.Error(fmt.Sprintf("session[%s]: marshaling server message for client: %v", s.id, err))
		return
	}
	if err := s.conn.WriteMessage(string(body)); err != nil {
		logger.Warn(fmt.Sprintf("session[%s]: forwarding to client: %v", s.id, err))
	}
}

func (s *Session) ackEmpty(id interface{}) {
	if err := s.sv.Send(mustResponse(id, map[string]interface{}{})); err != nil {
		logger.Warn(fmt.Sprintf("session[%s]: acking server request: %v", s.id, err))
	}
}

func mustResponse(id interface{}, result interface{}) *rpcmsg.Message {
	msg, err := rpcmsg.NewResponse(id, result)
	if err != nil {
		// result is always one of the literal values passed above; a
		// marshal failure here would be a programming error.
		panic(fmt.Sprintf("session: building response: %v", err))
	}
	return msg
}
