// gateway is the process entrypoint: an HTTP server exposing a health
// endpoint and a per-interview WebSocket upgrade, one Session per
// connection, all sessions torn down together on SIGTERM/SIGINT.
//
// Grounded on the teacher's cmd/lsp-proxy/main.go and
// cmd/lsp-session-manager/main.go (flag-free env-driven startup, eager
// fail-fast validation before accepting connections, a signal-handling
// goroutine that tears everything down before os.Exit), generalized from
// a single long-lived TCP proxy to an HTTP server fanning out to many
// concurrent Sessions.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/google/uuid"

	"github.com/Berri-bot/mastermind-smart-suggestions/internal/config"
	"github.com/Berri-bot/mastermind-smart-suggestions/internal/logger"
	"github.com/Berri-bot/mastermind-smart-suggestions/internal/registry"
	"github.com/Berri-bot/mastermind-smart-suggestions/internal/session"
	"github.com/Berri-bot/mastermind-smart-suggestions/internal/transport"
)

func main() {
	os.Exit(run())
}

// run contains the whole startup/serve/shutdown sequence and returns the
// process exit code, so main itself stays a single os.Exit call.
func run() int {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error(fmt.Sprintf("startup validation failed: %v", err))
		return 1
	}
	if err := os.MkdirAll(cfg.WorkspaceDir, 0o755); err != nil {
		logger.Error(fmt.Sprintf("creating workspace root %s: %v", cfg.WorkspaceDir, err))
		return 1
	}

	reg := registry.New()

	addr := envOr("GATEWAY_ADDR", ":8080")
	srv := &http.Server{
		Addr:    addr,
		Handler: newRouter(cfg, reg),
	}

	shutdownCh := make(chan struct{})
	go waitForSignal(srv, reg, shutdownCh)

	logger.Info(fmt.Sprintf("gateway listening on %s (workspace=%s)", addr, cfg.WorkspaceDir))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error(fmt.Sprintf("http server: %v", err))
		return 1
	}

	<-shutdownCh
	return 0
}

func newRouter(cfg *config.GlobalConfig, reg *registry.Registry) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", healthHandler(reg)).Methods(http.MethodGet)
	r.HandleFunc("/health", healthHandler(reg)).Methods(http.MethodGet)
	r.HandleFunc("/ws", wsHandler(cfg, reg)).Methods(http.MethodGet)
	r.HandleFunc("/ws/{interviewId}", wsHandler(cfg, reg)).Methods(http.MethodGet)
	return r
}

func healthHandler(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "ok",
			"connections": reg.Len(),
		})
	}
}

func wsHandler(cfg *config.GlobalConfig, reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		interviewID := mux.Vars(r)["interviewId"]
		language := r.URL.Query().Get("language")
		if language == "" {
			http.Error(w, "missing required query parameter: language", http.StatusBadRequest)
			return
		}

		conn, err := transport.Upgrade(w, r)
		if err != nil {
			logger.Warn(fmt.Sprintf("websocket upgrade failed for %s: %v", interviewID, err))
			return
		}

		sessionID := interviewID
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		workspaceDir := filepath.Join(cfg.WorkspaceDir, sessionID)

		sess := session.New(sessionID, language, conn, workspaceDir, cfg, reg)
		if err := reg.Register(sessionID, sess); err != nil {
			logger.Warn(fmt.Sprintf("rejecting duplicate session id %s: %v", sessionID, err))
			conn.Close()
			return
		}

		// Initialize cleans up after itself (stops the supervisor,
		// removes the workspace, de-registers) on any failure.
		if err := sess.Initialize(); err != nil {
			logger.Error(fmt.Sprintf("session %s failed to initialize: %v", sessionID, err))
			return
		}

		serveSession(sess, conn)
	}
}

// serveSession pumps inbound client frames to the session until the
// connection drops; the Session's own Cleanup (triggered by exit,
// shutdown, or the last didClose) tears down the language server and the
// workspace independently of this loop exiting.
func serveSession(sess *session.Session, conn transport.Conn) {
	defer sess.Cleanup()
	for {
		text, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sess.HandleClientMessage(text)
	}
}

func waitForSignal(srv *http.Server, reg *registry.Registry, done chan<- struct{}) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal, draining sessions")
	reg.ShutdownAll()
	srv.Close()
	close(done)
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
