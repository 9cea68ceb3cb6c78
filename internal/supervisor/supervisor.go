// Package supervisor owns a single language-server child process: its
// stdin/stdout/stderr, the framed reader loop, and the id-keyed pending
// map that demultiplexes responses from notifications.
//
// Grounded on the teacher's cmd/lsp-session-manager SessionManager, with
// one deliberate correction: the teacher's own pending map is already
// correct (register-before-send, direct id lookup), but the original
// Python LSPManager._read_output "put back" unmatched responses into a
// shared asyncio.Queue for re-consumption by the next waiter — a livelock
// and reordering hazard. This package keeps the teacher's direct
// completion-channel approach and never reintroduces a put-back queue.
package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Berri-bot/mastermind-smart-suggestions/internal/frame"
	"github.com/Berri-bot/mastermind-smart-suggestions/internal/logger"
	"github.com/Berri-bot/mastermind-smart-suggestions/internal/rpcmsg"
)

// ErrTimeout is returned by Request when timeout elapses before a
// response arrives. The server-side work is not cancelled.
var ErrTimeout = fmt.Errorf("supervisor: request timed out")

// ErrTerminated is returned to all outstanding and future callers once
// the child process has exited or Stop has been called.
var ErrTerminated = fmt.Errorf("supervisor: process terminated")

// NotificationSink receives every inbound message that has a method and
// no matching pending id (server-initiated requests/notifications). It
// must not block; slow handling belongs in a buffered channel owned by
// the caller.
type NotificationSink func(msg *rpcmsg.Message)

// Supervisor spawns and owns one child process. It is safe for
// concurrent use by multiple goroutines (one per in-flight Request, plus
// the caller's own notify/send calls).
type Supervisor struct {
	name string // for log lines; typically the session id
	cmd  *exec.Cmd

	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	writeMu sync.Mutex

	nextID  int64
	pendMu  sync.Mutex
	pending map[int64]chan pendingResult

	sink NotificationSink

	discardLimiter *discardRateLimiter

	running atomic.Bool
	doneCh  chan struct{}
	doneMu  sync.Once
}

type pendingResult struct {
	msg *rpcmsg.Message
	err error
}

// New constructs a Supervisor for the given command vector. Start must
// be called before Send/Notify/Request will succeed.
func New(name string, command string, args []string) *Supervisor {
	return &Supervisor{
		name:           name,
		cmd:            exec.Command(command, args...),
		pending:        make(map[int64]chan pendingResult),
		doneCh:         make(chan struct{}),
		discardLimiter: newDiscardRateLimiter(),
	}
}

// SetNotificationSink installs the callback invoked for unmatched inbound
// messages. Must be called before Start to avoid a race with the reader
// goroutine.
func (s *Supervisor) SetNotificationSink(fn NotificationSink) {
	s.sink = fn
}

// Start spawns the child process and launches the stdout/stderr reader
// goroutines. It briefly waits and fails if the child's stdout has
// already closed (the child exited during startup). The returned error
// does not include the child's stderr; the stderr reader goroutine logs
// it line by line.
func (s *Supervisor) Start() error {
	var err error
	s.stdin, err = s.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("supervisor: stdin pipe: %w", err)
	}
	s.stdout, err = s.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("supervisor: stdout pipe: %w", err)
	}
	s.stderr, err = s.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("supervisor: stderr pipe: %w", err)
	}

	if err := s.cmd.Start(); err != nil {
		return fmt.Errorf("supervisor: start: %w", err)
	}
	s.running.Store(true)

	go s.readStdout()
	go s.readStderr()

	select {
	case <-s.doneCh:
		return fmt.Errorf("supervisor: child exited immediately (stdout closed)")
	case <-time.After(150 * time.Millisecond):
	}

	return nil
}

// Send writes a message to the child's stdin without assigning an id or
// waiting for a response. Used internally by Notify and Request; exposed
// for callers forwarding a pre-built message verbatim.
func (s *Supervisor) Send(msg *rpcmsg.Message) error {
	if !s.running.Load() {
		return ErrTerminated
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("supervisor: marshal: %w", err)
	}
	wire := frame.Encode(body)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.stdin.Write(wire); err != nil {
		return fmt.Errorf("supervisor: write: %w", err)
	}
	return nil
}

// Notify sends a notification (no id, no response expected).
func (s *Supervisor) Notify(method string, params interface{}) error {
	msg, err := rpcmsg.NewNotification(method, params)
	if err != nil {
		return err
	}
	return s.Send(msg)
}

// Request assigns a fresh monotonic id, registers a completion channel
// under that id BEFORE sending (so a fast reply can never race the
// registration), sends, and waits up to the context deadline. On timeout
// the registration is removed and ErrTimeout is returned; the child is
// left running and the server-side work is not cancelled.
func (s *Supervisor) Request(ctx context.Context, method string, params interface{}) (*rpcmsg.Message, error) {
	if !s.running.Load() {
		return nil, ErrTerminated
	}

	id := atomic.AddInt64(&s.nextID, 1)
	ch := make(chan pendingResult, 1)

	s.pendMu.Lock()
	s.pending[id] = ch
	s.pendMu.Unlock()

	cleanup := func() {
		s.pendMu.Lock()
		delete(s.pending, id)
		s.pendMu.Unlock()
	}

	msg, err := rpcmsg.NewRequest(id, method, params)
	if err != nil {
		cleanup()
		return nil, err
	}
	if err := s.Send(msg); err != nil {
		cleanup()
		return nil, err
	}

	select {
	case res := <-ch:
		return res.msg, res.err
	case <-ctx.Done():
		cleanup()
		return nil, ErrTimeout
	case <-s.doneCh:
		cleanup()
		return nil, ErrTerminated
	}
}

// RequestTimeout is a convenience wrapper around Request with a plain
// duration instead of a caller-supplied context.
func (s *Supervisor) RequestTimeout(method string, params interface{}, timeout time.Duration) (*rpcmsg.Message, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Request(ctx, method, params)
}

// Stop performs graceful shutdown: attempts the LSP shutdown/exit
// handshake (best effort, short timeouts), marks running false, waits
// briefly for natural exit, then force-kills. All outstanding pending
// completions are failed with ErrTerminated. Idempotent.
func (s *Supervisor) Stop() {
	if !s.running.Load() {
		return
	}

	if _, err := s.RequestTimeout("shutdown", nil, 5*time.Second); err != nil {
		logger.Warn(fmt.Sprintf("supervisor[%s]: shutdown request: %v", s.name, err))
	}
	if err := s.Notify("exit", nil); err != nil {
		logger.Warn(fmt.Sprintf("supervisor[%s]: exit notify: %v", s.name, err))
	}
	s.running.Store(false)

	exited := make(chan struct{})
	go func() {
		s.cmd.Wait()
		close(exited)
	}()

	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		<-exited
	}

	s.failAllPending()
}

func (s *Supervisor) failAllPending() {
	s.doneMu.Do(func() { close(s.doneCh) })

	s.pendMu.Lock()
	pending := s.pending
	s.pending = make(map[int64]chan pendingResult)
	s.pendMu.Unlock()

	for _, ch := range pending {
		ch <- pendingResult{err: ErrTerminated}
	}
}

func (s *Supervisor) readStdout() {
	r := bufio.NewReaderSize(s.stdout, 4096)
	dec := frame.NewDecoder()
	buf := make([]byte, 4096)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			msgs, ferr := dec.Feed(buf[:n])
			if ferr != nil {
				logger.Warn(fmt.Sprintf("supervisor[%s]: frame error: %v", s.name, ferr))
			}
			for _, raw := range msgs {
				s.dispatch(raw)
			}
		}
		if err != nil {
			if err != io.EOF {
				logger.Warn(fmt.Sprintf("supervisor[%s]: stdout read error: %v", s.name, err))
			}
			s.running.Store(false)
			s.failAllPending()
			return
		}
	}
}

func (s *Supervisor) dispatch(raw json.RawMessage) {
	msg, err := rpcmsg.Decode(raw)
	if err != nil {
		logger.Warn(fmt.Sprintf("supervisor[%s]: malformed message from server: %v", s.name, err))
		return
	}

	if msg.IsResponse() {
		id, ok := numericID(msg.ID)
		if ok {
			s.pendMu.Lock()
			ch, found := s.pending[id]
			if found {
				delete(s.pending, id)
			}
			s.pendMu.Unlock()
			if found {
				ch <- pendingResult{msg: msg}
				return
			}
		}
	}

	if msg.Method != "" {
		if s.sink != nil {
			s.sink(msg)
		}
		return
	}

	ok, summary := s.discardLimiter.allow("no-method")
	if ok {
		logger.Debug(fmt.Sprintf("supervisor[%s]: discarding unmatched message with no method: %s", s.name, string(raw)))
	}
	if summary != "" {
		logger.Debug(fmt.Sprintf("supervisor[%s]: discard log %s", s.name, summary))
	}
}

// numericID normalizes a decoded interface{} id (float64 after JSON
// unmarshal, or string) into the int64 space used by our own monotonic
// id assignment. Only numeric ids we ourselves assigned are ever looked
// up in pending, so a string id simply fails the lookup.
func numericID(id interface{}) (int64, bool) {
	switch v := id.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

func (s *Supervisor) readStderr() {
	sc := bufio.NewScanner(s.stderr)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		logger.Warn(fmt.Sprintf("supervisor[%s] stderr: %s", s.name, sc.Text()))
	}
}

// Running reports whether the child process is currently believed alive.
func (s *Supervisor) Running() bool {
	return s.running.Load()
}

// Pid returns the child process id, or 0 if not started.
func (s *Supervisor) Pid() int {
	if s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}
