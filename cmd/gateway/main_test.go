package main

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Berri-bot/mastermind-smart-suggestions/internal/config"
	"github.com/Berri-bot/mastermind-smart-suggestions/internal/registry"
)

const fakeLSPServerScript = `
import sys, json

def read_msg():
    headers = b""
    while not headers.endswith(b"\r\n\r\n"):
        b = sys.stdin.buffer.read(1)
        if not b:
            return None
        headers += b
    length = 0
    for line in headers.decode("ascii").split("\r\n"):
        if line.lower().startswith("content-length:"):
            length = int(line.split(":", 1)[1].strip())
    body = sys.stdin.buffer.read(length)
    return json.loads(body)

def write_msg(obj):
    body = json.dumps(obj).encode("utf-8")
    sys.stdout.buffer.write(("Content-Length: %d\r\n\r\n" % len(body)).encode("ascii"))
    sys.stdout.buffer.write(body)
    sys.stdout.buffer.flush()

while True:
    msg = read_msg()
    if msg is None:
        break
    method = msg.get("method")
    if method == "exit":
        break
    if "id" not in msg:
        continue
    if method == "initialize":
        write_msg({"jsonrpc": "2.0", "id": msg["id"], "result": {"capabilities": {"fake": True}}})
    elif method == "shutdown":
        write_msg({"jsonrpc": "2.0", "id": msg["id"], "result": None})
    else:
        write_msg({"jsonrpc": "2.0", "id": msg["id"], "result": {"echoedMethod": method}})
`

func testConfig(t *testing.T) *config.GlobalConfig {
	t.Helper()
	return &config.GlobalConfig{
		WorkspaceDir: t.TempDir(),
		PythonLSPCmd: []string{"python3", "-u", "-c", fakeLSPServerScript},
	}
}

func TestHealthHandlerReportsConnectionCount(t *testing.T) {
	reg := registry.New()
	srv := httptest.NewServer(newRouter(testConfig(t), reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["connections"])
}

func TestRootPathAlsoReportsHealth(t *testing.T) {
	reg := registry.New()
	srv := httptest.NewServer(newRouter(testConfig(t), reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}

func TestWebSocketUpgradeMissingLanguageIsRejected(t *testing.T) {
	reg := registry.New()
	srv := httptest.NewServer(newRouter(testConfig(t), reg))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/abc"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, 400, resp.StatusCode)
	}
}

func TestWebSocketUpgradeRunsFullSessionLifecycle(t *testing.T) {
	reg := registry.New()
	srv := httptest.NewServer(newRouter(testConfig(t), reg))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/interview-1?language=python"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`)))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &resp))
	assert.Equal(t, float64(1), resp["id"])
	assert.NotNil(t, resp["result"])

	require.Eventually(t, func() bool {
		return reg.Len() == 1
	}, time.Second, 10*time.Millisecond)

	// Disconnecting tears the session down and de-registers it.
	conn.Close()
	require.Eventually(t, func() bool {
		return reg.Len() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWebSocketWithoutPathIdGetsGeneratedSessionId(t *testing.T) {
	reg := registry.New()
	srv := httptest.NewServer(newRouter(testConfig(t), reg))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?language=python"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return reg.Len() == 1
	}, time.Second, 10*time.Millisecond)
}
