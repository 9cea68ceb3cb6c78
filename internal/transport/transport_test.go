package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpgradeEchoesTextFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := Upgrade(w, r)
		require.NoError(t, err)
		defer c.Close()

		msg, err := c.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, c.WriteMessage(strings.ToUpper(msg)))
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "HELLO", string(data))
}

func TestDisconnectedClosesAfterClientCloses(t *testing.T) {
	disconnected := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := Upgrade(w, r)
		require.NoError(t, err)
		go func() {
			<-c.Disconnected()
			close(disconnected)
		}()
		// Block on a read that will fail once the client closes.
		_, _ = c.ReadMessage()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)
	conn.Close()

	select {
	case <-disconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("Disconnected channel never closed")
	}
}

func TestBinaryFramesAreIgnoredNotReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := Upgrade(w, r)
		require.NoError(t, err)
		defer c.Close()

		msg, err := c.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, "text-after-binary", msg)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("text-after-binary")))

	time.Sleep(100 * time.Millisecond)
}
