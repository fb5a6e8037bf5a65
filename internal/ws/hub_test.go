package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func startHub(t *testing.T, maxConnections int) (*Hub, string, context.CancelFunc) {
	t.Helper()
	hub := NewHub(maxConnections, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http"), cancel
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubPublishesSnapshots(t *testing.T) {
	hub, url, _ := startHub(t, 0)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(map[string]int{"sequence": 1})

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeSnapshot, msg["type"])
	assert.Equal(t, map[string]interface{}{"sequence": float64(1)}, msg["data"])
}

func TestHubReplaysLastSnapshotToNewClients(t *testing.T) {
	hub, url, _ := startHub(t, 0)
	hub.Publish(map[string]int{"sequence": 7})

	conn := dial(t, url)
	msg := readMessage(t, conn)
	assert.Equal(t, map[string]interface{}{"sequence": float64(7)}, msg["data"])
	assert.Equal(t, 1, hub.ClientCount())
}

func TestHubUnregistersClosedClients(t *testing.T) {
	hub, url, _ := startHub(t, 0)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHubConnectionLimit(t *testing.T) {
	hub, url, _ := startHub(t, 1)
	dial(t, url)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHubStopClosesClients(t *testing.T) {
	hub, url, cancel := startHub(t, 0)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.Equal(t, 0, hub.ClientCount())

	// publishing after shutdown must not block
	hub.Publish("ignored")
}
