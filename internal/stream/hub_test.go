package stream

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okx-tracker/internal/snapshot"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_SendsLatestOnConnect(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	hub.Publish(&snapshot.AccountSnapshot{CycleID: "first", TotalEquity: 10})

	conn := dial(t, srv)
	msg := readMessage(t, conn)
	assert.Equal(t, "snapshot", msg.Type)
	require.NotNil(t, msg.Snapshot)
	assert.Equal(t, "first", msg.Snapshot.CycleID)
}

func TestHub_BroadcastsToAllClients(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	counts := make(chan int, 8)
	hub.OnClientsChanged(func(n int) { counts <- n })

	a := dial(t, srv)
	b := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 2 }, 2*time.Second, 5*time.Millisecond)

	hub.Publish(&snapshot.AccountSnapshot{CycleID: "next"})

	assert.Equal(t, "next", readMessage(t, a).Snapshot.CycleID)
	assert.Equal(t, "next", readMessage(t, b).Snapshot.CycleID)

	_ = a.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.NotEmpty(t, counts)
}

func TestHub_PublishNilIsIgnored(t *testing.T) {
	hub := NewHub(nil)
	hub.Publish(nil)
	assert.Zero(t, hub.Clients())
}

func TestHub_CloseRejectsNewClients(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	hub.Close()

	conn := dial(t, srv)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Zero(t, hub.Clients())
}
