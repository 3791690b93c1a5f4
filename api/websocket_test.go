package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"idevicedesk/backup"
	"idevicedesk/models"
	"idevicedesk/session"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*WebSocketHub, string) {
	t.Helper()
	hub := NewWebSocketHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	router := gin.New()
	router.GET("/ws", func(c *gin.Context) {
		HandleWebSocket(hub, c)
	})
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func subscribe(t *testing.T, conn *websocket.Conn, topic string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe", "topic": topic}))
}

func TestHub_ReplaysLatestOnSubscribe(t *testing.T) {
	hub, url := startHub(t)
	hub.Publish(TopicSession, MsgSession, map[string]int{"deviceCount": 2})

	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	subscribe(t, conn, TopicSession)

	msg := readMessage(t, conn)
	assert.Equal(t, MsgSession, msg.Type)
	assert.Equal(t, TopicSession, msg.Topic)
	assert.Equal(t, map[string]any{"deviceCount": float64(2)}, msg.Data)
}

func TestHub_OnlySubscribedTopics(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	subscribe(t, conn, "backup-1")
	// wait until the subscription has been processed
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			if c.isSubscribed("backup-1") {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	hub.Publish("backup-2", MsgBackupProgress, models.BackupProgress{Status: models.BackupRunning})
	hub.Publish("backup-1", MsgBackupProgress, models.BackupProgress{Status: models.BackupRunning, Progress: 50})

	msg := readMessage(t, conn)
	assert.Equal(t, "backup-1", msg.Topic)
	assert.Equal(t, MsgBackupProgress, msg.Type)
}

func TestHub_UnregistersOnClose(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestPublishEvents(t *testing.T) {
	hub := NewWebSocketHub()
	store := session.NewStore(session.Unavailable, nil)
	tracker := backup.NewTracker()

	cancel := PublishEvents(hub, store, tracker)
	defer cancel()

	store.FetchDevices(context.Background())
	tracker.Start("b1")

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	var sessionMsg Message
	require.NoError(t, json.Unmarshal(hub.latest[TopicSession], &sessionMsg))
	assert.Equal(t, MsgSession, sessionMsg.Type)
	assert.Equal(t, float64(2), sessionMsg.Data.(map[string]any)["deviceCount"])

	var progressMsg Message
	require.NoError(t, json.Unmarshal(hub.latest["b1"], &progressMsg))
	assert.Equal(t, MsgBackupProgress, progressMsg.Type)
}

func TestPublishEvents_ForgetsRemovedRuns(t *testing.T) {
	hub := NewWebSocketHub()
	tracker := backup.NewTracker()
	cancel := PublishEvents(hub, session.NewStore(session.Unavailable, nil), tracker)
	defer cancel()

	tracker.Start("b1")
	tracker.Start("b2")
	tracker.Remove("b1")

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	assert.NotContains(t, hub.latest, "b1")
	assert.Contains(t, hub.latest, "b2")
	assert.Contains(t, hub.latest, TopicSession)
}
