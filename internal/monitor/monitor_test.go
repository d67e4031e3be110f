package monitor

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

	"aridialer/internal/dialer"
)

type staticSessions []dialer.SessionInfo

func (s staticSessions) Snapshot() []dialer.SessionInfo { return s }

func newTestServer(t *testing.T, sessions SessionSource) (*httptest.Server, *Hub) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)
	srv := httptest.NewServer(NewServer("", hub, sessions).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, hub
}

func dialWS(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, staticSessions{{ChannelID: "c1"}})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["sessions"])
}

func TestSessionsSnapshot(t *testing.T) {
	start := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	srv, _ := newTestServer(t, staticSessions{
		{ChannelID: "dialer-1-10-1", CampaignID: 1, Phone: "5551000", State: "connected", StartTime: start, BridgeID: "bridge-x"},
	})

	resp, err := http.Get(srv.URL + "/api/v1/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()

	var list []dialer.SessionInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "connected", list[0].State)
	assert.Equal(t, "bridge-x", list[0].BridgeID)

	resp2, err := http.Post(srv.URL+"/api/v1/sessions", "application/json", nil)
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}

func TestEmptySnapshotIsArray(t *testing.T) {
	srv, _ := newTestServer(t, staticSessions(nil))

	resp, err := http.Get(srv.URL + "/api/v1/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()

	var raw json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.Equal(t, "[]", string(raw))
}

func TestPublishReachesWatchers(t *testing.T) {
	srv, hub := newTestServer(t, staticSessions(nil))
	all := dialWS(t, srv, "")
	other := dialWS(t, srv, "?campaign=9")
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, time.Millisecond)

	hub.Publish(dialer.SessionEvent{Type: "answered", ChannelID: "dialer-1-10-1", CampaignID: 1, State: "answered"})
	hub.Publish(dialer.SessionEvent{Type: "ended", ChannelID: "dialer-9-3-1", CampaignID: 9, Disposition: "busy"})

	var msg Message
	all.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, all.ReadJSON(&msg))
	assert.Equal(t, "answered", msg.Type)
	assert.Equal(t, "dialer-1-10-1", msg.Data.ChannelID)

	// the campaign 9 watcher only sees its own campaign
	other.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, other.ReadJSON(&msg))
	assert.Equal(t, "ended", msg.Type)
	assert.Equal(t, "busy", msg.Data.Disposition)
}

func TestPublishWithoutWatchersDoesNotBlock(t *testing.T) {
	hub := NewHub()
	for i := 0; i < sendBuffer*2; i++ {
		hub.Publish(dialer.SessionEvent{Type: "dialing"})
	}
}

func TestPanicIsRecovered(t *testing.T) {
	s := NewServer("", NewHub(), staticSessions(nil))
	h := s.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
