package gui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// helper: receive one signal with a timeout so tests never hang
func recvSignal(t *testing.T, ch <-chan Signal, within time.Duration) Signal {
	t.Helper()
	select {
	case sig, ok := <-ch:
		if !ok {
			t.Fatalf("client outbox closed unexpectedly")
		}
		return sig
	case <-time.After(within):
		t.Fatalf("timed out waiting for signal")
		return Signal{} // unreachable
	}
}

func recvView(t *testing.T, b *Bus) View {
	t.Helper()
	reply := make(chan View, 1)
	b.Inbox() <- GetState{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for view")
		return View{}
	}
}

func TestBus_BroadcastAndStickyReplay(t *testing.T) {
	b := NewBus(context.Background())
	defer b.Close()

	a := make(chan Signal, 4)
	b.Inbox() <- Subscribe{ClientID: "a", Outbox: a}

	b.Publish(Signal{Name: SignalRooms, Payload: []string{"r1"}})
	b.Publish(Signal{Name: SignalChat, Payload: "hi"})
	assert.Equal(t, SignalRooms, recvSignal(t, a, time.Second).Name)
	assert.Equal(t, SignalChat, recvSignal(t, a, time.Second).Name)

	// late subscriber only gets the latest sticky signals
	late := make(chan Signal, 4)
	b.Inbox() <- Subscribe{ClientID: "late", Outbox: late}
	got := recvSignal(t, late, time.Second)
	assert.Equal(t, Signal{Name: SignalRooms, Payload: []string{"r1"}}, got)

	assert.Equal(t, 2, recvView(t, b).NumClients)
}

func TestBus_DropsSlowClient(t *testing.T) {
	b := NewBus(context.Background())
	defer b.Close()

	slow := make(chan Signal) // never read
	b.Inbox() <- Subscribe{ClientID: "slow", Outbox: slow}
	b.Publish(Signal{Name: SignalChat})

	v := recvView(t, b)
	assert.Equal(t, 0, v.NumClients)
	assert.Equal(t, 1, v.Dropped)
	_, ok := <-slow
	assert.False(t, ok, "slow client outbox is closed")
}

func TestBus_ShutdownClosesOutboxes(t *testing.T) {
	b := NewBus(context.Background())
	out := make(chan Signal, 1)
	b.Inbox() <- Subscribe{ClientID: "x", Outbox: out}
	recvView(t, b)

	b.Close()
	select {
	case _, ok := <-out:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatalf("outbox not closed on shutdown")
	}
	assert.False(t, b.Send(Unsubscribe{ClientID: "x"}))
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	b := NewBus(context.Background())
	t.Cleanup(b.Close)
	s := NewServer("", b, zap.NewNop())
	ts := httptest.NewServer(s.Routes())
	t.Cleanup(ts.Close)
	return s, ts
}

func recvCommand(t *testing.T, s *Server) Command {
	t.Helper()
	select {
	case c := <-s.Commands():
		return c
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for command")
		return nil
	}
}

func post(t *testing.T, ts *httptest.Server, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestServer_CommandRoutes(t *testing.T) {
	s, ts := newTestServer(t)

	cases := []struct {
		path, body string
		want       Command
	}{
		{"/api/connect", `{"node_address":"ws://n","program_id":"0x1","account_id":"a","password":"p","lobby_address":"l:1","username":"bob"}`,
			Connect{NodeAddress: "ws://n", ProgramID: "0x1", AccountID: "a", Password: "p", LobbyAddress: "l:1", Username: "bob"}},
		{"/api/cancel", "", Cancel{}},
		{"/api/quit", "", Quit{}},
		{"/api/balance/refresh", "", RefreshBalance{}},
		{"/api/chat", `{"text":"gg"}`, SendChat{Text: "gg"}},
		{"/api/kick", `{"username":"eve"}`, Kick{Username: "eve"}},
		{"/api/hostmode", `{"mode":1}`, HostMode{Mode: 1}},
		{"/api/rooms", `{"room":"r1","password":"","max_players":4,"mods":""}`, CreateRoom{Room: "r1", MaxPlayers: 4}},
		{"/api/rooms/r1/join", `{"password":"pw"}`, JoinRoom{Room: "r1", Password: "pw"}},
		{"/api/rooms/r1/join", "", JoinRoom{Room: "r1"}},
		{"/api/rooms/r1/leave", "", LeaveRoom{Room: "r1"}},
		{"/api/rooms/r1/ready", "", Ready{Room: "r1"}},
		{"/api/rooms/r1/start", "", ForceStart{Room: "r1"}},
	}
	for _, tc := range cases {
		resp := post(t, ts, tc.path, tc.body)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode, tc.path)
		assert.Equal(t, tc.want, recvCommand(t, s), tc.path)
	}
}

func TestServer_BadJSON(t *testing.T) {
	_, ts := newTestServer(t)
	resp := post(t, ts, "/api/chat", "{")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Healthz(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var h health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.Equal(t, health{}, h)
}

func TestServer_HealthzFailsAfterBusClosed(t *testing.T) {
	s, ts := newTestServer(t)
	s.bus.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_EventsStream(t *testing.T) {
	s, ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/events", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return recvView(t, s.bus).NumClients == 1 }, time.Second, 5*time.Millisecond)
	s.bus.Publish(Signal{Name: SignalAlert, Payload: "program not found"})

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, map[string]any{"event": "alert", "payload": "program not found"}, got)
}
