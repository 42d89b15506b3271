package lobby

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/gear-connector/internal/lobbyproto"
)

// helper: receive one reply with a timeout so tests never hang
func recvReply(t *testing.T, ch <-chan Reply, within time.Duration) Reply {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(within):
		t.Fatalf("timed out waiting for reply")
		return nil // unreachable
	}
}

func recvNoReply(t *testing.T, ch <-chan Reply, within time.Duration) {
	t.Helper()
	select {
	case r := <-ch:
		t.Fatalf("expected no reply within %v, but got: %#v", within, r)
	case <-time.After(within):
	}
}

func startClient(t *testing.T) (*Client, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	c := New(zap.NewNop(), nil)
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c, cancel
}

func acceptOne(t *testing.T) (string, <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	conns := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conns <- conn
		}
	}()
	return ln.Addr().String(), conns
}

func connect(t *testing.T, c *Client) net.Conn {
	t.Helper()
	addr, conns := acceptOne(t)
	c.Commands() <- Connect{Address: addr}
	assert.Equal(t, Connected{Address: addr}, recvReply(t, c.Replies(), time.Second))

	select {
	case conn := <-conns:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(time.Second):
		t.Fatalf("server never accepted")
		return nil
	}
}

func TestClient_SendBeforeConnect_ReportsNotConnected(t *testing.T) {
	c, _ := startClient(t)

	c.Commands() <- Send{Request: lobbyproto.Here{}}
	assert.Equal(t, NotConnected{Request: lobbyproto.Here{}}, recvReply(t, c.Replies(), time.Second))
}

func TestClient_ConnectFailure(t *testing.T) {
	c := New(zap.NewNop(), func(context.Context, string, string) (net.Conn, error) {
		return nil, errors.New("refused")
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	c.Commands() <- Connect{Address: "nowhere:1"}
	r, ok := recvReply(t, c.Replies(), time.Second).(ConnectFailed)
	require.True(t, ok)
	assert.Equal(t, "nowhere:1", r.Address)
	assert.EqualError(t, r.Err, "refused")
}

func TestClient_GreetingIsWrittenWithPreamble(t *testing.T) {
	c, _ := startClient(t)
	srv := connect(t, c)

	c.Commands() <- Send{Request: lobbyproto.Greeting{Username: "bob", Version: "v1"}}

	want, err := lobbyproto.Encode(lobbyproto.Greeting{Username: "bob", Version: "v1"})
	require.NoError(t, err)
	got := make([]byte, len(want))
	_ = srv.SetReadDeadline(time.Now().Add(time.Second))
	_, err = io.ReadFull(srv, got)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	recvNoReply(t, c.Replies(), 50*time.Millisecond)
}

func TestClient_BatchedFramesProduceOneReplyEach(t *testing.T) {
	c, _ := startClient(t)
	srv := connect(t, c)

	_, err := srv.Write([]byte(":>>CREATED:r1:>>JOIN:r1:bob"))
	require.NoError(t, err)

	assert.Equal(t, Received{Reply: lobbyproto.Created{Room: "r1"}}, recvReply(t, c.Replies(), time.Second))
	assert.Equal(t, Received{Reply: lobbyproto.Joined{Room: "r1", Username: "bob"}}, recvReply(t, c.Replies(), time.Second))
}

func TestClient_UnknownTagIsReportedAndSessionSurvives(t *testing.T) {
	c, _ := startClient(t)
	srv := connect(t, c)

	_, err := srv.Write([]byte(":>>WHAT:1"))
	require.NoError(t, err)

	perr, ok := recvReply(t, c.Replies(), time.Second).(ProtocolError)
	require.True(t, ok)
	assert.Equal(t, ":>>WHAT:1", perr.Raw)
	assert.ErrorIs(t, perr.Err, lobbyproto.ErrUnknownTag)

	_, err = srv.Write([]byte(":>>CREATED:r2"))
	require.NoError(t, err)
	assert.Equal(t, Received{Reply: lobbyproto.Created{Room: "r2"}}, recvReply(t, c.Replies(), time.Second))
}

func TestClient_HealthIsAnsweredWithAlive(t *testing.T) {
	c, _ := startClient(t)
	srv := connect(t, c)

	_, err := srv.Write([]byte(":>>HEALTH:"))
	require.NoError(t, err)
	assert.Equal(t, Received{Reply: lobbyproto.Health{}}, recvReply(t, c.Replies(), time.Second))

	got := make([]byte, len("<ALIVE>"))
	_ = srv.SetReadDeadline(time.Now().Add(time.Second))
	_, err = io.ReadFull(srv, got)
	require.NoError(t, err)
	assert.Equal(t, "<ALIVE>", string(got))
}

func TestClient_ServerCloseEmitsDisconnected(t *testing.T) {
	c, _ := startClient(t)
	srv := connect(t, c)

	require.NoError(t, srv.Close())

	r, ok := recvReply(t, c.Replies(), time.Second).(Disconnected)
	require.True(t, ok)
	assert.ErrorIs(t, r.Err, io.EOF)

	c.Commands() <- Send{Request: lobbyproto.Alive{}}
	assert.Equal(t, NotConnected{Request: lobbyproto.Alive{}}, recvReply(t, c.Replies(), time.Second))
}

func TestClient_ExplicitDisconnect(t *testing.T) {
	c, _ := startClient(t)
	_ = connect(t, c)

	c.Commands() <- Disconnect{}
	assert.Equal(t, Disconnected{}, recvReply(t, c.Replies(), time.Second))
	recvNoReply(t, c.Replies(), 50*time.Millisecond)
}

func TestClient_ReplySplitAcrossReads(t *testing.T) {
	c, _ := startClient(t)
	srv := connect(t, c)

	_, err := srv.Write([]byte(":>>CREATED:r1:>>SESSIONS::2:roomA:1:4:True:ro"))
	require.NoError(t, err)
	assert.Equal(t, Received{Reply: lobbyproto.Created{Room: "r1"}}, recvReply(t, c.Replies(), time.Second))
	recvNoReply(t, c.Replies(), 50*time.Millisecond)

	_, err = srv.Write([]byte("omB:0:2:False"))
	require.NoError(t, err)
	assert.Equal(t, Received{Reply: lobbyproto.Sessions{Rooms: []lobbyproto.Room{
		{Name: "roomA", Joined: 1, Total: 4, Protected: true},
		{Name: "roomB", Joined: 0, Total: 2, Protected: false},
	}}}, recvReply(t, c.Replies(), time.Second))
}

func TestClient_TagSplitAcrossReads(t *testing.T) {
	c, _ := startClient(t)
	srv := connect(t, c)

	_, err := srv.Write([]byte(":>>JO"))
	require.NoError(t, err)
	recvNoReply(t, c.Replies(), 50*time.Millisecond)

	_, err = srv.Write([]byte("IN:r1:bob"))
	require.NoError(t, err)
	assert.Equal(t, Received{Reply: lobbyproto.Joined{Room: "r1", Username: "bob"}}, recvReply(t, c.Replies(), time.Second))
}

func TestClient_IncompleteFrameReportedWhenStreamEnds(t *testing.T) {
	c, _ := startClient(t)
	srv := connect(t, c)

	_, err := srv.Write([]byte(":>>SESSIONS::3:a:1:2:True"))
	require.NoError(t, err)
	recvNoReply(t, c.Replies(), 50*time.Millisecond)
	require.NoError(t, srv.Close())

	perr, ok := recvReply(t, c.Replies(), time.Second).(ProtocolError)
	require.True(t, ok)
	assert.Equal(t, ":>>SESSIONS::3:a:1:2:True", perr.Raw)
	assert.ErrorIs(t, perr.Err, lobbyproto.ErrMalformedReply)

	_, ok = recvReply(t, c.Replies(), time.Second).(Disconnected)
	assert.True(t, ok)
}
