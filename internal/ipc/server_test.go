package ipc

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DoyleJ11/gear-connector/internal/framing"
	"github.com/DoyleJ11/gear-connector/pkg/types"
)

func startServer(t *testing.T) (*Server, context.CancelFunc, <-chan error) {
	t.Helper()
	s, err := Listen("127.0.0.1:0", zap.NewNop())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	t.Cleanup(cancel)
	return s, cancel, done
}

func dial(t *testing.T, s *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn net.Conn, cmd types.Command) {
	t.Helper()
	frame, err := framing.Commands.Encode(cmd)
	require.NoError(t, err)
	_, err = conn.Write(frame)
	require.NoError(t, err)
}

func recvCommand(t *testing.T, s *Server) types.Command {
	t.Helper()
	select {
	case cmd := <-s.Commands():
		return cmd
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for command")
		return nil
	}
}

func TestServer_BridgesBothDirections(t *testing.T) {
	s, _, _ := startServer(t)
	conn := dial(t, s)

	send(t, conn, types.LoadAll{})
	assert.Equal(t, types.LoadAll{}, recvCommand(t, s))

	s.Replies() <- types.Saved{}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := framing.NewReader(conn, framing.Replies).Next()
	require.NoError(t, err)
	assert.Equal(t, types.Saved{}, reply)
}

func TestServer_MalformedFrameDoesNotEndSession(t *testing.T) {
	s, _, _ := startServer(t)
	conn := dial(t, s)

	body := []byte(`{"Nope":1}`)
	frame := binary.LittleEndian.AppendUint32(nil, uint32(len(body)))
	_, err := conn.Write(append(frame, body...))
	require.NoError(t, err)

	send(t, conn, types.ShowConnectDialog{})
	assert.Equal(t, types.ShowConnectDialog{}, recvCommand(t, s))
}

func TestServer_AcceptsNextClientAfterDisconnect(t *testing.T) {
	s, _, _ := startServer(t)

	first := dial(t, s)
	send(t, first, types.LoadAll{})
	recvCommand(t, s)
	require.NoError(t, first.Close())

	second := dial(t, s)
	send(t, second, types.Load{Name: "slot"})
	assert.Equal(t, types.Load{Name: "slot"}, recvCommand(t, s))
}

func TestServer_CancelStopsServeAndClosesClient(t *testing.T) {
	s, cancel, done := startServer(t)
	conn := dial(t, s)
	send(t, conn, types.LoadAll{})
	recvCommand(t, s)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return after cancel")
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := conn.Read(make([]byte, 1))
	assert.Error(t, err, "connection is closed by the server")
}

func readReply(t *testing.T, conn net.Conn) types.Reply {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := framing.NewReader(conn, framing.Replies).Next()
	require.NoError(t, err)
	return reply
}

func pushReply(t *testing.T, s *Server, r types.Reply) {
	t.Helper()
	select {
	case s.Replies() <- r:
	case <-time.After(2 * time.Second):
		t.Fatalf("reply %s was never taken", types.ReplyName(r))
	}
}

func TestServer_ReplyOwedToPreviousClientIsDropped(t *testing.T) {
	s, _, _ := startServer(t)

	first := dial(t, s)
	send(t, first, types.Save{Filename: "slot", ArchiveBytes: types.Bytes{1}})
	recvCommand(t, s)
	require.NoError(t, first.Close())

	// the Save finishes after its client went away
	pushReply(t, s, types.Saved{})

	second := dial(t, s)
	send(t, second, types.ShowConnectDialog{})
	assert.Equal(t, types.ShowConnectDialog{}, recvCommand(t, s))
	pushReply(t, s, types.ConnectDialogShowed{})

	assert.Equal(t, types.ConnectDialogShowed{}, readReply(t, second))
}

func TestServer_UnreadCommandFromGoneClientIsDropped(t *testing.T) {
	s, _, _ := startServer(t)

	first := dial(t, s)
	send(t, first, types.Save{Filename: "slot", ArchiveBytes: types.Bytes{1}})
	require.NoError(t, first.Close())

	second := dial(t, s)
	send(t, second, types.LoadAll{})
	assert.Equal(t, types.LoadAll{}, recvCommand(t, s))

	pushReply(t, s, types.AllLoaded{})
	assert.Equal(t, types.AllLoaded{}, readReply(t, second))
}

func TestServer_RepliesWithoutClientDoNotBlock(t *testing.T) {
	s, _, _ := startServer(t)

	pushReply(t, s, types.CanceledDialog{})
	pushReply(t, s, types.Connected{})
	pushReply(t, s, types.Saved{})

	conn := dial(t, s)
	send(t, conn, types.ShowConnectDialog{})
	recvCommand(t, s)
	pushReply(t, s, types.ConnectDialogShowed{})
	assert.Equal(t, types.ConnectDialogShowed{}, readReply(t, conn))
}

func TestServer_SecondCommandWaitsForFirstToBeTaken(t *testing.T) {
	s, _, _ := startServer(t)
	conn := dial(t, s)

	send(t, conn, types.LoadAll{})
	send(t, conn, types.Load{Name: "slot"})

	require.Eventually(t, func() bool { return len(s.commands) == 1 }, 2*time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, s.commands, 1, "second command must wait, not overwrite")

	assert.Equal(t, types.LoadAll{}, recvCommand(t, s))
	assert.Equal(t, types.Load{Name: "slot"}, recvCommand(t, s))
}
