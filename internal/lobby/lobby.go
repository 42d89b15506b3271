// Package lobby owns the TCP session with the multiplayer lobby server.
// A single goroutine holds the connection; callers talk to it through a
// pair of single-slot channels.
package lobby

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/gear-connector/internal/lobbyproto"
)

const (
	readBufferSize = 4096
	writeTimeout   = 3 * time.Second
	// a held partial frame longer than this is reported instead
	maxPending = 64 * readBufferSize
)

var ErrNotConnected = errors.New("lobby: not connected")

type Command interface{ isLobbyCmd() }

type Connect struct{ Address string }

func (Connect) isLobbyCmd() {}

type Disconnect struct{}

func (Disconnect) isLobbyCmd() {}

// Send writes one encoded request to the server.
type Send struct{ Request lobbyproto.Request }

func (Send) isLobbyCmd() {}

type Reply interface{ isLobbyReply() }

type Connected struct{ Address string }

func (Connected) isLobbyReply() {}

type ConnectFailed struct {
	Address string
	Err     error
}

func (ConnectFailed) isLobbyReply() {}

// Disconnected is emitted after an explicit Disconnect (Err is nil) or when
// the server drops the connection.
type Disconnected struct{ Err error }

func (Disconnected) isLobbyReply() {}

type NotConnected struct{ Request lobbyproto.Request }

func (NotConnected) isLobbyReply() {}

// ProtocolError reports a frame that could not be parsed. The session
// stays open.
type ProtocolError struct {
	Raw string
	Err error
}

func (ProtocolError) isLobbyReply() {}

type Received struct{ Reply lobbyproto.Reply }

func (Received) isLobbyReply() {}

type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

type readResult struct {
	gen  uint64
	data []byte
	err  error
}

type session struct {
	conn     net.Conn
	gen      uint64
	username string
	// head of a reply cut short by the previous read
	pending string
}

type Client struct {
	commands chan Command
	replies  chan Reply
	reads    chan readResult
	dial     DialFunc
	log      *zap.Logger

	sess session
}

func New(log *zap.Logger, dial DialFunc) *Client {
	if dial == nil {
		var d net.Dialer
		dial = d.DialContext
	}
	return &Client{
		commands: make(chan Command, 1),
		replies:  make(chan Reply, 1),
		reads:    make(chan readResult),
		dial:     dial,
		log:      log.Named("lobby"),
	}
}

func (c *Client) Commands() chan<- Command { return c.commands }
func (c *Client) Replies() <-chan Reply    { return c.replies }

// Run drives the session until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	defer c.close()
	for {
		select {
		case <-ctx.Done():
			return nil

		case cmd := <-c.commands:
			if r := c.handle(ctx, cmd); r != nil && !c.emit(ctx, r) {
				return nil
			}

		case res := <-c.reads:
			if res.gen != c.sess.gen || c.sess.conn == nil {
				continue // stale read from a replaced connection
			}
			more := res.err == nil
			if len(res.data) > 0 && !c.dispatch(ctx, string(res.data), more) {
				return nil
			}
			if res.err != nil {
				if !c.flushPending(ctx) {
					return nil
				}
				c.log.Warn("connection lost", zap.Error(res.err))
				c.close()
				if !c.emit(ctx, Disconnected{Err: res.err}) {
					return nil
				}
			}
		}
	}
}

func (c *Client) handle(ctx context.Context, cmd Command) Reply {
	switch msg := cmd.(type) {
	case Connect:
		c.close()
		conn, err := c.dial(ctx, "tcp", msg.Address)
		if err != nil {
			c.log.Warn("connect failed", zap.String("address", msg.Address), zap.Error(err))
			return ConnectFailed{Address: msg.Address, Err: err}
		}
		c.sess.gen++
		c.sess.conn = conn
		go c.readLoop(ctx, conn, c.sess.gen)
		c.log.Info("connected", zap.String("address", msg.Address))
		return Connected{Address: msg.Address}

	case Disconnect:
		c.close()
		return Disconnected{}

	case Send:
		if c.sess.conn == nil {
			return NotConnected{Request: msg.Request}
		}
		if err := c.write(msg.Request); err != nil {
			var perr *encodeError
			if errors.As(err, &perr) {
				return ProtocolError{Err: err}
			}
			c.log.Warn("write failed", zap.Error(err))
			c.close()
			return Disconnected{Err: err}
		}
		return nil
	}
	return nil
}

type encodeError struct{ err error }

func (e *encodeError) Error() string { return e.err.Error() }
func (e *encodeError) Unwrap() error { return e.err }

func (c *Client) write(req lobbyproto.Request) error {
	raw, err := lobbyproto.Encode(req)
	if err != nil {
		return &encodeError{err: err}
	}
	if g, ok := req.(lobbyproto.Greeting); ok {
		c.sess.username = g.Username
	}
	_ = c.sess.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err = c.sess.conn.Write(raw)
	return err
}

// dispatch parses every frame in one read and emits a reply per frame.
// A last frame that looks cut short is held until the next read when more
// data may follow. HEALTH checks are answered before being forwarded.
func (c *Client) dispatch(ctx context.Context, raw string, more bool) bool {
	raw = c.sess.pending + raw
	c.sess.pending = ""
	frames := lobbyproto.SplitFrames(raw)
	for i, frame := range frames {
		reply, err := lobbyproto.ParseReply(frame)
		if err != nil && more && i == len(frames)-1 &&
			len(frame) < maxPending && lobbyproto.Truncated(frame, err) {
			c.sess.pending = frame
			break
		}
		if err != nil {
			c.log.Warn("bad frame", zap.String("frame", frame), zap.Error(err))
			if !c.emit(ctx, ProtocolError{Raw: frame, Err: err}) {
				return false
			}
			continue
		}
		if _, ok := reply.(lobbyproto.Health); ok && c.sess.conn != nil {
			if err := c.write(lobbyproto.Alive{}); err != nil {
				c.log.Warn("health answer failed", zap.Error(err))
			}
		}
		c.log.Debug("frame", zap.String("tag", lobbyproto.Tag(frame)), zap.String("user", c.sess.username))
		if !c.emit(ctx, Received{Reply: reply}) {
			return false
		}
	}
	return true
}

// flushPending reports a held partial frame once no more data can follow.
func (c *Client) flushPending(ctx context.Context) bool {
	frame := c.sess.pending
	if frame == "" {
		return true
	}
	c.sess.pending = ""
	_, err := lobbyproto.ParseReply(frame)
	c.log.Warn("incomplete frame at end of stream", zap.String("frame", frame), zap.Error(err))
	return c.emit(ctx, ProtocolError{Raw: frame, Err: err})
}

func (c *Client) emit(ctx context.Context, r Reply) bool {
	select {
	case c.replies <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) close() {
	if c.sess.conn == nil {
		return
	}
	_ = c.sess.conn.Close()
	c.sess.conn = nil
	c.sess.username = ""
	c.sess.pending = ""
}

func (c *Client) readLoop(ctx context.Context, conn net.Conn, gen uint64) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		var data []byte
		if n > 0 {
			data = append([]byte(nil), buf[:n]...)
		}
		select {
		case c.reads <- readResult{gen: gen, data: data, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}
