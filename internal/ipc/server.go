// Package ipc serves the local socket the game client connects to.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/gear-connector/internal/framing"
	"github.com/DoyleJ11/gear-connector/pkg/types"
)

var errClientGone = errors.New("ipc: game client disconnected")

// Server accepts one game client at a time and bridges its framed stream
// to a pair of single-slot channels.
//
// Replies are matched to sessions by counting: every forwarded command owes
// one solicited reply. Replies still owed to a client that went away are
// dropped instead of reaching the next client, and replies produced while
// no client is connected are discarded.
type Server struct {
	ln       net.Listener
	log      *zap.Logger
	commands chan types.Command
	replies  chan types.Reply

	mu sync.Mutex
	// solicited replies owed to the current client
	owed int
	// solicited replies owed to clients that are gone
	stale int
}

func Listen(addr string, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ipc: listen %s: %w", addr, err)
	}
	return &Server{
		ln:       ln,
		log:      log.Named("ipc"),
		commands: make(chan types.Command, 1),
		replies:  make(chan types.Reply, 1),
	}, nil
}

func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Commands yields decoded commands from the game client.
func (s *Server) Commands() <-chan types.Command { return s.commands }

// Replies accepts replies to be framed back to the game client.
func (s *Server) Replies() chan<- types.Reply { return s.replies }

// Serve accepts connections until ctx is cancelled. A second client is
// only accepted after the first one goes away.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.ln.Close() })
	defer stop()

	s.log.Info("listening", zap.Stringer("addr", s.ln.Addr()))
	for {
		stopDiscard := s.discardReplies(ctx)
		conn, err := s.ln.Accept()
		stopDiscard()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("ipc: accept: %w", err)
		}
		s.log.Info("game client connected", zap.Stringer("remote", conn.RemoteAddr()))
		err = s.serveConn(ctx, conn)
		s.endSession()
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, errClientGone) {
			s.log.Info("game client disconnected")
			continue
		}
		s.log.Warn("game client session ended", zap.Error(err))
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		return conn.Close()
	})

	g.Go(func() error {
		r := framing.NewReader(conn, framing.Commands)
		for {
			cmd, err := r.Next()
			if errors.Is(err, framing.ErrMalformedFrame) {
				s.log.Warn("dropping malformed frame", zap.Error(err))
				continue
			}
			if errors.Is(err, io.EOF) {
				return errClientGone
			}
			if err != nil {
				return err
			}
			s.log.Debug("command", zap.String("command", types.CommandName(cmd)))
			// counted before the hand-off so a fast reply always finds it
			s.mu.Lock()
			s.owed++
			s.mu.Unlock()
			select {
			case s.commands <- cmd:
			case <-gctx.Done():
				s.mu.Lock()
				s.owed--
				s.mu.Unlock()
				return nil
			}
		}
	})

	g.Go(func() error {
		w := framing.NewWriter(conn, framing.Replies)
		for {
			select {
			case <-gctx.Done():
				return nil
			case reply := <-s.replies:
				if !s.admit(reply) {
					s.log.Debug("dropping reply meant for a previous client", zap.String("reply", types.ReplyName(reply)))
					continue
				}
				if err := w.Write(reply); err != nil {
					return fmt.Errorf("ipc: write %s: %w", types.ReplyName(reply), err)
				}
				s.log.Debug("reply", zap.String("reply", types.ReplyName(reply)))
			}
		}
	})

	return g.Wait()
}

// admit accounts for a reply about to be written to the current client and
// reports whether it belongs to that client.
func (s *Server) admit(r types.Reply) bool {
	if types.Unsolicited(r) {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stale > 0 {
		s.stale--
		return false
	}
	if s.owed > 0 {
		s.owed--
	}
	return true
}

// endSession takes back a command the dispatcher never picked up and marks
// every reply still owed as stale.
func (s *Server) endSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case cmd := <-s.commands:
		s.log.Debug("dropping command from a disconnected client", zap.String("command", types.CommandName(cmd)))
		s.owed--
	default:
	}
	s.stale += s.owed
	s.owed = 0
}

// discardReplies consumes replies while no client is connected so the
// dispatcher never blocks on an empty socket. The returned func stops it
// and waits for it to exit.
func (s *Server) discardReplies(ctx context.Context) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case reply := <-s.replies:
				if !types.Unsolicited(reply) {
					s.mu.Lock()
					if s.stale > 0 {
						s.stale--
					}
					s.mu.Unlock()
				}
				s.log.Debug("no game client, dropping reply", zap.String("reply", types.ReplyName(reply)))
			}
		}
	}()
	return func() {
		close(stop)
		<-done
	}
}
