// Package chain talks to the blockchain node that records saved games.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Command interface{ isChainCmd() }

type ConnectToNode struct {
	Address   string
	ProgramID string
	AccountID string
	Password  string
}

func (ConnectToNode) isChainCmd() {}

type GetFreeBalance struct{}

func (GetFreeBalance) isChainCmd() {}

type SendAction struct{ Action Action }

func (SendAction) isChainCmd() {}

type GetSavedGames struct{}

func (GetSavedGames) isChainCmd() {}

type Disconnect struct{}

func (Disconnect) isChainCmd() {}

type Reply interface{ isChainReply() }

type ConnectedReply struct {
	Program ProgramID
	Actor   ActorID
}

func (ConnectedReply) isChainReply() {}

type NotConnected struct{ Reason string }

func (NotConnected) isChainReply() {}

type ProgramNotFound struct{ ProgramID string }

func (ProgramNotFound) isChainReply() {}

type ActionEvent struct{ Event Event }

func (ActionEvent) isChainReply() {}

type FreeBalance struct{ Balance *big.Int }

func (FreeBalance) isChainReply() {}

type SavedGames struct{ Games []SavedGame }

func (SavedGames) isChainReply() {}

type DisconnectedReply struct{}

func (DisconnectedReply) isChainReply() {}

// Failed reports an operation that reached the node but did not succeed.
type Failed struct {
	Op  string
	Err error
}

func (Failed) isChainReply() {}

// Connection is the live session with one program on one node. It only
// exists between a successful ConnectToNode and a Disconnect or transport
// loss.
type Connection struct {
	node    Node
	signer  *Signer
	program ProgramID
}

type Client struct {
	commands chan Command
	replies  chan Reply
	dialer   Dialer
	confirm  time.Duration
	log      *zap.Logger

	mu    sync.RWMutex
	conn  *Connection
	state State
}

// New returns a client that waits up to confirm for on-chain execution of
// each action. A zero confirm waits until the command's context ends.
func New(log *zap.Logger, dialer Dialer, confirm time.Duration) *Client {
	return &Client{
		commands: make(chan Command, 1),
		replies:  make(chan Reply, 1),
		dialer:   dialer,
		confirm:  confirm,
		log:      log.Named("chain"),
	}
}

func (c *Client) Commands() chan<- Command { return c.commands }
func (c *Client) Replies() <-chan Reply    { return c.replies }

func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) Run(ctx context.Context) error {
	defer c.drop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-c.commands:
			r := c.handle(ctx, cmd)
			select {
			case c.replies <- r:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (c *Client) handle(ctx context.Context, cmd Command) Reply {
	switch msg := cmd.(type) {
	case ConnectToNode:
		return c.connect(ctx, msg)
	case Disconnect:
		c.drop()
		return DisconnectedReply{}
	case GetFreeBalance:
		return c.freeBalance(ctx)
	case GetSavedGames:
		return c.savedGames(ctx)
	case SendAction:
		return c.sendAction(ctx, msg.Action)
	}
	return Failed{Op: "unknown", Err: fmt.Errorf("chain: unsupported command %T", cmd)}
}

func (c *Client) connect(ctx context.Context, msg ConnectToNode) Reply {
	c.drop()
	c.log.Info("connecting", zap.String("address", msg.Address), zap.String("program", msg.ProgramID))

	program, err := ParseProgramID(msg.ProgramID)
	if err != nil {
		return NotConnected{Reason: err.Error()}
	}
	signer, err := NewSigner(msg.AccountID, msg.Password)
	if err != nil {
		return NotConnected{Reason: err.Error()}
	}

	c.setState(Connecting)
	node, err := c.dialer.Dial(ctx, msg.Address)
	if err != nil {
		c.setState(Disconnected)
		c.log.Error("connect failed", zap.Error(err))
		return NotConnected{Reason: err.Error()}
	}

	hash, err := node.ProgramMetahash(ctx, program)
	if err != nil {
		_ = node.Close()
		c.setState(Disconnected)
		if errors.Is(err, ErrProgramNotFound) {
			c.log.Error("program not found", zap.Stringer("program", program))
			return ProgramNotFound{ProgramID: program.String()}
		}
		c.log.Error("metahash failed", zap.Error(err))
		return NotConnected{Reason: err.Error()}
	}
	c.log.Info("program found", zap.String("metahash", hash))

	conn := &Connection{node: node, signer: signer, program: program}
	c.mu.Lock()
	c.conn = conn
	c.state = Connected
	c.mu.Unlock()
	go c.watch(conn)

	return ConnectedReply{Program: program, Actor: signer.ActorID()}
}

// watch drops the connection once its transport is gone.
func (c *Client) watch(conn *Connection) {
	<-conn.node.Done()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return
	}
	c.log.Warn("node connection lost", zap.Error(conn.node.Err()))
	c.conn = nil
	c.state = Disconnected
}

func (c *Client) drop() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.state = Disconnected
	c.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.node.Close(); err != nil {
		c.log.Debug("close node", zap.Error(err))
	}
	c.log.Info("disconnected")
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) freeBalance(ctx context.Context) Reply {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return NotConnected{Reason: ErrNotConnected.Error()}
	}
	balance, err := c.conn.node.FreeBalance(ctx, c.conn.signer.Address())
	if err != nil {
		return Failed{Op: "free_balance", Err: err}
	}
	return FreeBalance{Balance: balance}
}

func (c *Client) savedGames(ctx context.Context) Reply {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return NotConnected{Reason: ErrNotConnected.Error()}
	}
	raw, err := c.conn.node.ReadState(ctx, c.conn.program)
	if err != nil {
		return Failed{Op: "read_state", Err: err}
	}
	games, err := DecodeState(raw)
	if err != nil {
		return Failed{Op: "read_state", Err: err}
	}
	return SavedGames{Games: games}
}

func (c *Client) sendAction(ctx context.Context, action Action) Reply {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return NotConnected{Reason: ErrNotConnected.Error()}
	}
	ev, err := c.submit(ctx, c.conn, action)
	if err != nil {
		c.log.Error("action failed", zap.String("action", fmt.Sprintf("%T", action)), zap.Error(err))
		return Failed{Op: "send_action", Err: err}
	}
	return ActionEvent{Event: ev}
}

func (c *Client) submit(ctx context.Context, conn *Connection, action Action) (Event, error) {
	if s, ok := action.(Save); ok && s.State.SaverID == (ActorID{}) {
		s.State.SaverID = conn.signer.ActorID()
		action = s
	}
	payload, err := EncodeAction(action)
	if err != nil {
		return nil, err
	}
	gas, err := conn.node.CalculateGas(ctx, conn.program, payload)
	if err != nil {
		return nil, fmt.Errorf("calculate gas: %w", err)
	}
	c.log.Info("gas limit", zap.Uint64("gas", gas), zap.String("action", fmt.Sprintf("%T", action)))

	tx, err := conn.signer.Sign(Transaction{Program: conn.program, Payload: payload, Gas: gas})
	if err != nil {
		return nil, err
	}
	id, err := conn.node.Submit(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	waitCtx := ctx
	if c.confirm > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.confirm)
		defer cancel()
	}
	out, err := conn.node.WaitProcessed(waitCtx, id)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: message %s", ErrConfirmTimeout, id)
		}
		return nil, err
	}
	if !out.Succeed {
		return nil, fmt.Errorf("%w: message %s", ErrActionFailed, id)
	}
	ev, err := DecodeEvent(out.Reply)
	if err != nil {
		return nil, err
	}
	c.log.Info("action confirmed", zap.String("message", string(id)))
	return ev, nil
}
