package chain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

const (
	rpcReadLimit = 64 << 20
	// processedBacklog bounds the outcomes kept for messages nobody waits on yet.
	processedBacklog = 256

	codeProgramNotFound = -32004

	notifyProcessed = "message_processed"
)

var errNodeClosed = errors.New("chain: node connection closed")

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcMessage struct {
	ID     *uint64         `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

type processedParams struct {
	MessageID MessageID `json:"message_id"`
	Succeed   bool      `json:"succeed"`
	Reply     string    `json:"reply"`
}

type gasResult struct {
	MinLimit uint64 `json:"min_limit"`
}

type submitParams struct {
	Program   string `json:"program"`
	Payload   string `json:"payload"`
	Gas       uint64 `json:"gas"`
	Value     uint64 `json:"value"`
	Nonce     uint64 `json:"nonce"`
	Signer    string `json:"signer"`
	Signature string `json:"signature"`
}

// RPCDialer opens JSON-RPC sessions over WebSocket.
type RPCDialer struct {
	Log        *zap.Logger
	HTTPClient *http.Client
}

func (d RPCDialer) Dial(ctx context.Context, address string) (Node, error) {
	conn, _, err := websocket.Dial(ctx, address, &websocket.DialOptions{HTTPClient: d.HTTPClient})
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", address, err)
	}
	conn.SetReadLimit(rpcReadLimit)

	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	n := &rpcNode{
		conn:      conn,
		log:       log.With(zap.String("node", address)),
		pending:   make(map[uint64]chan rpcMessage),
		processed: make(map[MessageID]Outcome),
		waiters:   make(map[MessageID]chan Outcome),
		done:      make(chan struct{}),
	}
	go n.readLoop()

	if err := n.call(ctx, "message_subscribeProcessed", []any{}, nil); err != nil {
		_ = n.Close()
		return nil, fmt.Errorf("chain: subscribe: %w", err)
	}
	return n, nil
}

type rpcNode struct {
	conn   *websocket.Conn
	log    *zap.Logger
	nextID atomic.Uint64

	mu        sync.Mutex
	pending   map[uint64]chan rpcMessage
	processed map[MessageID]Outcome
	waiters   map[MessageID]chan Outcome
	err       error

	done     chan struct{}
	failOnce sync.Once
}

func (n *rpcNode) ProgramMetahash(ctx context.Context, program ProgramID) (string, error) {
	var hash string
	err := n.call(ctx, "program_metahash", []any{program.String()}, &hash)
	var rerr *RPCError
	if errors.As(err, &rerr) && rerr.Code == codeProgramNotFound {
		return "", fmt.Errorf("%w: %s", ErrProgramNotFound, program)
	}
	return hash, err
}

func (n *rpcNode) CalculateGas(ctx context.Context, program ProgramID, payload []byte) (uint64, error) {
	var res gasResult
	if err := n.call(ctx, "program_calculateGas", []any{program.String(), "0x" + hex.EncodeToString(payload)}, &res); err != nil {
		return 0, err
	}
	return res.MinLimit, nil
}

func (n *rpcNode) Submit(ctx context.Context, tx SignedTransaction) (MessageID, error) {
	p := submitParams{
		Program:   tx.Transaction.Program.String(),
		Payload:   "0x" + hex.EncodeToString(tx.Transaction.Payload),
		Gas:       tx.Transaction.Gas,
		Value:     tx.Transaction.Value,
		Nonce:     tx.Transaction.Nonce,
		Signer:    "0x" + hex.EncodeToString(tx.Signer),
		Signature: "0x" + hex.EncodeToString(tx.Signature),
	}
	var id MessageID
	if err := n.call(ctx, "program_submit", []any{p}, &id); err != nil {
		return "", err
	}
	return id, nil
}

func (n *rpcNode) WaitProcessed(ctx context.Context, id MessageID) (Outcome, error) {
	n.mu.Lock()
	if o, ok := n.processed[id]; ok {
		delete(n.processed, id)
		n.mu.Unlock()
		return o, nil
	}
	ch := make(chan Outcome, 1)
	n.waiters[id] = ch
	n.mu.Unlock()

	select {
	case o := <-ch:
		return o, nil
	case <-ctx.Done():
		n.mu.Lock()
		delete(n.waiters, id)
		n.mu.Unlock()
		return Outcome{}, ctx.Err()
	case <-n.done:
		return Outcome{}, n.Err()
	}
}

func (n *rpcNode) ReadState(ctx context.Context, program ProgramID) ([]byte, error) {
	var raw string
	if err := n.call(ctx, "program_readState", []any{program.String()}, &raw); err != nil {
		return nil, err
	}
	return decodeHex(raw)
}

func (n *rpcNode) FreeBalance(ctx context.Context, address string) (*big.Int, error) {
	var raw string
	if err := n.call(ctx, "balance_free", []any{address}, &raw); err != nil {
		return nil, err
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("chain: bad balance %q", raw)
	}
	return v, nil
}

func (n *rpcNode) Done() <-chan struct{} { return n.done }

func (n *rpcNode) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

func (n *rpcNode) Close() error {
	n.fail(errNodeClosed)
	return n.conn.Close(websocket.StatusNormalClosure, "bye")
}

func (n *rpcNode) call(ctx context.Context, method string, params, result any) error {
	id := n.nextID.Add(1)
	ch := make(chan rpcMessage, 1)

	n.mu.Lock()
	if n.err != nil {
		n.mu.Unlock()
		return n.err
	}
	n.pending[id] = ch
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		delete(n.pending, id)
		n.mu.Unlock()
	}()

	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return err
	}
	if err := n.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("chain: %s: %w", method, err)
	}

	select {
	case msg := <-ch:
		if msg.Error != nil {
			return msg.Error
		}
		if result == nil {
			return nil
		}
		if err := json.Unmarshal(msg.Result, result); err != nil {
			return fmt.Errorf("chain: %s result: %w", method, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-n.done:
		return n.Err()
	}
}

func (n *rpcNode) readLoop() {
	for {
		_, data, err := n.conn.Read(context.Background())
		if err != nil {
			n.fail(err)
			return
		}
		var msg rpcMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			n.log.Warn("bad rpc message", zap.Error(err))
			continue
		}
		if msg.ID != nil {
			n.mu.Lock()
			ch := n.pending[*msg.ID]
			n.mu.Unlock()
			if ch != nil {
				ch <- msg
			}
			continue
		}
		if msg.Method == notifyProcessed {
			n.onProcessed(msg.Params)
		}
	}
}

func (n *rpcNode) onProcessed(raw json.RawMessage) {
	var p processedParams
	if err := json.Unmarshal(raw, &p); err != nil {
		n.log.Warn("bad processed notification", zap.Error(err))
		return
	}
	reply, err := decodeHex(p.Reply)
	if err != nil {
		n.log.Warn("bad processed reply", zap.Error(err))
		return
	}
	o := Outcome{MessageID: p.MessageID, Succeed: p.Succeed, Reply: reply}

	n.mu.Lock()
	defer n.mu.Unlock()
	if ch, ok := n.waiters[p.MessageID]; ok {
		delete(n.waiters, p.MessageID)
		ch <- o
		return
	}
	if len(n.processed) >= processedBacklog {
		clear(n.processed)
	}
	n.processed[p.MessageID] = o
}

func (n *rpcNode) fail(err error) {
	n.failOnce.Do(func() {
		n.mu.Lock()
		n.err = err
		n.mu.Unlock()
		close(n.done)
	})
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
