package chain

import (
	"context"
	"math/big"
)

type MessageID string

type Transaction struct {
	Program ProgramID `cbor:"program" json:"program"`
	Payload []byte    `cbor:"payload" json:"payload"`
	Gas     uint64    `cbor:"gas" json:"gas"`
	Value   uint64    `cbor:"value" json:"value"`
	Nonce   uint64    `cbor:"nonce" json:"nonce"`
}

type SignedTransaction struct {
	Transaction Transaction `json:"transaction"`
	Signer      []byte      `json:"signer"`
	Signature   []byte      `json:"signature"`
}

// Outcome is the node's report that a submitted message was executed.
type Outcome struct {
	MessageID MessageID
	Succeed   bool
	Reply     []byte
}

// Node is a live session with a chain node.
type Node interface {
	ProgramMetahash(ctx context.Context, program ProgramID) (string, error)
	CalculateGas(ctx context.Context, program ProgramID, payload []byte) (uint64, error)
	Submit(ctx context.Context, tx SignedTransaction) (MessageID, error)
	// WaitProcessed blocks until the node reports the message as executed.
	WaitProcessed(ctx context.Context, id MessageID) (Outcome, error)
	ReadState(ctx context.Context, program ProgramID) ([]byte, error)
	FreeBalance(ctx context.Context, address string) (*big.Int, error)
	// Done is closed once the transport is gone; Err then reports why.
	Done() <-chan struct{}
	Err() error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, address string) (Node, error)
}

type DialerFunc func(ctx context.Context, address string) (Node, error)

func (f DialerFunc) Dial(ctx context.Context, address string) (Node, error) { return f(ctx, address) }
