package orchestrator

import (
	"errors"
	"fmt"
)

var (
	ErrChainNotConnected = errors.New("orchestrator: not connected to the chain")
	ErrSaveNotFound      = errors.New("orchestrator: saved game not found")
)

// UnexpectedReplyError means a backend answered a command with a reply
// that command can never produce.
type UnexpectedReplyError struct {
	Op    string
	Reply any
}

func (e *UnexpectedReplyError) Error() string {
	return fmt.Sprintf("orchestrator: unexpected reply %T to %s", e.Reply, e.Op)
}

func unexpected(op string, r any) error {
	return &UnexpectedReplyError{Op: op, Reply: r}
}

// OperationError carries the failure reason reported by a backend.
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *OperationError) Unwrap() error { return e.Err }
