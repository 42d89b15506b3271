package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("store: blob not found")
	ErrCorrupt  = errors.New("store: blob does not match its hash")
	ErrBadHash  = errors.New("store: invalid content hash")
)

// Object describes an uploaded blob. Hash is the content address used to
// fetch it back; Name is whatever the backend called it.
type Object struct {
	Name string
	Hash string
	Size int64
}

// Backend is a content-addressed blob store.
type Backend interface {
	Add(ctx context.Context, name string, data []byte) (Object, error)
	// Cat returns the complete blob, buffering any streamed chunks.
	Cat(ctx context.Context, hash string) ([]byte, error)
	Close() error
}
