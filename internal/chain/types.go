package chain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotConnected    = errors.New("chain: not connected")
	ErrProgramNotFound = errors.New("chain: program not found")
	ErrInvalidProgram  = errors.New("chain: invalid program id")
	ErrUnknownVariant  = errors.New("chain: unknown variant")
	ErrActionFailed    = errors.New("chain: action failed")
	ErrConfirmTimeout  = errors.New("chain: confirmation timed out")
)

// ProgramID is the 32-byte address of the saved-games program.
type ProgramID [32]byte

// ParseProgramID decodes a hex program id; the 0x prefix is optional.
func ParseProgramID(s string) (ProgramID, error) {
	var id ProgramID
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return id, fmt.Errorf("%w: %v", ErrInvalidProgram, err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidProgram, len(id), len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

func (p ProgramID) String() string { return "0x" + hex.EncodeToString(p[:]) }

// ActorID identifies an account on chain.
type ActorID [32]byte

func (a ActorID) String() string { return "0x" + hex.EncodeToString(a[:]) }

// ArchiveDescription points at a store blob. Hash is the store's content
// address; Name is the name the store assigned on upload.
type ArchiveDescription struct {
	Filename string `cbor:"filename" json:"filename"`
	Name     string `cbor:"name" json:"name"`
	Hash     string `cbor:"hash" json:"hash"`
}

type GameState struct {
	SaverID ActorID            `cbor:"saver_id" json:"saver_id"`
	Archive ArchiveDescription `cbor:"archive" json:"archive"`
}

// SavedGame is one record of the program state.
type SavedGame struct {
	Owner ActorID
	State GameState
}

type Action interface{ isAction() }

type Save struct{ State GameState }

func (Save) isAction() {}

type Load struct{ Hash string }

func (Load) isAction() {}

type Event interface{ isEvent() }

type Saved struct{}

func (Saved) isEvent() {}

type Loaded struct{ Hash string }

func (Loaded) isEvent() {}
