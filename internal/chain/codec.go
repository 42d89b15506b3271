package chain

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding so the same transaction always
// signs over identical bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("chain: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("chain: CBOR decoder initialization failed: " + err.Error())
	}
}

type hashBody struct {
	Hash string `cbor:"hash"`
}

// Actions and events are single-key maps keyed by variant name.
type actionEnvelope struct {
	Save *GameState `cbor:"Save,omitempty"`
	Load *hashBody  `cbor:"Load,omitempty"`
}

type eventEnvelope struct {
	Saved  *struct{} `cbor:"Saved,omitempty"`
	Loaded *hashBody `cbor:"Loaded,omitempty"`
}

type stateEntry struct {
	_     struct{} `cbor:",toarray"`
	Owner ActorID
	State GameState
}

func EncodeAction(a Action) ([]byte, error) {
	var env actionEnvelope
	switch act := a.(type) {
	case Save:
		env.Save = &act.State
	case Load:
		env.Load = &hashBody{Hash: act.Hash}
	default:
		return nil, fmt.Errorf("%w: action %T", ErrUnknownVariant, a)
	}
	return encMode.Marshal(env)
}

func DecodeAction(data []byte) (Action, error) {
	var env actionEnvelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("chain: decode action: %w", err)
	}
	switch {
	case env.Save != nil && env.Load == nil:
		return Save{State: *env.Save}, nil
	case env.Load != nil && env.Save == nil:
		return Load{Hash: env.Load.Hash}, nil
	}
	return nil, fmt.Errorf("%w: action", ErrUnknownVariant)
}

func EncodeEvent(e Event) ([]byte, error) {
	var env eventEnvelope
	switch ev := e.(type) {
	case Saved:
		env.Saved = &struct{}{}
	case Loaded:
		env.Loaded = &hashBody{Hash: ev.Hash}
	default:
		return nil, fmt.Errorf("%w: event %T", ErrUnknownVariant, e)
	}
	return encMode.Marshal(env)
}

func DecodeEvent(data []byte) (Event, error) {
	var env eventEnvelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("chain: decode event: %w", err)
	}
	switch {
	case env.Saved != nil && env.Loaded == nil:
		return Saved{}, nil
	case env.Loaded != nil && env.Saved == nil:
		return Loaded{Hash: env.Loaded.Hash}, nil
	}
	return nil, fmt.Errorf("%w: event", ErrUnknownVariant)
}

// EncodeState renders program state as an array of [owner, state] pairs.
func EncodeState(games []SavedGame) ([]byte, error) {
	entries := make([]stateEntry, len(games))
	for i, g := range games {
		entries[i] = stateEntry{Owner: g.Owner, State: g.State}
	}
	return encMode.Marshal(entries)
}

func DecodeState(data []byte) ([]SavedGame, error) {
	var entries []stateEntry
	if err := decMode.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("chain: decode state: %w", err)
	}
	games := make([]SavedGame, len(entries))
	for i, e := range entries {
		games[i] = SavedGame{Owner: e.Owner, State: e.State}
	}
	return games, nil
}
