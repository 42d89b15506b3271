// Package framing implements the length-prefixed frames spoken on the game
// client socket: a 4-byte little-endian body length followed by a JSON body.
package framing

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/DoyleJ11/gear-connector/pkg/types"
)

const (
	HeaderSize = 4
	// MaxBodySize bounds a single frame. Save archives are a few MB at most.
	MaxBodySize = 64 << 20
)

var (
	ErrMalformedFrame = errors.New("framing: malformed frame body")
	ErrFrameTooLarge  = errors.New("framing: frame exceeds maximum body size")
)

// Codec frames values of one message family.
type Codec[T any] struct {
	Marshal   func(T) ([]byte, error)
	Unmarshal func([]byte) (T, error)
}

var (
	Commands = Codec[types.Command]{Marshal: types.MarshalCommand, Unmarshal: types.UnmarshalCommand}
	Replies  = Codec[types.Reply]{Marshal: types.MarshalReply, Unmarshal: types.UnmarshalReply}
)

func (c Codec[T]) Encode(v T) ([]byte, error) {
	body, err := c.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(body) > MaxBodySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}

	frame := make([]byte, HeaderSize+len(body))
	binary.LittleEndian.PutUint32(frame[:HeaderSize], uint32(len(body)))
	copy(frame[HeaderSize:], body)
	return frame, nil
}

// Decode parses the first frame in buf and reports how many bytes it used.
//
// n == 0 with a nil error means buf holds only part of a frame; nothing was
// consumed and the caller must retry once more bytes arrive. A body that
// fails to parse is still consumed (n > 0) and the error wraps
// ErrMalformedFrame, so the stream can continue with the next frame.
// ErrFrameTooLarge is returned with n == 0: the stream cannot be resynced.
func (c Codec[T]) Decode(buf []byte) (v T, n int, err error) {
	if len(buf) < HeaderSize {
		return v, 0, nil
	}

	length := binary.LittleEndian.Uint32(buf[:HeaderSize])
	if length > MaxBodySize {
		return v, 0, fmt.Errorf("%w: header declares %d bytes", ErrFrameTooLarge, length)
	}

	total := HeaderSize + int(length)
	if len(buf) < total {
		return v, 0, nil
	}

	v, err = c.Unmarshal(buf[HeaderSize:total])
	if err != nil {
		var zero T
		return zero, total, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return v, total, nil
}
