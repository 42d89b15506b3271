package framing

import (
	"io"
	"sync"
)

const readChunk = 4096

// Reader pulls whole frames off a byte stream.
type Reader[T any] struct {
	codec Codec[T]
	src   io.Reader
	buf   []byte
	chunk []byte
}

func NewReader[T any](src io.Reader, codec Codec[T]) *Reader[T] {
	return &Reader[T]{
		codec: codec,
		src:   src,
		chunk: make([]byte, readChunk),
	}
}

// Next blocks until a complete frame is buffered. A malformed body yields an
// error wrapping ErrMalformedFrame; the frame is dropped and the reader stays
// usable. io.EOF is returned only on a clean frame boundary, otherwise
// io.ErrUnexpectedEOF.
func (r *Reader[T]) Next() (T, error) {
	for {
		v, n, err := r.codec.Decode(r.buf)
		if n > 0 {
			r.consume(n)
			return v, err
		}
		if err != nil {
			return v, err
		}

		read, rerr := r.src.Read(r.chunk)
		r.buf = append(r.buf, r.chunk[:read]...)
		if rerr != nil {
			if read > 0 {
				continue
			}
			if rerr == io.EOF && len(r.buf) > 0 {
				rerr = io.ErrUnexpectedEOF
			}
			var zero T
			return zero, rerr
		}
	}
}

func (r *Reader[T]) consume(n int) {
	rest := len(r.buf) - n
	copy(r.buf, r.buf[n:])
	r.buf = r.buf[:rest]
}

// Writer writes one frame per call. Safe for concurrent use.
type Writer[T any] struct {
	codec Codec[T]
	mu    sync.Mutex
	dst   io.Writer
}

func NewWriter[T any](dst io.Writer, codec Codec[T]) *Writer[T] {
	return &Writer[T]{codec: codec, dst: dst}
}

func (w *Writer[T]) Write(v T) error {
	frame, err := w.codec.Encode(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.dst.Write(frame)
	return err
}
