package store

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
	"go.uber.org/multierr"
)

// Local keeps zstd-compressed blobs under a directory, addressed by the
// hex BLAKE3 digest of their uncompressed bytes.
type Local struct {
	dir string
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", dir, err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, multierr.Append(err, enc.Close())
	}
	return &Local{dir: dir, enc: enc, dec: dec}, nil
}

func HashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (l *Local) path(hash string) (string, error) {
	raw, err := hex.DecodeString(hash)
	if err != nil || len(raw) != 32 {
		return "", fmt.Errorf("%w: %q", ErrBadHash, hash)
	}
	return filepath.Join(l.dir, hash[:2], hash+".zst"), nil
}

func (l *Local) Add(_ context.Context, name string, data []byte) (obj Object, err error) {
	hash := HashBytes(data)
	p, err := l.path(hash)
	if err != nil {
		return Object{}, err
	}
	obj = Object{Name: name, Hash: hash, Size: int64(len(data))}
	if _, err := os.Stat(p); err == nil {
		return obj, nil
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return Object{}, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".blob-*")
	if err != nil {
		return Object{}, err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	_, err = tmp.Write(l.enc.EncodeAll(data, nil))
	err = multierr.Append(err, tmp.Close())
	if err != nil {
		return Object{}, fmt.Errorf("store: write %s: %w", hash, err)
	}
	if err = os.Rename(tmp.Name(), p); err != nil {
		return Object{}, err
	}
	return obj, nil
}

func (l *Local) Cat(_ context.Context, hash string) ([]byte, error) {
	p, err := l.path(hash)
	if err != nil {
		return nil, err
	}
	compressed, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	if err != nil {
		return nil, err
	}
	data, err := l.dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, hash, err)
	}
	if HashBytes(data) != hash {
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, hash)
	}
	return data, nil
}

func (l *Local) Close() error {
	l.dec.Close()
	return l.enc.Close()
}
