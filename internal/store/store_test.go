package store

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocal_AddCat(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	defer l.Close()
	ctx := context.Background()

	data := []byte("compressed archive bytes")
	obj, err := l.Add(ctx, "slot1.vsgm1", data)
	require.NoError(t, err)
	assert.Equal(t, "slot1.vsgm1", obj.Name)
	assert.Equal(t, HashBytes(data), obj.Hash)
	assert.Len(t, obj.Hash, 64)

	again, err := l.Add(ctx, "other-name", data)
	require.NoError(t, err)
	assert.Equal(t, obj.Hash, again.Hash, "same content, same address")

	got, err := l.Cat(ctx, obj.Hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestLocal_Errors(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocal(dir)
	require.NoError(t, err)
	defer l.Close()
	ctx := context.Background()

	_, err = l.Cat(ctx, HashBytes([]byte("never stored")))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = l.Cat(ctx, "../../etc/passwd")
	assert.ErrorIs(t, err, ErrBadHash)

	obj, err := l.Add(ctx, "a", []byte("original"))
	require.NoError(t, err)
	p := filepath.Join(dir, obj.Hash[:2], obj.Hash+".zst")
	require.NoError(t, os.WriteFile(p, l.enc.EncodeAll([]byte("tampered"), nil), 0o644))
	_, err = l.Cat(ctx, obj.Hash)
	assert.ErrorIs(t, err, ErrCorrupt)
}

// fakeIPFS serves add and cat from memory. Cat responses are written in
// several flushed chunks.
type fakeIPFS struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func (f *fakeIPFS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.URL.Path {
	case "/api/v0/add":
		file, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(file)
		hash := "Qm" + HashBytes(data)[:20]
		f.blobs[hash] = data
		_ = json.NewEncoder(w).Encode(map[string]string{"Name": hdr.Filename, "Hash": hash, "Size": "12"})
	case "/api/v0/cat":
		data, ok := f.blobs[r.URL.Query().Get("arg")]
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]any{"Message": "block was not found locally (offline)", "Code": 0})
			return
		}
		for i := 0; i < len(data); i += 4 {
			end := min(i+4, len(data))
			_, _ = w.Write(data[i:end])
			w.(http.Flusher).Flush()
		}
	default:
		http.NotFound(w, r)
	}
}

func TestIPFS_AddCat(t *testing.T) {
	srv := httptest.NewServer(&fakeIPFS{blobs: map[string][]byte{}})
	defer srv.Close()
	s := NewIPFS(srv.URL+"/", srv.Client())
	ctx := context.Background()

	data := []byte("a longer archive split over chunks")
	obj, err := s.Add(ctx, "slot1.vsgm1", data)
	require.NoError(t, err)
	assert.Equal(t, "slot1.vsgm1", obj.Name)
	assert.Equal(t, int64(12), obj.Size)

	got, err := s.Cat(ctx, obj.Hash)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = s.Cat(ctx, "QmMissing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func recvReply(t *testing.T, c *Client) Reply {
	t.Helper()
	select {
	case r := <-c.Replies():
		return r
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for store reply")
		return nil
	}
}

func TestClient_UploadDownloadAndFailure(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	c := New(zap.NewNop(), l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	c.Commands() <- UploadData{Filename: "f", Data: []byte{1, 2, 3}}
	up, ok := recvReply(t, c).(Uploaded)
	require.True(t, ok)
	assert.Equal(t, "f", up.Name)

	c.Commands() <- DownloadData{Hash: up.Hash}
	assert.Equal(t, Downloaded{Data: []byte{1, 2, 3}}, recvReply(t, c))

	c.Commands() <- DownloadData{Hash: HashBytes([]byte("missing"))}
	f, ok := recvReply(t, c).(Failed)
	require.True(t, ok)
	assert.Equal(t, "download", f.Op)
	assert.ErrorIs(t, f.Err, ErrNotFound)

	// still serving after a failure
	c.Commands() <- DownloadData{Hash: up.Hash}
	assert.IsType(t, Downloaded{}, recvReply(t, c))
}

func TestClient_CommandsAreServedOneAtATime(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	c := New(zap.NewNop(), l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	// a fills the reply slot, b stalls the loop on it, c fills the command slot
	c.Commands() <- UploadData{Filename: "a", Data: []byte("a")}
	c.Commands() <- UploadData{Filename: "b", Data: []byte("b")}
	c.Commands() <- UploadData{Filename: "c", Data: []byte("c")}

	select {
	case c.Commands() <- UploadData{Filename: "d", Data: []byte("d")}:
		t.Fatalf("fourth command accepted while three are pending")
	case <-time.After(50 * time.Millisecond):
	}

	for _, name := range []string{"a", "b", "c"} {
		up, ok := recvReply(t, c).(Uploaded)
		require.True(t, ok)
		assert.Equal(t, name, up.Name)
	}

	select {
	case c.Commands() <- UploadData{Filename: "d", Data: []byte("d")}:
	case <-time.After(2 * time.Second):
		t.Fatalf("fourth command never accepted")
	}
	up, ok := recvReply(t, c).(Uploaded)
	require.True(t, ok)
	assert.Equal(t, "d", up.Name)
}
