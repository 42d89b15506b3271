// Package store uploads and downloads save-game archives to a
// content-addressed blob store.
package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

type Command interface{ isStoreCmd() }

type UploadData struct {
	Filename string
	Data     []byte
}

func (UploadData) isStoreCmd() {}

type DownloadData struct{ Hash string }

func (DownloadData) isStoreCmd() {}

type Reply interface{ isStoreReply() }

type Uploaded struct {
	Name string
	Hash string
}

func (Uploaded) isStoreReply() {}

type Downloaded struct{ Data []byte }

func (Downloaded) isStoreReply() {}

// Failed carries a network or not-found error. The client keeps serving
// after emitting it.
type Failed struct {
	Op  string
	Err error
}

func (Failed) isStoreReply() {}

type Client struct {
	commands chan Command
	replies  chan Reply
	backend  Backend
	log      *zap.Logger
}

func New(log *zap.Logger, backend Backend) *Client {
	return &Client{
		commands: make(chan Command, 1),
		replies:  make(chan Reply, 1),
		backend:  backend,
		log:      log.Named("store"),
	}
}

func (c *Client) Commands() chan<- Command { return c.commands }
func (c *Client) Replies() <-chan Reply    { return c.replies }

func (c *Client) Run(ctx context.Context) error {
	defer func() {
		if err := c.backend.Close(); err != nil {
			c.log.Warn("close backend", zap.Error(err))
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-c.commands:
			r := c.handle(ctx, cmd)
			select {
			case c.replies <- r:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (c *Client) handle(ctx context.Context, cmd Command) Reply {
	switch msg := cmd.(type) {
	case UploadData:
		obj, err := c.backend.Add(ctx, msg.Filename, msg.Data)
		if err != nil {
			c.log.Error("upload failed", zap.String("filename", msg.Filename), zap.Error(err))
			return Failed{Op: "upload", Err: err}
		}
		c.log.Info("uploaded",
			zap.String("filename", msg.Filename),
			zap.String("hash", obj.Hash),
			zap.String("name", obj.Name),
			zap.Int64("size", obj.Size))
		return Uploaded{Name: obj.Name, Hash: obj.Hash}

	case DownloadData:
		data, err := c.backend.Cat(ctx, msg.Hash)
		if err != nil {
			c.log.Error("download failed", zap.String("hash", msg.Hash), zap.Error(err))
			return Failed{Op: "download", Err: err}
		}
		c.log.Debug("downloaded", zap.String("hash", msg.Hash), zap.Int("size", len(data)))
		return Downloaded{Data: data}
	}
	return Failed{Op: "unknown", Err: fmt.Errorf("store: unsupported command %T", cmd)}
}
