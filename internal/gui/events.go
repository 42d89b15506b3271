package gui

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	outboxSize   = 64
	writeTimeout = 3 * time.Second
)

// EventsHandler streams bus signals to one WebSocket client as JSON text
// messages. Inbound messages are ignored; reading only detects the close.
func EventsHandler(b *Bus, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		out := make(chan Signal, outboxSize)
		clientID := uuid.NewString()
		if !b.Send(Subscribe{ClientID: clientID, Outbox: out}) {
			return
		}
		defer b.Send(Unsubscribe{ClientID: clientID})
		log.Debug("ui client subscribed", zap.String("client", clientID))

		// Writer goroutine
		writeCtx, writeCancel := context.WithCancel(r.Context())
		defer writeCancel()
		go func() {
			defer writeCancel()
			for sig := range out {
				payload, err := json.Marshal(sig)
				if err != nil {
					log.Warn("signal not encodable", zap.String("event", sig.Name), zap.Error(err))
					continue
				}
				ctx, cancel := context.WithTimeout(writeCtx, writeTimeout)
				err = conn.Write(ctx, websocket.MessageText, payload)
				cancel()
				if err != nil {
					return
				}
			}
			// outbox closed: dropped as slow or bus shut down
			_ = conn.Close(websocket.StatusTryAgainLater, "dropped")
		}()

		// Reader loop
		for {
			if _, _, err := conn.Read(writeCtx); err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("ui client gone", zap.String("client", clientID), zap.Error(err))
				}
				return
			}
		}
	}
}
