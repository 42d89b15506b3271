package gui

import (
	"context"
)

type BusMsg interface{ isBusMsg() }

type Subscribe struct {
	ClientID string
	Outbox   chan Signal // where this client wants to receive signals
}

func (Subscribe) isBusMsg() {}

type Unsubscribe struct{ ClientID string }

func (Unsubscribe) isBusMsg() {}

type publish struct{ sig Signal }

func (publish) isBusMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isBusMsg() {}

type View struct {
	NumClients int
	Dropped    int
}

// Signals replayed to a subscriber that joins after they were published.
var sticky = map[string]bool{
	SignalShowConnectDialog: true,
	SignalConnected:         true,
	SignalUpdateBalance:     true,
	SignalRooms:             true,
	SignalUsers:             true,
	SignalStatus:            true,
	SignalSavedGames:        true,
}

// Bus fans signals out to every connected UI client.
type Bus struct {
	inbox   chan BusMsg
	clients map[string]chan Signal
	latest  map[string]Signal
	order   []string
	dropped int
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBus(parent context.Context) *Bus {
	ctx, cancel := context.WithCancel(parent)

	b := &Bus{
		inbox:   make(chan BusMsg, 256),
		clients: make(map[string]chan Signal),
		latest:  make(map[string]Signal),
		ctx:     ctx,
		cancel:  cancel,
	}

	go b.loop()
	return b
}

// Publish queues sig for delivery. It never blocks; when the queue is full
// the signal is dropped.
func (b *Bus) Publish(sig Signal) {
	select {
	case b.inbox <- publish{sig: sig}:
	default:
	}
}

func (b *Bus) Inbox() chan<- BusMsg { return b.inbox }

// Send delivers m to the bus unless it has shut down.
func (b *Bus) Send(m BusMsg) bool {
	if b.ctx.Err() != nil {
		return false
	}
	select {
	case b.inbox <- m:
		return true
	case <-b.ctx.Done():
		return false
	}
}

func (b *Bus) Close() { b.cancel() }

func (b *Bus) loop() {
	for {
		select {
		case <-b.ctx.Done():
			b.shutdown()
			return

		case m := <-b.inbox:
			switch msg := m.(type) {
			case Subscribe:
				b.clients[msg.ClientID] = msg.Outbox
				for _, name := range b.order {
					select {
					case msg.Outbox <- b.latest[name]:
					default:
					}
				}

			case Unsubscribe:
				if ch, ok := b.clients[msg.ClientID]; ok {
					close(ch)
					delete(b.clients, msg.ClientID)
				}

			case publish:
				if sticky[msg.sig.Name] {
					if _, seen := b.latest[msg.sig.Name]; !seen {
						b.order = append(b.order, msg.sig.Name)
					}
					b.latest[msg.sig.Name] = msg.sig
				}
				b.broadcast(msg.sig)

			case GetState:
				msg.Reply <- View{NumClients: len(b.clients), Dropped: b.dropped}
			}
		}
	}
}

func (b *Bus) shutdown() {
	for id, ch := range b.clients {
		close(ch) // no more signals
		delete(b.clients, id)
	}
}

func (b *Bus) broadcast(sig Signal) {
	for id, ch := range b.clients {
		select {
		case ch <- sig:
		default:
			// Client is slow/full - drop them.
			close(ch)
			delete(b.clients, id)
			b.dropped++
		}
	}
}
