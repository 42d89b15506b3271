// Package orchestrator is the connector's dispatcher. It polls the UI, the
// game client and the lobby in a fixed order and sequences the chain and
// store clients to serve each request.
package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/gear-connector/internal/chain"
	"github.com/DoyleJ11/gear-connector/internal/gui"
	"github.com/DoyleJ11/gear-connector/internal/launcher"
	"github.com/DoyleJ11/gear-connector/internal/lobby"
	"github.com/DoyleJ11/gear-connector/internal/store"
	"github.com/DoyleJ11/gear-connector/pkg/types"
)

// Endpoints are the channel pairs shared with every other unit.
type Endpoints struct {
	GameCommands <-chan types.Command
	GameReplies  chan<- types.Reply

	GUICommands <-chan gui.Command
	Signals     gui.Sink

	ChainCommands chan<- chain.Command
	ChainReplies  <-chan chain.Reply

	StoreCommands chan<- store.Command
	StoreReplies  <-chan store.Reply

	LobbyCommands chan<- lobby.Command
	LobbyReplies  <-chan lobby.Reply
}

type Options struct {
	PollInterval time.Duration
	// NodeAddress is used when a Connect request leaves it empty.
	NodeAddress string
	GameVersion string
	Launcher    launcher.Launcher
	// Quit ends the whole process; called for the UI quit command.
	Quit func()
}

type hostInfo struct {
	uuid        string
	connections int
}

type lobbySession struct {
	address  string
	username string
	room     string
	gameMode int
	host     *hostInfo
}

type Orchestrator struct {
	ep   Endpoints
	opts Options
	log  *zap.Logger

	session lobbySession
	// lobby commands not yet taken by the lobby client
	lobbyBacklog []lobby.Command
}

func New(log *zap.Logger, ep Endpoints, opts Options) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Millisecond
	}
	if opts.Quit == nil {
		opts.Quit = func() {}
	}
	return &Orchestrator{ep: ep, opts: opts, log: log.Named("orchestrator")}
}

// Run dispatches until ctx is cancelled. Each pass takes at most one item
// from the UI, then the game client, then the lobby; an idle pass sleeps
// for the poll interval.
func (o *Orchestrator) Run(ctx context.Context) error {
	tick := time.NewTicker(o.opts.PollInterval)
	defer tick.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		o.flushLobby()
		busy := false

		select {
		case cmd := <-o.ep.GUICommands:
			busy = true
			o.handleGUI(ctx, cmd)
		default:
		}

		select {
		case cmd := <-o.ep.GameCommands:
			busy = true
			o.handleGame(ctx, cmd)
		default:
		}

		select {
		case r := <-o.ep.LobbyReplies:
			busy = true
			o.handleLobby(ctx, r)
		default:
		}

		if busy {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}

func (o *Orchestrator) publish(name string, payload any) {
	o.ep.Signals.Publish(gui.Signal{Name: name, Payload: payload})
}

func (o *Orchestrator) alert(msg string) {
	o.publish(gui.SignalAlert, msg)
}

// replyGame answers a command the game client is waiting on.
func (o *Orchestrator) replyGame(ctx context.Context, r types.Reply) {
	select {
	case o.ep.GameReplies <- r:
	case <-ctx.Done():
	}
}

// notifyGame sends a reply the game client did not ask for. It is dropped
// when the previous one has not been taken yet.
func (o *Orchestrator) notifyGame(r types.Reply) {
	select {
	case o.ep.GameReplies <- r:
	default:
		o.log.Warn("game client not reading, dropping reply", zap.String("reply", types.ReplyName(r)))
	}
}

func (o *Orchestrator) chainCall(ctx context.Context, cmd chain.Command) (chain.Reply, error) {
	select {
	case o.ep.ChainCommands <- cmd:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-o.ep.ChainReplies:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (o *Orchestrator) storeCall(ctx context.Context, cmd store.Command) (store.Reply, error) {
	select {
	case o.ep.StoreCommands <- cmd:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-o.ep.StoreReplies:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// sendLobby queues cmd for the lobby client without blocking; the lobby
// client may itself be blocked handing us a reply.
func (o *Orchestrator) sendLobby(cmd lobby.Command) {
	o.lobbyBacklog = append(o.lobbyBacklog, cmd)
	o.flushLobby()
}

func (o *Orchestrator) flushLobby() {
	for len(o.lobbyBacklog) > 0 {
		select {
		case o.ep.LobbyCommands <- o.lobbyBacklog[0]:
			o.lobbyBacklog[0] = nil
			o.lobbyBacklog = o.lobbyBacklog[1:]
		default:
			return
		}
	}
}
