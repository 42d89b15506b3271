package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/DoyleJ11/gear-connector/internal/gui"
	"github.com/DoyleJ11/gear-connector/internal/launcher"
	"github.com/DoyleJ11/gear-connector/internal/lobby"
	"github.com/DoyleJ11/gear-connector/internal/lobbyproto"
)

type chatPayload struct {
	Username string `json:"username"`
	Text     string `json:"text"`
}

type roomUserPayload struct {
	Room     string `json:"room"`
	Username string `json:"username"`
}

type clientModsPayload struct {
	Username string           `json:"username"`
	Mods     []lobbyproto.Mod `json:"mods"`
}

type gameStartedPayload struct {
	UUID string `json:"uuid"`
	Host bool   `json:"host"`
}

type lobbyStatePayload struct {
	Address string `json:"address"`
	Reason  string `json:"reason,omitempty"`
}

func (o *Orchestrator) handleLobby(ctx context.Context, r lobby.Reply) {
	switch lr := r.(type) {
	case lobby.Connected:
		o.publish(gui.SignalLobbyConnected, lobbyStatePayload{Address: lr.Address})
		o.sendLobby(lobby.Send{Request: lobbyproto.Greeting{Username: o.session.username, Version: o.opts.GameVersion}})
	case lobby.ConnectFailed:
		o.alert("lobby: " + lr.Err.Error())
		o.publish(gui.SignalLobbyDisconnected, lobbyStatePayload{Address: lr.Address, Reason: lr.Err.Error()})
	case lobby.Disconnected:
		p := lobbyStatePayload{Address: o.session.address}
		if lr.Err != nil {
			p.Reason = lr.Err.Error()
		}
		o.session.room = ""
		o.session.host = nil
		o.publish(gui.SignalLobbyDisconnected, p)
	case lobby.NotConnected:
		o.alert("lobby: not connected")
	case lobby.ProtocolError:
		o.log.Warn("lobby protocol error", zap.String("frame", lr.Raw), zap.Error(lr.Err))
	case lobby.Received:
		o.handleLobbyReply(ctx, lr.Reply)
	default:
		o.log.Error("protocol invariant violated", zap.Error(unexpected("lobby stream", r)))
	}
}

func (o *Orchestrator) handleLobbyReply(ctx context.Context, r lobbyproto.Reply) {
	switch lr := r.(type) {
	case lobbyproto.Sessions:
		o.publish(gui.SignalRooms, lr.Rooms)
	case lobbyproto.Users:
		o.publish(gui.SignalUsers, lr.Names)
	case lobbyproto.Chat:
		o.publish(gui.SignalChat, chatPayload{Username: lr.Username, Text: lr.Text})
	case lobbyproto.ServerError:
		o.alert(lr.Message)
	case lobbyproto.Created:
		o.session.room = lr.Room
		o.publish(gui.SignalRoomCreated, lr.Room)
	case lobbyproto.Joined:
		if lr.Username == o.session.username {
			o.session.room = lr.Room
		}
		o.publish(gui.SignalJoined, roomUserPayload{Room: lr.Room, Username: lr.Username})
	case lobbyproto.Kicked:
		if lr.Username == o.session.username {
			o.session.room = ""
			o.session.host = nil
		}
		o.publish(gui.SignalKicked, roomUserPayload{Room: lr.Room, Username: lr.Username})
	case lobbyproto.Status:
		o.publish(gui.SignalStatus, lr.Members)
	case lobbyproto.Mods:
		o.publish(gui.SignalMods, lr.Mods)
	case lobbyproto.ClientMods:
		o.publish(gui.SignalClientMods, clientModsPayload{Username: lr.Username, Mods: lr.Mods})
	case lobbyproto.GameMode:
		o.session.gameMode = lr.Mode
		o.publish(gui.SignalGameMode, lr.Mode)
	case lobbyproto.Host:
		o.session.host = &hostInfo{uuid: lr.UUID, connections: lr.Connections}
		o.log.Info("elected host", zap.String("uuid", lr.UUID), zap.Int("connections", lr.Connections))
	case lobbyproto.Start:
		o.startGame(ctx, lr.UUID)
	case lobbyproto.Health:
		o.log.Debug("lobby health check")
	default:
		o.log.Error("protocol invariant violated", zap.Error(unexpected("lobby reply", r)))
	}
}

func (o *Orchestrator) startGame(ctx context.Context, id string) {
	if o.opts.Launcher == nil {
		o.alert("game start requested but no launcher is configured")
		return
	}
	host, port, err := launcher.SplitAddress(o.session.address)
	if err != nil {
		o.alert(err.Error())
		return
	}
	p := launcher.Params{
		Address:  host,
		Port:     port,
		Username: o.session.username,
		GameMode: o.session.gameMode,
		UUID:     id,
	}
	if h := o.session.host; h != nil {
		p.Host = true
		p.HostUUID = h.uuid
		p.Connections = h.connections
	}
	if err := o.opts.Launcher.Launch(ctx, p); err != nil {
		o.log.Error("game client launch failed", zap.Error(err))
		o.alert(err.Error())
		return
	}
	o.session.host = nil
	o.publish(gui.SignalGameStarted, gameStartedPayload{UUID: id, Host: p.Host})
}
