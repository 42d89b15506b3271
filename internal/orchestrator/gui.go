package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/DoyleJ11/gear-connector/internal/chain"
	"github.com/DoyleJ11/gear-connector/internal/gui"
	"github.com/DoyleJ11/gear-connector/internal/lobby"
	"github.com/DoyleJ11/gear-connector/internal/lobbyproto"
	"github.com/DoyleJ11/gear-connector/pkg/types"
)

type connectedPayload struct {
	Program string `json:"program"`
	Account string `json:"account"`
}

func (o *Orchestrator) handleGUI(ctx context.Context, cmd gui.Command) {
	o.log.Debug("ui command", zap.String("command", fmt.Sprintf("%T", cmd)))

	switch c := cmd.(type) {
	case gui.Connect:
		o.connect(ctx, c)
	case gui.Cancel:
		o.notifyGame(types.CanceledDialog{})
	case gui.Quit:
		o.log.Info("quit requested")
		o.opts.Quit()
	case gui.RefreshBalance:
		o.updateBalance(ctx)
	case gui.CreateRoom:
		o.sendLobby(lobby.Send{Request: lobbyproto.Create{Room: c.Room, Password: c.Password, MaxPlayers: c.MaxPlayers, Mods: c.Mods}})
	case gui.JoinRoom:
		o.sendLobby(lobby.Send{Request: lobbyproto.Join{Room: c.Room, Password: c.Password, Mods: c.Mods}})
	case gui.LeaveRoom:
		o.sendLobby(lobby.Send{Request: lobbyproto.Leave{Room: c.Room}})
		o.session.room = ""
		o.session.host = nil
	case gui.Ready:
		o.sendLobby(lobby.Send{Request: lobbyproto.Ready{Room: c.Room}})
	case gui.ForceStart:
		o.sendLobby(lobby.Send{Request: lobbyproto.ForceStart{Room: c.Room}})
	case gui.SendChat:
		o.sendLobby(lobby.Send{Request: lobbyproto.Message{Text: c.Text}})
	case gui.Kick:
		o.sendLobby(lobby.Send{Request: lobbyproto.Kick{Username: c.Username}})
	case gui.HostMode:
		o.sendLobby(lobby.Send{Request: lobbyproto.HostMode{Mode: c.Mode}})
	default:
		o.log.Warn("unsupported ui command", zap.String("command", fmt.Sprintf("%T", cmd)))
	}
}

func (o *Orchestrator) connect(ctx context.Context, c gui.Connect) {
	address := c.NodeAddress
	if address == "" {
		address = o.opts.NodeAddress
	}
	r, err := o.chainCall(ctx, chain.ConnectToNode{
		Address:   address,
		ProgramID: c.ProgramID,
		AccountID: c.AccountID,
		Password:  c.Password,
	})
	if err != nil {
		return
	}

	switch cr := r.(type) {
	case chain.ConnectedReply:
		o.log.Info("connected to chain", zap.Stringer("program", cr.Program))
		o.publish(gui.SignalConnected, connectedPayload{Program: cr.Program.String(), Account: cr.Actor.String()})
		o.notifyGame(types.Connected{})
		o.updateBalance(ctx)
	case chain.NotConnected:
		o.alert(cr.Reason)
		return
	case chain.ProgramNotFound:
		o.alert("program not found: " + cr.ProgramID)
		return
	default:
		err := unexpected("ConnectToNode", r)
		o.log.Error("protocol invariant violated", zap.Error(err))
		o.alert(err.Error())
		return
	}

	if c.LobbyAddress != "" {
		o.session = lobbySession{address: c.LobbyAddress, username: c.Username}
		o.sendLobby(lobby.Connect{Address: c.LobbyAddress})
	}
}
