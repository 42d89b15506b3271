package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/DoyleJ11/gear-connector/internal/chain"
	"github.com/DoyleJ11/gear-connector/internal/gui"
	"github.com/DoyleJ11/gear-connector/internal/store"
	"github.com/DoyleJ11/gear-connector/pkg/types"
)

type savedGameSummary struct {
	Filename string `json:"filename"`
	Hash     string `json:"hash"`
	Owner    string `json:"owner"`
}

type balancePayload struct {
	Balance string `json:"balance"`
}

func (o *Orchestrator) handleGame(ctx context.Context, cmd types.Command) {
	name := types.CommandName(cmd)
	o.log.Debug("game command", zap.String("command", name))

	var (
		reply types.Reply
		err   error
	)
	switch c := cmd.(type) {
	case types.ShowConnectDialog:
		o.publish(gui.SignalShowConnectDialog, nil)
		reply = types.ConnectDialogShowed{}
	case types.ShowLoadGameDialog:
		reply, err = o.showLoadGameDialog(ctx)
	case types.Save:
		reply, err = o.save(ctx, c)
	case types.Load:
		reply, err = o.load(ctx, c.Name)
	case types.LoadAll:
		reply, err = o.loadAll(ctx)
	default:
		err = fmt.Errorf("orchestrator: unsupported command %T", cmd)
	}

	if ctx.Err() != nil {
		return
	}
	if err != nil {
		var ue *UnexpectedReplyError
		if errors.As(err, &ue) {
			o.log.Error("protocol invariant violated", zap.String("command", name), zap.Error(err))
		} else {
			o.log.Error("command failed", zap.String("command", name), zap.Error(err))
		}
		o.alert(err.Error())
		reply = types.Failed{Operation: name, Reason: err.Error()}
	}
	o.replyGame(ctx, reply)

	if _, ok := cmd.(types.Save); ok && err == nil {
		o.updateBalance(ctx)
	}
}

func (o *Orchestrator) save(ctx context.Context, c types.Save) (types.Reply, error) {
	o.log.Info("saving", zap.String("filename", c.Filename), zap.Int("size", len(c.ArchiveBytes)))

	r, err := o.storeCall(ctx, store.UploadData{Filename: c.Filename, Data: c.ArchiveBytes})
	if err != nil {
		return nil, err
	}
	var up store.Uploaded
	switch sr := r.(type) {
	case store.Uploaded:
		up = sr
	case store.Failed:
		return nil, &OperationError{Op: "upload", Err: sr.Err}
	default:
		return nil, unexpected("UploadData", r)
	}

	state := chain.GameState{Archive: chain.ArchiveDescription{Filename: c.Filename, Name: up.Name, Hash: up.Hash}}
	ev, err := o.sendAction(ctx, chain.Save{State: state})
	if err != nil {
		return nil, err
	}
	if _, ok := ev.(chain.Saved); !ok {
		return nil, unexpected("Save action", ev)
	}
	return types.Saved{}, nil
}

func (o *Orchestrator) loadAll(ctx context.Context) (types.Reply, error) {
	games, err := o.savedGames(ctx)
	if err != nil {
		return nil, err
	}
	archives := make([]types.SavedGame, 0, len(games))
	for _, g := range games {
		data, err := o.download(ctx, g.State.Archive.Hash)
		if err != nil {
			return nil, err
		}
		archives = append(archives, types.SavedGame{Filename: g.State.Archive.Filename, Data: data})
	}
	return types.AllLoaded{Archives: archives}, nil
}

// load resolves name against the chain records, by filename first and
// then by content hash. The most recent record wins.
func (o *Orchestrator) load(ctx context.Context, name string) (types.Reply, error) {
	games, err := o.savedGames(ctx)
	if err != nil {
		return nil, err
	}
	game, _, ok := lo.FindLastIndexOf(games, func(g chain.SavedGame) bool { return g.State.Archive.Filename == name })
	if !ok {
		game, _, ok = lo.FindLastIndexOf(games, func(g chain.SavedGame) bool { return g.State.Archive.Hash == name })
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSaveNotFound, name)
	}
	hash := game.State.Archive.Hash

	ev, err := o.sendAction(ctx, chain.Load{Hash: hash})
	if err != nil {
		return nil, err
	}
	if _, ok := ev.(chain.Loaded); !ok {
		return nil, unexpected("Load action", ev)
	}

	data, err := o.download(ctx, hash)
	if err != nil {
		return nil, err
	}
	return types.Loaded{ArchiveBytes: data}, nil
}

func (o *Orchestrator) showLoadGameDialog(ctx context.Context) (types.Reply, error) {
	games, err := o.savedGames(ctx)
	if err != nil {
		return nil, err
	}
	o.publish(gui.SignalSavedGames, lo.Map(games, func(g chain.SavedGame, _ int) savedGameSummary {
		return savedGameSummary{Filename: g.State.Archive.Filename, Hash: g.State.Archive.Hash, Owner: g.Owner.String()}
	}))
	return types.LoadGameDialogShowed{}, nil
}

func (o *Orchestrator) savedGames(ctx context.Context) ([]chain.SavedGame, error) {
	r, err := o.chainCall(ctx, chain.GetSavedGames{})
	if err != nil {
		return nil, err
	}
	switch cr := r.(type) {
	case chain.SavedGames:
		return cr.Games, nil
	case chain.NotConnected:
		return nil, fmt.Errorf("%w: %s", ErrChainNotConnected, cr.Reason)
	case chain.Failed:
		return nil, &OperationError{Op: cr.Op, Err: cr.Err}
	}
	return nil, unexpected("GetSavedGames", r)
}

func (o *Orchestrator) sendAction(ctx context.Context, a chain.Action) (chain.Event, error) {
	r, err := o.chainCall(ctx, chain.SendAction{Action: a})
	if err != nil {
		return nil, err
	}
	switch cr := r.(type) {
	case chain.ActionEvent:
		return cr.Event, nil
	case chain.NotConnected:
		return nil, fmt.Errorf("%w: %s", ErrChainNotConnected, cr.Reason)
	case chain.Failed:
		return nil, &OperationError{Op: cr.Op, Err: cr.Err}
	}
	return nil, unexpected("SendAction", r)
}

func (o *Orchestrator) download(ctx context.Context, hash string) (types.Bytes, error) {
	r, err := o.storeCall(ctx, store.DownloadData{Hash: hash})
	if err != nil {
		return nil, err
	}
	switch sr := r.(type) {
	case store.Downloaded:
		return sr.Data, nil
	case store.Failed:
		return nil, &OperationError{Op: "download " + hash, Err: sr.Err}
	}
	return nil, unexpected("DownloadData", r)
}

// updateBalance forwards the account's free balance to the UI. Failures
// are logged only.
func (o *Orchestrator) updateBalance(ctx context.Context) {
	r, err := o.chainCall(ctx, chain.GetFreeBalance{})
	if err != nil {
		return
	}
	switch cr := r.(type) {
	case chain.FreeBalance:
		balance := cr.Balance
		if balance == nil {
			balance = new(big.Int)
		}
		o.log.Info("free balance", zap.Stringer("balance", balance))
		o.publish(gui.SignalUpdateBalance, balancePayload{Balance: balance.String()})
	case chain.NotConnected:
		o.log.Warn("balance unavailable", zap.String("reason", cr.Reason))
	case chain.Failed:
		o.log.Warn("balance query failed", zap.Error(cr.Err))
	default:
		o.log.Error("protocol invariant violated", zap.Error(unexpected("GetFreeBalance", r)))
	}
}
