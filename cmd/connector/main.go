package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/gear-connector/internal/chain"
	"github.com/DoyleJ11/gear-connector/internal/config"
	"github.com/DoyleJ11/gear-connector/internal/gui"
	"github.com/DoyleJ11/gear-connector/internal/ipc"
	"github.com/DoyleJ11/gear-connector/internal/launcher"
	"github.com/DoyleJ11/gear-connector/internal/lobby"
	"github.com/DoyleJ11/gear-connector/internal/logging"
	"github.com/DoyleJ11/gear-connector/internal/orchestrator"
	"github.com/DoyleJ11/gear-connector/internal/store"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "connector:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bus := gui.NewBus(ctx)
	defer bus.Close()

	log, syncLog, err := logging.New(logging.Options{
		Level: cfg.Log.Level,
		File:  cfg.Log.File,
		JSON:  cfg.Log.JSON,
		Sink:  bus,
	})
	if err != nil {
		return err
	}
	defer func() { _ = syncLog() }()

	backend, err := openStore(cfg.Store)
	if err != nil {
		return err
	}

	gameSrv, err := ipc.Listen(cfg.IPCAddr, log)
	if err != nil {
		_ = backend.Close()
		return err
	}
	log.Info("waiting for the game client", zap.Stringer("addr", gameSrv.Addr()))

	chainClient := chain.New(log, chain.RPCDialer{Log: log}, cfg.Chain.ConfirmTimeout)
	storeClient := store.New(log, backend)
	lobbyClient := lobby.New(log, nil)
	uiSrv := gui.NewServer(cfg.GUIAddr, bus, log)

	orch := orchestrator.New(log, orchestrator.Endpoints{
		GameCommands:  gameSrv.Commands(),
		GameReplies:   gameSrv.Replies(),
		GUICommands:   uiSrv.Commands(),
		Signals:       bus,
		ChainCommands: chainClient.Commands(),
		ChainReplies:  chainClient.Replies(),
		StoreCommands: storeClient.Commands(),
		StoreReplies:  storeClient.Replies(),
		LobbyCommands: lobbyClient.Commands(),
		LobbyReplies:  lobbyClient.Replies(),
	}, orchestrator.Options{
		PollInterval: cfg.PollInterval,
		NodeAddress:  cfg.Chain.NodeAddress,
		GameVersion:  cfg.Lobby.GameVersion,
		Launcher:     &launcher.Exec{Binary: cfg.Launcher.Binary, Extra: cfg.Launcher.Args, Log: log},
		Quit:         cancel,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return gameSrv.Serve(gctx) })
	g.Go(func() error { return chainClient.Run(gctx) })
	g.Go(func() error { return storeClient.Run(gctx) })
	g.Go(func() error { return lobbyClient.Run(gctx) })
	g.Go(func() error { return uiSrv.Run(gctx) })
	g.Go(func() error { return orch.Run(gctx) })

	log.Info("connector started",
		zap.String("ui", cfg.GUIAddr),
		zap.String("node", cfg.Chain.NodeAddress),
		zap.String("store", cfg.Store.Backend))

	err = g.Wait()
	log.Info("connector stopped")
	return err
}

func openStore(c config.Store) (store.Backend, error) {
	switch c.Backend {
	case "local":
		return store.NewLocal(c.Dir)
	default:
		return store.NewIPFS(c.IPFSURL, &http.Client{Timeout: 2 * time.Minute}), nil
	}
}
