// Package launcher starts the game client for a lobby session.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"

	"go.uber.org/zap"
)

var ErrNoBinary = errors.New("launcher: no game client binary configured")

// Params describe the lobby session the game client should join.
type Params struct {
	Address  string
	Port     int
	Username string
	GameMode int
	UUID     string

	// Host is set when the lobby elected this player to host.
	Host        bool
	HostUUID    string
	Connections int
}

// Args renders the game client's command-line flags for p.
func Args(p Params) []string {
	args := []string{
		"--lobby",
		"--lobby-address", p.Address,
		"--lobby-port", strconv.Itoa(p.Port),
		"--lobby-username", p.Username,
		"--lobby-gamemode", strconv.Itoa(p.GameMode),
		"--uuid", p.UUID,
	}
	if p.Host {
		args = append(args,
			"--lobby-host",
			"--lobby-uuid", p.HostUUID,
			"--lobby-connections", strconv.Itoa(p.Connections),
		)
	}
	return args
}

// SplitAddress splits a lobby "host:port" address.
func SplitAddress(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("launcher: lobby address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("launcher: lobby port %q is invalid", portStr)
	}
	return host, port, nil
}

type Launcher interface {
	Launch(ctx context.Context, p Params) error
}

// Exec spawns the configured binary. The child is not tied to the
// connector's lifetime.
type Exec struct {
	Binary string
	Extra  []string
	Log    *zap.Logger
}

func (e *Exec) Launch(_ context.Context, p Params) error {
	if e.Binary == "" {
		return ErrNoBinary
	}
	args := append(append([]string(nil), e.Extra...), Args(p)...)
	cmd := exec.Command(e.Binary, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launcher: start %s: %w", e.Binary, err)
	}
	log := e.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("game client started", zap.String("binary", e.Binary), zap.Strings("args", args), zap.Int("pid", cmd.Process.Pid))
	go func() {
		err := cmd.Wait()
		log.Info("game client exited", zap.Int("pid", cmd.Process.Pid), zap.Error(err))
	}()
	return nil
}
