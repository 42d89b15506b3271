// Package config assembles the connector's settings from defaults, an
// optional YAML file, the environment and command-line flags, in that
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "CONNECTOR_"

var ErrInvalid = errors.New("config: invalid")

type Chain struct {
	NodeAddress    string        `yaml:"node_address"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
}

type Store struct {
	Backend string `yaml:"backend"` // ipfs or local
	IPFSURL string `yaml:"ipfs_url"`
	Dir     string `yaml:"dir"`
}

type Lobby struct {
	GameVersion string `yaml:"game_version"`
}

type Launcher struct {
	Binary string   `yaml:"binary"`
	Args   []string `yaml:"args"`
}

type Log struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
	JSON  bool   `yaml:"json"`
}

type Config struct {
	IPCAddr      string        `yaml:"ipc_addr"`
	GUIAddr      string        `yaml:"gui_addr"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Chain        Chain         `yaml:"chain"`
	Store        Store         `yaml:"store"`
	Lobby        Lobby         `yaml:"lobby"`
	Launcher     Launcher      `yaml:"launcher"`
	Log          Log           `yaml:"log"`
}

func Default() Config {
	return Config{
		IPCAddr:      "127.0.0.1:6666",
		GUIAddr:      "127.0.0.1:6667",
		PollInterval: time.Millisecond,
		Chain: Chain{
			NodeAddress:    "ws://localhost:9944",
			ConfirmTimeout: 30 * time.Second,
		},
		Store: Store{
			Backend: "ipfs",
			IPFSURL: "http://127.0.0.1:5001",
			Dir:     "saves",
		},
		Lobby: Lobby{GameVersion: "VCMI 1.2.1.6f9e76ad3ee0ec77ba9b52c857b8d50e631d1ef6"},
		Log:   Log{Level: "info"},
	}
}

// binding ties one setting to its flag and environment variable. Both are
// parsed from their string form by set.
type binding struct {
	flag  string
	usage string
	set   func(c *Config, v string) error
}

func (b binding) env() string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(b.flag, "-", "_"))
}

func str(dst func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error { *dst(c) = v; return nil }
}

func dur(dst func(c *Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

var bindings = []binding{
	{"ipc-addr", "address the game client connects to", str(func(c *Config) *string { return &c.IPCAddr })},
	{"gui-addr", "address of the UI HTTP/WebSocket surface", str(func(c *Config) *string { return &c.GUIAddr })},
	{"poll-interval", "dispatcher idle poll interval", dur(func(c *Config) *time.Duration { return &c.PollInterval })},
	{"node-address", "chain node WebSocket URL", str(func(c *Config) *string { return &c.Chain.NodeAddress })},
	{"confirm-timeout", "how long to wait for on-chain confirmation", dur(func(c *Config) *time.Duration { return &c.Chain.ConfirmTimeout })},
	{"store-backend", "blob store backend: ipfs or local", str(func(c *Config) *string { return &c.Store.Backend })},
	{"ipfs-url", "IPFS HTTP API base URL", str(func(c *Config) *string { return &c.Store.IPFSURL })},
	{"store-dir", "directory for the local blob store", str(func(c *Config) *string { return &c.Store.Dir })},
	{"game-version", "version string sent in the lobby greeting", str(func(c *Config) *string { return &c.Lobby.GameVersion })},
	{"launcher-binary", "game client executable started for lobby games", str(func(c *Config) *string { return &c.Launcher.Binary })},
	{"launcher-args", "extra arguments for the game client, space separated", func(c *Config, v string) error {
		c.Launcher.Args = strings.Fields(v)
		return nil
	}},
	{"log-level", "debug, info, warn or error", str(func(c *Config) *string { return &c.Log.Level })},
	{"log-file", "also write logs to this file, rotated", str(func(c *Config) *string { return &c.Log.File })},
	{"log-json", "log as JSON instead of console text", func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		c.Log.JSON = b
		return nil
	}},
}

// Load builds the configuration for the given command-line arguments
// (without the program name). pflag.ErrHelp is returned for --help.
func Load(args []string) (Config, error) {
	cfg := Default()

	flags := pflag.NewFlagSet("connector", pflag.ContinueOnError)
	configPath := flags.String("config", "", "YAML configuration file")
	envFile := flags.String("env-file", ".env", "dotenv file read before the environment")
	values := make(map[string]*string, len(bindings))
	for _, b := range bindings {
		values[b.flag] = flags.String(b.flag, "", b.usage+" (env "+b.env()+")")
	}
	if err := flags.Parse(args); err != nil {
		return cfg, err
	}

	if *configPath != "" {
		if err := loadYAML(&cfg, *configPath); err != nil {
			return cfg, err
		}
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("config: %s: %w", *envFile, err)
	}
	for _, b := range bindings {
		v, ok := os.LookupEnv(b.env())
		if !ok {
			continue
		}
		if err := b.set(&cfg, v); err != nil {
			return cfg, fmt.Errorf("%w: %s: %v", ErrInvalid, b.env(), err)
		}
	}

	for _, b := range bindings {
		if !flags.Changed(b.flag) {
			continue
		}
		if err := b.set(&cfg, *values[b.flag]); err != nil {
			return cfg, fmt.Errorf("%w: --%s: %v", ErrInvalid, b.flag, err)
		}
	}

	return cfg, cfg.Validate()
}

func loadYAML(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("config: %s: %w", path, err)
	}
	return nil
}

func (c Config) Validate() error {
	var problems []string
	if c.IPCAddr == "" {
		problems = append(problems, "ipc address is empty")
	}
	if c.GUIAddr == "" {
		problems = append(problems, "gui address is empty")
	}
	if c.PollInterval <= 0 {
		problems = append(problems, "poll interval must be positive")
	}
	if c.Chain.ConfirmTimeout < 0 {
		problems = append(problems, "confirm timeout is negative")
	}
	switch c.Store.Backend {
	case "ipfs":
		if c.Store.IPFSURL == "" {
			problems = append(problems, "ipfs url is empty")
		}
	case "local":
		if c.Store.Dir == "" {
			problems = append(problems, "store dir is empty")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown store backend %q", c.Store.Backend))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("unknown log level %q", c.Log.Level))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}
