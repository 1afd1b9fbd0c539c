// Package config loads command configuration. Values come from built-in
// defaults, then an optional YAML file named by --config, then any flags set
// on the command line.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/astromechza/groupmap/pkg/engine"
	"github.com/astromechza/groupmap/pkg/group"
)

var ErrInvalid = errors.New("invalid configuration")

// storeName matches the namespace names the relay routes accept.
var storeName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

const (
	BackendRelay = "relay"
	BackendRedis = "redis"
)

type Groups struct {
	Prefix       string   `yaml:"prefix"`
	Max          int      `yaml:"max"`
	Min          int      `yaml:"min"`
	DefaultLat   float64  `yaml:"default_lat"`
	DefaultLng   float64  `yaml:"default_lng"`
	DefaultColor string   `yaml:"default_color"`
	Palette      []string `yaml:"palette"`
	ColorBySlot  bool     `yaml:"color_by_slot"`
	RemovePolicy string   `yaml:"remove_policy"`
	MapViewKey   string   `yaml:"map_view_key"`
}

func defaultGroups() Groups {
	d := engine.DefaultConfig()
	palette := make([]string, len(d.Palette))
	for i, c := range d.Palette {
		palette[i] = string(c)
	}
	return Groups{
		Prefix:       d.Prefix,
		Max:          d.MaxGroups,
		Min:          d.MinGroups,
		DefaultLat:   d.DefaultPosition.Lat,
		DefaultLng:   d.DefaultPosition.Lng,
		DefaultColor: string(d.DefaultColor),
		Palette:      palette,
		ColorBySlot:  d.ColorBySlot,
		RemovePolicy: string(d.RemovePolicy),
		MapViewKey:   d.MapViewKey,
	}
}

func (g Groups) Validate() error {
	if g.Prefix == "" {
		return fmt.Errorf("%w: groups.prefix is empty", ErrInvalid)
	}
	if g.Min < 1 || g.Min > g.Max {
		return fmt.Errorf("%w: need 1 <= groups.min (%d) <= groups.max (%d)", ErrInvalid, g.Min, g.Max)
	}
	switch engine.RemovePolicy(g.RemovePolicy) {
	case engine.RemoveHighest, engine.RemoveChosen:
	default:
		return fmt.Errorf("%w: unknown groups.remove_policy %q", ErrInvalid, g.RemovePolicy)
	}
	if g.DefaultColor == "" {
		return fmt.Errorf("%w: groups.default_color is empty", ErrInvalid)
	}
	if !(group.Position{Lat: g.DefaultLat, Lng: g.DefaultLng}).Valid() {
		return fmt.Errorf("%w: default position %v,%v is out of range", ErrInvalid, g.DefaultLat, g.DefaultLng)
	}
	if g.MapViewKey != "" && group.NewNaming(g.Prefix).Matches(g.MapViewKey, g.Max) {
		return fmt.Errorf("%w: groups.map_view_key %q is a group key", ErrInvalid, g.MapViewKey)
	}
	if g.ColorBySlot && len(g.Palette) == 0 {
		return fmt.Errorf("%w: groups.color_by_slot needs a palette", ErrInvalid)
	}
	return nil
}

// Engine converts to the engine's configuration.
func (g Groups) Engine() engine.Config {
	palette := make([]group.Color, len(g.Palette))
	for i, c := range g.Palette {
		palette[i] = group.Color(c)
	}
	return engine.Config{
		Prefix:          g.Prefix,
		MaxGroups:       g.Max,
		MinGroups:       g.Min,
		DefaultPosition: group.Position{Lat: g.DefaultLat, Lng: g.DefaultLng},
		DefaultColor:    group.Color(g.DefaultColor),
		Palette:         palette,
		ColorBySlot:     g.ColorBySlot,
		RemovePolicy:    engine.RemovePolicy(g.RemovePolicy),
		MapViewKey:      g.MapViewKey,
	}
}

func (g *Groups) flags(fs *pflag.FlagSet) {
	fs.StringVar(&g.Prefix, "prefix", g.Prefix, "group key prefix")
	fs.IntVar(&g.Max, "max-groups", g.Max, "maximum number of groups")
	fs.IntVar(&g.Min, "min-groups", g.Min, "minimum number of groups")
	fs.StringVar(&g.DefaultColor, "default-color", g.DefaultColor, "color of new groups")
	fs.BoolVar(&g.ColorBySlot, "color-by-slot", g.ColorBySlot, "color new groups from the palette by slot number")
	fs.StringVar(&g.RemovePolicy, "remove-policy", g.RemovePolicy, "which group 'remove' deletes: highest or chosen")
}

// Client configures a client. Backend is relay or redis; an empty Relay
// address means discover one over mDNS.
type Client struct {
	LogLevel    string        `yaml:"log_level"`
	Store       string        `yaml:"store"`
	Backend     string        `yaml:"backend"`
	Relay       string        `yaml:"relay"`
	Redis       string        `yaml:"redis"`
	Cache       string        `yaml:"cache"`
	Discovery   time.Duration `yaml:"discovery_timeout"`
	RedisResync time.Duration `yaml:"redis_resync"`
	Groups      Groups        `yaml:"groups"`
}

func DefaultClient() Client {
	return Client{
		LogLevel:    "info",
		Store:       "default",
		Backend:     BackendRelay,
		Redis:       "127.0.0.1:6379",
		Discovery:   5 * time.Second,
		RedisResync: 10 * time.Second,
		Groups:      defaultGroups(),
	}
}

func (c Client) Validate() error {
	if !storeName.MatchString(c.Store) {
		return fmt.Errorf("%w: store name %q", ErrInvalid, c.Store)
	}
	switch c.Backend {
	case BackendRelay:
		if c.Relay == "" && c.Discovery <= 0 {
			return fmt.Errorf("%w: relay address or discovery_timeout required", ErrInvalid)
		}
	case BackendRedis:
		if c.Redis == "" {
			return fmt.Errorf("%w: redis backend needs an address", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalid, c.Backend)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return c.Groups.Validate()
}

// LoadClient builds the client configuration from args (without the program
// name).
func LoadClient(name string, args []string) (Client, error) {
	cfg := DefaultClient()
	if err := load(args, &cfg); err != nil {
		return cfg, err
	}
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "path to a YAML config file")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "shared namespace to join")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "relay or redis")
	fs.StringVar(&cfg.Relay, "relay", cfg.Relay, "relay address; empty to discover over mDNS")
	fs.StringVar(&cfg.Redis, "redis", cfg.Redis, "redis address")
	fs.StringVar(&cfg.Cache, "cache", cfg.Cache, "path of the local replica cache; empty disables it")
	fs.DurationVar(&cfg.Discovery, "discovery-timeout", cfg.Discovery, "how long to browse for a relay")
	fs.DurationVar(&cfg.RedisResync, "redis-resync", cfg.RedisResync, "how often the redis backend re-reads the namespace")
	cfg.Groups.flags(fs)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Server configures a relay. Store is the namespace named in the mDNS
// advertisement.
type Server struct {
	LogLevel  string        `yaml:"log_level"`
	Addr      string        `yaml:"addr"`
	Database  string        `yaml:"database"`
	Backup    time.Duration `yaml:"backup_interval"`
	Advertise bool          `yaml:"advertise"`
	Store     string        `yaml:"store"`
}

func DefaultServer() Server {
	return Server{
		LogLevel: "info",
		Addr:     "localhost:8080",
		Database: "groupmap.sqlite3",
		Backup:   5 * time.Second,
		Store:    "default",
	}
}

func (s Server) Validate() error {
	if s.Addr == "" {
		return fmt.Errorf("%w: addr is empty", ErrInvalid)
	}
	if s.Database == "" {
		return fmt.Errorf("%w: database is empty", ErrInvalid)
	}
	if s.Backup <= 0 {
		return fmt.Errorf("%w: backup_interval must be positive", ErrInvalid)
	}
	_, err := ParseLevel(s.LogLevel)
	return err
}

func LoadServer(name string, args []string) (Server, error) {
	cfg := DefaultServer()
	if err := load(args, &cfg); err != nil {
		return cfg, err
	}
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "path to a YAML config file")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "the address to listen on")
	fs.StringVar(&cfg.Database, "database", cfg.Database, "sqlite database file")
	fs.DurationVar(&cfg.Backup, "backup-interval", cfg.Backup, "how often changed namespaces are written to the database")
	fs.BoolVar(&cfg.Advertise, "advertise", cfg.Advertise, "advertise the relay over mDNS")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "namespace named in the mDNS advertisement")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// load finds --config in args and decodes that file over out.
func load(args []string, out any) error {
	pre := pflag.NewFlagSet("config", pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.SetOutput(io.Discard)
	pre.Usage = func() {}
	path := pre.String("config", "", "")
	// the full flag set reports any errors
	_ = pre.Parse(args)
	if *path == "" {
		return nil
	}
	raw, err := os.ReadFile(*path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", *path, err)
	}
	return nil
}

func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return l, fmt.Errorf("%w: log level %q", ErrInvalid, s)
	}
	return l, nil
}

// NewLogger returns a text logger on w at the given level. The level must
// already be valid.
func NewLogger(w io.Writer, level string) *slog.Logger {
	l, _ := ParseLevel(level)
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}
