// Package syncconfig loads cardsync settings from defaults, the config file
// at ~/.config/cardsync/config.yaml and CARDSYNC_* environment variables,
// in increasing order of precedence.
package syncconfig

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override: remote.api_key is read
// from CARDSYNC_REMOTE_API_KEY.
const EnvPrefix = "CARDSYNC"

// Backends.
const (
	BackendREST     = "rest"
	BackendPostgres = "postgres"
)

// LocalConfig locates the on-device store.
type LocalConfig struct {
	Dir string `mapstructure:"dir"`
}

// RemoteConfig selects and addresses the remote store.
type RemoteConfig struct {
	Backend  string `mapstructure:"backend"`
	URL      string `mapstructure:"url"`
	APIKey   string `mapstructure:"api_key"`
	DSN      string `mapstructure:"dsn"`
	MaxBatch int    `mapstructure:"max_batch"`
}

// NetworkConfig controls the connectivity probe.
type NetworkConfig struct {
	Probe        string        `mapstructure:"probe"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// SyncConfig tunes the orchestrator.
type SyncConfig struct {
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	Sequential  bool          `mapstructure:"sequential"`
}

// AutoSyncConfig holds auto-sync settings.
type AutoSyncConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	OnStart       bool          `mapstructure:"on_start"`
	Interval      time.Duration `mapstructure:"interval"`
	Debounce      time.Duration `mapstructure:"debounce"`
	ReconnectPoll time.Duration `mapstructure:"reconnect_poll"`
	WatchDB       bool          `mapstructure:"watch_db"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// Config is the full cardsync configuration.
type Config struct {
	Local   LocalConfig    `mapstructure:"local"`
	Remote  RemoteConfig   `mapstructure:"remote"`
	Network NetworkConfig  `mapstructure:"network"`
	Sync    SyncConfig     `mapstructure:"sync"`
	Auto    AutoSyncConfig `mapstructure:"auto"`
	Log     LogConfig      `mapstructure:"log"`

	// Path is the file the config was loaded from, if any.
	Path string `mapstructure:"-"`
}

type keyValue struct {
	key string
	val any
}

// ErrUnknownKey is returned by Set for keys outside the schema.
var ErrUnknownKey = errors.New("unknown config key")

// defaults lists every key with its default. Order is display order.
var defaults = []keyValue{
	{"local.dir", "~/.cardsync"},
	{"remote.backend", BackendREST},
	{"remote.url", "http://localhost:54321"},
	{"remote.api_key", ""},
	{"remote.dsn", ""},
	{"remote.max_batch", 1000},
	{"network.probe", ""},
	{"network.probe_timeout", "3s"},
	{"sync.call_timeout", "15s"},
	{"sync.sequential", false},
	{"auto.enabled", true},
	{"auto.on_start", true},
	{"auto.interval", "5m"},
	{"auto.debounce", "3s"},
	{"auto.reconnect_poll", "15s"},
	{"auto.watch_db", true},
	{"log.level", "info"},
	{"log.format", "text"},
	{"log.file", ""},
}

// Keys returns every config key in display order.
func Keys() []string {
	out := make([]string, len(defaults))
	for i, d := range defaults {
		out[i] = d.key
	}
	return out
}

// ConfigDir returns ~/.config/cardsync.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".config", "cardsync"), nil
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func newViper() *viper.Viper {
	v := viper.New()
	for _, d := range defaults {
		v.SetDefault(d.key, d.val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration. An empty path means DefaultPath; a missing file
// is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Path = path

	dir, err := expandHome(cfg.Local.Dir)
	if err != nil {
		return nil, err
	}
	cfg.Local.Dir = dir
	return &cfg, nil
}

// Validate checks required settings for the selected backend.
func (c *Config) Validate() error {
	switch c.Remote.Backend {
	case BackendREST:
		if c.Remote.URL == "" {
			return errors.New("remote.url is required for the rest backend")
		}
	case BackendPostgres:
		if c.Remote.DSN == "" {
			return errors.New("remote.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("remote.backend: unsupported value %q (want rest or postgres)", c.Remote.Backend)
	}
	if c.Local.Dir == "" {
		return errors.New("local.dir is required")
	}
	if c.Auto.Enabled && c.Auto.Interval <= 0 {
		return errors.New("auto.interval must be positive")
	}
	return nil
}

// ProbeTarget returns the connectivity probe: network.probe when set,
// otherwise the REST base URL or tcp://host:port of the Postgres DSN.
func (c *Config) ProbeTarget() (string, error) {
	if c.Network.Probe != "" {
		return c.Network.Probe, nil
	}
	switch c.Remote.Backend {
	case BackendPostgres:
		pc, err := pgconn.ParseConfig(c.Remote.DSN)
		if err != nil {
			return "", fmt.Errorf("parse remote.dsn: %w", err)
		}
		return "tcp://" + net.JoinHostPort(pc.Host, strconv.Itoa(int(pc.Port))), nil
	default:
		return c.Remote.URL, nil
	}
}

// Save writes cfg to path as YAML, creating the directory.
func Save(path string, cfg *Config) error {
	v := viper.New()
	for _, kv := range cfg.values() {
		v.Set(kv.key, kv.val)
	}
	return write(v, path)
}

// Set changes one key in the file at path, keeping the rest of the file.
func Set(path, key, value string) error {
	idx := slices.IndexFunc(defaults, func(d keyValue) bool { return d.key == key })
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	typed, err := coerce(defaults[idx].val, value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}
	v.Set(key, typed)
	return write(v, path)
}

func write(v *viper.Viper, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	v.SetConfigType("yaml")
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return os.Chmod(path, 0600)
}

// coerce parses value into the type of the key's default.
func coerce(def any, value string) (any, error) {
	switch def.(type) {
	case bool:
		return strconv.ParseBool(value)
	case int:
		return strconv.Atoi(value)
	}
	if isDurationKeyDefault(def) {
		if _, err := time.ParseDuration(value); err != nil {
			return nil, err
		}
	}
	return value, nil
}

func isDurationKeyDefault(def any) bool {
	s, ok := def.(string)
	if !ok {
		return false
	}
	_, err := time.ParseDuration(s)
	return err == nil
}

// values flattens cfg into key/value pairs in display order. Durations are
// rendered as strings so the file stays readable.
func (c *Config) values() []keyValue {
	return []keyValue{
		{"local.dir", c.Local.Dir},
		{"remote.backend", c.Remote.Backend},
		{"remote.url", c.Remote.URL},
		{"remote.api_key", c.Remote.APIKey},
		{"remote.dsn", c.Remote.DSN},
		{"remote.max_batch", c.Remote.MaxBatch},
		{"network.probe", c.Network.Probe},
		{"network.probe_timeout", c.Network.ProbeTimeout.String()},
		{"sync.call_timeout", c.Sync.CallTimeout.String()},
		{"sync.sequential", c.Sync.Sequential},
		{"auto.enabled", c.Auto.Enabled},
		{"auto.on_start", c.Auto.OnStart},
		{"auto.interval", c.Auto.Interval.String()},
		{"auto.debounce", c.Auto.Debounce.String()},
		{"auto.reconnect_poll", c.Auto.ReconnectPoll.String()},
		{"auto.watch_db", c.Auto.WatchDB},
		{"log.level", c.Log.Level},
		{"log.format", c.Log.Format},
		{"log.file", c.Log.File},
	}
}

// Display returns key/value strings for `config show`, with secrets masked.
func (c *Config) Display() [][2]string {
	var out [][2]string
	for _, kv := range c.values() {
		s := fmt.Sprint(kv.val)
		if (kv.key == "remote.api_key" || kv.key == "remote.dsn") && s != "" {
			s = mask(s)
		}
		out = append(out, [2]string{kv.key, s})
	}
	return out
}

func mask(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

func expandHome(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
	}
	return p, nil
}
