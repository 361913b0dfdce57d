// Package config resolves meetsync settings from defaults, a config file, the
// environment and finally command-line flags.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAPIURL        = "https://api.fireflies.ai/graphql"
	DefaultFolder        = "Fireflies"
	DefaultPollSeconds   = 15
	DefaultBatchSize     = 10
	DefaultLookbackDays  = 7
	DefaultMaxTitle      = 50
	DefaultRetryAttempts = 3
	EnvConfigPath        = "MEETSYNC_CONFIG"
)

var ErrInvalid = errors.New("invalid configuration")

type Logger interface {
	Printf(format string, args ...any)
}

type Fireflies struct {
	APIKey        string `toml:"api_key" json:"api_key" yaml:"api_key"`
	APIURL        string `toml:"api_url" json:"api_url" yaml:"api_url"`
	RetryAttempts int    `toml:"retry_attempts" json:"retry_attempts" yaml:"retry_attempts"`
}

type Obsidian struct {
	VaultPath         string `toml:"vault_path" json:"vault_path" yaml:"vault_path"`
	FirefliesFolder   string `toml:"fireflies_folder" json:"fireflies_folder" yaml:"fireflies_folder"`
	TemplatePath      string `toml:"template_path" json:"template_path" yaml:"template_path"`
	MaxFilenameLength int    `toml:"max_filename_length" json:"max_filename_length" yaml:"max_filename_length"`
}

type Sync struct {
	PollingIntervalSeconds int      `toml:"polling_interval_seconds" json:"polling_interval_seconds" yaml:"polling_interval_seconds"`
	Jitter                 float64  `toml:"jitter" json:"jitter" yaml:"jitter"`
	BatchSize              int      `toml:"batch_size" json:"batch_size" yaml:"batch_size"`
	LookbackDays           int      `toml:"lookback_days" json:"lookback_days" yaml:"lookback_days"`
	TestMeetingIDs         []string `toml:"test_meeting_ids" json:"test_meeting_ids" yaml:"test_meeting_ids"`
}

type Notifications struct {
	Enabled     bool `toml:"enabled" json:"enabled" yaml:"enabled"`
	ShowSuccess bool `toml:"show_success" json:"show_success" yaml:"show_success"`
	ShowErrors  bool `toml:"show_errors" json:"show_errors" yaml:"show_errors"`
}

type Ledger struct {
	DSN string `toml:"dsn" json:"dsn" yaml:"dsn"`
}

type Control struct {
	Addr  string `toml:"addr" json:"addr" yaml:"addr"`
	Token string `toml:"token" json:"token" yaml:"token"`
}

type Config struct {
	Fireflies     Fireflies     `toml:"fireflies" json:"fireflies" yaml:"fireflies"`
	Obsidian      Obsidian      `toml:"obsidian" json:"obsidian" yaml:"obsidian"`
	Sync          Sync          `toml:"sync" json:"sync" yaml:"sync"`
	Notifications Notifications `toml:"notifications" json:"notifications" yaml:"notifications"`
	Ledger        Ledger        `toml:"ledger" json:"ledger" yaml:"ledger"`
	Control       Control       `toml:"control" json:"control" yaml:"control"`
	Debug         bool          `toml:"debug" json:"debug" yaml:"debug"`

	// Source is the config file that was read, empty when none was found.
	Source string `toml:"-" json:"-" yaml:"-"`
}

func Default() Config {
	return Config{
		Fireflies: Fireflies{APIURL: DefaultAPIURL, RetryAttempts: DefaultRetryAttempts},
		Obsidian:  Obsidian{FirefliesFolder: DefaultFolder, MaxFilenameLength: DefaultMaxTitle},
		Sync: Sync{
			PollingIntervalSeconds: DefaultPollSeconds,
			BatchSize:              DefaultBatchSize,
			LookbackDays:           DefaultLookbackDays,
		},
		Notifications: Notifications{Enabled: true, ShowSuccess: true, ShowErrors: true},
		Ledger:        Ledger{DSN: DefaultLedgerDSN()},
	}
}

// LoadOptions names the inputs for Load. Env defaults to os.LookupEnv.
type LoadOptions struct {
	ConfigPath string
	EnvFile    string
	Env        func(string) (string, bool)
	Logger     Logger
}

// Load applies defaults, then the config file, then the environment. Flags are
// applied by the caller on the returned value. Load does not validate.
func Load(opts LoadOptions) (Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		logf(opts.Logger, "could not load %s: %v", envFile, err)
	}
	lookup := opts.Env
	if lookup == nil {
		lookup = os.LookupEnv
	}

	cfg := Default()
	path, explicit := resolvePath(opts.ConfigPath, lookup)
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			if explicit || !errors.Is(err, os.ErrNotExist) {
				return Config{}, err
			}
		} else {
			cfg.Source = path
		}
	}

	env := envReader{lookup: lookup, logger: opts.Logger}
	env.apply(&cfg)
	cfg.Obsidian.VaultPath = ExpandHome(cfg.Obsidian.VaultPath)
	cfg.Obsidian.TemplatePath = ExpandHome(cfg.Obsidian.TemplatePath)
	return cfg, nil
}

func resolvePath(flag string, lookup func(string) (string, bool)) (string, bool) {
	if p := strings.TrimSpace(flag); p != "" {
		return ExpandHome(p), true
	}
	if p, ok := lookup(EnvConfigPath); ok && strings.TrimSpace(p) != "" {
		return ExpandHome(strings.TrimSpace(p)), true
	}
	dir := configDir(lookup)
	if dir == "" {
		return "", false
	}
	return filepath.Join(dir, "meetsync", "config.toml"), false
}

func configDir(lookup func(string) (string, bool)) string {
	if xdg, ok := lookup("XDG_CONFIG_HOME"); ok && xdg != "" {
		return xdg
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config")
	}
	return ""
}

// decodeFile overlays the file onto cfg. The format follows the extension:
// .json and .jsonc accept comments and trailing commas, .yaml and .yml are
// YAML, anything else is TOML.
func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		standardized, err := hujson.Standardize(data)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
		}
		dec := json.NewDecoder(bytes.NewReader(standardized))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
		}
	default:
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("%w: %s: unknown key %s", ErrInvalid, path, undecoded[0])
		}
	}
	return nil
}

// Validate reports the first setting that keeps meetsync from starting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Fireflies.APIKey) == "" {
		return fmt.Errorf("%w: Fireflies API key is required (set FIREFLIES_API_KEY or fireflies.api_key)", ErrInvalid)
	}
	if err := c.ValidateVault(); err != nil {
		return err
	}
	if c.Sync.PollingIntervalSeconds <= 0 {
		return fmt.Errorf("%w: sync.polling_interval_seconds must be positive", ErrInvalid)
	}
	if c.Sync.Jitter < 0 || c.Sync.Jitter > 1 {
		return fmt.Errorf("%w: sync.jitter must be between 0 and 1", ErrInvalid)
	}
	if c.Sync.LookbackDays <= 0 {
		return fmt.Errorf("%w: sync.lookback_days must be positive", ErrInvalid)
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("%w: sync.batch_size must be positive", ErrInvalid)
	}
	return nil
}

// ValidateVault checks only the vault path, for commands that never call the API.
func (c Config) ValidateVault() error {
	vault := strings.TrimSpace(c.Obsidian.VaultPath)
	if vault == "" {
		return fmt.Errorf("%w: Obsidian vault path is required (set OBSIDIAN_VAULT_PATH or obsidian.vault_path)", ErrInvalid)
	}
	info, err := os.Stat(vault)
	if err != nil {
		return fmt.Errorf("%w: Obsidian vault path does not exist: %s", ErrInvalid, vault)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: Obsidian vault path is not a directory: %s", ErrInvalid, vault)
	}
	return nil
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Sync.PollingIntervalSeconds) * time.Second
}

// TriggerFile is the file whose creation requests an immediate sync.
func (c Config) TriggerFile() string {
	return filepath.Join(c.Obsidian.VaultPath, ".meetsync-now")
}

// DefaultLedgerDSN keeps the ledger under the XDG state directory.
func DefaultLedgerDSN() string {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "file://" + filepath.Join(".", "processed_meetings.json")
		}
		base = filepath.Join(home, ".local", "state")
	}
	return "file://" + filepath.Join(base, "meetsync", "processed_meetings.json")
}

func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

// WriteExample writes a starter TOML file and refuses to
// replace an existing one.
func WriteExample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	example := Default()
	example.Fireflies.APIKey = "your_fireflies_api_key_here"
	example.Obsidian.VaultPath = "/path/to/your/obsidian/vault"
	example.Sync.TestMeetingIDs = []string{}
	if err := toml.NewEncoder(f).Encode(example); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ExamplePath is where WriteExample puts the file when no path is given.
func ExamplePath() string {
	dir := configDir(os.LookupEnv)
	if dir == "" {
		return "config.toml"
	}
	return filepath.Join(dir, "meetsync", "config.toml")
}

type envReader struct {
	lookup func(string) (string, bool)
	logger Logger
}

func (e envReader) apply(cfg *Config) {
	cfg.Fireflies.APIKey = e.str("FIREFLIES_API_KEY", cfg.Fireflies.APIKey)
	cfg.Fireflies.APIURL = e.str("FIREFLIES_API_URL", cfg.Fireflies.APIURL)
	cfg.Obsidian.VaultPath = e.str("OBSIDIAN_VAULT_PATH", cfg.Obsidian.VaultPath)
	cfg.Obsidian.FirefliesFolder = e.str("OBSIDIAN_FIREFLIES_FOLDER", cfg.Obsidian.FirefliesFolder)
	cfg.Obsidian.TemplatePath = e.str("OBSIDIAN_TEMPLATE_PATH", cfg.Obsidian.TemplatePath)
	cfg.Sync.PollingIntervalSeconds = e.seconds("SYNC_POLLING_INTERVAL", cfg.Sync.PollingIntervalSeconds)
	cfg.Sync.Jitter = e.float("SYNC_POLL_JITTER", cfg.Sync.Jitter)
	cfg.Sync.BatchSize = e.integer("SYNC_BATCH_SIZE", cfg.Sync.BatchSize)
	cfg.Sync.LookbackDays = e.integer("SYNC_LOOKBACK_DAYS", cfg.Sync.LookbackDays)
	cfg.Sync.TestMeetingIDs = e.list("SYNC_TEST_MEETING_IDS", cfg.Sync.TestMeetingIDs)
	cfg.Notifications.Enabled = e.boolean("NOTIFICATIONS_ENABLED", cfg.Notifications.Enabled)
	cfg.Ledger.DSN = e.str("MEETSYNC_LEDGER_DSN", cfg.Ledger.DSN)
	cfg.Control.Addr = e.str("MEETSYNC_CONTROL_ADDR", cfg.Control.Addr)
	cfg.Control.Token = e.str("MEETSYNC_CONTROL_TOKEN", cfg.Control.Token)
	cfg.Debug = e.boolean("DEBUG", cfg.Debug)
}

func (e envReader) raw(name string) (string, bool) {
	value, ok := e.lookup(name)
	value = strings.TrimSpace(value)
	return value, ok && value != ""
}

func (e envReader) str(name, fallback string) string {
	if value, ok := e.raw(name); ok {
		return value
	}
	return fallback
}

func (e envReader) integer(name string, fallback int) int {
	raw, ok := e.raw(name)
	if !ok {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		logf(e.logger, "invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

// seconds accepts a bare number of seconds or a Go duration such as "2m".
func (e envReader) seconds(name string, fallback int) int {
	raw, ok := e.raw(name)
	if !ok {
		return fallback
	}
	if value, err := strconv.Atoi(raw); err == nil {
		return value
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < time.Second {
		logf(e.logger, "invalid %s=%q, using fallback %ds", name, raw, fallback)
		return fallback
	}
	return int(d / time.Second)
}

func (e envReader) float(name string, fallback float64) float64 {
	raw, ok := e.raw(name)
	if !ok {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		logf(e.logger, "invalid %s=%q, using fallback %f", name, raw, fallback)
		return fallback
	}
	return value
}

func (e envReader) boolean(name string, fallback bool) bool {
	raw, ok := e.raw(name)
	if !ok {
		return fallback
	}
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	logf(e.logger, "invalid %s=%q, using fallback %t", name, raw, fallback)
	return fallback
}

func (e envReader) list(name string, fallback []string) []string {
	raw, ok := e.lookup(name)
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func logf(logger Logger, format string, args ...any) {
	if logger == nil {
		return
	}
	logger.Printf(format, args...)
}
