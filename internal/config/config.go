// Package config provides configuration management for skyplay.
package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const appName = "skyplay"

// Injector kinds
const (
	InjectorADB    = "adb"
	InjectorUinput = "uinput"
	InjectorSerial = "serial"
	InjectorDryRun = "dry-run"
)

// Config is the top-level YAML configuration.
type Config struct {
	// Injector selects and configures the touch injection backend
	Injector InjectorConfig `yaml:"injector"`

	// Playback contains defaults for note sequences
	Playback PlaybackConfig `yaml:"playback"`

	// Storage locates persisted calibration data
	Storage StorageConfig `yaml:"storage"`

	// API configures the HTTP/WebSocket remote control server
	API APIConfig `yaml:"api"`

	Logging LoggingConfig `yaml:"logging"`

	Tray TrayConfig `yaml:"tray"`
}

type InjectorConfig struct {
	// Kind is one of "adb", "uinput", "serial", "dry-run"
	Kind string `yaml:"kind"`

	ADB    ADBConfig    `yaml:"adb"`
	Uinput UinputConfig `yaml:"uinput"`
	Serial SerialConfig `yaml:"serial"`
}

type ADBConfig struct {
	Binary string `yaml:"binary"`
	Serial string `yaml:"serial,omitempty"` // device serial, empty for the only attached device
}

type UinputConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

type PlaybackConfig struct {
	// DefaultNoteMS is used for notes that do not carry their own duration
	DefaultNoteMS int `yaml:"default_note_ms"`

	// TestKeyMS is how long `calibrate test` holds a key
	TestKeyMS int `yaml:"test_key_ms"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Token   string `yaml:"token,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type TrayConfig struct {
	Enabled bool `yaml:"enabled"`

	// LastSong is the file played by the tray's "Play last song" item
	LastSong string `yaml:"last_song,omitempty"`
}

// DefaultConfig returns a fully-populated Config with defaults
func DefaultConfig() Config {
	return Config{
		Injector: InjectorConfig{
			Kind:   InjectorADB,
			ADB:    ADBConfig{Binary: "adb"},
			Uinput: UinputConfig{Width: 1920, Height: 1080},
			Serial: SerialConfig{Port: "/dev/ttyUSB0", Baud: 115200},
		},
		Playback: PlaybackConfig{
			DefaultNoteMS: 400,
			TestKeyMS:     200,
		},
		Storage: StorageConfig{
			DataDir: filepath.Join(Dir(), "data"),
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    18090,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Tray: TrayConfig{
			Enabled: false,
		},
	}
}

// Dir returns the per-OS configuration directory. It is not created.
func Dir() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, "Library", "Application Support")
	case "windows":
		base = os.Getenv("APPDATA")
		if base == "" {
			home, _ := os.UserHomeDir()
			base = filepath.Join(home, "AppData", "Roaming")
		}
	default:
		base = os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, _ := os.UserHomeDir()
			base = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(base, appName)
}

// DefaultPath is the config file used when --config is not given
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// LoadConfigFile reads a YAML config file on top of DefaultConfig.
// Unknown fields and trailing documents are rejected.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, errors.Wrap(err, "read config file")
	}
	return Parse(b)
}

// Parse decodes YAML config data on top of DefaultConfig. Empty data yields the defaults.
func Parse(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
		return Config{}, errors.Wrap(err, "decode config yaml")
	}

	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, errors.New("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// Marshal encodes the config as YAML
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, errors.Wrap(err, "encode config yaml")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, "encode config yaml")
	}
	return buf.Bytes(), nil
}

// FlagOverrides holds command-line values that win over the config file.
// A nil pointer means the flag was not given.
type FlagOverrides struct {
	InjectorKind *string
	ADBSerial    *string
	SerialPort   *string
	SerialBaud   *int

	DataDir *string

	APIHost  *string
	APIPort  *int
	APIToken *string

	LogLevel *string
}

// Apply merges the overrides into cfg
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.InjectorKind != nil {
		cfg.Injector.Kind = *o.InjectorKind
	}
	if o.ADBSerial != nil {
		cfg.Injector.ADB.Serial = *o.ADBSerial
	}
	if o.SerialPort != nil {
		cfg.Injector.Serial.Port = *o.SerialPort
	}
	if o.SerialBaud != nil {
		cfg.Injector.Serial.Baud = *o.SerialBaud
	}
	if o.DataDir != nil {
		cfg.Storage.DataDir = *o.DataDir
	}
	if o.APIHost != nil {
		cfg.API.Host = *o.APIHost
	}
	if o.APIPort != nil {
		cfg.API.Port = *o.APIPort
	}
	if o.APIToken != nil {
		cfg.API.Token = *o.APIToken
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants after defaults, file and overrides are applied
func (c *Config) Validate() error {
	c.Injector.Kind = strings.ToLower(strings.TrimSpace(c.Injector.Kind))
	switch c.Injector.Kind {
	case InjectorADB:
		if c.Injector.ADB.Binary == "" {
			return errors.New("injector.adb.binary must not be empty")
		}
	case InjectorUinput:
		if c.Injector.Uinput.Width <= 0 || c.Injector.Uinput.Height <= 0 {
			return errors.New("injector.uinput.width and height must be > 0")
		}
	case InjectorSerial:
		if c.Injector.Serial.Port == "" {
			return errors.New("injector.serial.port must not be empty")
		}
		if c.Injector.Serial.Baud <= 0 {
			return errors.New("injector.serial.baud must be > 0")
		}
	case InjectorDryRun:
	default:
		return errors.Errorf("injector.kind must be one of %q, %q, %q, %q",
			InjectorADB, InjectorUinput, InjectorSerial, InjectorDryRun)
	}

	if c.Playback.DefaultNoteMS < 0 {
		return errors.New("playback.default_note_ms must be >= 0")
	}
	if c.Playback.TestKeyMS < 0 {
		return errors.New("playback.test_key_ms must be >= 0")
	}

	if c.Storage.DataDir == "" {
		return errors.New("storage.data_dir must not be empty")
	}
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)

	if c.API.Port <= 0 || c.API.Port > 65535 {
		return errors.New("api.port must be between 1 and 65535")
	}

	switch c.Logging.Level {
	case "error", "warn", "info", "debug":
	default:
		return errors.Errorf("logging.level must be error, warn, info or debug (got %q)", c.Logging.Level)
	}

	c.Tray.LastSong = ExpandPath(c.Tray.LastSong)
	return nil
}

// ExpandPath expands a leading "~" in a path using $HOME
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
