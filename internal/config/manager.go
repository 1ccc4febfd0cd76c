package config

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Manager handles loading and saving configuration
type Manager struct {
	mu         sync.Mutex
	configPath string
	config     Config
	onChanged  func(Config)
}

// NewManager creates a manager for the file at path (DefaultPath when empty)
func NewManager(path string) *Manager {
	if path == "" {
		path = DefaultPath()
	}
	return &Manager{
		configPath: ExpandPath(path),
		config:     DefaultConfig(),
	}
}

// Path returns the file the manager reads and writes
func (m *Manager) Path() string {
	return m.configPath
}

// Load reads the configuration from disk. A missing file keeps the defaults.
func (m *Manager) Load() error {
	cfg, err := LoadConfigFile(m.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logrus.WithField("component", "config").Debugf("Config: %s not found, using defaults", m.configPath)
			return nil
		}
		return err
	}

	m.mu.Lock()
	m.config = cfg
	cb := m.onChanged
	m.mu.Unlock()

	if cb != nil {
		cb(cfg)
	}
	return nil
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	m.mu.Lock()
	cfg := m.config
	m.mu.Unlock()

	data, err := cfg.Marshal()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(m.configPath), 0755); err != nil {
		return errors.Wrap(err, "create config dir")
	}

	logrus.WithField("component", "config").Infof("Config: Saving configuration to %s (%d bytes)", m.configPath, len(data))
	return errors.Wrap(os.WriteFile(m.configPath, data, 0644), "write config")
}

// Get returns a copy of the current configuration
func (m *Manager) Get() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Set replaces the configuration
func (m *Manager) Set(cfg Config) {
	m.mu.Lock()
	m.config = cfg
	cb := m.onChanged
	m.mu.Unlock()
	if cb != nil {
		cb(cfg)
	}
}

// Update applies fn to the configuration under the lock
func (m *Manager) Update(fn func(*Config)) {
	m.mu.Lock()
	fn(&m.config)
	cfg := m.config
	cb := m.onChanged
	m.mu.Unlock()
	if cb != nil {
		cb(cfg)
	}
}

// RegisterChangeCallback registers a function to be called when config changes
func (m *Manager) RegisterChangeCallback(fn func(Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChanged = fn
}
