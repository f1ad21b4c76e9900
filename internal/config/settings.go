package config

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Settings holds the bridge's own tunables. Service definitions never come
// from here; they arrive at runtime via register commands.
type Settings struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	RequestTimeout time.Duration `mapstructure:"requestTimeout"`
	SpawnTimeout   time.Duration `mapstructure:"spawnTimeout"`
	IdleTimeout    time.Duration `mapstructure:"idleTimeout"`
	SocketTimeout  time.Duration `mapstructure:"socketTimeout"`

	SweepInterval     time.Duration `mapstructure:"sweepInterval"`
	IdleSweepInterval time.Duration `mapstructure:"idleSweepInterval"`

	MaxRestartAttempts int           `mapstructure:"maxRestartAttempts"`
	RestartBaseDelay   time.Duration `mapstructure:"restartBaseDelay"`

	// UnspawnRestoreDelay is how long an evicted or unspawned descriptor
	// stays out of the registry before being reinserted.
	UnspawnRestoreDelay time.Duration `mapstructure:"unspawnRestoreDelay"`

	// DefaultCommand and DefaultArgs come from the CLI's positional
	// arguments and fill in the command for implicit spawn registration.
	DefaultCommand string   `mapstructure:"defaultCommand"`
	DefaultArgs    []string `mapstructure:"defaultArgs"`

	// HelperCommand overrides the helper executable; when empty the bridge
	// re-executes its own binary with -helper.
	HelperCommand string `mapstructure:"helperCommand"`
}

// Default returns the settings the bridge runs with when no file is given.
func Default() Settings {
	return Settings{
		Host:                "127.0.0.1",
		Port:                8752,
		RequestTimeout:      180 * time.Second,
		SpawnTimeout:        180 * time.Second,
		IdleTimeout:         300 * time.Second,
		SocketTimeout:       120 * time.Second,
		SweepInterval:       5 * time.Second,
		IdleSweepInterval:   60 * time.Second,
		MaxRestartAttempts:  5,
		RestartBaseDelay:    5 * time.Second,
		UnspawnRestoreDelay: 100 * time.Millisecond,
		DefaultCommand:      "node",
	}
}

// Store hands out a consistent Settings snapshot and absorbs live reloads of
// the settings file.
type Store struct {
	mu sync.RWMutex
	s  Settings
}

// NewStore creates a Store holding the given settings.
func NewStore(s Settings) *Store {
	return &Store{s: s}
}

// Get returns the current settings snapshot.
func (st *Store) Get() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s
}

// Set replaces the current settings.
func (st *Store) Set(s Settings) {
	st.mu.Lock()
	st.s = s
	st.mu.Unlock()
}

// Load reads the optional settings file into a Store. When path is empty the
// defaults are used as-is. When a file is given it is also watched so that
// timeout and backoff tunables can change without a restart.
func Load(path string, logger *slog.Logger) (*Store, error) {
	store := NewStore(Default())
	if path == "" {
		return store, nil
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}
	s, err := unmarshal(v)
	if err != nil {
		return nil, err
	}
	store.Set(s)

	v.OnConfigChange(func(in fsnotify.Event) {
		logger.Info("bridge settings changed", "config file", in.Name)
		if err := v.ReadInConfig(); err != nil {
			logger.Error("re-read settings file", "error", err)
			return
		}
		reloaded, err := unmarshal(v)
		if err != nil {
			logger.Error("decode settings file", "error", err)
			return
		}
		// the listener is already bound; address changes need a restart
		current := store.Get()
		reloaded.Host = current.Host
		reloaded.Port = current.Port
		store.Set(reloaded)
	})
	v.WatchConfig()

	return store, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("host", d.Host)
	v.SetDefault("port", d.Port)
	v.SetDefault("requestTimeout", d.RequestTimeout)
	v.SetDefault("spawnTimeout", d.SpawnTimeout)
	v.SetDefault("idleTimeout", d.IdleTimeout)
	v.SetDefault("socketTimeout", d.SocketTimeout)
	v.SetDefault("sweepInterval", d.SweepInterval)
	v.SetDefault("idleSweepInterval", d.IdleSweepInterval)
	v.SetDefault("maxRestartAttempts", d.MaxRestartAttempts)
	v.SetDefault("restartBaseDelay", d.RestartBaseDelay)
	v.SetDefault("unspawnRestoreDelay", d.UnspawnRestoreDelay)
	v.SetDefault("defaultCommand", d.DefaultCommand)
}

func unmarshal(v *viper.Viper) (Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("unable to decode settings into struct: %w", err)
	}
	return s, nil
}
