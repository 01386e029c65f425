// Package config loads the data service's configuration (spec §6) with
// viper: dotted keys, a YAML file, and DARKSTAR_-prefixed environment
// variable overrides, the same layering the rest of the retrieval pack
// uses viper for.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// minDisconnectDelay is the floor spec §6 requires: "minimum value
// enforced (e.g., >= 200ms); smaller values reject the config."
const minDisconnectDelay = 200 * time.Millisecond

// Config is the typed view over the §6 configuration option table. Its
// fields are populated by hand from viper's dotted-key getters rather
// than viper.Unmarshal: mapstructure decodes nested maps, not flat
// dotted struct tags, and the §6 table is naturally flat dotted keys.
type Config struct {
	// AppName identifies the namespace root (required).
	AppName string
	// DataDir is where pkg/store opens its bbolt file. Not part of §6's
	// table verbatim, but every store needs a directory; the teacher's
	// config carries an equivalent data-directory option.
	DataDir string
	// StoreClass names the store implementation. It is loaded and
	// defaults to "bolt", but nothing reads it: serve always opens the
	// bolt store, the only implementation this repository ships.
	StoreClass string
	// DebugCheckInterval is the number of context operations between
	// reference-table consistency checks. Zero disables the check.
	DebugCheckInterval int
	// DetectModifications enables snapshot-and-compare at prepare time.
	DetectModifications bool
	// DisconnectDelay extends how long serve waits for in-flight work to
	// drain at shutdown (the delay plus ten seconds). If draining does not
	// finish in that time, coordinator.Shutdown returns false and the
	// coordinator goes back to Running.
	DisconnectDelay time.Duration
	// LockWaitTimeout bounds how long a transaction blocks on a single
	// contended lock before aborting with transaction-conflict. Not
	// named in §6's table; carried as an extension of data.store.class's
	// tuning surface.
	LockWaitTimeout time.Duration
}

// Load reads configuration from path (if non-empty), environment
// variables prefixed DARKSTAR_, and defaults, in that precedence order
// (env overrides file, file overrides default). It validates app.name
// and disconnect.delay per spec §6.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("darkstar")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("data.dir", "./data")
	v.SetDefault("data.store.class", "bolt")
	v.SetDefault("data.store.lock_wait_timeout", 2*time.Second)
	v.SetDefault("debug.check.interval", 0)
	v.SetDefault("detect.modifications", true)
	v.SetDefault("disconnect.delay", 500*time.Millisecond)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		AppName:             v.GetString("app.name"),
		DataDir:             v.GetString("data.dir"),
		StoreClass:          v.GetString("data.store.class"),
		DebugCheckInterval:  v.GetInt("debug.check.interval"),
		DetectModifications: v.GetBool("detect.modifications"),
		DisconnectDelay:     v.GetDuration("disconnect.delay"),
		LockWaitTimeout:     v.GetDuration("data.store.lock_wait_timeout"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.AppName == "" {
		return fmt.Errorf("config: app.name is required")
	}
	if c.DisconnectDelay < minDisconnectDelay {
		return fmt.Errorf("config: disconnect.delay must be >= %s, got %s", minDisconnectDelay, c.DisconnectDelay)
	}
	return nil
}
