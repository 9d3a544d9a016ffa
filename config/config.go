// Package config holds the runtime-wide tunables for concord's dispatchers
// and channels: pool sizing, default buffer capacities, and the ambient
// logging level. It is grounded on the teacher's Config/defaultConfig/Option
// triad (config.go, defaults.go, options.go), generalized from per-Workers
// knobs to per-runtime ones, and adds LoadFile using
// github.com/BurntSushi/toml for on-disk configuration (spec.md's ambient
// configuration stack).
package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/concord-rt/concord/rtlog"
)

// RuntimeConfig tunes concord's default dispatchers and channel buffering.
// The zero value is invalid; use Default() or Load/LoadFile.
type RuntimeConfig struct {
	// DefaultParallelism overrides Dispatchers.Default's worker count.
	// Zero (default) means "derive from GOMAXPROCS via automaxprocs".
	DefaultParallelism uint `toml:"default_parallelism"`

	// IOPoolInitialCapacity hints the Dispatchers.IO dynamic pool's expected
	// steady-state size; it's advisory, not a hard cap.
	IOPoolInitialCapacity uint `toml:"io_pool_initial_capacity"`

	// ChannelDefaultCapacity is the buffer size a channel gets when it is
	// built with the channel.DefaultCapacity sentinel rather than an
	// explicit capacity (spec.md §4.6 leaves "unspecified capacity"
	// implementation defined). An explicit capacity of 0 is a rendezvous
	// channel.
	ChannelDefaultCapacity uint `toml:"channel_default_capacity"`

	// SharedFlowReplayDefault is the replay count new MutableSharedFlow
	// constructors use when the caller passes replay < 0 as "use config
	// default" (spec.md §4.9).
	SharedFlowReplayDefault uint `toml:"shared_flow_replay_default"`

	// LogLevel names the minimum concord/rtlog level ("debug", "info",
	// "warn", "error"). Load, LoadFile and New reject any other value;
	// SetActive does not validate, and a hand-built config with another
	// value gets "info".
	LogLevel string `toml:"log_level"`
}

// Default returns concord's built-in tuning.
func Default() RuntimeConfig {
	return RuntimeConfig{
		DefaultParallelism:      0,
		IOPoolInitialCapacity:   64,
		ChannelDefaultCapacity:  0,
		SharedFlowReplayDefault: 0,
		LogLevel:                "info",
	}
}

// Validate performs the lightweight invariant checks Load/LoadFile run
// automatically; exported so callers building RuntimeConfig by hand (tests,
// embedders) can opt in too.
func Validate(cfg RuntimeConfig) error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("concord/config: unrecognized log_level %q", cfg.LogLevel)
	}
	return nil
}

// LoadFile reads a TOML RuntimeConfig from path, starting from Default() so
// a partial file only overrides the fields it sets.
func LoadFile(path string) (RuntimeConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return RuntimeConfig{}, err
	}
	defer f.Close()
	return Load(f)
}

// Load decodes a TOML RuntimeConfig from r.
func Load(r interface {
	Read(p []byte) (int, error)
}) (RuntimeConfig, error) {
	cfg := Default()
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return RuntimeConfig{}, fmt.Errorf("concord/config: decode: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return RuntimeConfig{}, err
	}
	return cfg, nil
}

// ConfigFileEnvVar names the environment variable init() checks for a TOML
// RuntimeConfig path, consulted once at process start so that
// concord/dispatcher's package-level Default/IO (sized during their own
// package initialization, before any application code runs) can still
// observe host configuration.
const ConfigFileEnvVar = "CONCORD_CONFIG_FILE"

var (
	activeMu sync.RWMutex
	active   = Default()
)

// Active returns the RuntimeConfig currently in effect: whatever SetActive
// last installed, or the value loaded from ConfigFileEnvVar at process
// start, or Default() if neither applies. concord/dispatcher,
// concord/channel and concord/sharedflow consult it for their zero-value
// defaults.
func Active() RuntimeConfig {
	activeMu.RLock()
	defer activeMu.RUnlock()
	return active
}

// SetActive installs cfg as the process-wide RuntimeConfig. Dispatchers.
// Default and Dispatchers.IO are sized once, during concord/dispatcher's own
// package initialization, so SetActive only reaches them if it runs before
// that package is imported (e.g. from another package's init, or via
// ConfigFileEnvVar); concord/channel and concord/sharedflow read Active()
// per-construction and always observe the latest call.
func SetActive(cfg RuntimeConfig) {
	activeMu.Lock()
	defer activeMu.Unlock()
	active = cfg
	rtlog.SetLevel(rtlog.LevelFromName(cfg.LogLevel))
}

func init() {
	path := os.Getenv(ConfigFileEnvVar)
	if path == "" {
		return
	}
	cfg, err := LoadFile(path)
	if err != nil {
		rtlog.Logger.Err().Str("path", path).Err(err).Log("concord/config: ignoring unreadable CONCORD_CONFIG_FILE")
		return
	}
	SetActive(cfg)
}
