package engine

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nguyen-daniel/btreedb/internal/storage/pager"
)

// EngineConfig holds the tunables an operator may want to change without
// recompiling: buffer pool size, lock timeout, checkpoint cadence, and the
// compression codec applied to large values. It is optional — Open with a
// zero EngineConfig (or DefaultConfig()) uses the built-in defaults.
// CheckpointInterval and CheckpointCron are saved and loaded but not read
// by Open: no checkpoint is scheduled unless a CheckpointScheduler is
// constructed and started explicitly.
type EngineConfig struct {
	CacheSize            int    `yaml:"cache_size"`
	LockTimeout          string `yaml:"lock_timeout"`
	CheckpointInterval   string `yaml:"checkpoint_interval"`
	CheckpointCron       string `yaml:"checkpoint_cron"`
	CompressionCodec     string `yaml:"compression_codec"`
	CompressionThreshold int    `yaml:"compression_threshold"`
}

// DefaultConfig returns the configuration Open uses when none is
// supplied: the standard cache size and lock timeout, RLE compression
// above a 256-byte threshold (Snappy is opt-in via config), and no
// scheduled checkpoint (callers run Checkpoint() themselves or start a
// CheckpointScheduler explicitly).
func DefaultConfig() EngineConfig {
	return EngineConfig{
		CacheSize:            pager.DefaultCacheSize,
		LockTimeout:          pager.DefaultLockTimeout.String(),
		CompressionCodec:     "rle",
		CompressionThreshold: 256,
	}
}

// LoadConfig reads a YAML EngineConfig from path. Missing fields fall back
// to DefaultConfig's values.
func LoadConfig(path string) (EngineConfig, error) {
	cfg := DefaultConfig()
	buf, err := os.ReadFile(path)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("%w: read config %s: %v", pager.ErrIO, path, err)
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return EngineConfig{}, fmt.Errorf("%w: parse config %s: %v", pager.ErrInvalidArgument, path, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as YAML.
func SaveConfig(path string, cfg EngineConfig) error {
	buf, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("%w: marshal config: %v", pager.ErrInvalidArgument, err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("%w: write config %s: %v", pager.ErrIO, path, err)
	}
	return nil
}

func (c EngineConfig) lockTimeout() time.Duration {
	if c.LockTimeout == "" {
		return pager.DefaultLockTimeout
	}
	d, err := time.ParseDuration(c.LockTimeout)
	if err != nil {
		return pager.DefaultLockTimeout
	}
	return d
}

func (c EngineConfig) cacheSize() int {
	if c.CacheSize <= 0 {
		return pager.DefaultCacheSize
	}
	return c.CacheSize
}

func (c EngineConfig) compressionCodec() pager.CompressionCodec {
	switch c.CompressionCodec {
	case "identity":
		return pager.CodecIdentity
	case "snappy":
		return pager.CodecSnappy
	case "rle", "":
		return pager.CodecRLE
	default:
		return pager.CodecRLE
	}
}

func (c EngineConfig) compressionThreshold() int {
	if c.CompressionThreshold <= 0 {
		return 256
	}
	return c.CompressionThreshold
}
