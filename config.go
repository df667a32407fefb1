package httpconnpool

import (
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
)

// Config carries the pool's tunable defaults. A zero Config is not valid;
// use DefaultConfig and override individual fields, mirroring the teacher's
// own Config/DefaultConfig/VerifyConfig triad.
type Config struct {
	// DefaultDuplicateLimit caps the number of parallel streams to one
	// endpoint when a caller does not specify one.
	DefaultDuplicateLimit int `koanf:"duplicate_limit"`

	// DefaultPipelineLimit caps the window of written-but-unread requests
	// per Connection when a caller does not specify one.
	DefaultPipelineLimit int `koanf:"pipeline_limit"`

	// DefaultReuseLimit caps total requests per stream before forced
	// retirement. Zero means unlimited.
	DefaultReuseLimit int `koanf:"reuse_limit"`

	// DialTimeout bounds how long a new Connection's dial may take.
	DialTimeout time.Duration `koanf:"dial_timeout"`

	// DialKeepAlive is passed to the default dialer's net.Dialer.
	DialKeepAlive time.Duration `koanf:"dial_keepalive"`
}

// DefaultConfig returns the pool's built-in tuning, matching the external
// interface defaults named in the component spec.
func DefaultConfig() *Config {
	return &Config{
		DefaultDuplicateLimit: 8,
		DefaultPipelineLimit:  16,
		DefaultReuseLimit:     0,
		DialTimeout:           10 * time.Second,
		DialKeepAlive:         30 * time.Second,
	}
}

// VerifyConfig sanity-checks a Config the way the teacher's VerifyConfig
// checks its own Config before a Session is built from it.
func VerifyConfig(c *Config) error {
	if c.DefaultDuplicateLimit <= 0 {
		return errNewConfig("duplicate_limit must be positive")
	}
	if c.DefaultPipelineLimit <= 0 {
		return errNewConfig("pipeline_limit must be positive")
	}
	if c.DefaultReuseLimit < 0 {
		return errNewConfig("reuse_limit must not be negative")
	}
	if c.DialTimeout <= 0 {
		return errNewConfig("dial_timeout must be positive")
	}
	return nil
}

func errNewConfig(msg string) error {
	return &PreconditionError{Op: "verify_config", Detail: msg}
}

// LoadConfig layers optional YAML-file and environment overrides on top of
// DefaultConfig, the same structs->file->env layering
// nasa-jpl-golaborate/cmd/multiserver builds with koanf. A missing file is
// tolerated; any other load error is returned.
func LoadConfig(path string) (*Config, error) {
	k := koanf.New(".")
	base := DefaultConfig()

	if err := k.Load(structs.Provider(*base, "koanf"), nil); err != nil {
		return nil, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !strings.Contains(err.Error(), "no such") {
				return nil, err
			}
		}
	}
	if err := k.Load(env.Provider("HTTPCONNPOOL_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "HTTPCONNPOOL_"))
	}), nil); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, err
	}
	if err := VerifyConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
