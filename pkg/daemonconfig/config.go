// Package daemonconfig loads the broker daemon's optional config file,
// <home>/broker/daemon.yaml (spec SPEC_FULL.md §4's DOMAIN STACK entry for
// gopkg.in/yaml.v3): a lease TTL override, a log level, and an env-var
// allowlist for the detached daemon process spawned by pkg/daemonclient.
//
// Grounded on pkg/subagent/frontmatter.go's yaml.Unmarshal-into-a-plain-
// struct idiom, adapted from agent-definition frontmatter to a standalone
// config file (no Markdown body to split off).
package daemonconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the optional daemon.yaml shape. Every field is optional; a
// missing or absent file yields Defaults().
type Config struct {
	LeaseTTL  string   `yaml:"leaseTtl"`
	LogLevel  string   `yaml:"logLevel"`
	DetachEnv []string `yaml:"detachEnv"`
}

// DefaultLeaseTTL matches registry.DefaultLeaseTTL (spec §3: SessionLease
// "Default TTL is 60 seconds").
const DefaultLeaseTTL = 60 * time.Second

var defaultDetachEnv = []string{"PATH", "HOME", "USER", "LANG", "TMPDIR", "CDT_CHROME_PATH"}

// Defaults returns the config used when no daemon.yaml exists.
func Defaults() Config {
	return Config{
		LeaseTTL:  DefaultLeaseTTL.String(),
		LogLevel:  "info",
		DetachEnv: append([]string(nil), defaultDetachEnv...),
	}
}

// Load reads and parses path. A missing file is not an error: it returns
// Defaults(). A present-but-malformed file is an error.
func Load(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read daemon config: %w", err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return cfg, fmt.Errorf("parse daemon config %s: %w", path, err)
	}
	if parsed.LeaseTTL != "" {
		cfg.LeaseTTL = parsed.LeaseTTL
	}
	if parsed.LogLevel != "" {
		cfg.LogLevel = parsed.LogLevel
	}
	if len(parsed.DetachEnv) > 0 {
		cfg.DetachEnv = parsed.DetachEnv
	}
	return cfg, nil
}

// LeaseTTLDuration parses LeaseTTL, falling back to DefaultLeaseTTL if it
// is empty or unparseable.
func (c Config) LeaseTTLDuration() time.Duration {
	if c.LeaseTTL == "" {
		return DefaultLeaseTTL
	}
	d, err := time.ParseDuration(c.LeaseTTL)
	if err != nil {
		return DefaultLeaseTTL
	}
	return d
}
