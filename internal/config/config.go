// Package config holds the file-backed settings for the lspipe binary.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alucardeht/lspipe/internal/proxy"
)

// Duration accepts either a Go duration string ("90s", "2m") or a bare
// number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := node.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration %q", node.Value)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

type ServerConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TraceConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Methods  []string `yaml:"methods"`
	Announce bool     `yaml:"announce"`
}

type RewriteConfig struct {
	Rules string `yaml:"rules"`
	Watch bool   `yaml:"watch"`
}

type ScriptConfig struct {
	Path    string   `yaml:"path"`
	Methods []string `yaml:"methods"`
}

type RecordConfig struct {
	Path    string   `yaml:"path"`
	Methods []string `yaml:"methods"`
}

type Config struct {
	Server         ServerConfig  `yaml:"server"`
	Log            LogConfig     `yaml:"log"`
	PendingTimeout Duration      `yaml:"pending_timeout"`
	Trace          TraceConfig   `yaml:"trace"`
	Rewrite        RewriteConfig `yaml:"rewrite"`
	Script         ScriptConfig  `yaml:"script"`
	Record         RecordConfig  `yaml:"record"`
}

func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		PendingTimeout: Duration(proxy.DefaultPendingTimeout),
		Trace: TraceConfig{
			Enabled: false,
			Methods: []string{"**"},
		},
	}
}

// Load reads a YAML file over the defaults. Fields absent from the file
// keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
