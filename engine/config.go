package engine

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings such as
// "5s" or "1m30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config controls an Engine. Zero-value fields take the documented defaults;
// Database is required.
type Config struct {
	// URI is the deployment connection string. Default mongodb://localhost:27017.
	URI string `yaml:"uri"`
	// Database is the target database name.
	Database string `yaml:"database"`
	// PingTimeout bounds the connectivity check during Connect. Default 5s.
	PingTimeout Duration `yaml:"ping_timeout"`
	// CascadeLimit caps concurrent writes within one cascade fan-out.
	// Default 8.
	CascadeLimit int `yaml:"cascade_limit"`
	// DereferenceDepth is the default reference resolution depth for reads.
	// Default 0, raw keys only.
	DereferenceDepth int `yaml:"dereference_depth"`
}

func (c Config) withDefaults() Config {
	if c.URI == "" {
		c.URI = "mongodb://localhost:27017"
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = Duration(5 * time.Second)
	}
	if c.CascadeLimit <= 0 {
		c.CascadeLimit = 8
	}
	if c.DereferenceDepth < 0 {
		c.DereferenceDepth = 0
	}
	return c
}

// LoadConfig reads an engine configuration from a YAML file and fills
// defaults.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg.withDefaults(), nil
}
