package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML lets Duration fields accept Go duration strings ("30s",
// "1m30s") directly in the YAML document.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// envVarPattern matches ${VAR_NAME} references in the raw YAML document,
// substituted before parsing so any field can reference an environment
// variable, not just the handful the teacher's config hard-codes
// (client_secret_env and friends).
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Loader loads a Config from some source.
type Loader interface {
	Load() (*Config, error)
}

// YAMLLoader reads a Config from a YAML file on disk, expanding
// ${ENV_VAR} references against the process environment first.
type YAMLLoader struct {
	path string
}

// NewYAMLLoader constructs a YAMLLoader for path.
func NewYAMLLoader(path string) *YAMLLoader {
	return &YAMLLoader{path: path}
}

// Load reads, expands, and parses the configuration file, then fills in
// every unset field's documented default.
func (l *YAMLLoader) Load() (*Config, error) {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", l.path, err)
	}

	expanded := envVarPattern.ReplaceAllStringFunc(string(raw), func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", l.path, err)
	}

	cfg.EnsureDefaults()
	return &cfg, nil
}
