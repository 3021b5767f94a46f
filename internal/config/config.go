// Package config loads the daemon's configuration file.
//
// Configuration is plain YAML: start from the defaults, read the bytes,
// then decode them over the defaults, so any field the file leaves out
// keeps its default value. Unknown keys in the file are ignored.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v2"
)

// Config holds every recognized option from spec.md §6.5.
type Config struct {
	ServicePort int      `yaml:"service_port"`
	HashLength  int      `yaml:"hash_length"`
	ImageFolder string   `yaml:"image_folder"`
	CacheFolder string   `yaml:"cache_folder"`
	LogFolder   string   `yaml:"log_folder"`
	Extensions  []string `yaml:"extensions"`
	TagRegex    string   `yaml:"tag_regex"`
	TraceDebug  bool     `yaml:"trace_debug"`
}

// Default returns the configuration defaults spec'd in §6.5.
func Default() Config {
	return Config{
		ServicePort: 14400,
		HashLength:  256,
		ImageFolder: "~/Pictures/Cutespam",
		Extensions:  []string{".jpg", ".jpeg", ".png"},
		TagRegex:    `[!-)+-9;-~]+`,
		TraceDebug:  false,
	}
}

// Load reads and decodes the YAML file at path, filling any field left
// unset in the file with its default value.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %q: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants Load and hand-built Configs (tests) both
// need to hold: a positive hash length, a service port in 1..65535, a
// compilable tag regex, and a non-empty image folder.
func (c *Config) Validate() error {
	if c.HashLength <= 0 {
		return fmt.Errorf("config: hash_length must be positive, got %d", c.HashLength)
	}
	if c.ServicePort <= 0 || c.ServicePort > 65535 {
		return fmt.Errorf("config: service_port out of range: %d", c.ServicePort)
	}
	if _, err := regexp.Compile(c.TagRegex); err != nil {
		return fmt.Errorf("config: invalid tag_regex %q: %w", c.TagRegex, err)
	}
	if c.ImageFolder == "" {
		return fmt.Errorf("config: image_folder must be set")
	}
	return nil
}

// ResolvedImageFolder expands a leading ~ and returns an absolute path.
func (c *Config) ResolvedImageFolder() (string, error) {
	return expandHome(c.ImageFolder)
}

func expandHome(p string) (string, error) {
	if len(p) == 0 || p[0] != '~' {
		return filepath.Abs(p)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolving ~: %w", err)
	}
	return filepath.Join(home, p[1:]), nil
}
