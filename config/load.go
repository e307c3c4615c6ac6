package config

import (
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
)

const envPrefix = "SESSIONHOST_"

// Load builds a Config from the embedded default, an optional file
// (path may be empty to skip it), and SESSIONHOST_* environment variables,
// in that precedence order, then validates the result. An environment
// variable name has its prefix stripped, is lower-cased, and has every
// underscore turned into a key separator, so only keys without an underscore
// (listen, capacity, launcher, metrics.enabled, ...) can be set this way;
// SESSIONHOST_LOG_LEVEL and IN_DOCKER are applied by ApplyEnvironment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider(DefaultConfig), yaml.Parser()); err != nil {
		return nil, err
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "_", ".")
	}), nil)
	if err != nil {
		return nil, err
	}

	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return nil, err
	}

	c.ApplyEnvironment()

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}
