package config

import (
	"os"
	"time"

	apxerrors "sessionhost/errors"
)

// DefaultConfig is the embedded baseline, overridden by a file passed on the
// command line (optional) and by SESSIONHOST_* environment variables, as
// described on Load.
var DefaultConfig = []byte(`
listen: "0.0.0.0:6700"

capacity: 3

log_level: "debug"

in_docker: false

launcher: "process"

docker_image: "chromedp/headless-shell:latest"

launch_timeout: "20s"

dial_timeout: "5s"

watchdog_interval: "100ms"

cors:
  allowed_origins:
  - "*"

circuit_breaker:
  failure_threshold: 5
  timeout: "30s"
  max_requests: 1

metrics:
  enabled: true
  health_check_interval: "15s"
`)

// Config is the session host's full runtime configuration.
type Config struct {
	Listen           string         `koanf:"listen" json:"listen"`
	Capacity         int            `koanf:"capacity" json:"capacity"`
	LogLevel         string         `koanf:"log_level" json:"log_level"`
	InDocker         bool           `koanf:"in_docker" json:"in_docker"`
	Launcher         string         `koanf:"launcher" json:"launcher"`
	DockerImage      string         `koanf:"docker_image" json:"docker_image"`
	BrowserBinary    string         `koanf:"browser_binary" json:"browser_binary"`
	LaunchTimeout    time.Duration  `koanf:"launch_timeout" json:"launch_timeout"`
	DialTimeout      time.Duration  `koanf:"dial_timeout" json:"dial_timeout"`
	WatchdogInterval time.Duration  `koanf:"watchdog_interval" json:"watchdog_interval"`
	Cors             CORS           `koanf:"cors" json:"cors"`
	CircuitBreaker   CircuitBreaker `koanf:"circuit_breaker" json:"circuit_breaker"`
	Metrics          Metrics        `koanf:"metrics" json:"metrics"`
}

// CORS configures the allowed origin list for the gateway's cross-origin
// middleware.
type CORS struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// CircuitBreaker bounds retries around the browser-launch step so a broken
// environment (missing binary, unreachable Docker daemon) fails fast instead
// of burning through warmup rounds.
type CircuitBreaker struct {
	FailureThreshold uint32        `koanf:"failure_threshold"`
	Timeout          time.Duration `koanf:"timeout"`
	MaxRequests      uint32        `koanf:"max_requests"`
}

// Metrics configures the health handler's background polling.
type Metrics struct {
	Enabled             bool          `koanf:"enabled"`
	HealthCheckInterval time.Duration `koanf:"health_check_interval"`
}

// Validate checks the configuration for required fields.
func (c *Config) Validate() error {
	ve := apxerrors.ValidationErrs()

	if c.Listen == "" {
		ve.Add("listen", "cannot be empty")
	}
	if c.Capacity <= 0 {
		ve.Add("capacity", "must be a positive integer")
	}
	if c.LogLevel == "" {
		ve.Add("log_level", "cannot be empty")
	}
	switch c.Launcher {
	case "process", "docker":
	default:
		ve.Add("launcher", "must be 'process' or 'docker'")
	}
	if c.Launcher == "docker" && c.DockerImage == "" {
		ve.Add("docker_image", "required when launcher is 'docker'")
	}

	return ve.Err()
}

// ApplyEnvironment honors the two environment variables the spec calls out
// directly, letting them win over whatever the config file says.
func (c *Config) ApplyEnvironment() {
	if v := os.Getenv("IN_DOCKER"); v == "true" {
		c.InDocker = true
	}
	if v := os.Getenv("SESSIONHOST_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	} else if v := os.Getenv("RUST_LOG"); v != "" {
		// honored for parity with the original service's log-level variable
		c.LogLevel = v
	}
}
