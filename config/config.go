package config

import (
	"time"

	"github.com/Bondifuzz/sbxbin-runner/internal/streams"
	"github.com/Bondifuzz/sbxbin-runner/internal/supervision"
	"github.com/Bondifuzz/sbxbin-runner/util/conf"
)

// Config is the full configuration document of the runner. The
// field names mirror the JSON config file; any key can also be
// set through RUNNER__-prefixed environment variables or cli flags.
type Config struct {
	// LogLevel is the log level for the application
	LogLevel string `conf:"log_level"`

	// LogFormat is the log format for the application
	LogFormat string `conf:"log_format"`

	// Cwd is the working directory for the child process
	Cwd string `conf:"cwd"`

	// Command is the argv of the child process
	Command []string `conf:"command"`

	// Env is the list of environment overrides for the child
	Env []supervision.EnvVar `conf:"env"`

	// Streams describes where the child's standard streams go
	Streams streams.Spec `conf:"streams"`

	// PollIntervalMs is the monitoring loop poll interval
	PollIntervalMs int64 `conf:"poll_interval_ms"`

	// RunTimeoutSec is the total run timeout for the child
	RunTimeoutSec int64 `conf:"run_timeout_sec"`

	// GracePeriodSec is the graceful shutdown window
	GracePeriodSec int64 `conf:"grace_period_sec"`
}

var loggingDefaults = conf.DefaultConfig{
	"log_level":  "info",
	"log_format": "production",
}

var runnerDefaults = conf.DefaultConfig{
	"poll_interval_ms": 100,
}

// DefaultConfig holds the defaults applied before any other
// configuration layer.
var DefaultConfig = conf.MergeDefaults("", loggingDefaults, runnerDefaults)

// LaunchSpec converts the config into the immutable launch spec
// consumed by the supervisor.
func (c Config) LaunchSpec() supervision.LaunchSpec {
	return supervision.LaunchSpec{
		Cwd:          c.Cwd,
		Command:      c.Command,
		Env:          c.Env,
		PollInterval: time.Duration(c.PollIntervalMs) * time.Millisecond,
		RunTimeout:   time.Duration(c.RunTimeoutSec) * time.Second,
		GracePeriod:  time.Duration(c.GracePeriodSec) * time.Second,
	}
}
