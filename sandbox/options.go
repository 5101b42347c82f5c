// Package sandbox provides CodeRunner implementations: a subprocess runner
// with a JSON protocol bridge for tool calls, a Docker runner with a
// container per execution, and an HTTP runner delegating to a remote
// sandbox service (see cmd/sandboxd).
package sandbox

import "time"

// Option configures a runner.
type Option func(*runnerConfig)

type runnerConfig struct {
	// Shared options.
	timeout   time.Duration
	maxOutput int
	workspace string // fixed workspace dir; empty means temp per run

	// SubprocessRunner options.
	envPassthrough bool
	envVars        map[string]string

	// DockerRunner options.
	images         map[string]string // runtime -> image
	cpuMillicores  int64
	memoryLimitMB  int64
	networkEnabled bool

	// HTTPRunner options.
	callbackAddr string
}

func defaultConfig() runnerConfig {
	return runnerConfig{
		timeout:       30 * time.Second,
		maxOutput:     64 * 1024,
		cpuMillicores: 1000,
		memoryLimitMB: 512,
		callbackAddr:  "127.0.0.1:0",
		images: map[string]string{
			"python": "python:3.11-alpine",
			"node":   "node:20-alpine",
			"bash":   "bash:5-alpine",
		},
	}
}

// WithTimeout sets the maximum execution duration. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(c *runnerConfig) { c.timeout = d }
}

// WithMaxOutput sets the maximum captured output size in bytes. Output
// beyond this limit is truncated. Default: 64KB.
func WithMaxOutput(bytes int) Option {
	return func(c *runnerConfig) { c.maxOutput = bytes }
}

// WithWorkspace pins execution to a fixed workspace directory. Default:
// a temp directory, or a per-session directory when the request carries a
// session ID.
func WithWorkspace(dir string) Option {
	return func(c *runnerConfig) { c.workspace = dir }
}

// WithEnvPassthrough passes the full parent environment to the subprocess.
// Default: a minimal PATH/HOME/LANG environment.
func WithEnvPassthrough() Option {
	return func(c *runnerConfig) { c.envPassthrough = true }
}

// WithEnv adds an environment variable for the subprocess.
func WithEnv(key, value string) Option {
	return func(c *runnerConfig) {
		if c.envVars == nil {
			c.envVars = make(map[string]string)
		}
		c.envVars[key] = value
	}
}

// WithImage overrides the container image for a runtime.
func WithImage(runtime, image string) Option {
	return func(c *runnerConfig) { c.images[runtime] = image }
}

// WithCPULimit sets the container CPU cap in millicores. Default: 1000.
func WithCPULimit(millicores int64) Option {
	return func(c *runnerConfig) { c.cpuMillicores = millicores }
}

// WithMemoryLimit sets the container memory cap in MB. Default: 512.
func WithMemoryLimit(mb int64) Option {
	return func(c *runnerConfig) { c.memoryLimitMB = mb }
}

// WithNetwork enables network access inside the container. Default:
// disabled.
func WithNetwork() Option {
	return func(c *runnerConfig) { c.networkEnabled = true }
}

// WithCallbackAddr sets the listen address for the tool-call callback
// server of the HTTP runner. The sandbox service must be able to reach it.
// Default: 127.0.0.1 on an ephemeral port.
func WithCallbackAddr(addr string) Option {
	return func(c *runnerConfig) { c.callbackAddr = addr }
}
