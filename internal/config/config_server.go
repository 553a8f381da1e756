package config

import "time"

// ServerConfig controls the control-plane listeners exposed alongside the
// agent runtime: the HTTP/websocket control plane and metrics endpoint.
type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// SingleInstanceConfig guards against two runtime processes writing the
// same workspace's sessions concurrently via an advisory lock file; the
// store itself only serializes writers within one process.
type SingleInstanceConfig struct {
	Enabled      bool          `yaml:"enabled"`
	LockFile     string        `yaml:"lock_file"`
	AcquireRetry time.Duration `yaml:"acquire_retry"`
}
