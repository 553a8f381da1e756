package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/segmentationf4u1t/codeforge/internal/mcp"
)

// Config is the root configuration for the codeforge runtime.
type Config struct {
	Version        int                  `yaml:"version"`
	Server         ServerConfig         `yaml:"server"`
	SingleInstance SingleInstanceConfig `yaml:"single_instance"`
	Session        SessionConfig        `yaml:"session"`
	Workspace      WorkspaceConfig      `yaml:"workspace"`
	LLM            LLMConfig            `yaml:"llm"`
	Tools          ToolsConfig          `yaml:"tools"`
	MCP            mcp.Config           `yaml:"mcp"`
	Logging        LoggingConfig        `yaml:"logging"`
}

// WorkspaceConfig locates the workspace an agent session operates on.
type WorkspaceConfig struct {
	// Path is the workspace root. "." means the process working directory.
	Path string `yaml:"path"`

	// IdentityFile names the optional markdown file whose contents seed the
	// agent's system-prompt persona.
	IdentityFile string `yaml:"identity_file"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads, parses, and validates the configuration file. $include
// directives are resolved relative to the including file, and ${VAR}
// references are expanded from the environment before parsing.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	if cfg.Version != 0 {
		if err := ValidateVersion(cfg.Version); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with every default applied, used when no config
// file is present so a bare invocation works in a fresh workspace.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applySessionDefaults(&cfg.Session)
	applyWorkspaceDefaults(&cfg.Workspace)
	applyLLMDefaults(&cfg.LLM)
	applyToolsDefaults(&cfg.Tools)
	applyLoggingDefaults(&cfg.Logging)
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = 8080
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
}

func applyWorkspaceDefaults(cfg *WorkspaceConfig) {
	if cfg.Path == "" {
		cfg.Path = "."
	}
	if cfg.IdentityFile == "" {
		cfg.IdentityFile = "IDENTITY.md"
	}
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
}

func applyToolsDefaults(cfg *ToolsConfig) {
	if cfg.Execution.Parallelism == 0 {
		cfg.Execution.Parallelism = 4
	}
	if cfg.Execution.Timeout == 0 {
		cfg.Execution.Timeout = 2 * time.Minute
	}
	if cfg.Execution.Approval.DefaultDecision == "" {
		cfg.Execution.Approval.DefaultDecision = "allowed"
	}
	if cfg.Execution.Approval.RequestTTL == 0 {
		cfg.Execution.Approval.RequestTTL = 5 * time.Minute
	}
	if cfg.Jobs.Retention == 0 {
		cfg.Jobs.Retention = 24 * time.Hour
	}
	if cfg.Jobs.PruneInterval == 0 {
		cfg.Jobs.PruneInterval = 1 * time.Hour
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if value := strings.TrimSpace(os.Getenv("CODEFORGE_HOST")); value != "" {
		cfg.Server.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("CODEFORGE_HTTP_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.HTTPPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("CODEFORGE_METRICS_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.MetricsPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("CODEFORGE_LOG_LEVEL")); value != "" {
		cfg.Logging.Level = value
	}
	if value := strings.TrimSpace(os.Getenv("CODEFORGE_SESSION_DIR")); value != "" {
		cfg.Session.Directory = value
	}
	if value := strings.TrimSpace(os.Getenv("CODEFORGE_TOOL_MAX_ATTEMPTS")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Tools.Execution.MaxAttempts = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("CODEFORGE_TOOL_RETRY_BACKOFF")); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			cfg.Tools.Execution.RetryBackoff = parsed
		}
	}
}

type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		issues = append(issues, "logging.level must be one of: debug, info, warn, error")
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		issues = append(issues, "logging.format must be one of: json, text")
	}

	if cfg.Server.HTTPPort < 0 || cfg.Server.HTTPPort > 65535 {
		issues = append(issues, "server.http_port must be between 0 and 65535")
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		issues = append(issues, "server.metrics_port must be between 0 and 65535")
	}

	switch cfg.Tools.Policies.Default {
	case "", "allow", "deny":
	default:
		issues = append(issues, "tools.policies.default must be \"allow\" or \"deny\"")
	}
	for _, rule := range cfg.Tools.Policies.Rules {
		if rule.Tool == "" {
			issues = append(issues, "tools.policies.rules entries must name a tool")
		}
		if rule.Action != "allow" && rule.Action != "deny" {
			issues = append(issues, "tools.policies.rules actions must be \"allow\" or \"deny\"")
		}
	}
	switch cfg.Tools.Execution.InterruptMode {
	case "", "batch", "immediate":
	default:
		issues = append(issues, "tools.execution.interrupt_mode must be \"batch\" or \"immediate\"")
	}
	switch cfg.Tools.Execution.Approval.DefaultDecision {
	case "", "allowed", "denied", "pending":
	default:
		issues = append(issues, "tools.execution.approval.default_decision must be one of: allowed, denied, pending")
	}

	if mode := strings.TrimSpace(cfg.Session.ContextPruning.Mode); mode != "" && mode != "cache_ttl" && mode != "off" {
		issues = append(issues, "session.context_pruning.mode must be \"cache_ttl\" or \"off\"")
	}

	if cfg.MCP.Enabled {
		seen := map[string]bool{}
		for _, server := range cfg.MCP.Servers {
			if server == nil || server.ID == "" {
				issues = append(issues, "mcp.servers entries must carry an id")
				continue
			}
			if seen[server.ID] {
				issues = append(issues, "mcp.servers ids must be unique: "+server.ID)
			}
			seen[server.ID] = true
		}
	}

	issues = append(issues, pluginValidationIssues(cfg)...)

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}
