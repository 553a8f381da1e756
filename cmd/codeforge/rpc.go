package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/segmentationf4u1t/codeforge/internal/agent"
	"github.com/segmentationf4u1t/codeforge/internal/agent/providers"
	"github.com/segmentationf4u1t/codeforge/internal/agent/routing"
	"github.com/segmentationf4u1t/codeforge/internal/config"
	"github.com/segmentationf4u1t/codeforge/internal/controlplane"
	"github.com/segmentationf4u1t/codeforge/internal/observability"
	"github.com/segmentationf4u1t/codeforge/internal/providers/venice"
)

// Exit codes for the rpc command.
const (
	exitNormal  = 0
	exitSIGHUP  = 129
	exitSIGINT  = 130
	exitSIGTERM = 143
	exitFault   = 1
)

// buildRPCCmd creates the "rpc" command: a headless control-plane session
// that speaks line-delimited JSON commands on stdin and emits responses plus
// the agent event stream on stdout, for embedding behind a TUI or bridge
// process instead of a terminal.
func buildRPCCmd(configPath *string) *cobra.Command {
	var tapePath string

	cmd := &cobra.Command{
		Use:   "rpc",
		Short: "Run a headless control-plane session over stdin/stdout",
		Long: `Run a single agent session driven by line-delimited JSON commands read
from stdin (prompt, queue_message, abort, reset, get_state, set_model,
set_thinking_level, compact, switch_session, branch, get_messages). Each
command produces exactly one {"type":"response",...} line; the agent event
stream is interleaved as it is produced.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := runRPC(cmd.Context(), *configPath, tapePath)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
			os.Exit(code)
			return nil
		},
	}
	cmd.Flags().StringVar(&tapePath, "record-tape", "", "record every provider call to this file for later replay (internal/agent/tape)")
	return cmd
}

func runRPC(ctx context.Context, configPath, tapePath string) (int, error) {
	cfg, err := loadOrDefaultConfig(configPath)
	if err != nil {
		return exitFault, fmt.Errorf("load config: %w", err)
	}

	// Diagnostics go to stderr: stdout is reserved for the RPC wire protocol.
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})

	cwd, _ := os.Getwd()

	releaseLock, err := acquireInstanceLock(cfg)
	if err != nil {
		return exitFault, fmt.Errorf("acquire instance lock: %w", err)
	}
	defer releaseLock()

	// Every turn persists through the append-only sessiontree log, so the
	// tree's invariants are enforced on the path a live prompt travels.
	sess, err := newAgentSession(ctx, cfg, cwd, sessionKeyForCwd("rpc", cwd), tapePath)
	if err != nil {
		return exitFault, err
	}
	defer sess.Close()

	logger.Info(ctx, "rpc session starting", "cwd", cwd, "session_id", sess.Session.ID)
	dispatcher := controlplane.NewDispatcher(sess.Runtime, sess.Store, sess.Session, os.Stdout, nil)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	sigCh := make(chan os.Signal, 3)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	done := make(chan error, 1)
	go func() {
		done <- dispatcher.Run(runCtx, os.Stdin)
	}()

	select {
	case sig := <-sigCh:
		cancelRun()
		<-done
		switch sig {
		case syscall.SIGTERM:
			return exitSIGTERM, nil
		case syscall.SIGHUP:
			return exitSIGHUP, nil
		default:
			return exitSIGINT, nil
		}
	case err := <-done:
		if err != nil {
			return exitFault, err
		}
		return exitNormal, nil
	}
}

// buildDefaultProvider assembles the LLM provider for a session: every
// provider with credentials in the environment is constructed, the
// configured default_provider (falling back to whichever is available) is
// chosen, and when routing is enabled the whole set is wrapped in the
// rule-based router instead.
func buildDefaultProvider(cfg *config.Config) (agent.LLMProvider, error) {
	available := map[string]agent.LLMProvider{}

	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		p, err := providers.NewAnthropicProvider(providers.AnthropicConfig{APIKey: key})
		if err != nil {
			return nil, err
		}
		available["anthropic"] = p
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		available["openai"] = providers.NewOpenAIProvider(key)
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		p, err := providers.NewGoogleProvider(providers.GoogleConfig{APIKey: key})
		if err != nil {
			return nil, err
		}
		available["google"] = p
	}
	if key := os.Getenv("VENICE_API_KEY"); key != "" {
		available["venice"] = venice.NewProvider(venice.VeniceConfig{APIKey: key})
	}
	if cfg.LLM.Bedrock.Enabled {
		p, err := providers.NewBedrockProvider(providers.BedrockConfig{Region: cfg.LLM.Bedrock.Region})
		if err != nil {
			return nil, err
		}
		available["bedrock"] = p
	}
	if len(available) == 0 {
		return nil, fmt.Errorf("no provider credentials found (set ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY, or VENICE_API_KEY)")
	}

	if cfg.LLM.Routing.Enabled {
		return routing.NewRouter(routerConfig(cfg.LLM), available), nil
	}

	if p, ok := available[cfg.LLM.DefaultProvider]; ok {
		return p, nil
	}
	for _, name := range []string{"anthropic", "openai", "google", "bedrock", "venice"} {
		if p, ok := available[name]; ok {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no usable provider")
}

// routerConfig maps the llm.routing config section onto routing.Config.
func routerConfig(llm config.LLMConfig) routing.Config {
	rules := make([]routing.Rule, 0, len(llm.Routing.Rules))
	for _, r := range llm.Routing.Rules {
		rules = append(rules, routing.Rule{
			Name:   r.Name,
			Match:  routing.Match{Patterns: r.Match.Patterns, Tags: r.Match.Tags},
			Target: routing.Target{Provider: r.Target.Provider, Model: r.Target.Model},
		})
	}
	return routing.Config{
		DefaultProvider: llm.DefaultProvider,
		PreferLocal:     llm.Routing.PreferLocal,
		Rules:           rules,
		Fallback:        routing.Target{Provider: llm.Routing.Fallback.Provider, Model: llm.Routing.Fallback.Model},
		FailureCooldown: llm.Routing.UnhealthyCooldown,
	}
}
