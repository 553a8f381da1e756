package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/segmentationf4u1t/codeforge/internal/agent"
	"github.com/segmentationf4u1t/codeforge/internal/agent/tape"
	"github.com/segmentationf4u1t/codeforge/internal/config"
	"github.com/segmentationf4u1t/codeforge/internal/hooks"
	"github.com/segmentationf4u1t/codeforge/internal/hooks/bundled"
	"github.com/segmentationf4u1t/codeforge/internal/jobs"
	"github.com/segmentationf4u1t/codeforge/internal/mcp"
	"github.com/segmentationf4u1t/codeforge/internal/sessionstore"
	"github.com/segmentationf4u1t/codeforge/internal/sessionstore/index"
	"github.com/segmentationf4u1t/codeforge/internal/tools/exec"
	"github.com/segmentationf4u1t/codeforge/internal/tools/files"
	"github.com/segmentationf4u1t/codeforge/internal/tools/policy"
	"github.com/segmentationf4u1t/codeforge/pkg/models"
)

// agentSession bundles the runtime and session a control surface (rpc or
// serve) drives a conversation through, plus the resources it owns and must
// close on shutdown.
type agentSession struct {
	Runtime *agent.Runtime
	Store   *sessionstore.SessionsStoreAdapter
	Session *models.Session
	Jobs    jobs.Store

	treeStore *sessionstore.Store
	idx       *index.SQLiteIndex
	mcpMgr    *mcp.Manager
	recorder  *tape.Recorder
	tapePath  string
}

// Close releases the session-tree store and, if tape recording was enabled,
// writes the recorded conversation to disk for later replay/debugging.
func (s *agentSession) Close() {
	if s.recorder != nil && s.tapePath != "" {
		if data, err := s.recorder.Tape().Marshal(); err == nil {
			_ = os.WriteFile(s.tapePath, data, 0o644)
		}
	}
	if s.mcpMgr != nil {
		_ = s.mcpMgr.Stop()
	}
	if s.treeStore != nil {
		s.treeStore.Close()
	}
	if s.idx != nil {
		s.idx.Close()
	}
}

// newAgentSession opens the session-tree store for cwd and wires an
// agent.Runtime to it through SessionsStoreAdapter, so every turn a live
// control surface drives persists through the same append-only sessiontree
// log that `codeforge session`/`codeforge compact` already read and write,
// rather than a throwaway in-memory store. The runtime gets the workspace
// tool surface (read/write/edit/apply_patch, bash, process) plus any tools
// exported by configured MCP servers. When tapePath is non-empty, every
// provider call is additionally recorded via internal/agent/tape and flushed
// to tapePath on Close, for replaying a conversation without making real LLM
// calls.
func newAgentSession(ctx context.Context, cfg *config.Config, cwd, sessionKey, tapePath string) (*agentSession, error) {
	provider, err := buildDefaultProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("configure provider: %w", err)
	}

	var recorder *tape.Recorder
	if tapePath != "" {
		recorder = tape.NewRecorder(provider)
		provider = recorder
	}

	idx, err := index.Open(filepath.Join(sessionDataDir(), "sessions.db"))
	if err != nil {
		return nil, fmt.Errorf("open session index: %w", err)
	}

	treeStore, err := sessionstore.NewStore(sessionDataDir(), idx, nil)
	if err != nil {
		idx.Close()
		return nil, fmt.Errorf("open session store: %w", err)
	}

	store := sessionstore.NewSessionsStoreAdapter(treeStore, cwd, provider.Name(), "")
	session, err := store.GetOrCreate(ctx, sessionKey, cwd)
	if err != nil {
		treeStore.Close()
		idx.Close()
		return nil, fmt.Errorf("create session: %w", err)
	}

	jobStore := jobs.NewMemoryStore()
	runtime := agent.NewRuntimeWithOptions(provider, store, runtimeOptions(cfg, jobStore))
	if cfg.LLM.DefaultProvider != "" {
		if pc, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; ok && pc.DefaultModel != "" {
			runtime.SetDefaultModel(pc.DefaultModel)
		}
	}
	if pruning := config.EffectiveContextPruningSettings(cfg.Session.ContextPruning); pruning != nil {
		runtime.SetContextPruning(pruning)
	}

	workspace := workspaceRoot(cfg, cwd)
	registerWorkspaceTools(runtime, cfg, workspace)

	hookReg := hooks.NewRegistry(nil)
	hooks.SetGlobalRegistry(hookReg)
	toolHooks := hooks.NewToolHookManager(hookReg, nil)
	if guard := toolPolicyGuard(cfg); guard != nil {
		toolHooks.RegisterPreHook("tool-policy", guard)
	}
	runtime.SetToolHookManager(toolHooks)

	system := identitySystemPrompt(cwd)
	if instructions := discoveredHookInstructions(ctx, workspace); instructions != "" {
		if system != "" {
			system += "\n\n"
		}
		system += instructions
	}
	if system != "" {
		runtime.SetSystemPrompt(system)
	}

	var mcpMgr *mcp.Manager
	if cfg.MCP.Enabled {
		mcpMgr = mcp.NewManager(&cfg.MCP, nil)
		if err := mcpMgr.Start(ctx); err != nil {
			_ = mcpMgr.Stop()
			treeStore.Close()
			idx.Close()
			return nil, fmt.Errorf("start mcp servers: %w", err)
		}
		mcp.RegisterTools(runtime, mcpMgr)
	}

	return &agentSession{
		Runtime:   runtime,
		Store:     store,
		Session:   session,
		Jobs:      jobStore,
		treeStore: treeStore,
		idx:       idx,
		mcpMgr:    mcpMgr,
		recorder:  recorder,
		tapePath:  tapePath,
	}, nil
}

// workspaceRoot resolves the configured workspace path against cwd (cwd when
// the config says ".").
func workspaceRoot(cfg *config.Config, cwd string) string {
	workspace := cfg.Workspace.Path
	if workspace == "" || workspace == "." {
		return cwd
	}
	if !filepath.IsAbs(workspace) {
		return filepath.Join(cwd, workspace)
	}
	return workspace
}

// registerWorkspaceTools gives the runtime its filesystem and shell surface,
// scoped to the workspace root.
func registerWorkspaceTools(runtime *agent.Runtime, cfg *config.Config, workspace string) {
	fileCfg := files.Config{Workspace: workspace}
	runtime.RegisterTool(files.NewReadTool(fileCfg))
	runtime.RegisterTool(files.NewWriteTool(fileCfg))
	runtime.RegisterTool(files.NewEditTool(fileCfg))
	runtime.RegisterTool(files.NewApplyPatchTool(fileCfg))

	execMgr := exec.NewManager(workspace)
	runtime.RegisterTool(exec.NewExecTool("bash", execMgr))
	runtime.RegisterTool(exec.NewProcessTool(execMgr))
}

// runtimeOptions maps the tools section of the config onto RuntimeOptions.
func runtimeOptions(cfg *config.Config, jobStore jobs.Store) agent.RuntimeOptions {
	execCfg := cfg.Tools.Execution
	opts := agent.RuntimeOptions{
		MaxIterations:     execCfg.MaxIterations,
		ToolParallelism:   execCfg.Parallelism,
		ToolTimeout:       execCfg.Timeout,
		ToolMaxAttempts:   execCfg.MaxAttempts,
		ToolRetryBackoff:  execCfg.RetryBackoff,
		DisableToolEvents: execCfg.DisableEvents,
		MaxToolCalls:      execCfg.MaxToolCalls,
		RequireApproval:   execCfg.RequireApproval,
		AsyncTools:        execCfg.Async,
		JobStore:          jobStore,
		ToolResultGuard: agent.ToolResultGuard{
			Enabled:         execCfg.ResultGuard.Enabled,
			MaxChars:        execCfg.ResultGuard.MaxChars,
			Denylist:        execCfg.ResultGuard.Denylist,
			RedactPatterns:  execCfg.ResultGuard.RedactPatterns,
			RedactionText:   execCfg.ResultGuard.RedactionText,
			TruncateSuffix:  execCfg.ResultGuard.TruncateSuffix,
			SanitizeSecrets: execCfg.ResultGuard.SanitizeSecrets,
		},
	}
	if execCfg.InterruptMode == string(agent.InterruptModeImmediate) {
		opts.InterruptMode = agent.InterruptModeImmediate
	}
	if len(execCfg.Approval.Allowlist) > 0 || len(execCfg.Approval.Denylist) > 0 || len(execCfg.RequireApproval) > 0 {
		opts.ApprovalChecker = agent.NewApprovalChecker(&agent.ApprovalPolicy{
			Allowlist:       execCfg.Approval.Allowlist,
			Denylist:        execCfg.Approval.Denylist,
			RequireApproval: execCfg.RequireApproval,
			DefaultDecision: agent.ApprovalDecision(execCfg.Approval.DefaultDecision),
			RequestTTL:      execCfg.Approval.RequestTTL,
		})
	}
	if cfg.Tools.Elevated.Enabled != nil && *cfg.Tools.Elevated.Enabled {
		opts.ElevatedTools = cfg.Tools.Elevated.Tools
	}
	return opts
}

// toolPolicyGuard builds a pre-execution hook enforcing the configured tool
// allow/deny policy. Returns nil when no policy is configured, so the hook
// manager stays out of the dispatch path entirely.
func toolPolicyGuard(cfg *config.Config) hooks.ToolPreHook {
	policies := cfg.Tools.Policies
	if policies.Default == "" && len(policies.Rules) == 0 {
		return nil
	}

	pol := &policy.Policy{}
	if policies.Default != "deny" {
		pol.Profile = policy.ProfileFull
	}
	for _, rule := range policies.Rules {
		switch rule.Action {
		case "allow":
			pol.Allow = append(pol.Allow, rule.Tool)
		case "deny":
			pol.Deny = append(pol.Deny, rule.Tool)
		}
	}

	resolver := policy.NewResolver()
	return func(ctx context.Context, hookCtx *hooks.ToolHookContext) error {
		decision := resolver.Decide(pol, hookCtx.ToolName)
		if !decision.Allowed {
			hookCtx.Canceled = true
			hookCtx.CancelReason = "tool " + hookCtx.ToolName + " blocked by policy: " + decision.Reason
		}
		return nil
	}
}

// discoveredHookInstructions collects eligible instruction hooks (bundled
// into the binary, from ~/.codeforge/hooks, and from <workspace>/hooks) and
// renders their bodies as a system-prompt section. Workspace hooks win name
// conflicts over local ones, which win over bundled ones.
func discoveredHookInstructions(ctx context.Context, workspace string) string {
	sources := []hooks.DiscoverySource{
		hooks.NewFSSource(bundled.BundledFS(), hooks.SourceBundled, hooks.PriorityBundled),
		hooks.NewLocalSource(hooks.DefaultLocalPath(), hooks.SourceLocal, hooks.PriorityLocal),
		hooks.NewLocalSource(filepath.Join(workspace, "hooks"), hooks.SourceWorkspace, hooks.PriorityWorkspace),
	}
	entries, err := hooks.DiscoverAll(ctx, sources)
	if err != nil || len(entries) == 0 {
		return ""
	}
	eligible := hooks.FilterEligible(entries, hooks.NewGatingContext(nil))
	if len(eligible) == 0 {
		return ""
	}
	sort.Slice(eligible, func(i, j int) bool {
		return eligible[i].Config.Name < eligible[j].Config.Name
	})

	var b strings.Builder
	for _, entry := range eligible {
		body := strings.TrimSpace(entry.Content)
		if body == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(body)
	}
	return b.String()
}

// acquireInstanceLock claims the workspace's advisory lock file when
// single-instance mode is enabled, so two runtime processes cannot write the
// same workspace's sessions concurrently. The returned release func is a
// no-op when the lock is disabled.
func acquireInstanceLock(cfg *config.Config) (func(), error) {
	if !cfg.SingleInstance.Enabled {
		return func() {}, nil
	}
	lockPath := cfg.SingleInstance.LockFile
	if lockPath == "" {
		lockPath = filepath.Join(sessionDataDir(), "codeforge.lock")
	}
	return sessionstore.AcquireInstanceLock(lockPath, cfg.SingleInstance.AcquireRetry)
}

// sessionKeyForCwd builds the control-plane session key a single-workspace
// invocation (serve or rpc) reuses across restarts, so reopening codeforge
// in the same directory resumes the same sessiontree session.
func sessionKeyForCwd(prefix, cwd string) string {
	return prefix + ":" + cwd
}

// identitySystemPrompt loads an optional IDENTITY.md from the workspace root
// and renders it as a system-prompt preamble, so a workspace can give its
// agent a name/persona the way agent.ParseIdentityMarkdown already supports.
// Returns "" if no IDENTITY.md is present or it carries no values.
func identitySystemPrompt(workspace string) string {
	id, err := agent.LoadIdentityFromWorkspace(workspace)
	if err != nil || id == nil || !id.HasValues() {
		return ""
	}

	var b strings.Builder
	if id.Name != "" {
		fmt.Fprintf(&b, "You are %s", id.Name)
		if id.Emoji != "" {
			fmt.Fprintf(&b, " %s", id.Emoji)
		}
		b.WriteString(".")
	}
	if id.Creature != "" {
		fmt.Fprintf(&b, " You present yourself as a %s.", id.Creature)
	}
	if id.Vibe != "" {
		fmt.Fprintf(&b, " Your tone is %s.", id.Vibe)
	}
	if id.Theme != "" {
		fmt.Fprintf(&b, " Visual theme: %s.", id.Theme)
	}
	return b.String()
}
