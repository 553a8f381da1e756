package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/segmentationf4u1t/codeforge/internal/config"
	"github.com/segmentationf4u1t/codeforge/internal/controlplane"
	"github.com/segmentationf4u1t/codeforge/internal/jobs"
	"github.com/segmentationf4u1t/codeforge/internal/observability"
)

// buildServeCmd creates the "serve" command that runs the agent loop against
// the current workspace until interrupted.
func buildServeCmd(configPath *string) *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent loop against the current workspace",
		Long: `Run the agent loop against the current workspace.

The server will:
1. Load configuration from the specified file (or codeforge.yaml)
2. Open the session store for the current working directory
3. Watch the configuration file for changes and hot-reload on edit
4. Drive the agent loop over line-delimited JSON commands read from stdin,
   until interrupted (SIGINT/SIGTERM)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath, debug)
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := loadOrDefaultConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
	})

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}

	releaseLock, err := acquireInstanceLock(cfg)
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	defer releaseLock()

	sess, err := newAgentSession(ctx, cfg, cwd, sessionKeyForCwd("serve", cwd), "")
	if err != nil {
		return err
	}
	defer sess.Close()

	logger.Info(ctx, "codeforge serving", "cwd", cwd, "config", configPath, "session_id", sess.Session.ID)

	watcher, err := watchConfig(ctx, configPath, logger)
	if err != nil {
		logger.Warn(ctx, "config watch disabled", "error", err)
	} else {
		defer watcher.Close()
	}

	dispatcher := controlplane.NewDispatcher(sess.Runtime, sess.Store, sess.Session, os.Stdout, nil)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()
	sess.Runtime.Use(newMetricsPlugin(metrics))
	go serveMetrics(sigCtx, cfg.Server.Host, cfg.Server.MetricsPort, logger)

	go pruneToolJobs(sigCtx, sess.Jobs, cfg.Tools.Jobs, logger)

	done := make(chan error, 1)
	go func() {
		done <- dispatcher.Run(sigCtx, os.Stdin)
	}()

	select {
	case <-sigCtx.Done():
		logger.Info(ctx, "shutting down")
		<-done
		return nil
	case err := <-done:
		return err
	}
}

// pruneToolJobs periodically drops finished async tool jobs older than the
// configured retention, so a long-lived serve process does not accumulate
// job records without bound.
func pruneToolJobs(ctx context.Context, store jobs.Store, cfg config.ToolJobsConfig, logger *observability.Logger) {
	if store == nil || cfg.PruneInterval <= 0 {
		return
	}
	ticker := time.NewTicker(cfg.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Prune(ctx, cfg.Retention)
			if err != nil {
				logger.Warn(ctx, "tool job prune failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug(ctx, "pruned tool jobs", "count", n)
			}
		}
	}
}

// watchConfig reloads-on-write the config file so a running server can pick
// up config edits without a restart, mirroring the debounced fsnotify loop
// used for hot-reloadable resources elsewhere in the stack.
func watchConfig(ctx context.Context, configPath string, logger *observability.Logger) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(configPath)
	if dir == "" {
		dir = "."
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	var mu sync.Mutex
	var timer *time.Timer
	debounce := 250 * time.Millisecond

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(configPath) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, func() {
					if _, err := config.Load(configPath); err != nil {
						logger.Warn(ctx, "config reload failed", "error", err)
						return
					}
					logger.Info(ctx, "config reloaded", "path", configPath)
				})
				mu.Unlock()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn(ctx, "config watch error", "error", err)
			}
		}
	}()
	return watcher, nil
}

// loadOrDefaultConfig loads configPath, falling back to defaults if the file
// does not exist so a bare `codeforge serve` works in a fresh workspace.
func loadOrDefaultConfig(configPath string) (*config.Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

// sessionDataDir returns the directory sessions and the sqlite index are
// stored under, honoring CODEFORGE_DATA_DIR for test and container overrides.
func sessionDataDir() string {
	if v := os.Getenv("CODEFORGE_DATA_DIR"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".codeforge"
	}
	return filepath.Join(home, ".codeforge", "sessions")
}
