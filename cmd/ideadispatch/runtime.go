package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hylla/ideadispatch/internal/adapters/storage/filestore"
	"github.com/hylla/ideadispatch/internal/adapters/storage/sqlite"
	"github.com/hylla/ideadispatch/internal/app"
	"github.com/hylla/ideadispatch/internal/config"
	"github.com/hylla/ideadispatch/internal/platform"
)

// runtimeEnv is the resolved configuration, logger and service for one command.
type runtimeEnv struct {
	configPath string
	paths      platform.Paths
	cfg        config.Config
	logger     *runtimeLogger
	repo       *sqlite.Repository
	svc        *app.Service
}

// resolvePaths returns platform defaults for the selected app name and mode.
func (c *cli) resolvePaths() (platform.Paths, error) {
	return platform.DefaultPathsWithOptions(platform.Options{
		AppName: c.appName,
		DevMode: c.devMode,
	})
}

// loadRuntime resolves paths, config and logging without touching the ledger.
func (c *cli) loadRuntime(cmd *cobra.Command) (*runtimeEnv, error) {
	paths, err := c.resolvePaths()
	if err != nil {
		return nil, err
	}
	configPath := strings.TrimSpace(c.configPath)
	if configPath == "" {
		if envPath := strings.TrimSpace(os.Getenv("IDEADISPATCH_CONFIG")); envPath != "" {
			configPath = envPath
		} else {
			configPath = paths.ConfigPath
		}
	}

	defaults := config.Default(config.Locations{
		RegistryPath:   paths.RegistryPath,
		QueueStatePath: paths.QueueStatePath,
		TelemetryPath:  paths.TelemetryPath,
		DBPath:         paths.DBPath,
		PolicyPath:     paths.PolicyPath,
	})
	cfg, err := config.Load(configPath, defaults)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", configPath, err)
	}
	if backend := strings.TrimSpace(c.backend); backend != "" {
		cfg.Ledger.Backend = config.LedgerBackend(strings.ToLower(backend))
	}
	if kill, ok := parseBoolEnv("IDEADISPATCH_KILL_SWITCH"); ok {
		cfg.Gate.KillSwitch = kill
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %q: %w", configPath, err)
	}

	logger, err := newRuntimeLogger(cmd.ErrOrStderr(), c.appName, c.devMode, cfg.Logging, c.now)
	if err != nil {
		return nil, fmt.Errorf("configure runtime logger: %w", err)
	}
	if c.quiet {
		logger.SetConsoleEnabled(false)
	}
	rt := &runtimeEnv{
		configPath: configPath,
		paths:      paths,
		cfg:        cfg,
		logger:     logger,
	}
	logger.Info("startup configuration resolved", "app", c.appName, "dev_mode", c.devMode, "command", cmd.Name())
	logger.Debug("runtime paths resolved", "config_path", configPath, "data_dir", paths.DataDir, "db_path", cfg.Paths.Database)
	logger.Info("configuration loaded", "config_path", configPath, "ledger", cfg.Ledger.Backend, "business", cfg.Business.ID, "log_level", cfg.Logging.Level)
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Info("dev file logging enabled", "path", devPath)
	}
	return rt, nil
}

// openRuntime loads the runtime and wires the ledger, the audit trail and the application service.
func (c *cli) openRuntime(cmd *cobra.Command) (*runtimeEnv, error) {
	rt, err := c.loadRuntime(cmd)
	if err != nil {
		return nil, err
	}
	policies, err := config.LoadPolicies(rt.cfg.Suppression.PolicyFile)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("load dispatch policies: %w", err)
	}
	svcCfg, err := rt.cfg.ServiceConfig(policies)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("build service config: %w", err)
	}

	rt.logger.Info("opening sqlite repository", "db_path", rt.cfg.Paths.Database)
	repo, err := sqlite.Open(rt.cfg.Paths.Database)
	if err != nil {
		rt.logger.Error("sqlite open failed", "db_path", rt.cfg.Paths.Database, "err", err)
		rt.Close()
		return nil, fmt.Errorf("open sqlite repository: %w", err)
	}
	rt.repo = repo

	var ledger app.Ledger = repo
	if rt.cfg.Ledger.Backend == config.LedgerBackendFile {
		store, err := filestore.Open(rt.cfg.Paths.QueueState, rt.cfg.Paths.Telemetry)
		if err != nil {
			rt.logger.Error("file ledger open failed", "queue_state", rt.cfg.Paths.QueueState, "err", err)
			rt.Close()
			return nil, fmt.Errorf("open file ledger: %w", err)
		}
		ledger = store
	}
	rt.logger.Info("ledger ready", "backend", rt.cfg.Ledger.Backend, "policies", len(policies))

	rt.svc = app.NewService(ledger, repo, uuid.NewString, c.now, svcCfg)
	rt.logger.Debug("application service initialized", "business", svcCfg.Business, "kill_switch", svcCfg.KillSwitch)
	return rt, nil
}

// track wraps one command flow with start, complete and failed log events.
func (rt *runtimeEnv) track(command string, fn func() error) error {
	rt.logger.Info("command flow start", "command", command)
	if err := fn(); err != nil {
		rt.logger.Error("command flow failed", "command", command, "err", err)
		return fmt.Errorf("run %s command: %w", command, err)
	}
	rt.logger.Info("command flow complete", "command", command)
	return nil
}

// Close releases the repository and the dev log sink.
func (rt *runtimeEnv) Close() error {
	if rt == nil {
		return nil
	}
	var errs []error
	if rt.repo != nil {
		if err := rt.repo.Close(); err != nil {
			rt.logger.Warn("sqlite close failed", "db_path", rt.cfg.Paths.Database, "err", err)
			errs = append(errs, err)
		}
	}
	if err := rt.logger.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// withRuntime opens the full runtime, runs fn inside a tracked flow and closes everything afterwards.
func (c *cli) withRuntime(cmd *cobra.Command, fn func(context.Context, *runtimeEnv) error) error {
	rt, err := c.openRuntime(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "warning: close runtime: %v\n", closeErr)
		}
	}()
	return rt.track(commandPath(cmd), func() error {
		return fn(cmd.Context(), rt)
	})
}

// commandPath returns the command path without the binary name, e.g. "queue transition".
func commandPath(cmd *cobra.Command) string {
	path := cmd.CommandPath()
	if root := cmd.Root(); root != nil {
		path = strings.TrimSpace(strings.TrimPrefix(path, root.Name()))
	}
	if path == "" {
		return cmd.Name()
	}
	return path
}

// readInput reads a file argument, or stdin when the path is empty or "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	path = strings.TrimSpace(path)
	if path == "" || path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}
