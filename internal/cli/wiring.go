package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/siavashoutadi/pishro-lib/internal/config"
	"github.com/siavashoutadi/pishro-lib/internal/core/plan"
	"github.com/siavashoutadi/pishro-lib/internal/engine"
	"github.com/siavashoutadi/pishro-lib/internal/shell/catalog"
	"github.com/siavashoutadi/pishro-lib/internal/shell/store"
	"github.com/siavashoutadi/pishro-lib/internal/shell/swarm"
)

// =============================================================================
// Engine Wiring
// =============================================================================

// buildEngine wires the engine with its collaborators. Commands that never
// touch the cluster pass needCluster false and skip the Docker connection.
// The returned cleanup closes whatever was opened.
func buildEngine(cfg *config.Config, logger *slog.Logger, needCluster bool) (*engine.Engine, func(), error) {
	st, err := openStore(cfg.State.DSN)
	if err != nil {
		return nil, nil, err
	}

	var cluster swarm.Client
	if needCluster {
		cluster, err = swarm.NewDockerClient(cfg.SwarmConfig())
		if err != nil {
			st.Close()
			return nil, nil, err
		}
	}

	cleanup := func() {
		if cluster != nil {
			if err := cluster.Close(); err != nil {
				logger.Warn("failed to close docker client", "error", err)
			}
		}
		if err := st.Close(); err != nil {
			logger.Warn("failed to close state store", "error", err)
		}
	}

	cat := catalog.New(cfg.Catalog.Dir, logger)
	eng := engine.New(cat, st, cluster, engine.Config{LockTTL: cfg.Deploy.LockTTL}, logger)
	return eng, cleanup, nil
}

// openStore opens the SQLite state store, creating the parent directory for
// file-backed databases.
func openStore(dsn string) (store.Store, error) {
	if dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create state directory %s: %w", dir, err)
			}
		}
	}
	return store.NewSQLiteStore(dsn)
}

// parseRequirements turns "name" or "name@constraint" arguments into plan
// requirements.
func parseRequirements(args []string) ([]plan.Requirement, error) {
	reqs := make([]plan.Requirement, len(args))
	for i, arg := range args {
		name, constraint, _ := strings.Cut(arg, "@")
		if name == "" {
			return nil, fmt.Errorf("invalid package argument %q, expected name[@constraint]", arg)
		}
		reqs[i] = plan.Requirement{Name: name, Constraint: constraint}
	}
	return reqs, nil
}

// =============================================================================
// Shared Apply Flags
// =============================================================================

// applyFlags are the flags shared by install, upgrade and render.
type applyFlags struct {
	environment string
	stackPrefix string
	valueFiles  []string
	setValues   []string
	wait        bool
	timeout     time.Duration
}

func (f *applyFlags) registerValueFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.environment, "env", "", "Deployment environment (default from config)")
	cmd.Flags().StringVar(&f.stackPrefix, "stack-prefix", "", "Stack name prefix for new installs (default from config)")
	cmd.Flags().StringArrayVarP(&f.valueFiles, "values", "f", nil, "Override values file, merged in order (repeatable)")
	cmd.Flags().StringArrayVar(&f.setValues, "set", nil, "Set a value, path=value (repeatable)")
}

func (f *applyFlags) registerWaitFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.wait, "wait", false, "Wait for each stack's services to converge")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Convergence wait timeout (default from config)")
}

// applyOptions resolves flags against config defaults.
func (f *applyFlags) applyOptions(cfg *config.Config) engine.ApplyOptions {
	opts := engine.ApplyOptions{
		Environment:  f.environment,
		StackPrefix:  f.stackPrefix,
		ValueFiles:   f.valueFiles,
		SetValues:    f.setValues,
		Wait:         f.wait,
		WaitTimeout:  f.timeout,
		RegistryAuth: cfg.Docker.RegistryAuth,
	}
	if opts.Environment == "" {
		opts.Environment = cfg.Deploy.Environment
	}
	if opts.StackPrefix == "" {
		opts.StackPrefix = cfg.Deploy.StackPrefix
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = cfg.Deploy.WaitTimeout
	}
	return opts
}
