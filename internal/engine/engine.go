// Package engine orchestrates package deployments: it resolves plans, renders
// manifests, applies stacks to the cluster and keeps the installed-state store
// in step with what the cluster runs.
//
// Every operation works in two phases. Prepare resolves the plan and renders
// every manifest up front without touching the cluster or the store, so a bad
// package aborts the whole plan before anything changed. Execute then walks
// the plan sequentially under the store's exclusive lock, flushing each status
// change before and after the cluster call that it brackets.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/siavashoutadi/pishro-lib/internal/core/plan"
	"github.com/siavashoutadi/pishro-lib/internal/core/render"
	"github.com/siavashoutadi/pishro-lib/internal/core/state"
	"github.com/siavashoutadi/pishro-lib/internal/shell/catalog"
	"github.com/siavashoutadi/pishro-lib/internal/shell/store"
	"github.com/siavashoutadi/pishro-lib/internal/shell/swarm"
)

// =============================================================================
// Configuration
// =============================================================================

// DefaultLockTTL bounds how long a crashed run can block the next one.
const DefaultLockTTL = 10 * time.Minute

// listPageSize is the page size used when walking all records.
const listPageSize = 500

// Config holds engine configuration.
type Config struct {
	// LockTTL is the lease duration of the store lock taken for the
	// execute phase. Default: 10 minutes.
	LockTTL time.Duration

	// Holder identifies this process in the store lock.
	// Default: "<hostname>-<pid>".
	Holder string
}

// ApplyOptions tunes one install, upgrade, uninstall or render operation.
type ApplyOptions struct {
	// Environment selects the catalog's per-environment default values and
	// is recorded on the installed state.
	Environment string

	// StackPrefix is prepended to package names when deriving stack names
	// for new installs. Existing records keep the stack name they were
	// created with.
	StackPrefix string

	// ValueFiles are override value files, merged in order on top of the
	// package and environment defaults.
	ValueFiles []string

	// SetValues are "path=value" overrides applied on top of everything.
	SetValues []string

	// Wait blocks after each apply until the stack's services converge.
	Wait bool

	// WaitTimeout bounds each convergence wait. Zero means the default.
	WaitTimeout time.Duration

	// RegistryAuth is a base64 encoded auth config forwarded to the cluster
	// so nodes can pull from private registries.
	RegistryAuth string
}

// Result reports what an executed plan did.
type Result struct {
	PlanID  string
	Steps   []plan.Step
	Applied []string // packages installed, updated or removed
	Skipped []string // packages left untouched
}

// =============================================================================
// Engine
// =============================================================================

// Engine is the package lifecycle orchestrator.
type Engine struct {
	catalog *catalog.Catalog
	store   store.Store
	cluster swarm.Client
	logger  *slog.Logger

	lockTTL time.Duration
	holder  string
	now     func() time.Time
}

// New creates an engine on top of a catalog, a state store and a cluster
// client.
func New(cat *catalog.Catalog, st store.Store, cluster swarm.Client, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.Holder == "" {
		cfg.Holder = defaultHolder()
	}
	return &Engine{
		catalog: cat,
		store:   st,
		cluster: cluster,
		logger:  logger.With("component", "engine"),
		lockTTL: cfg.LockTTL,
		holder:  cfg.Holder,
		now:     time.Now,
	}
}

func defaultHolder() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "pishro"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

// =============================================================================
// Operations
// =============================================================================

// Install deploys the requested packages and their dependencies. Packages
// already installed at a satisfying version are skipped.
func (e *Engine) Install(ctx context.Context, reqs []plan.Requirement, opts ApplyOptions) (*Result, error) {
	return e.applyPlan(ctx, reqs, opts, plan.Options{})
}

// Upgrade re-applies the requested packages at the catalog version even when
// the installed version already satisfies the constraint. Dependencies are
// only touched when their installed version no longer satisfies requirements.
func (e *Engine) Upgrade(ctx context.Context, reqs []plan.Requirement, opts ApplyOptions) (*Result, error) {
	return e.applyPlan(ctx, reqs, opts, plan.Options{ForceUpdate: true})
}

// Uninstall removes the named packages from the cluster and deletes their
// records. Dependents are removed before their dependencies; a package still
// required by an installed package outside the removal set is refused.
func (e *Engine) Uninstall(ctx context.Context, names []string, opts ApplyOptions) (*Result, error) {
	// 1. Load the installed state. Failed records count too: a half-deployed
	//    stack must stay removable.
	installed, err := e.installedPackages(ctx, true)
	if err != nil {
		return nil, err
	}

	// 2. Order the removals, dependents first.
	p, err := plan.ResolveRemoval(names, installed)
	if err != nil {
		return nil, err
	}
	e.logger.Info("removal plan resolved", "plan_id", p.ID, "steps", len(p.Steps))

	prepared := make([]preparedStep, len(p.Steps))
	for i, s := range p.Steps {
		prepared[i] = preparedStep{step: s}
	}

	// 3. Execute under the exclusive lock.
	if err := e.store.AcquireLock(ctx, e.holder, e.lockTTL); err != nil {
		return nil, err
	}
	defer e.releaseLock(ctx)

	return e.execute(ctx, p, prepared, opts)
}

// List returns every installed-package record.
func (e *Engine) List(ctx context.Context) ([]state.Record, error) {
	return e.allRecords(ctx)
}

// Events returns the most recent audit events for one package.
func (e *Engine) Events(ctx context.Context, packageName string, limit int) ([]state.Event, error) {
	return e.store.ListEvents(ctx, packageName, limit)
}

// Render renders one package against the merged values without touching the
// cluster or the store. The manifest passes the same validation an apply
// would run, so a render that succeeds here deploys cleanly.
func (e *Engine) Render(ctx context.Context, name string, opts ApplyOptions) (*render.Manifest, error) {
	stack, err := e.stackFor(ctx, name, opts.StackPrefix)
	if err != nil {
		return nil, err
	}

	userLayers, setLayer, err := loadUserValues(opts.ValueFiles, opts.SetValues)
	if err != nil {
		return nil, err
	}

	ps, err := e.prepareStep(plan.Step{Package: name, Op: plan.OpInstall}, stack, opts.Environment, userLayers, setLayer)
	if err != nil {
		return nil, err
	}
	return ps.manifest, nil
}

// =============================================================================
// Plan Application
// =============================================================================

// applyPlan runs the shared install/upgrade flow.
func (e *Engine) applyPlan(ctx context.Context, reqs []plan.Requirement, opts ApplyOptions, planOpts plan.Options) (*Result, error) {
	// 1. Load the catalog and the installed state. Records without a
	//    committed version are resolved as absent so a failed fresh install
	//    is retried rather than treated as satisfied.
	available, err := e.catalog.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	installed, err := e.installedPackages(ctx, false)
	if err != nil {
		return nil, err
	}

	// 2. Resolve the ordered plan.
	p, err := plan.Resolve(reqs, available, installed, planOpts)
	if err != nil {
		return nil, err
	}
	e.logger.Info("plan resolved", "plan_id", p.ID, "steps", len(p.Steps))

	// 3. Prepare every step up front. Any failure aborts here, before the
	//    cluster or the store saw anything.
	prepared, err := e.prepare(ctx, p, opts)
	if err != nil {
		return nil, err
	}

	// 4. Execute under the exclusive lock.
	if err := e.store.AcquireLock(ctx, e.holder, e.lockTTL); err != nil {
		return nil, err
	}
	defer e.releaseLock(ctx)

	return e.execute(ctx, p, prepared, opts)
}

func (e *Engine) releaseLock(ctx context.Context) {
	if err := e.store.ReleaseLock(ctx, e.holder); err != nil {
		e.logger.Warn("failed to release store lock", "holder", e.holder, "error", err)
	}
}

// =============================================================================
// Installed State
// =============================================================================

// allRecords pages through the store and returns every record.
func (e *Engine) allRecords(ctx context.Context) ([]state.Record, error) {
	var out []state.Record
	opts := store.ListOptions{Limit: listPageSize}
	for {
		page, err := e.store.ListRecords(ctx, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < opts.Limit {
			return out, nil
		}
		opts.Offset += opts.Limit
	}
}

// installedPackages summarizes the store for the resolver. With
// includeUncommitted false, records that never committed a version are left
// out.
func (e *Engine) installedPackages(ctx context.Context, includeUncommitted bool) (map[string]plan.Installed, error) {
	records, err := e.allRecords(ctx)
	if err != nil {
		return nil, err
	}
	installed := make(map[string]plan.Installed, len(records))
	for _, r := range records {
		if r.Version == "" && !includeUncommitted {
			continue
		}
		installed[r.Name] = plan.Installed{Version: r.Version, Dependencies: r.Dependencies}
	}
	return installed, nil
}

// stackFor returns the stack name a package deploys under: the recorded name
// when the package is already tracked, a derived one otherwise.
func (e *Engine) stackFor(ctx context.Context, name, prefix string) (string, error) {
	record, err := e.store.GetRecord(ctx, name)
	switch {
	case err == nil:
		return record.Stack, nil
	case errors.Is(err, store.ErrNotFound):
		return state.StackName(prefix, name), nil
	default:
		return "", err
	}
}
