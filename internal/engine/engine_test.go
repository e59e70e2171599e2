package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siavashoutadi/pishro-lib/internal/core/plan"
	"github.com/siavashoutadi/pishro-lib/internal/core/render"
	"github.com/siavashoutadi/pishro-lib/internal/core/state"
	"github.com/siavashoutadi/pishro-lib/internal/core/values"
	"github.com/siavashoutadi/pishro-lib/internal/shell/catalog"
	"github.com/siavashoutadi/pishro-lib/internal/shell/store"
	"github.com/siavashoutadi/pishro-lib/internal/shell/swarm"
)

// =============================================================================
// Fake Cluster
// =============================================================================

// fakeCluster records deployments instead of talking to a Docker host.
type fakeCluster struct {
	mu        sync.Mutex
	deployed  []swarm.Deployment
	removed   []string
	waited    []string
	deployErr map[string]error
	removeErr map[string]error
	waitErr   map[string]error
	onDeploy  func(swarm.Deployment)
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		deployErr: make(map[string]error),
		removeErr: make(map[string]error),
		waitErr:   make(map[string]error),
	}
}

func (f *fakeCluster) Ping(ctx context.Context) error { return nil }

func (f *fakeCluster) Deploy(ctx context.Context, d swarm.Deployment) error {
	f.mu.Lock()
	if err := f.deployErr[d.Stack]; err != nil {
		f.mu.Unlock()
		return err
	}
	f.deployed = append(f.deployed, d)
	hook := f.onDeploy
	f.mu.Unlock()
	if hook != nil {
		hook(d)
	}
	return nil
}

func (f *fakeCluster) Remove(ctx context.Context, stack string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.removeErr[stack]; err != nil {
		return err
	}
	f.removed = append(f.removed, stack)
	return nil
}

func (f *fakeCluster) Wait(ctx context.Context, stack string, opts swarm.WaitOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.waitErr[stack]; err != nil {
		return err
	}
	f.waited = append(f.waited, stack)
	return nil
}

func (f *fakeCluster) Close() error { return nil }

// =============================================================================
// Test Fixture
// =============================================================================

type engineFixture struct {
	engine  *Engine
	cluster *fakeCluster
	store   store.Store
	dir     string
}

func writeFixtureFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// setupEngine builds an engine over a catalog with three packages: nginx
// standing alone, and app depending on postgres with a required value.
func setupEngine(t *testing.T) *engineFixture {
	t.Helper()

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	dir := t.TempDir()
	writeFixtureFile(t, dir, "packages/nginx/package.yaml",
		"name: nginx\nversion: 1.2.0\n")
	writeFixtureFile(t, dir, "packages/nginx/values.yaml",
		"replicas: 2\nimage:\n  tag: \"1.27\"\n")
	writeFixtureFile(t, dir, "packages/nginx/templates/stack.yaml",
		"services:\n  web:\n    image: \"nginx:{{ .Values.image.tag }}\"\n    deploy:\n      replicas: {{ .Values.replicas }}\n")
	writeFixtureFile(t, dir, "packages/nginx/templates/config/site-conf/default.conf.tmpl",
		"server_name {{ .Release.Stack }};\n")

	writeFixtureFile(t, dir, "packages/postgres/package.yaml",
		"name: postgres\nversion: 16.1.0\n")
	writeFixtureFile(t, dir, "packages/postgres/templates/stack.yaml",
		"services:\n  db:\n    image: \"postgres:16.1\"\n")

	writeFixtureFile(t, dir, "packages/app/package.yaml",
		"name: app\nversion: 2.0.0\ndependencies:\n  - name: postgres\n    version: \">= 16.0.0\"\nrequired:\n  - db.password\n")
	writeFixtureFile(t, dir, "packages/app/templates/stack.yaml",
		"services:\n  api:\n    image: \"registry.example.com/app:{{ .Package.Version }}\"\n    environment:\n      DB_PASSWORD: \"{{ .Values.db.password }}\"\n")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cluster := newFakeCluster()
	eng := New(catalog.New(dir, logger), st, cluster, Config{}, logger)

	return &engineFixture{engine: eng, cluster: cluster, store: st, dir: dir}
}

func testApplyOptions() ApplyOptions {
	return ApplyOptions{Environment: "production", StackPrefix: "prod"}
}

func installPackage(t *testing.T, fx *engineFixture, name string, opts ApplyOptions) *Result {
	t.Helper()
	res, err := fx.engine.Install(context.Background(), []plan.Requirement{{Name: name}}, opts)
	require.NoError(t, err)
	return res
}

func getRecord(t *testing.T, st store.Store, name string) *state.Record {
	t.Helper()
	record, err := st.GetRecord(context.Background(), name)
	require.NoError(t, err)
	return record
}

func manifestFile(t *testing.T, m *render.Manifest, name string) string {
	t.Helper()
	for _, f := range m.Files {
		if f.Name == name {
			return string(f.Content)
		}
	}
	t.Fatalf("manifest has no file %q", name)
	return ""
}

// =============================================================================
// Install Tests
// =============================================================================

func TestInstall_Fresh(t *testing.T) {
	fx := setupEngine(t)

	res := installPackage(t, fx, "nginx", testApplyOptions())

	assert.Equal(t, []string{"nginx"}, res.Applied)
	assert.Empty(t, res.Skipped)
	assert.NotEmpty(t, res.PlanID)

	require.Len(t, fx.cluster.deployed, 1)
	d := fx.cluster.deployed[0]
	assert.Equal(t, "prod-nginx", d.Stack)
	require.NotNil(t, d.Spec)
	require.Len(t, d.Spec.Services, 1)
	assert.Equal(t, "web", d.Spec.Services[0].Name)
	require.Len(t, d.Configs, 1)
	assert.Equal(t, "site-conf", d.Configs[0].Name)
	assert.Equal(t, "server_name prod-nginx;\n", string(d.Configs[0].Content))

	record := getRecord(t, fx.store, "nginx")
	assert.Equal(t, state.StatusInstalled, record.Status)
	assert.Equal(t, "1.2.0", record.Version)
	assert.Equal(t, "prod-nginx", record.Stack)
	assert.Equal(t, "production", record.Environment)
	assert.NotEmpty(t, record.ManifestHash)
	assert.EqualValues(t, 2, record.Values["replicas"])
}

func TestInstall_AppliesEnvironmentValues(t *testing.T) {
	fx := setupEngine(t)
	writeFixtureFile(t, fx.dir, "environments/production/nginx.yaml", "replicas: 3\n")

	installPackage(t, fx, "nginx", testApplyOptions())

	record := getRecord(t, fx.store, "nginx")
	assert.EqualValues(t, 3, record.Values["replicas"])
}

func TestInstall_WithDependencies(t *testing.T) {
	fx := setupEngine(t)
	opts := testApplyOptions()
	opts.SetValues = []string{"db.password=s3cret"}

	res := installPackage(t, fx, "app", opts)

	assert.Equal(t, []string{"postgres", "app"}, res.Applied)
	require.Len(t, fx.cluster.deployed, 2)
	assert.Equal(t, "prod-postgres", fx.cluster.deployed[0].Stack)
	assert.Equal(t, "prod-app", fx.cluster.deployed[1].Stack)

	record := getRecord(t, fx.store, "app")
	assert.Equal(t, []string{"postgres"}, record.Dependencies)
	assert.Equal(t, state.StatusInstalled, getRecord(t, fx.store, "postgres").Status)
}

func TestInstall_SecondRunSkips(t *testing.T) {
	fx := setupEngine(t)
	installPackage(t, fx, "nginx", testApplyOptions())

	res := installPackage(t, fx, "nginx", testApplyOptions())

	assert.Empty(t, res.Applied)
	assert.Equal(t, []string{"nginx"}, res.Skipped)
	assert.Len(t, fx.cluster.deployed, 1)
}

func TestInstall_MissingRequiredValueAbortsPlan(t *testing.T) {
	fx := setupEngine(t)

	_, err := fx.engine.Install(context.Background(), []plan.Requirement{{Name: "app"}}, testApplyOptions())

	require.Error(t, err)
	assert.ErrorIs(t, err, values.ErrMissingRequiredValue)
	assert.ErrorContains(t, err, "db.password")

	// Nothing may have been touched, including the dependency that would
	// have prepared cleanly.
	assert.Empty(t, fx.cluster.deployed)
	_, err = fx.store.GetRecord(context.Background(), "postgres")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInstall_UnknownPackage(t *testing.T) {
	fx := setupEngine(t)

	_, err := fx.engine.Install(context.Background(), []plan.Requirement{{Name: "ghost"}}, testApplyOptions())

	assert.ErrorIs(t, err, plan.ErrUnresolvable)
	assert.Empty(t, fx.cluster.deployed)
}

func TestInstall_FreshFailureCommitsNothing(t *testing.T) {
	fx := setupEngine(t)
	fx.cluster.deployErr["prod-postgres"] = errors.New("boom")

	_, err := fx.engine.Install(context.Background(), []plan.Requirement{{Name: "postgres"}}, testApplyOptions())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPartialDeployment)

	var pde *PartialDeploymentError
	require.ErrorAs(t, err, &pde)
	assert.Equal(t, "postgres", pde.Failed)
	assert.Empty(t, pde.Completed)

	record := getRecord(t, fx.store, "postgres")
	assert.Equal(t, state.StatusFailed, record.Status)
	assert.Contains(t, record.ErrorMessage, "boom")
	assert.Empty(t, record.Version)
	assert.Empty(t, record.ManifestHash)

	// The failed record resolves as absent, so a retry re-enters as a
	// fresh install.
	delete(fx.cluster.deployErr, "prod-postgres")
	res := installPackage(t, fx, "postgres", testApplyOptions())
	assert.Equal(t, []string{"postgres"}, res.Applied)
	assert.Equal(t, state.StatusInstalled, getRecord(t, fx.store, "postgres").Status)
}

func TestInstall_ResumesInterruptedInstall(t *testing.T) {
	fx := setupEngine(t)
	ctx := context.Background()

	// A crash between the status flush and the commit leaves the record
	// parked in installing.
	stuck := state.NewRecord("nginx", "prod-nginx", "production", time.Now())
	require.NoError(t, fx.store.CreateRecord(ctx, stuck))

	res := installPackage(t, fx, "nginx", testApplyOptions())

	assert.Equal(t, []string{"nginx"}, res.Applied)
	record := getRecord(t, fx.store, "nginx")
	assert.Equal(t, state.StatusInstalled, record.Status)
	assert.Equal(t, "1.2.0", record.Version)
	assert.Equal(t, "prod-nginx", record.Stack)
}

func TestInstall_PartialFailureStopsPlan(t *testing.T) {
	fx := setupEngine(t)
	fx.cluster.deployErr["prod-app"] = errors.New("boom")
	opts := testApplyOptions()
	opts.SetValues = []string{"db.password=s3cret"}

	_, err := fx.engine.Install(context.Background(), []plan.Requirement{{Name: "app"}}, opts)

	var pde *PartialDeploymentError
	require.ErrorAs(t, err, &pde)
	assert.Equal(t, []string{"postgres"}, pde.Completed)
	assert.Equal(t, "app", pde.Failed)
	assert.Empty(t, pde.Remaining)

	assert.Equal(t, state.StatusInstalled, getRecord(t, fx.store, "postgres").Status)
	assert.Equal(t, state.StatusFailed, getRecord(t, fx.store, "app").Status)
}

func TestInstall_DependencyFailureLeavesDependentUntouched(t *testing.T) {
	fx := setupEngine(t)
	fx.cluster.deployErr["prod-postgres"] = errors.New("boom")
	opts := testApplyOptions()
	opts.SetValues = []string{"db.password=s3cret"}

	_, err := fx.engine.Install(context.Background(), []plan.Requirement{{Name: "app"}}, opts)

	var pde *PartialDeploymentError
	require.ErrorAs(t, err, &pde)
	assert.Empty(t, pde.Completed)
	assert.Equal(t, "postgres", pde.Failed)
	assert.Equal(t, []string{"app"}, pde.Remaining)

	_, err = fx.store.GetRecord(context.Background(), "app")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInstall_CancellationStopsBetweenSteps(t *testing.T) {
	fx := setupEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.cluster.onDeploy = func(d swarm.Deployment) {
		if d.Stack == "prod-postgres" {
			cancel()
		}
	}
	opts := testApplyOptions()
	opts.SetValues = []string{"db.password=s3cret"}

	_, err := fx.engine.Install(ctx, []plan.Requirement{{Name: "app"}}, opts)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	var pde *PartialDeploymentError
	require.ErrorAs(t, err, &pde)
	assert.Equal(t, []string{"postgres"}, pde.Completed)
	assert.Equal(t, "app", pde.Failed)

	// The completed step committed despite the cancellation.
	assert.Equal(t, state.StatusInstalled, getRecord(t, fx.store, "postgres").Status)
	_, err = fx.store.GetRecord(context.Background(), "app")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInstall_WaitRunsAfterDeploy(t *testing.T) {
	fx := setupEngine(t)
	opts := testApplyOptions()
	opts.Wait = true

	installPackage(t, fx, "nginx", opts)

	assert.Equal(t, []string{"prod-nginx"}, fx.cluster.waited)
}

func TestInstall_WaitFailureFailsStep(t *testing.T) {
	fx := setupEngine(t)
	fx.cluster.waitErr["prod-nginx"] = errors.New("not converged after 5m0s")
	opts := testApplyOptions()
	opts.Wait = true

	_, err := fx.engine.Install(context.Background(), []plan.Requirement{{Name: "nginx"}}, opts)

	assert.ErrorIs(t, err, ErrPartialDeployment)
	record := getRecord(t, fx.store, "nginx")
	assert.Equal(t, state.StatusFailed, record.Status)
	assert.Empty(t, record.Version)
}

func TestInstall_LockHeldFailsFast(t *testing.T) {
	fx := setupEngine(t)
	ctx := context.Background()
	require.NoError(t, fx.store.AcquireLock(ctx, "another-run", time.Minute))

	_, err := fx.engine.Install(ctx, []plan.Requirement{{Name: "nginx"}}, testApplyOptions())

	assert.ErrorIs(t, err, store.ErrLocked)
	assert.Empty(t, fx.cluster.deployed)
}

func TestInstall_ReleasesLock(t *testing.T) {
	fx := setupEngine(t)
	installPackage(t, fx, "nginx", testApplyOptions())

	err := fx.store.AcquireLock(context.Background(), "another-run", time.Minute)
	assert.NoError(t, err)
}

// =============================================================================
// Upgrade Tests
// =============================================================================

func TestUpgrade_UnchangedManifestSkipsApply(t *testing.T) {
	fx := setupEngine(t)
	installPackage(t, fx, "nginx", testApplyOptions())

	res, err := fx.engine.Upgrade(context.Background(), []plan.Requirement{{Name: "nginx"}}, testApplyOptions())

	require.NoError(t, err)
	assert.Empty(t, res.Applied)
	assert.Equal(t, []string{"nginx"}, res.Skipped)
	assert.Len(t, fx.cluster.deployed, 1)
}

func TestUpgrade_ChangedValuesReapplies(t *testing.T) {
	fx := setupEngine(t)
	installPackage(t, fx, "nginx", testApplyOptions())
	opts := testApplyOptions()
	opts.SetValues = []string{"replicas=5"}

	res, err := fx.engine.Upgrade(context.Background(), []plan.Requirement{{Name: "nginx"}}, opts)

	require.NoError(t, err)
	assert.Equal(t, []string{"nginx"}, res.Applied)
	require.Len(t, fx.cluster.deployed, 2)

	record := getRecord(t, fx.store, "nginx")
	assert.Equal(t, state.StatusInstalled, record.Status)
	assert.EqualValues(t, 5, record.Values["replicas"])
}

func TestUpgrade_SkipsSatisfiedDependencies(t *testing.T) {
	fx := setupEngine(t)
	opts := testApplyOptions()
	opts.SetValues = []string{"db.password=s3cret"}
	installPackage(t, fx, "app", opts)

	opts.SetValues = []string{"db.password=rotated"}
	res, err := fx.engine.Upgrade(context.Background(), []plan.Requirement{{Name: "app"}}, opts)

	require.NoError(t, err)
	assert.Equal(t, []string{"app"}, res.Applied)
	assert.Contains(t, res.Skipped, "postgres")
	require.Len(t, fx.cluster.deployed, 3)
	assert.Equal(t, "prod-app", fx.cluster.deployed[2].Stack)
}

func TestUpgrade_FailureRetainsLastApplied(t *testing.T) {
	fx := setupEngine(t)
	installPackage(t, fx, "nginx", testApplyOptions())
	before := getRecord(t, fx.store, "nginx")

	fx.cluster.deployErr["prod-nginx"] = errors.New("boom")
	opts := testApplyOptions()
	opts.SetValues = []string{"replicas=7"}

	_, err := fx.engine.Upgrade(context.Background(), []plan.Requirement{{Name: "nginx"}}, opts)

	assert.ErrorIs(t, err, ErrPartialDeployment)

	record := getRecord(t, fx.store, "nginx")
	assert.Equal(t, state.StatusFailed, record.Status)
	assert.Contains(t, record.ErrorMessage, "boom")
	assert.Equal(t, "1.2.0", record.Version)
	assert.Equal(t, before.ManifestHash, record.ManifestHash)
	assert.EqualValues(t, 2, record.Values["replicas"])
}

// =============================================================================
// Uninstall Tests
// =============================================================================

func TestUninstall_RemovesDependentsFirst(t *testing.T) {
	fx := setupEngine(t)
	opts := testApplyOptions()
	opts.SetValues = []string{"db.password=s3cret"}
	installPackage(t, fx, "app", opts)

	res, err := fx.engine.Uninstall(context.Background(), []string{"postgres", "app"}, testApplyOptions())

	require.NoError(t, err)
	assert.Equal(t, []string{"app", "postgres"}, res.Applied)
	assert.Equal(t, []string{"prod-app", "prod-postgres"}, fx.cluster.removed)

	for _, name := range []string{"app", "postgres"} {
		_, err := fx.store.GetRecord(context.Background(), name)
		assert.ErrorIs(t, err, store.ErrNotFound)
	}
}

func TestUninstall_RefusesRequiredPackage(t *testing.T) {
	fx := setupEngine(t)
	opts := testApplyOptions()
	opts.SetValues = []string{"db.password=s3cret"}
	installPackage(t, fx, "app", opts)

	_, err := fx.engine.Uninstall(context.Background(), []string{"postgres"}, testApplyOptions())

	assert.ErrorIs(t, err, plan.ErrUnresolvable)
	assert.ErrorContains(t, err, "still required")
	assert.Empty(t, fx.cluster.removed)
	assert.Equal(t, state.StatusInstalled, getRecord(t, fx.store, "postgres").Status)
}

func TestUninstall_NotInstalled(t *testing.T) {
	fx := setupEngine(t)

	_, err := fx.engine.Uninstall(context.Background(), []string{"nginx"}, testApplyOptions())

	assert.ErrorIs(t, err, plan.ErrUnresolvable)
}

func TestUninstall_FailedInstallIsRemovable(t *testing.T) {
	fx := setupEngine(t)
	fx.cluster.deployErr["prod-postgres"] = errors.New("boom")
	_, err := fx.engine.Install(context.Background(), []plan.Requirement{{Name: "postgres"}}, testApplyOptions())
	require.Error(t, err)

	res, err := fx.engine.Uninstall(context.Background(), []string{"postgres"}, testApplyOptions())

	require.NoError(t, err)
	assert.Equal(t, []string{"postgres"}, res.Applied)
	assert.Equal(t, []string{"prod-postgres"}, fx.cluster.removed)
	_, err = fx.store.GetRecord(context.Background(), "postgres")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUninstall_RemoveFailureMarksFailed(t *testing.T) {
	fx := setupEngine(t)
	installPackage(t, fx, "nginx", testApplyOptions())
	fx.cluster.removeErr["prod-nginx"] = errors.New("boom")

	_, err := fx.engine.Uninstall(context.Background(), []string{"nginx"}, testApplyOptions())

	require.Error(t, err)
	var pde *PartialDeploymentError
	require.ErrorAs(t, err, &pde)
	assert.Equal(t, "nginx", pde.Failed)

	record := getRecord(t, fx.store, "nginx")
	assert.Equal(t, state.StatusFailed, record.Status)
	assert.Contains(t, record.ErrorMessage, "boom")

	// The record keeps its version, so the removal can be retried.
	delete(fx.cluster.removeErr, "prod-nginx")
	_, err = fx.engine.Uninstall(context.Background(), []string{"nginx"}, testApplyOptions())
	require.NoError(t, err)
	_, err = fx.store.GetRecord(context.Background(), "nginx")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUninstall_ResumesInterruptedRemoval(t *testing.T) {
	fx := setupEngine(t)
	ctx := context.Background()
	installPackage(t, fx, "nginx", testApplyOptions())

	// Park the record in removing, as a crashed uninstall would leave it.
	record := getRecord(t, fx.store, "nginx")
	require.NoError(t, record.Transition(state.StatusRemoving, time.Now()))
	require.NoError(t, fx.store.UpdateRecord(ctx, record))

	res, err := fx.engine.Uninstall(ctx, []string{"nginx"}, testApplyOptions())

	require.NoError(t, err)
	assert.Equal(t, []string{"nginx"}, res.Applied)
	assert.Equal(t, []string{"prod-nginx"}, fx.cluster.removed)
	_, err = fx.store.GetRecord(ctx, "nginx")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// =============================================================================
// Render and Query Tests
// =============================================================================

func TestRender_ProducesManifestWithoutSideEffects(t *testing.T) {
	fx := setupEngine(t)

	manifest, err := fx.engine.Render(context.Background(), "nginx", testApplyOptions())

	require.NoError(t, err)
	stack := manifestFile(t, manifest, "stack.yaml")
	assert.Contains(t, stack, "nginx:1.27")
	assert.Contains(t, stack, "replicas: 2")
	assert.Equal(t, "server_name prod-nginx;\n", manifestFile(t, manifest, "config/site-conf/default.conf"))

	assert.Empty(t, fx.cluster.deployed)
	records, err := fx.engine.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRender_KeepsRecordedStackName(t *testing.T) {
	fx := setupEngine(t)
	installPackage(t, fx, "nginx", testApplyOptions())

	opts := testApplyOptions()
	opts.StackPrefix = "other"
	manifest, err := fx.engine.Render(context.Background(), "nginx", opts)

	require.NoError(t, err)
	assert.Equal(t, "server_name prod-nginx;\n", manifestFile(t, manifest, "config/site-conf/default.conf"))
}

func TestRender_MissingPackage(t *testing.T) {
	fx := setupEngine(t)

	_, err := fx.engine.Render(context.Background(), "ghost", testApplyOptions())

	assert.ErrorIs(t, err, catalog.ErrPackageNotFound)
}

func TestList_ReturnsAllRecords(t *testing.T) {
	fx := setupEngine(t)
	installPackage(t, fx, "nginx", testApplyOptions())
	installPackage(t, fx, "postgres", testApplyOptions())

	records, err := fx.engine.List(context.Background())

	require.NoError(t, err)
	require.Len(t, records, 2)
	names := []string{records[0].Name, records[1].Name}
	assert.Contains(t, names, "nginx")
	assert.Contains(t, names, "postgres")
}

func TestEvents_RecordInstallHistory(t *testing.T) {
	fx := setupEngine(t)
	res := installPackage(t, fx, "nginx", testApplyOptions())

	events, err := fx.engine.Events(context.Background(), "nginx", 10)

	require.NoError(t, err)
	require.Len(t, events, 2)
	// Newest first.
	assert.Equal(t, state.StatusInstalled, events[0].ToStatus)
	assert.Equal(t, "applied version 1.2.0", events[0].Message)
	assert.Equal(t, state.StatusInstalling, events[1].ToStatus)
	for _, event := range events {
		assert.Equal(t, res.PlanID, event.PlanID)
	}
}

func TestNew_Defaults(t *testing.T) {
	fx := setupEngine(t)

	assert.Equal(t, DefaultLockTTL, fx.engine.lockTTL)
	assert.NotEmpty(t, fx.engine.holder)
}
