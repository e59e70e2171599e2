package plan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siavashoutadi/pishro-lib/internal/core/pack"
)

func testPackage(t *testing.T, name, version string, deps ...pack.Dependency) *pack.Package {
	t.Helper()
	p, err := pack.New(pack.Descriptor{Name: name, Version: version, Dependencies: deps}, nil, nil)
	require.NoError(t, err)
	return p
}

func dep(name, constraint string) pack.Dependency {
	return pack.Dependency{Name: name, Version: constraint}
}

func stepOps(p *Plan) map[string]Op {
	ops := make(map[string]Op)
	for _, s := range p.Steps {
		ops[s.Package] = s.Op
	}
	return ops
}

func stepOrder(p *Plan) []string {
	names := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		names[i] = s.Package
	}
	return names
}

// =============================================================================
// Resolve Tests
// =============================================================================

func TestResolve_SinglePackage(t *testing.T) {
	available := map[string]*pack.Package{
		"web": testPackage(t, "web", "1.0.0"),
	}

	p, err := Resolve([]Requirement{{Name: "web"}}, available, nil, Options{})
	require.NoError(t, err)

	require.Len(t, p.Steps, 1)
	assert.Equal(t, "web", p.Steps[0].Package)
	assert.Equal(t, OpInstall, p.Steps[0].Op)
	assert.Equal(t, "1.0.0", p.Steps[0].Version)
	assert.NotEmpty(t, p.ID)
}

func TestResolve_ChainOrdersDependenciesFirst(t *testing.T) {
	// a depends on b, b depends on c: install order must be c, b, a
	available := map[string]*pack.Package{
		"a": testPackage(t, "a", "1.0.0", dep("b", "")),
		"b": testPackage(t, "b", "1.0.0", dep("c", "")),
		"c": testPackage(t, "c", "1.0.0"),
	}

	p, err := Resolve([]Requirement{{Name: "a"}}, available, nil, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"c", "b", "a"}, stepOrder(p))
}

func TestResolve_Diamond(t *testing.T) {
	available := map[string]*pack.Package{
		"web":   testPackage(t, "web", "1.0.0", dep("api", ""), dep("cache", "")),
		"api":   testPackage(t, "api", "1.0.0", dep("db", "")),
		"cache": testPackage(t, "cache", "1.0.0", dep("db", "")),
		"db":    testPackage(t, "db", "1.0.0"),
	}

	p, err := Resolve([]Requirement{{Name: "web"}}, available, nil, Options{})
	require.NoError(t, err)

	order := stepOrder(p)
	require.Len(t, order, 4, "shared dependency appears once")

	idx := make(map[string]int)
	for i, name := range order {
		idx[name] = i
	}
	assert.Less(t, idx["db"], idx["api"])
	assert.Less(t, idx["db"], idx["cache"])
	assert.Less(t, idx["api"], idx["web"])
	assert.Less(t, idx["cache"], idx["web"])
}

func TestResolve_Deterministic(t *testing.T) {
	available := map[string]*pack.Package{
		"app": testPackage(t, "app", "1.0.0", dep("z", ""), dep("m", ""), dep("a", "")),
		"z":   testPackage(t, "z", "1.0.0"),
		"m":   testPackage(t, "m", "1.0.0"),
		"a":   testPackage(t, "a", "1.0.0"),
	}

	first, err := Resolve([]Requirement{{Name: "app"}}, available, nil, Options{})
	require.NoError(t, err)
	second, err := Resolve([]Requirement{{Name: "app"}}, available, nil, Options{})
	require.NoError(t, err)

	assert.Equal(t, stepOrder(first), stepOrder(second))
	assert.Equal(t, []string{"a", "m", "z", "app"}, stepOrder(first), "children visited in sorted order")
}

func TestResolve_ConstraintSatisfied(t *testing.T) {
	available := map[string]*pack.Package{
		"app": testPackage(t, "app", "1.0.0", dep("lib", ">= 2.0.0")),
		"lib": testPackage(t, "lib", "2.3.1"),
	}

	_, err := Resolve([]Requirement{{Name: "app"}}, available, nil, Options{})
	assert.NoError(t, err)
}

func TestResolve_MissingPackage(t *testing.T) {
	_, err := Resolve([]Requirement{{Name: "ghost"}}, map[string]*pack.Package{}, nil, Options{})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnresolvable)

	var ue *UnresolvableError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "ghost", ue.Name)
}

func TestResolve_MissingTransitiveDependency(t *testing.T) {
	available := map[string]*pack.Package{
		"app": testPackage(t, "app", "1.0.0", dep("ghost", "")),
	}

	_, err := Resolve([]Requirement{{Name: "app"}}, available, nil, Options{})

	var ue *UnresolvableError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "ghost", ue.Name)
	assert.Contains(t, ue.Message, "required by app")
}

func TestResolve_UnsatisfiableConstraint(t *testing.T) {
	available := map[string]*pack.Package{
		"app": testPackage(t, "app", "1.0.0", dep("lib", ">= 2.0.0")),
		"lib": testPackage(t, "lib", "1.4.0"),
	}

	_, err := Resolve([]Requirement{{Name: "app"}}, available, nil, Options{})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnresolvable)
	assert.NotErrorIs(t, err, ErrVersionConflict, "a single unsatisfied constraint is not a conflict")
}

func TestResolve_VersionConflictNamesBothConstraints(t *testing.T) {
	// a wants lib >= 2.0.0 (satisfied by 2.1.0), b wants lib < 2.0.0
	available := map[string]*pack.Package{
		"a":   testPackage(t, "a", "1.0.0", dep("lib", ">= 2.0.0")),
		"b":   testPackage(t, "b", "1.0.0", dep("lib", "< 2.0.0")),
		"lib": testPackage(t, "lib", "2.1.0"),
	}

	_, err := Resolve([]Requirement{{Name: "a"}, {Name: "b"}}, available, nil, Options{})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVersionConflict)

	var ce *ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "lib", ce.Name)
	assert.Contains(t, ce.First, ">= 2.0.0")
	assert.Contains(t, ce.Second, "< 2.0.0")
}

func TestResolve_CycleNamesMembers(t *testing.T) {
	available := map[string]*pack.Package{
		"a": testPackage(t, "a", "1.0.0", dep("b", "")),
		"b": testPackage(t, "b", "1.0.0", dep("c", "")),
		"c": testPackage(t, "c", "1.0.0", dep("a", "")),
	}

	_, err := Resolve([]Requirement{{Name: "a"}}, available, nil, Options{})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCyclicDependency)

	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	assert.ElementsMatch(t, []string{"a", "b", "c"}, cycle.Members)
}

func TestResolve_SelfDependencyIsCycle(t *testing.T) {
	available := map[string]*pack.Package{
		"a": testPackage(t, "a", "1.0.0", dep("a", "")),
	}

	_, err := Resolve([]Requirement{{Name: "a"}}, available, nil, Options{})

	var cycle *CycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, []string{"a"}, cycle.Members)
}

func TestResolve_InstalledSatisfyingVersionSkipped(t *testing.T) {
	available := map[string]*pack.Package{
		"app": testPackage(t, "app", "1.0.0", dep("lib", ">= 1.0.0")),
		"lib": testPackage(t, "lib", "1.5.0"),
	}
	installed := map[string]Installed{
		"lib": {Version: "1.2.0"},
	}

	p, err := Resolve([]Requirement{{Name: "app"}}, available, installed, Options{})
	require.NoError(t, err)

	ops := stepOps(p)
	assert.Equal(t, OpSkip, ops["lib"])
	assert.Equal(t, OpInstall, ops["app"])

	for _, s := range p.Steps {
		if s.Package == "lib" {
			assert.Equal(t, "1.2.0", s.Version, "skip keeps the installed version")
		}
	}
}

func TestResolve_InstalledUnsatisfyingVersionUpdated(t *testing.T) {
	available := map[string]*pack.Package{
		"app": testPackage(t, "app", "1.0.0", dep("lib", ">= 2.0.0")),
		"lib": testPackage(t, "lib", "2.1.0"),
	}
	installed := map[string]Installed{
		"lib": {Version: "1.0.0"},
	}

	p, err := Resolve([]Requirement{{Name: "app"}}, available, installed, Options{})
	require.NoError(t, err)

	ops := stepOps(p)
	assert.Equal(t, OpUpdate, ops["lib"])
}

func TestResolve_ForceUpdateReappliesRequestedRoots(t *testing.T) {
	available := map[string]*pack.Package{
		"app": testPackage(t, "app", "1.0.0", dep("lib", "")),
		"lib": testPackage(t, "lib", "1.0.0"),
	}
	installed := map[string]Installed{
		"app": {Version: "1.0.0"},
		"lib": {Version: "1.0.0"},
	}

	p, err := Resolve([]Requirement{{Name: "app"}}, available, installed, Options{ForceUpdate: true})
	require.NoError(t, err)

	ops := stepOps(p)
	assert.Equal(t, OpUpdate, ops["app"], "requested root is re-applied")
	assert.Equal(t, OpSkip, ops["lib"], "satisfied dependency still skips")
}

func TestResolve_PreReleaseAcceptedWithoutConstraint(t *testing.T) {
	available := map[string]*pack.Package{
		"app": testPackage(t, "app", "2.0.0-rc.1"),
	}

	p, err := Resolve([]Requirement{{Name: "app"}}, available, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, "2.0.0-rc.1", p.Steps[0].Version)
}

func TestResolve_InvalidRequestedConstraint(t *testing.T) {
	available := map[string]*pack.Package{"app": testPackage(t, "app", "1.0.0")}

	_, err := Resolve([]Requirement{{Name: "app", Constraint: "not a constraint"}}, available, nil, Options{})
	assert.ErrorIs(t, err, ErrUnresolvable)
}

func TestResolve_EmptyRequest(t *testing.T) {
	p, err := Resolve(nil, nil, nil, Options{})
	require.NoError(t, err)
	assert.Empty(t, p.Steps)
}

// =============================================================================
// ResolveRemoval Tests
// =============================================================================

func TestResolveRemoval_ReverseOrder(t *testing.T) {
	// a depends on b, b depends on c: removal order must be a, b, c
	installed := map[string]Installed{
		"a": {Version: "1.0.0", Dependencies: []string{"b"}},
		"b": {Version: "1.0.0", Dependencies: []string{"c"}},
		"c": {Version: "1.0.0"},
	}

	p, err := ResolveRemoval([]string{"a", "b", "c"}, installed)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, stepOrder(p))
	for _, s := range p.Steps {
		assert.Equal(t, OpRemove, s.Op)
	}
}

func TestResolveRemoval_NotInstalled(t *testing.T) {
	_, err := ResolveRemoval([]string{"ghost"}, map[string]Installed{})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnresolvable)
}

func TestResolveRemoval_BlockedByOutsideDependent(t *testing.T) {
	installed := map[string]Installed{
		"app": {Version: "1.0.0", Dependencies: []string{"lib"}},
		"lib": {Version: "1.0.0"},
	}

	_, err := ResolveRemoval([]string{"lib"}, installed)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnresolvable)

	var ue *UnresolvableError
	require.True(t, errors.As(err, &ue))
	assert.Contains(t, ue.Message, "still required by installed package app")
}

func TestResolveRemoval_SubsetWithDependents(t *testing.T) {
	// Removing app and lib together is fine even though app depends on lib.
	installed := map[string]Installed{
		"app": {Version: "1.0.0", Dependencies: []string{"lib"}},
		"lib": {Version: "1.0.0"},
	}

	p, err := ResolveRemoval([]string{"lib", "app"}, installed)
	require.NoError(t, err)

	assert.Equal(t, []string{"app", "lib"}, stepOrder(p))
}

func TestResolveRemoval_IgnoresDependenciesOutsideSet(t *testing.T) {
	installed := map[string]Installed{
		"app": {Version: "1.0.0", Dependencies: []string{"base"}},
		// base is installed but not being removed and has no dependents
		// outside the set pointing into the set.
		"base": {Version: "1.0.0"},
	}

	p, err := ResolveRemoval([]string{"app"}, installed)
	require.NoError(t, err)
	assert.Equal(t, []string{"app"}, stepOrder(p))
}
