package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/siavashoutadi/pishro-lib/internal/core/pack"
)

// =============================================================================
// Types
// =============================================================================

// Op is a per-package plan operation.
type Op string

const (
	OpInstall Op = "install"
	OpUpdate  Op = "update"
	OpRemove  Op = "remove"
	OpSkip    Op = "skip"
)

// Requirement is one requested package with an optional version constraint.
// An empty constraint accepts any version.
type Requirement struct {
	Name       string
	Constraint string
}

// Step is one ordered package operation of a plan.
type Step struct {
	Package string
	Version string // target version; for remove and skip, the installed version
	Op      Op
	Reason  string
}

// Plan is an ordered sequence of package operations. A plan is immutable once
// computed and is consumed exactly once by the lifecycle engine.
type Plan struct {
	ID    string
	Steps []Step
}

// Installed summarizes one installed package for resolution.
type Installed struct {
	Version      string
	Dependencies []string
}

// Options tunes resolution behavior.
type Options struct {
	// ForceUpdate re-applies requested packages even when the installed
	// version already satisfies the constraint (upgrade semantics).
	ForceUpdate bool
}

// requirement is one constraint on a package together with its origin.
type requirement struct {
	raw    string
	parsed *semver.Constraints
	source string // "requested" or "required by <pkg>"
}

func (r requirement) describe() string {
	raw := r.raw
	if raw == "" {
		raw = "*"
	}
	return fmt.Sprintf("%q (%s)", raw, r.source)
}

// =============================================================================
// Resolution Functions
// =============================================================================

// Resolve computes an ordered deployment plan for the requested packages and
// their transitive dependencies. Dependencies come before dependents. The
// result is deterministic: children are visited in sorted order and roots in
// request order.
func Resolve(reqs []Requirement, available map[string]*pack.Package, installed map[string]Installed, opts Options) (*Plan, error) {
	if len(reqs) == 0 {
		return &Plan{ID: uuid.NewString()}, nil
	}

	constraints := make(map[string][]requirement)
	var discovered []string
	requested := make(map[string]bool)

	addConstraint := func(name, raw, source string) error {
		parsed, err := parseConstraint(raw)
		if err != nil {
			return NewUnresolvableError(name, fmt.Sprintf("%q is not a valid version constraint", raw))
		}
		constraints[name] = append(constraints[name], requirement{raw: raw, parsed: parsed, source: source})
		return nil
	}

	// Walk the closure breadth-first, gathering every constraint per package.
	var queue []string
	seen := make(map[string]bool)
	for _, req := range reqs {
		if req.Name == "" {
			return nil, NewUnresolvableError("", "requested package name is empty")
		}
		requested[req.Name] = true
		if err := addConstraint(req.Name, req.Constraint, "requested"); err != nil {
			return nil, err
		}
		if !seen[req.Name] {
			seen[req.Name] = true
			queue = append(queue, req.Name)
			discovered = append(discovered, req.Name)
		}
	}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		p, ok := available[name]
		if !ok {
			first := constraints[name][0]
			return nil, NewUnresolvableError(name, fmt.Sprintf("not found in catalog (%s)", first.source))
		}
		for _, dep := range sortedDependencies(p) {
			if err := addConstraint(dep.Name, dep.Version, "required by "+name); err != nil {
				return nil, err
			}
			if !seen[dep.Name] {
				seen[dep.Name] = true
				queue = append(queue, dep.Name)
				discovered = append(discovered, dep.Name)
			}
		}
	}

	// Validate the candidate version of each package against every gathered
	// constraint. A candidate accepted by one requirement and rejected by
	// another means the requirements themselves disagree.
	for _, name := range discovered {
		candidate := available[name].SemVer()
		var satisfied, violated *requirement
		for i := range constraints[name] {
			req := &constraints[name][i]
			if req.parsed.Check(candidate) {
				if satisfied == nil {
					satisfied = req
				}
			} else if violated == nil {
				violated = req
			}
		}
		if violated == nil {
			continue
		}
		if satisfied != nil {
			return nil, NewConflictError(name, satisfied.describe(), violated.describe())
		}
		return nil, NewUnresolvableError(name,
			fmt.Sprintf("no version satisfying %s; available: %s", violated.describe(), candidate))
	}

	// Order dependencies before dependents, failing on cycles.
	order, err := topoSort(roots(reqs), func(name string) []string {
		deps := sortedDependencies(available[name])
		names := make([]string, len(deps))
		for i, d := range deps {
			names[i] = d.Name
		}
		return names
	})
	if err != nil {
		return nil, err
	}

	steps := make([]Step, 0, len(order))
	for _, name := range order {
		target := available[name].SemVer().String()
		inst, isInstalled := installed[name]

		var step Step
		switch {
		case !isInstalled:
			step = Step{Package: name, Version: target, Op: OpInstall}
		case opts.ForceUpdate && requested[name]:
			step = Step{Package: name, Version: target, Op: OpUpdate, Reason: "upgrade requested"}
		case satisfiesAll(inst.Version, constraints[name]):
			step = Step{Package: name, Version: inst.Version, Op: OpSkip,
				Reason: fmt.Sprintf("already installed at %s", inst.Version)}
		default:
			step = Step{Package: name, Version: target, Op: OpUpdate,
				Reason: fmt.Sprintf("installed %s does not satisfy requirements", inst.Version)}
		}
		steps = append(steps, step)
	}

	return &Plan{ID: uuid.NewString(), Steps: steps}, nil
}

// ResolveRemoval orders the removal of the named installed packages so that
// dependents are removed before their dependencies. A package still required
// by an installed package outside the removal set cannot be removed.
func ResolveRemoval(names []string, installed map[string]Installed) (*Plan, error) {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		if _, ok := installed[name]; !ok {
			return nil, NewUnresolvableError(name, "is not installed")
		}
		set[name] = true
	}

	for _, outside := range sortedKeys(installed) {
		if set[outside] {
			continue
		}
		for _, dep := range installed[outside].Dependencies {
			if set[dep] {
				return nil, NewUnresolvableError(dep,
					fmt.Sprintf("still required by installed package %s", outside))
			}
		}
	}

	members := make([]string, 0, len(set))
	for name := range set {
		members = append(members, name)
	}
	sort.Strings(members)

	// Dependencies-first order over the removal set, then reversed so
	// dependents are removed first.
	order, err := topoSort(members, func(name string) []string {
		var deps []string
		for _, dep := range installed[name].Dependencies {
			if set[dep] {
				deps = append(deps, dep)
			}
		}
		sort.Strings(deps)
		return deps
	})
	if err != nil {
		return nil, err
	}

	steps := make([]Step, 0, len(order))
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		steps = append(steps, Step{
			Package: name,
			Version: installed[name].Version,
			Op:      OpRemove,
		})
	}

	return &Plan{ID: uuid.NewString(), Steps: steps}, nil
}

// =============================================================================
// Graph Functions
// =============================================================================

// topoSort returns the graph in dependencies-first order using a depth-first
// walk with white/grey/black coloring. A grey revisit is a cycle.
func topoSort(rootNames []string, children func(string) []string) ([]string, error) {
	const (
		white = 0 // unvisited
		grey  = 1 // on the current path
		black = 2 // done
	)

	color := make(map[string]int)
	var path []string
	var order []string

	var visit func(name string) error
	visit = func(name string) error {
		color[name] = grey
		path = append(path, name)

		for _, child := range children(name) {
			switch color[child] {
			case grey:
				start := 0
				for i, member := range path {
					if member == child {
						start = i
						break
					}
				}
				return NewCycleError(append([]string{}, path[start:]...))
			case white:
				if err := visit(child); err != nil {
					return err
				}
			}
		}

		path = path[:len(path)-1]
		color[name] = black
		order = append(order, name)
		return nil
	}

	for _, name := range rootNames {
		if color[name] == white {
			if err := visit(name); err != nil {
				return nil, err
			}
		}
	}
	return order, nil
}

// =============================================================================
// Helpers
// =============================================================================

func parseConstraint(s string) (*semver.Constraints, error) {
	if strings.TrimSpace(s) == "" {
		// An empty constraint accepts any version. ">=0.0.0-0" rather than
		// "*" so pre-release versions pass too.
		return semver.NewConstraint(">=0.0.0-0")
	}
	return semver.NewConstraint(s)
}

func satisfiesAll(version string, reqs []requirement) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	for _, req := range reqs {
		if !req.parsed.Check(v) {
			return false
		}
	}
	return true
}

func sortedDependencies(p *pack.Package) []pack.Dependency {
	deps := make([]pack.Dependency, len(p.Dependencies))
	copy(deps, p.Dependencies)
	sort.Slice(deps, func(i, j int) bool { return deps[i].Name < deps[j].Name })
	return deps
}

func roots(reqs []Requirement) []string {
	var out []string
	seen := make(map[string]bool)
	for _, req := range reqs {
		if !seen[req.Name] {
			seen[req.Name] = true
			out = append(out, req.Name)
		}
	}
	return out
}

func sortedKeys(m map[string]Installed) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
