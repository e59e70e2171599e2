package engine

import (
	"context"
	"fmt"
	"os"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/siavashoutadi/pishro-lib/internal/core/compose"
	"github.com/siavashoutadi/pishro-lib/internal/core/pack"
	"github.com/siavashoutadi/pishro-lib/internal/core/plan"
	"github.com/siavashoutadi/pishro-lib/internal/core/render"
	"github.com/siavashoutadi/pishro-lib/internal/core/values"
	"github.com/siavashoutadi/pishro-lib/internal/shell/swarm"
)

// maxConcurrentPrepares bounds parallel package rendering.
const maxConcurrentPrepares = 4

// =============================================================================
// Prepared Steps
// =============================================================================

// preparedStep is one plan step with everything the execute phase needs
// already rendered and validated. Skip and remove steps carry only the step
// itself.
type preparedStep struct {
	step     plan.Step
	pkg      *pack.Package
	stack    string
	merged   values.Values
	manifest *render.Manifest
	spec     *compose.StackSpec
	configs  []swarm.ConfigPayload
	hash     string
}

// =============================================================================
// Prepare Phase
// =============================================================================

// prepare renders and validates every install and update step of the plan.
// It reads the catalog and the store but mutates nothing, so a failing step
// aborts the whole plan with the cluster untouched.
func (e *Engine) prepare(ctx context.Context, p *plan.Plan, opts ApplyOptions) ([]preparedStep, error) {
	userLayers, setLayer, err := loadUserValues(opts.ValueFiles, opts.SetValues)
	if err != nil {
		return nil, err
	}

	// Stack names come from existing records where present. Look them up
	// sequentially; the store serializes access anyway.
	stacks := make(map[string]string, len(p.Steps))
	for _, step := range p.Steps {
		if step.Op != plan.OpInstall && step.Op != plan.OpUpdate {
			continue
		}
		stack, err := e.stackFor(ctx, step.Package, opts.StackPrefix)
		if err != nil {
			return nil, err
		}
		stacks[step.Package] = stack
	}

	prepared := make([]preparedStep, len(p.Steps))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPrepares)
	for i, step := range p.Steps {
		if step.Op != plan.OpInstall && step.Op != plan.OpUpdate {
			prepared[i] = preparedStep{step: step}
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ps, err := e.prepareStep(step, stacks[step.Package], opts.Environment, userLayers, setLayer)
			if err != nil {
				return err
			}
			prepared[i] = *ps
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.logger.Debug("plan prepared", "plan_id", p.ID, "steps", len(prepared))
	return prepared, nil
}

// prepareStep loads one package, merges its values and renders and validates
// the manifest. Version comes from the catalog; the resolver already pinned
// the step to it.
func (e *Engine) prepareStep(step plan.Step, stack, environment string, userLayers []values.Values, setLayer values.Values) (*preparedStep, error) {
	pkg, err := e.catalog.LoadPackage(step.Package)
	if err != nil {
		return nil, err
	}

	envVals, err := e.catalog.EnvironmentValues(environment, step.Package)
	if err != nil {
		return nil, err
	}

	layers := make([]values.Values, 0, len(userLayers)+3)
	layers = append(layers, pkg.Defaults, envVals)
	layers = append(layers, userLayers...)
	layers = append(layers, setLayer)
	merged := values.Merge(layers...)

	if err := values.ValidateRequired(merged, pkg.Required); err != nil {
		return nil, fmt.Errorf("package %s: %w", step.Package, err)
	}

	manifest, err := render.Render(pkg.Templates, render.Context{
		Values:  merged,
		Package: render.PackageInfo{Name: pkg.Name, Version: pkg.Version},
		Release: render.ReleaseInfo{Stack: stack, Environment: environment},
	})
	if err != nil {
		return nil, err
	}

	stackFile, err := manifest.StackFile()
	if err != nil {
		return nil, fmt.Errorf("package %s: %w", step.Package, err)
	}
	spec, err := compose.ParseStackFile(string(stackFile.Content))
	if err != nil {
		return nil, fmt.Errorf("package %s: %w", step.Package, err)
	}

	entries, err := manifest.ConfigEntries()
	if err != nil {
		return nil, fmt.Errorf("package %s: %w", step.Package, err)
	}
	configs := make([]swarm.ConfigPayload, len(entries))
	for i, entry := range entries {
		configs[i] = swarm.ConfigPayload{Name: entry.Name, Content: entry.Content}
	}

	return &preparedStep{
		step:     step,
		pkg:      pkg,
		stack:    stack,
		merged:   merged,
		manifest: manifest,
		spec:     spec,
		configs:  configs,
		hash:     manifest.Hash(),
	}, nil
}

// =============================================================================
// Value Layers
// =============================================================================

// loadUserValues reads the override value files and parses the set
// expressions. Both apply uniformly to every package of the plan.
func loadUserValues(files, sets []string) ([]values.Values, values.Values, error) {
	layers := make([]values.Values, 0, len(files))
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("read values file %s: %w", path, err)
		}
		vals, err := values.Parse(data)
		if err != nil {
			return nil, nil, fmt.Errorf("values file %s: %w", path, err)
		}
		layers = append(layers, vals)
	}

	setLayer, err := values.ParseSet(sets)
	if err != nil {
		return nil, nil, err
	}
	return layers, setLayer, nil
}

// dependencyNames returns the package's dependency names, sorted.
func dependencyNames(p *pack.Package) []string {
	if len(p.Dependencies) == 0 {
		return nil
	}
	names := make([]string, len(p.Dependencies))
	for i, d := range p.Dependencies {
		names[i] = d.Name
	}
	sort.Strings(names)
	return names
}
