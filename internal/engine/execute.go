package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/siavashoutadi/pishro-lib/internal/core/plan"
	"github.com/siavashoutadi/pishro-lib/internal/core/state"
	"github.com/siavashoutadi/pishro-lib/internal/shell/store"
	"github.com/siavashoutadi/pishro-lib/internal/shell/swarm"
)

// =============================================================================
// Execute Phase
// =============================================================================

// execute walks the plan in order. Each step flushes its in-progress status
// before the cluster call and its outcome after, so a crash leaves an honest
// record behind. A failing step stops the plan: completed steps stay applied,
// the rest are never attempted.
func (e *Engine) execute(ctx context.Context, p *plan.Plan, prepared []preparedStep, opts ApplyOptions) (*Result, error) {
	result := &Result{PlanID: p.ID, Steps: p.Steps}

	for i := range prepared {
		ps := &prepared[i]
		step := ps.step

		if step.Op == plan.OpSkip {
			e.logger.Info("skipping package", "package", step.Package, "reason", step.Reason)
			result.Skipped = append(result.Skipped, step.Package)
			continue
		}

		if err := ctx.Err(); err != nil {
			return nil, NewPartialDeploymentError(p.ID, result.Applied, step.Package, remainingPackages(prepared[i+1:]), err)
		}

		var err error
		var unchanged bool
		switch step.Op {
		case plan.OpInstall, plan.OpUpdate:
			unchanged, err = e.applyStep(ctx, p.ID, ps, opts)
		case plan.OpRemove:
			err = e.removeStep(ctx, p.ID, step)
		}
		if err != nil {
			return nil, NewPartialDeploymentError(p.ID, result.Applied, step.Package, remainingPackages(prepared[i+1:]), err)
		}
		if unchanged {
			result.Skipped = append(result.Skipped, step.Package)
			continue
		}
		result.Applied = append(result.Applied, step.Package)
	}

	e.logger.Info("plan executed", "plan_id", p.ID,
		"applied", len(result.Applied), "skipped", len(result.Skipped))
	return result, nil
}

// applyStep deploys one install or update step. It returns true without
// touching the cluster when the installed record already carries the exact
// manifest the step would apply.
func (e *Engine) applyStep(ctx context.Context, planID string, ps *preparedStep, opts ApplyOptions) (bool, error) {
	name := ps.step.Package
	now := e.now()

	record, err := e.store.GetRecord(ctx, name)
	fresh := errors.Is(err, store.ErrNotFound)
	if err != nil && !fresh {
		return false, err
	}

	// 1. An unchanged manifest on a healthy record needs no cluster call.
	if !fresh && record.Status == state.StatusInstalled &&
		record.Version == ps.step.Version && record.ManifestHash == ps.hash {
		e.logger.Info("manifest unchanged", "package", name, "version", record.Version)
		return true, nil
	}

	// 2. Flush the in-progress status before touching the cluster. A record
	//    that never committed a version re-enters as installing, anything
	//    else as updating.
	var from state.Status
	if fresh {
		record = state.NewRecord(name, ps.stack, opts.Environment, now)
	} else {
		from = record.Status
		pre := state.StatusUpdating
		if record.Version == "" {
			pre = state.StatusInstalling
		}
		if err := record.Transition(pre, now); err != nil {
			return false, err
		}
	}
	event := &state.Event{
		Package:    name,
		PlanID:     planID,
		FromStatus: from,
		ToStatus:   record.Status,
		Message:    ps.step.Reason,
	}
	if err := e.persistRecord(ctx, record, fresh, event); err != nil {
		return false, err
	}

	e.logger.Info("applying stack", "package", name, "version", ps.step.Version, "stack", ps.stack)

	// 3. Apply the stack, then optionally wait for convergence. A stack
	//    that never converges counts as a failed apply.
	applyErr := e.cluster.Deploy(ctx, swarm.Deployment{
		Stack:        ps.stack,
		Spec:         ps.spec,
		Configs:      ps.configs,
		RegistryAuth: opts.RegistryAuth,
	})
	if applyErr == nil && opts.Wait {
		applyErr = e.cluster.Wait(ctx, ps.stack, swarm.WaitOptions{Timeout: opts.WaitTimeout})
	}
	if applyErr != nil {
		e.failStep(ctx, record, planID, applyErr)
		return false, applyErr
	}

	// 4. Commit the applied version, values and manifest hash as the last
	//    known good state. The cluster call succeeded, so the commit must
	//    land even when the context was canceled meanwhile.
	from = record.Status
	if err := record.Commit(ps.step.Version, ps.merged, ps.hash, dependencyNames(ps.pkg), e.now()); err != nil {
		return false, err
	}
	record.Environment = opts.Environment
	event = &state.Event{
		Package:    name,
		PlanID:     planID,
		FromStatus: from,
		ToStatus:   record.Status,
		Message:    fmt.Sprintf("applied version %s", ps.step.Version),
	}
	return false, e.persistRecord(context.WithoutCancel(ctx), record, false, event)
}

// removeStep removes one package's stack and deletes its record.
func (e *Engine) removeStep(ctx context.Context, planID string, step plan.Step) error {
	name := step.Package
	now := e.now()

	record, err := e.store.GetRecord(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		e.logger.Info("package already absent", "package", name)
		return nil
	}
	if err != nil {
		return err
	}

	from := record.Status
	if err := record.Transition(state.StatusRemoving, now); err != nil {
		return err
	}
	event := &state.Event{Package: name, PlanID: planID, FromStatus: from, ToStatus: record.Status}
	if err := e.persistRecord(ctx, record, false, event); err != nil {
		return err
	}

	e.logger.Info("removing stack", "package", name, "stack", record.Stack)

	if err := e.cluster.Remove(ctx, record.Stack); err != nil {
		e.failStep(ctx, record, planID, err)
		return err
	}

	// Success deletes the record rather than transitioning it. The stack is
	// gone, so the deletion must land even on a canceled context.
	dctx := context.WithoutCancel(ctx)
	return e.store.WithTx(dctx, func(tx store.Store) error {
		if err := tx.DeleteRecord(dctx, name); err != nil {
			return err
		}
		return tx.CreateEvent(dctx, &state.Event{
			Package:    name,
			PlanID:     planID,
			FromStatus: state.StatusRemoving,
			Message:    "package removed",
		})
	})
}

// =============================================================================
// Record Persistence
// =============================================================================

// persistRecord writes a record and its audit event in one transaction.
func (e *Engine) persistRecord(ctx context.Context, record *state.Record, create bool, event *state.Event) error {
	return e.store.WithTx(ctx, func(tx store.Store) error {
		var err error
		if create {
			err = tx.CreateRecord(ctx, record)
		} else {
			err = tx.UpdateRecord(ctx, record)
		}
		if err != nil {
			return err
		}
		return tx.CreateEvent(ctx, event)
	})
}

// failStep marks the record failed after a cluster call went wrong. The
// write uses a detached context so the failure lands even when the step died
// to cancellation.
func (e *Engine) failStep(ctx context.Context, record *state.Record, planID string, cause error) {
	from := record.Status
	if err := record.TransitionToFailed(cause.Error(), e.now()); err != nil {
		e.logger.Error("cannot mark record failed", "package", record.Name, "error", err)
		return
	}
	event := &state.Event{
		Package:    record.Name,
		PlanID:     planID,
		FromStatus: from,
		ToStatus:   state.StatusFailed,
		Message:    cause.Error(),
	}
	if err := e.persistRecord(context.WithoutCancel(ctx), record, false, event); err != nil {
		e.logger.Error("failed to persist failure status", "package", record.Name, "error", err)
	}
}

func remainingPackages(prepared []preparedStep) []string {
	var out []string
	for _, ps := range prepared {
		if ps.step.Op == plan.OpSkip {
			continue
		}
		out = append(out, ps.step.Package)
	}
	return out
}
