package swarm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
)

// Wait blocks until every service of the stack reports as many running
// tasks as desired, or the timeout passes. The first check runs
// immediately so an already converged stack returns without sleeping.
func (c *DockerClient) Wait(ctx context.Context, stack string, opts WaitOptions) error {
	opts = opts.Normalize()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	timeout := func(pending []string) error {
		msg := fmt.Sprintf("not converged after %s", opts.Timeout)
		return NewApplyError("Wait", stack, strings.Join(pending, ", "), msg, ErrConvergenceTimeout)
	}

	pending, err := c.unconvergedServices(ctx, stack)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return timeout(nil)
		}
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return timeout(pending)
			}
			return ctx.Err()
		case <-ticker.C:
			next, err := c.unconvergedServices(ctx, stack)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return timeout(pending)
				}
				return err
			}
			pending = next
			if len(pending) == 0 {
				return nil
			}
		}
	}
}

// unconvergedServices returns the names of stack services whose running
// task count has not reached the desired count, sorted for stable output.
func (c *DockerClient) unconvergedServices(ctx context.Context, stack string) ([]string, error) {
	services, err := c.cli.ServiceList(ctx, types.ServiceListOptions{
		Filters: stackFilter(stack),
		Status:  true,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, NewApplyError("Wait", stack, "", err.Error(), ErrApplyFailed)
	}

	var pending []string
	for _, svc := range services {
		status := svc.ServiceStatus
		if status == nil || status.RunningTasks != status.DesiredTasks {
			pending = append(pending, svc.Spec.Name)
		}
	}
	sort.Strings(pending)
	return pending, nil
}
