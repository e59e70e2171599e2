package swarm

import (
	"context"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	swarmtypes "github.com/docker/docker/api/types/swarm"
	"github.com/docker/docker/client"

	"github.com/siavashoutadi/pishro-lib/internal/core/compose"
)

// stackFilter selects resources labeled as belonging to the stack.
func stackFilter(stack string) filters.Args {
	f := filters.NewArgs()
	f.Add("label", LabelNamespace+"="+stack)
	return f
}

// =============================================================================
// Deploy
// =============================================================================

// Deploy applies one stack: networks and configs first, then services.
// Existing services are updated in place, new ones created, and services
// that are no longer part of the stack are pruned.
func (c *DockerClient) Deploy(ctx context.Context, d Deployment) error {
	if d.Spec == nil || len(d.Spec.Services) == 0 {
		return NewApplyError("Deploy", d.Stack, "", "no services to deploy", ErrApplyFailed)
	}

	if err := c.ensureNetworks(ctx, d.Stack, d.Spec.Networks); err != nil {
		return err
	}
	if err := c.ensureConfigs(ctx, d.Stack, d.Configs); err != nil {
		return err
	}

	configIDs, err := c.lookupConfigIDs(ctx, d.Stack, d.Spec)
	if err != nil {
		return err
	}

	existing, err := c.stackServices(ctx, d.Stack)
	if err != nil {
		return err
	}

	desired := make(map[string]struct{}, len(d.Spec.Services))
	for _, svc := range d.Spec.Services {
		spec, err := ConvertService(d.Stack, svc, d.Spec, configIDs)
		if err != nil {
			return err
		}
		desired[spec.Name] = struct{}{}

		if current, ok := existing[spec.Name]; ok {
			opts := types.ServiceUpdateOptions{EncodedRegistryAuth: d.RegistryAuth}
			if _, err := c.cli.ServiceUpdate(ctx, current.ID, current.Version, spec, opts); err != nil {
				return NewApplyError("Deploy", d.Stack, spec.Name, err.Error(), ErrApplyFailed)
			}
		} else {
			opts := types.ServiceCreateOptions{EncodedRegistryAuth: d.RegistryAuth}
			if _, err := c.cli.ServiceCreate(ctx, spec, opts); err != nil {
				return NewApplyError("Deploy", d.Stack, spec.Name, err.Error(), ErrApplyFailed)
			}
		}
	}

	// Prune services that left the stack
	for name, svc := range existing {
		if _, ok := desired[name]; ok {
			continue
		}
		if err := c.cli.ServiceRemove(ctx, svc.ID); err != nil && !client.IsErrNotFound(err) {
			return NewApplyError("Deploy", d.Stack, name, err.Error(), ErrApplyFailed)
		}
	}

	return nil
}

// ensureNetworks creates missing stack networks. Missing external networks
// are created attachable under their own name, not treated as an error.
func (c *DockerClient) ensureNetworks(ctx context.Context, stack string, networks []compose.Network) error {
	for _, net := range networks {
		name := NetworkName(stack, net)
		exists, err := c.networkExists(ctx, name)
		if err != nil {
			return NewApplyError("Deploy", stack, name, err.Error(), ErrApplyFailed)
		}
		if exists {
			continue
		}

		driver := net.Driver
		if driver == "" {
			driver = "overlay"
		}
		opts := network.CreateOptions{
			Driver:     driver,
			Internal:   net.Internal,
			Attachable: net.Attachable,
			Labels:     mergeLabels(stackLabels(stack), net.Labels),
			Options:    net.DriverOpts,
		}
		if net.External {
			opts = network.CreateOptions{Driver: driver, Attachable: true}
		}

		if _, err := c.cli.NetworkCreate(ctx, name, opts); err != nil {
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			return NewApplyError("Deploy", stack, name, err.Error(), ErrApplyFailed)
		}
	}
	return nil
}

// ensureConfigs creates missing stack configs. Cluster configs are
// immutable, so an existing config is left untouched.
func (c *DockerClient) ensureConfigs(ctx context.Context, stack string, configs []ConfigPayload) error {
	for _, payload := range configs {
		name := ConfigName(stack, payload.Name)
		exists, err := c.configExists(ctx, name)
		if err != nil {
			return NewApplyError("Deploy", stack, name, err.Error(), ErrApplyFailed)
		}
		if exists {
			continue
		}

		spec := swarmtypes.ConfigSpec{
			Annotations: swarmtypes.Annotations{
				Name:   name,
				Labels: stackLabels(stack),
			},
			Data: payload.Content,
		}
		if _, err := c.cli.ConfigCreate(ctx, spec); err != nil {
			if strings.Contains(err.Error(), "already exists") {
				continue
			}
			return NewApplyError("Deploy", stack, name, err.Error(), ErrApplyFailed)
		}
	}
	return nil
}

// lookupConfigIDs resolves every config the stack file declares to its
// cluster-side ID. A declared config that does not exist on the cluster is
// an error, matching docker stack deploy.
func (c *DockerClient) lookupConfigIDs(ctx context.Context, stack string, spec *compose.StackSpec) (map[string]string, error) {
	ids := make(map[string]string, len(spec.Configs))
	for _, cfg := range spec.Configs {
		name := resolveConfigName(stack, cfg)
		id, err := c.configID(ctx, name)
		if err != nil {
			return nil, NewApplyError("Deploy", stack, name, err.Error(), ErrApplyFailed)
		}
		if id == "" {
			return nil, NewApplyError("Deploy", stack, name, "config does not exist on the cluster", ErrConfigNotFound)
		}
		ids[name] = id
	}
	return ids, nil
}

// =============================================================================
// Remove
// =============================================================================

// Remove deletes the stack's services, then its configs, then its networks.
// Resources created outside the stack label (external networks) are left
// alone. Removing a stack with no resources is a no-op.
func (c *DockerClient) Remove(ctx context.Context, stack string) error {
	services, err := c.cli.ServiceList(ctx, types.ServiceListOptions{Filters: stackFilter(stack)})
	if err != nil {
		return NewApplyError("Remove", stack, "", err.Error(), ErrRemoveFailed)
	}
	for _, svc := range services {
		if err := c.cli.ServiceRemove(ctx, svc.ID); err != nil && !client.IsErrNotFound(err) {
			return NewApplyError("Remove", stack, svc.Spec.Name, err.Error(), ErrRemoveFailed)
		}
	}

	configs, err := c.cli.ConfigList(ctx, types.ConfigListOptions{Filters: stackFilter(stack)})
	if err != nil {
		return NewApplyError("Remove", stack, "", err.Error(), ErrRemoveFailed)
	}
	for _, cfg := range configs {
		if err := c.cli.ConfigRemove(ctx, cfg.ID); err != nil && !client.IsErrNotFound(err) {
			return NewApplyError("Remove", stack, cfg.Spec.Name, err.Error(), ErrRemoveFailed)
		}
	}

	nets, err := c.cli.NetworkList(ctx, network.ListOptions{Filters: stackFilter(stack)})
	if err != nil {
		return NewApplyError("Remove", stack, "", err.Error(), ErrRemoveFailed)
	}
	for _, n := range nets {
		if err := c.cli.NetworkRemove(ctx, n.ID); err != nil && !client.IsErrNotFound(err) {
			return NewApplyError("Remove", stack, n.Name, err.Error(), ErrRemoveFailed)
		}
	}

	return nil
}

// =============================================================================
// Lookup Helpers
// =============================================================================

// stackServices returns the stack's current services keyed by service name.
func (c *DockerClient) stackServices(ctx context.Context, stack string) (map[string]swarmtypes.Service, error) {
	services, err := c.cli.ServiceList(ctx, types.ServiceListOptions{Filters: stackFilter(stack)})
	if err != nil {
		return nil, NewApplyError("Deploy", stack, "", err.Error(), ErrApplyFailed)
	}
	out := make(map[string]swarmtypes.Service, len(services))
	for _, svc := range services {
		out[svc.Spec.Name] = svc
	}
	return out, nil
}

func (c *DockerClient) networkExists(ctx context.Context, name string) (bool, error) {
	f := filters.NewArgs()
	f.Add("name", name)
	nets, err := c.cli.NetworkList(ctx, network.ListOptions{Filters: f})
	if err != nil {
		return false, err
	}
	// The name filter matches substrings, compare exactly
	for _, n := range nets {
		if n.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (c *DockerClient) configExists(ctx context.Context, name string) (bool, error) {
	id, err := c.configID(ctx, name)
	return id != "", err
}

func (c *DockerClient) configID(ctx context.Context, name string) (string, error) {
	f := filters.NewArgs()
	f.Add("name", name)
	configs, err := c.cli.ConfigList(ctx, types.ConfigListOptions{Filters: f})
	if err != nil {
		return "", err
	}
	// The name filter matches substrings, compare exactly
	for _, cfg := range configs {
		if cfg.Spec.Name == name {
			return cfg.ID, nil
		}
	}
	return "", nil
}
