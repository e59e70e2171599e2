package swarm

import (
	"fmt"
	"os"
	"sort"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	swarmtypes "github.com/docker/docker/api/types/swarm"

	"github.com/siavashoutadi/pishro-lib/internal/core/compose"
)

// LabelNamespace marks every resource created for a stack, matching the
// label docker stack deploy uses so both tools see the same resources.
const LabelNamespace = "com.docker.stack.namespace"

// =============================================================================
// Naming
// =============================================================================

// ServiceName returns the cluster-side name of a stack service.
func ServiceName(stack, service string) string {
	return stack + "_" + service
}

// ConfigName returns the cluster-side name of a package-provided config.
func ConfigName(stack, config string) string {
	return stack + "-" + config
}

// NetworkName returns the cluster-side name of a stack network. External
// networks keep their own name, everything else is namespaced under the
// stack.
func NetworkName(stack string, net compose.Network) string {
	if net.TargetName != "" {
		return net.TargetName
	}
	if net.External {
		return net.Name
	}
	return stack + "_" + net.Name
}

// VolumeName returns the cluster-side name of a named volume.
func VolumeName(stack string, vol compose.Volume) string {
	if vol.TargetName != "" {
		return vol.TargetName
	}
	if vol.External {
		return vol.Name
	}
	return stack + "_" + vol.Name
}

// stackLabels returns the labels every stack resource carries.
func stackLabels(stack string) map[string]string {
	return map[string]string{LabelNamespace: stack}
}

// =============================================================================
// Service Conversion
// =============================================================================

// ConvertService builds the Swarm service spec for one stack service.
// configIDs maps cluster-side config names to their IDs; every config the
// service references must be present in it.
func ConvertService(stack string, svc compose.Service, spec *compose.StackSpec, configIDs map[string]string) (swarmtypes.ServiceSpec, error) {
	containerSpec := &swarmtypes.ContainerSpec{
		Image:    svc.Image,
		Command:  svc.Entrypoint,
		Args:     svc.Command,
		Env:      sortedEnv(svc.Environment),
		Labels:   mergeLabels(stackLabels(stack), svc.Labels),
		Dir:      svc.WorkingDir,
		User:     svc.User,
		Hostname: svc.Hostname,
	}

	if svc.StopGracePeriod != nil {
		d := *svc.StopGracePeriod
		containerSpec.StopGracePeriod = &d
	}

	if svc.HealthCheck != nil {
		containerSpec.Healthcheck = &container.HealthConfig{
			Test:        svc.HealthCheck.Test,
			Interval:    svc.HealthCheck.Interval,
			Timeout:     svc.HealthCheck.Timeout,
			StartPeriod: svc.HealthCheck.StartPeriod,
			Retries:     svc.HealthCheck.Retries,
		}
	}

	for _, ref := range svc.Configs {
		converted, err := convertConfigRef(stack, svc.Name, ref, spec, configIDs)
		if err != nil {
			return swarmtypes.ServiceSpec{}, err
		}
		containerSpec.Configs = append(containerSpec.Configs, converted)
	}

	for _, m := range svc.Mounts {
		containerSpec.Mounts = append(containerSpec.Mounts, convertMount(stack, m, spec))
	}

	task := swarmtypes.TaskSpec{
		ContainerSpec: containerSpec,
		RestartPolicy: convertRestartPolicy(svc.RestartPolicy),
		Resources:     convertResources(svc.Resources),
		Networks:      convertAttachments(stack, svc, spec),
	}

	if len(svc.Constraints) > 0 {
		task.Placement = &swarmtypes.Placement{Constraints: svc.Constraints}
	}

	serviceSpec := swarmtypes.ServiceSpec{
		Annotations: swarmtypes.Annotations{
			Name:   ServiceName(stack, svc.Name),
			Labels: mergeLabels(stackLabels(stack), svc.DeployLabels),
		},
		TaskTemplate: task,
		Mode:         convertMode(svc),
	}

	if endpoint := convertEndpoint(svc); endpoint != nil {
		serviceSpec.EndpointSpec = endpoint
	}

	return serviceSpec, nil
}

func convertMode(svc compose.Service) swarmtypes.ServiceMode {
	if svc.Mode == compose.ModeGlobal {
		return swarmtypes.ServiceMode{Global: &swarmtypes.GlobalService{}}
	}
	replicated := &swarmtypes.ReplicatedService{}
	if svc.Replicas != nil {
		replicas := uint64(*svc.Replicas)
		replicated.Replicas = &replicas
	}
	return swarmtypes.ServiceMode{Replicated: replicated}
}

func convertEndpoint(svc compose.Service) *swarmtypes.EndpointSpec {
	if len(svc.Ports) == 0 && svc.EndpointMode == "" {
		return nil
	}

	endpoint := &swarmtypes.EndpointSpec{
		Mode: swarmtypes.ResolutionMode(svc.EndpointMode),
	}
	for _, p := range svc.Ports {
		protocol := p.Protocol
		if protocol == "" {
			protocol = "tcp"
		}
		mode := p.Mode
		if mode == "" {
			mode = "ingress"
		}
		endpoint.Ports = append(endpoint.Ports, swarmtypes.PortConfig{
			Protocol:      swarmtypes.PortConfigProtocol(protocol),
			TargetPort:    p.Target,
			PublishedPort: p.Published,
			PublishMode:   swarmtypes.PortConfigPublishMode(mode),
		})
	}
	return endpoint
}

func convertRestartPolicy(policy *compose.RestartPolicy) *swarmtypes.RestartPolicy {
	if policy == nil {
		return nil
	}
	converted := &swarmtypes.RestartPolicy{
		Condition: swarmtypes.RestartPolicyCondition(policy.Condition),
	}
	if policy.Delay != nil {
		d := *policy.Delay
		converted.Delay = &d
	}
	if policy.MaxAttempts != nil {
		attempts := *policy.MaxAttempts
		converted.MaxAttempts = &attempts
	}
	if policy.Window != nil {
		w := *policy.Window
		converted.Window = &w
	}
	return converted
}

func convertResources(res compose.ServiceResources) *swarmtypes.ResourceRequirements {
	if res.CPULimit == 0 && res.MemoryLimit == 0 && res.CPUReservation == 0 && res.MemoryReservation == 0 {
		return nil
	}

	requirements := &swarmtypes.ResourceRequirements{}
	if res.CPULimit != 0 || res.MemoryLimit != 0 {
		requirements.Limits = &swarmtypes.Limit{
			NanoCPUs:    int64(res.CPULimit * 1e9),
			MemoryBytes: res.MemoryLimit,
		}
	}
	if res.CPUReservation != 0 || res.MemoryReservation != 0 {
		requirements.Reservations = &swarmtypes.Resources{
			NanoCPUs:    int64(res.CPUReservation * 1e9),
			MemoryBytes: res.MemoryReservation,
		}
	}
	return requirements
}

// convertAttachments maps service networks to their cluster-side names. The
// service name is always added as an alias so stack services can reach each
// other by bare name, the way docker stack deploy wires them.
func convertAttachments(stack string, svc compose.Service, spec *compose.StackSpec) []swarmtypes.NetworkAttachmentConfig {
	attachments := make([]swarmtypes.NetworkAttachmentConfig, 0, len(svc.Networks))
	for _, att := range svc.Networks {
		target := stack + "_" + att.Name
		if net, ok := spec.Network(att.Name); ok {
			target = NetworkName(stack, net)
		}
		attachments = append(attachments, swarmtypes.NetworkAttachmentConfig{
			Target:  target,
			Aliases: append(append([]string{}, att.Aliases...), svc.Name),
		})
	}
	return attachments
}

func convertMount(stack string, m compose.Mount, spec *compose.StackSpec) mount.Mount {
	converted := mount.Mount{
		Source:   m.Source,
		Target:   m.Target,
		ReadOnly: m.ReadOnly,
	}

	switch m.Type {
	case compose.MountTypeBind:
		converted.Type = mount.TypeBind
	case compose.MountTypeTmpfs:
		converted.Type = mount.TypeTmpfs
		converted.Source = ""
	default:
		converted.Type = mount.TypeVolume
		options := &mount.VolumeOptions{}
		if vol, ok := spec.Volume(m.Source); ok {
			converted.Source = VolumeName(stack, vol)
			if !vol.External {
				options.Labels = mergeLabels(stackLabels(stack), vol.Labels)
			}
			if vol.Driver != "" || len(vol.DriverOpts) > 0 {
				options.DriverConfig = &mount.Driver{
					Name:    vol.Driver,
					Options: vol.DriverOpts,
				}
			}
		} else {
			converted.Source = stack + "_" + m.Source
			options.Labels = stackLabels(stack)
		}
		converted.VolumeOptions = options
	}

	return converted
}

func convertConfigRef(stack, service string, ref compose.ConfigMount, spec *compose.StackSpec, configIDs map[string]string) (*swarmtypes.ConfigReference, error) {
	cfg, ok := spec.Config(ref.Source)
	if !ok {
		return nil, NewApplyError("ConvertService", stack, ref.Source,
			fmt.Sprintf("service %s references undeclared config", service), ErrConfigNotFound)
	}

	name := resolveConfigName(stack, cfg)
	id, ok := configIDs[name]
	if !ok {
		return nil, NewApplyError("ConvertService", stack, name,
			fmt.Sprintf("config for service %s does not exist on the cluster", service), ErrConfigNotFound)
	}

	mode := os.FileMode(0o444)
	if ref.Mode != nil {
		mode = os.FileMode(*ref.Mode)
	}
	uid := ref.UID
	if uid == "" {
		uid = "0"
	}
	gid := ref.GID
	if gid == "" {
		gid = "0"
	}

	return &swarmtypes.ConfigReference{
		ConfigID:   id,
		ConfigName: name,
		File: &swarmtypes.ConfigReferenceFileTarget{
			Name: ref.Target,
			UID:  uid,
			GID:  gid,
			Mode: mode,
		},
	}, nil
}

// resolveConfigName returns the cluster-side name a stack file config refers
// to. Configs created from the package config directory are declared external
// with the "<stack>-<name>" convention, so a bare external declaration falls
// back to that.
func resolveConfigName(stack string, cfg compose.Config) string {
	if cfg.TargetName != "" {
		return cfg.TargetName
	}
	return ConfigName(stack, cfg.Name)
}

// =============================================================================
// Helpers
// =============================================================================

// sortedEnv flattens an environment map into sorted KEY=VALUE form so service
// specs compare stably between deploys.
func sortedEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func mergeLabels(base, extra map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
