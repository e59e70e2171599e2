package compose

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// DefaultNetwork is the implicit network services join when they declare none.
const DefaultNetwork = "default"

// =============================================================================
// Parser Functions
// =============================================================================

// ParseStackFile parses a rendered stack file into a StackSpec.
// This is a pure function - no I/O, no side effects.
// The content must already be fully rendered: ${VAR} interpolation is NOT
// applied, so deployments never depend on the environment of the process
// running the deploy.
func ParseStackFile(content string) (*StackSpec, error) {
	// Input validation
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyInput
	}

	project, err := loadStackFile(content)
	if err != nil {
		return nil, err
	}

	if err := checkUnsupportedFeatures(project); err != nil {
		return nil, err
	}

	if len(project.Services) == 0 {
		return nil, ErrNoServices
	}

	spec := &StackSpec{
		Services: make([]Service, 0, len(project.Services)),
		Networks: make([]Network, 0, len(project.Networks)),
		Volumes:  make([]Volume, 0, len(project.Volumes)),
		Configs:  make([]Config, 0, len(project.Configs)),
	}

	// Convert top-level sections first so service references can be checked
	for _, name := range sortedNames(project.Networks) {
		spec.Networks = append(spec.Networks, convertNetwork(name, project.Networks[name]))
	}
	for _, name := range sortedNames(project.Volumes) {
		spec.Volumes = append(spec.Volumes, convertVolume(name, project.Volumes[name]))
	}
	for _, name := range sortedNames(project.Configs) {
		spec.Configs = append(spec.Configs, convertConfig(name, project.Configs[name]))
	}

	referencesDefault := false
	for _, name := range sortedNames(project.Services) {
		converted, err := convertService(name, project.Services[name])
		if err != nil {
			return nil, err
		}
		// Services without explicit networks join the stack default network
		if len(converted.Networks) == 0 {
			converted.Networks = []NetworkAttachment{{Name: DefaultNetwork}}
		}
		for _, att := range converted.Networks {
			if att.Name == DefaultNetwork {
				referencesDefault = true
			}
		}
		spec.Services = append(spec.Services, converted)
	}

	if _, ok := spec.Network(DefaultNetwork); referencesDefault && !ok {
		spec.Networks = append(spec.Networks, Network{Name: DefaultNetwork})
		sort.Slice(spec.Networks, func(i, j int) bool { return spec.Networks[i].Name < spec.Networks[j].Name })
	}

	if err := validateReferences(spec); err != nil {
		return nil, err
	}
	if err := validatePorts(spec.Services); err != nil {
		return nil, err
	}
	if err := validateResources(spec.Services); err != nil {
		return nil, err
	}

	return spec, nil
}

// loadStackFile loads a stack file using compose-go.
func loadStackFile(content string) (*types.Project, error) {
	// Parse YAML into a map first
	var dict map[string]interface{}
	if err := yaml.Unmarshal([]byte(content), &dict); err != nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}
	if dict == nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: []byte(content),
				Config:  dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName("stack", false)
		opts.SkipValidation = false
		// Substitution already happened during template rendering; the host
		// environment must never leak into a deployment
		opts.SkipInterpolation = true
		// Don't resolve paths since we're in-memory
		opts.SkipNormalization = true
		opts.SkipExtends = true // Don't try to load external files
	})
	if err != nil {
		errStr := err.Error()
		switch {
		case strings.Contains(errStr, "undefined network"):
			return nil, NewParseError("", errStr, ErrUndefinedNetwork)
		case strings.Contains(errStr, "undefined config"):
			return nil, NewParseError("", errStr, ErrUndefinedConfig)
		case strings.Contains(errStr, "image") && strings.Contains(errStr, "build"):
			return nil, NewParseError("", "service must specify an image", ErrServiceNoImage)
		default:
			return nil, NewParseError("", errStr, ErrInvalidYAML)
		}
	}

	return project, nil
}

// checkUnsupportedFeatures checks for compose features Swarm deployment
// cannot honor.
func checkUnsupportedFeatures(project *types.Project) error {
	if len(project.Secrets) > 0 {
		return NewParseError("secrets", "secrets are not supported", ErrUnsupportedFeature)
	}

	for name, cfg := range project.Configs {
		if !bool(cfg.External) {
			return NewParseError("configs."+name,
				"only external configs are supported, content comes from the package config directory",
				ErrUnsupportedFeature)
		}
	}

	for name, svc := range project.Services {
		if svc.Build != nil {
			return NewParseError("services."+name+".build", "images must be prebuilt, build is not supported", ErrUnsupportedFeature)
		}
		if svc.Extends != nil && svc.Extends.File != "" {
			return NewParseError("services."+name+".extends", "extends is not supported", ErrUnsupportedFeature)
		}
	}

	return nil
}

// convertService converts a compose-go service to our Service type.
func convertService(name string, svc types.ServiceConfig) (Service, error) {
	service := Service{
		Name:         name,
		Image:        svc.Image,
		Command:      []string(svc.Command),
		Entrypoint:   []string(svc.Entrypoint),
		Environment:  make(map[string]string),
		Labels:       make(map[string]string),
		DeployLabels: make(map[string]string),
		Mode:         ModeReplicated,
		User:         svc.User,
		WorkingDir:   svc.WorkingDir,
		Hostname:     svc.Hostname,
	}

	if service.Image == "" {
		return Service{}, NewParseError("services."+name, "service must specify an image", ErrServiceNoImage)
	}

	// Environment
	for k, v := range svc.Environment {
		if v != nil {
			service.Environment[k] = *v
		}
	}

	// Container labels
	for k, v := range svc.Labels {
		service.Labels[k] = v
	}

	// Networks
	for _, netName := range sortedNames(svc.Networks) {
		attachment := NetworkAttachment{Name: netName}
		if cfg := svc.Networks[netName]; cfg != nil {
			attachment.Aliases = append(attachment.Aliases, cfg.Aliases...)
		}
		service.Networks = append(service.Networks, attachment)
	}

	// Ports
	for _, p := range svc.Ports {
		var published uint32
		if p.Published != "" {
			pub, err := strconv.ParseUint(p.Published, 10, 32)
			if err != nil {
				return Service{}, NewParseError(
					fmt.Sprintf("services.%s.ports", name),
					fmt.Sprintf("invalid published port %q", p.Published),
					ErrServiceInvalidPort)
			}
			published = uint32(pub)
		}
		service.Ports = append(service.Ports, Port{
			Target:    uint32(p.Target),
			Published: published,
			Protocol:  p.Protocol,
			Mode:      p.Mode,
		})
	}

	// Mounts
	for _, v := range svc.Volumes {
		mnt := Mount{
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		}
		switch v.Type {
		case "bind":
			mnt.Type = MountTypeBind
		case "volume":
			mnt.Type = MountTypeVolume
		case "tmpfs":
			mnt.Type = MountTypeTmpfs
		default:
			// Infer type from source
			if strings.HasPrefix(v.Source, "./") || strings.HasPrefix(v.Source, "/") || strings.HasPrefix(v.Source, "~") {
				mnt.Type = MountTypeBind
			} else {
				mnt.Type = MountTypeVolume
			}
		}
		service.Mounts = append(service.Mounts, mnt)
	}

	// Config references
	for _, c := range svc.Configs {
		ref := ConfigMount{
			Source: c.Source,
			Target: c.Target,
			UID:    c.UID,
			GID:    c.GID,
		}
		if c.Mode != nil {
			mode := uint32(*c.Mode)
			ref.Mode = &mode
		}
		if ref.Target == "" {
			ref.Target = "/" + ref.Source
		}
		service.Configs = append(service.Configs, ref)
	}

	// Restart policy: the deploy section wins over the service-level shorthand
	if svc.Deploy != nil && svc.Deploy.RestartPolicy != nil {
		rp := svc.Deploy.RestartPolicy
		policy := &RestartPolicy{Condition: rp.Condition}
		if rp.Delay != nil {
			d := time.Duration(*rp.Delay)
			policy.Delay = &d
		}
		if rp.MaxAttempts != nil {
			attempts := uint64(*rp.MaxAttempts)
			policy.MaxAttempts = &attempts
		}
		if rp.Window != nil {
			w := time.Duration(*rp.Window)
			policy.Window = &w
		}
		service.RestartPolicy = policy
	} else if svc.Restart != "" {
		service.RestartPolicy = &RestartPolicy{Condition: restartCondition(svc.Restart)}
	}

	// Deploy section
	if svc.Deploy != nil {
		deploy := svc.Deploy

		if deploy.Mode == string(ModeGlobal) {
			service.Mode = ModeGlobal
			if deploy.Replicas != nil {
				return Service{}, NewParseError("services."+name+".deploy",
					"replicas can only be used with replicated mode", ErrInvalidYAML)
			}
		}
		if deploy.Replicas != nil {
			replicas := int(*deploy.Replicas)
			service.Replicas = &replicas
		}

		for k, v := range deploy.Labels {
			service.DeployLabels[k] = v
		}

		service.Constraints = append(service.Constraints, deploy.Placement.Constraints...)
		service.EndpointMode = deploy.EndpointMode

		// Note: compose-go's NanoCPUs is misnamed - it's actually the CPU count as float32
		if deploy.Resources.Limits != nil {
			service.Resources.CPULimit = float64(deploy.Resources.Limits.NanoCPUs)
			service.Resources.MemoryLimit = int64(deploy.Resources.Limits.MemoryBytes)
		}
		if deploy.Resources.Reservations != nil {
			service.Resources.CPUReservation = float64(deploy.Resources.Reservations.NanoCPUs)
			service.Resources.MemoryReservation = int64(deploy.Resources.Reservations.MemoryBytes)
		}
	}

	// HealthCheck
	if svc.HealthCheck != nil {
		if svc.HealthCheck.Disable {
			service.HealthCheck = &HealthCheck{Test: []string{"NONE"}}
		} else {
			hc := &HealthCheck{Test: []string(svc.HealthCheck.Test)}
			if svc.HealthCheck.Retries != nil {
				hc.Retries = int(*svc.HealthCheck.Retries)
			}
			if svc.HealthCheck.Interval != nil {
				hc.Interval = time.Duration(*svc.HealthCheck.Interval)
			}
			if svc.HealthCheck.Timeout != nil {
				hc.Timeout = time.Duration(*svc.HealthCheck.Timeout)
			}
			if svc.HealthCheck.StartPeriod != nil {
				hc.StartPeriod = time.Duration(*svc.HealthCheck.StartPeriod)
			}
			service.HealthCheck = hc
		}
	}

	if svc.StopGracePeriod != nil {
		d := time.Duration(*svc.StopGracePeriod)
		service.StopGracePeriod = &d
	}

	return service, nil
}

// restartCondition maps the service-level restart shorthand to a Swarm
// restart condition.
func restartCondition(restart string) string {
	switch restart {
	case "no", "none":
		return "none"
	case "on-failure":
		return "on-failure"
	default:
		// always, unless-stopped
		return "any"
	}
}

// convertNetwork converts a compose-go network to our Network type.
func convertNetwork(name string, net types.NetworkConfig) Network {
	return Network{
		Name:       name,
		TargetName: net.Name,
		Driver:     net.Driver,
		External:   bool(net.External),
		Internal:   net.Internal,
		Attachable: net.Attachable,
		Labels:     net.Labels,
		DriverOpts: net.DriverOpts,
	}
}

// convertVolume converts a compose-go volume to our Volume type.
func convertVolume(name string, vol types.VolumeConfig) Volume {
	return Volume{
		Name:       name,
		TargetName: vol.Name,
		Driver:     vol.Driver,
		External:   bool(vol.External),
		Labels:     vol.Labels,
		DriverOpts: vol.DriverOpts,
	}
}

// convertConfig converts a compose-go config to our Config type.
func convertConfig(name string, cfg types.ConfigObjConfig) Config {
	return Config{
		Name:       name,
		TargetName: cfg.Name,
		External:   bool(cfg.External),
	}
}

// validateReferences checks that services only reference declared networks
// and configs.
func validateReferences(spec *StackSpec) error {
	for _, svc := range spec.Services {
		for _, att := range svc.Networks {
			if _, ok := spec.Network(att.Name); !ok {
				return NewParseError(
					"services."+svc.Name+".networks",
					fmt.Sprintf("network %q is not defined", att.Name),
					ErrUndefinedNetwork)
			}
		}
		for _, ref := range svc.Configs {
			if _, ok := spec.Config(ref.Source); !ok {
				return NewParseError(
					"services."+svc.Name+".configs",
					fmt.Sprintf("config %q is not defined", ref.Source),
					ErrUndefinedConfig)
			}
		}
	}
	return nil
}

// validatePorts validates all port configurations.
func validatePorts(services []Service) error {
	for _, svc := range services {
		for i, port := range svc.Ports {
			field := fmt.Sprintf("services.%s.ports[%d]", svc.Name, i)
			if port.Target == 0 {
				return NewParseError(field, "target port cannot be 0", ErrServiceInvalidPort)
			}
			if port.Target > 65535 {
				return NewParseError(field, "target port must be <= 65535", ErrServiceInvalidPort)
			}
			if port.Published > 65535 {
				return NewParseError(field, "published port must be <= 65535", ErrServiceInvalidPort)
			}
		}
	}
	return nil
}

// validateResources rejects negative resource values.
func validateResources(services []Service) error {
	for _, svc := range services {
		if svc.Resources.CPULimit < 0 || svc.Resources.CPUReservation < 0 {
			return NewParseError(
				"services."+svc.Name+".deploy.resources",
				"CPU values cannot be negative",
				ErrInvalidCPU)
		}
		if svc.Resources.MemoryLimit < 0 || svc.Resources.MemoryReservation < 0 {
			return NewParseError(
				"services."+svc.Name+".deploy.resources",
				"memory values cannot be negative",
				ErrInvalidMemory)
		}
	}
	return nil
}

// sortedNames returns the keys of a map in sorted order so that parse output
// does not depend on map iteration order.
func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
