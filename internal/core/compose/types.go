package compose

import "time"

// =============================================================================
// StackSpec - Main Output Type
// =============================================================================

// StackSpec is the parsed representation of a rendered stack file, decoupled
// from compose-go types and restricted to what Swarm deployment supports.
type StackSpec struct {
	Services []Service `json:"services"`
	Networks []Network `json:"networks,omitempty"`
	Volumes  []Volume  `json:"volumes,omitempty"`
	Configs  []Config  `json:"configs,omitempty"`
}

// Network returns the network definition for the given compose key, if any.
func (s *StackSpec) Network(name string) (Network, bool) {
	for _, n := range s.Networks {
		if n.Name == name {
			return n, true
		}
	}
	return Network{}, false
}

// Volume returns the volume definition for the given compose key, if any.
func (s *StackSpec) Volume(name string) (Volume, bool) {
	for _, v := range s.Volumes {
		if v.Name == name {
			return v, true
		}
	}
	return Volume{}, false
}

// Config returns the config definition for the given compose key, if any.
func (s *StackSpec) Config(name string) (Config, bool) {
	for _, c := range s.Configs {
		if c.Name == name {
			return c, true
		}
	}
	return Config{}, false
}

// =============================================================================
// Service Types
// =============================================================================

// ServiceMode is the Swarm scheduling mode of a service.
type ServiceMode string

const (
	ModeReplicated ServiceMode = "replicated"
	ModeGlobal     ServiceMode = "global"
)

// Service represents a single service definition.
type Service struct {
	Name            string              `json:"name"`
	Image           string              `json:"image"`
	Command         []string            `json:"command,omitempty"`
	Entrypoint      []string            `json:"entrypoint,omitempty"`
	Environment     map[string]string   `json:"environment,omitempty"`
	Labels          map[string]string   `json:"labels,omitempty"`        // container labels
	DeployLabels    map[string]string   `json:"deploy_labels,omitempty"` // service labels
	Networks        []NetworkAttachment `json:"networks,omitempty"`
	Ports           []Port              `json:"ports,omitempty"`
	Mounts          []Mount             `json:"mounts,omitempty"`
	Configs         []ConfigMount       `json:"configs,omitempty"`
	Mode            ServiceMode         `json:"mode"`
	Replicas        *int                `json:"replicas,omitempty"`
	Constraints     []string            `json:"constraints,omitempty"`
	Resources       ServiceResources    `json:"resources"`
	RestartPolicy   *RestartPolicy      `json:"restart_policy,omitempty"`
	HealthCheck     *HealthCheck        `json:"healthcheck,omitempty"`
	StopGracePeriod *time.Duration      `json:"stop_grace_period,omitempty"`
	EndpointMode    string              `json:"endpoint_mode,omitempty"`
	User            string              `json:"user,omitempty"`
	WorkingDir      string              `json:"working_dir,omitempty"`
	Hostname        string              `json:"hostname,omitempty"`
}

// NetworkAttachment connects a service to a network.
type NetworkAttachment struct {
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
}

// Port represents a published port.
type Port struct {
	Target    uint32 `json:"target"`              // Container port
	Published uint32 `json:"published,omitempty"` // Host port (0 = dynamic)
	Protocol  string `json:"protocol,omitempty"`  // tcp, udp, sctp
	Mode      string `json:"mode,omitempty"`      // ingress, host
}

// MountType represents the type of mount.
type MountType string

const (
	MountTypeBind   MountType = "bind"
	MountTypeVolume MountType = "volume"
	MountTypeTmpfs  MountType = "tmpfs"
)

// Mount represents a mount in a service.
type Mount struct {
	Type     MountType `json:"type"`
	Source   string    `json:"source"` // Path or volume name
	Target   string    `json:"target"` // Container path
	ReadOnly bool      `json:"readonly"`
}

// ConfigMount references a config from a service.
type ConfigMount struct {
	Source string  `json:"source"`           // Key in the top-level configs section
	Target string  `json:"target,omitempty"` // Path in the container, defaults to /<source>
	UID    string  `json:"uid,omitempty"`
	GID    string  `json:"gid,omitempty"`
	Mode   *uint32 `json:"mode,omitempty"`
}

// ServiceResources represents resource limits/reservations for a service.
type ServiceResources struct {
	CPULimit          float64 `json:"cpu_limit"`
	CPUReservation    float64 `json:"cpu_reservation"`
	MemoryLimit       int64   `json:"memory_limit"`       // Bytes
	MemoryReservation int64   `json:"memory_reservation"` // Bytes
}

// RestartPolicy represents the Swarm restart policy of a service.
// Condition is one of "none", "on-failure" or "any".
type RestartPolicy struct {
	Condition   string         `json:"condition"`
	Delay       *time.Duration `json:"delay,omitempty"`
	MaxAttempts *uint64        `json:"max_attempts,omitempty"`
	Window      *time.Duration `json:"window,omitempty"`
}

// HealthCheck represents health check configuration.
type HealthCheck struct {
	Test        []string      `json:"test"`
	Interval    time.Duration `json:"interval,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	Retries     int           `json:"retries,omitempty"`
	StartPeriod time.Duration `json:"start_period,omitempty"`
}

// =============================================================================
// Network Types
// =============================================================================

// Network represents a network definition.
type Network struct {
	Name       string            `json:"name"` // compose key
	TargetName string            `json:"target_name,omitempty"`
	Driver     string            `json:"driver,omitempty"`
	External   bool              `json:"external"`
	Internal   bool              `json:"internal"`
	Attachable bool              `json:"attachable"`
	Labels     map[string]string `json:"labels,omitempty"`
	DriverOpts map[string]string `json:"driver_opts,omitempty"`
}

// =============================================================================
// Volume Types
// =============================================================================

// Volume represents a named volume definition.
type Volume struct {
	Name       string            `json:"name"` // compose key
	TargetName string            `json:"target_name,omitempty"`
	Driver     string            `json:"driver,omitempty"`
	External   bool              `json:"external"`
	Labels     map[string]string `json:"labels,omitempty"`
	DriverOpts map[string]string `json:"driver_opts,omitempty"`
}

// =============================================================================
// Config Types
// =============================================================================

// Config represents a top-level config declaration. Only external configs are
// accepted; config content is provided through the package config directory
// and created on the cluster before the stack is deployed.
type Config struct {
	Name       string `json:"name"` // compose key
	TargetName string `json:"target_name,omitempty"`
	External   bool   `json:"external"`
}
