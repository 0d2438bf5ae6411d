package qrunner

import (
	"fmt"

	"k8s.io/apimachinery/pkg/api/resource"
)

// ContainerConfig represents configuration shared between container-based
// runners (Docker, K8s) for launching OOMMF in a containerized environment.
type ContainerConfig struct {
	// Image is the container image that contains the OOMMF binary
	Image string

	// Command is the executable inside the image; Job.Args are appended
	Command []string

	// WorkDir is where the job directory is mounted inside the container
	WorkDir string

	// Env is added to every container
	Env map[string]string

	// User runs the container as "uid[:gid]", so output files in the
	// bind-mounted job directory are owned by the host user
	User string

	// Resources defines CPU and memory constraints
	Resources ResourceRequirements

	// Mounts defines extra volume mounts for the container
	Mounts []Mount

	// NetworkMode defines the network configuration (e.g., "none", "bridge")
	NetworkMode string
}

// ResourceRequirements defines CPU and memory constraints in Kubernetes
// quantity format so they can be translated to Docker or Kubernetes.
type ResourceRequirements struct {
	// CPU request in Kubernetes format (e.g., "100m", "1", "2")
	CPURequest string

	// Memory request in Kubernetes format (e.g., "128Mi", "1Gi")
	MemoryRequest string

	// CPU limit in Kubernetes format
	CPULimit string

	// Memory limit in Kubernetes format
	MemoryLimit string
}

// Mount represents a volume mount for containers
type Mount struct {
	// Type is the mount type: "bind" for host paths, "volume" for named volumes
	Type string `mapstructure:"type"`

	// Source is the source path (host) or volume name
	Source string `mapstructure:"source"`

	// Destination is the target path inside the container
	Destination string `mapstructure:"destination"`

	// ReadOnly indicates if the mount should be read-only
	ReadOnly bool `mapstructure:"readOnly"`
}

const (
	DefaultImage   = "oommf/oommf:latest"
	DefaultWorkDir = "/io"
)

// DefaultContainerConfig returns sensible defaults for container configuration
func DefaultContainerConfig() ContainerConfig {
	return ContainerConfig{
		Image:       DefaultImage,
		Command:     append([]string{}, DefaultOOMMFCommand...),
		WorkDir:     DefaultWorkDir,
		NetworkMode: "none",
	}
}

func (c ContainerConfig) withDefaults() ContainerConfig {
	def := DefaultContainerConfig()
	if c.Image == "" {
		c.Image = def.Image
	}
	if len(c.Command) == 0 {
		c.Command = def.Command
	}
	if c.WorkDir == "" {
		c.WorkDir = def.WorkDir
	}
	return c
}

// nanoCPUs converts a quantity like "1500m" into Docker's NanoCPUs.
func nanoCPUs(q string) (int64, error) {
	if q == "" {
		return 0, nil
	}
	parsed, err := resource.ParseQuantity(q)
	if err != nil {
		return 0, fmt.Errorf("invalid cpu quantity %q: %w", q, err)
	}
	return parsed.MilliValue() * 1_000_000, nil
}

// memoryBytes converts a quantity like "512Mi" into bytes.
func memoryBytes(q string) (int64, error) {
	if q == "" {
		return 0, nil
	}
	parsed, err := resource.ParseQuantity(q)
	if err != nil {
		return 0, fmt.Errorf("invalid memory quantity %q: %w", q, err)
	}
	return parsed.Value(), nil
}
