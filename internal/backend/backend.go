// Package backend provides the container-execution capability: launch
// one workload image, stream its combined output, and report its exit
// status.
package backend

import (
	"context"
	"fmt"
	"io"

	"github.com/bryceshirley/HEPScore/internal/config"
)

// RunSpec describes one workload execution.
type RunSpec struct {
	// Image is the fully qualified image reference.
	Image string
	// Args are the workload option arguments appended to the image.
	Args []string
	// RunDir is the host directory mounted at /results, where the
	// workload writes its summary artifact.
	RunDir string
	// Workload is the suite entry being executed.
	Workload *config.Workload
}

// Backend launches one workload container. Run streams the combined
// stdout/stderr of the workload into output and returns the process
// exit status; a non-nil error means the process could not be launched
// at all.
type Backend interface {
	Name() string
	Version(ctx context.Context) (string, error)
	Run(ctx context.Context, spec RunSpec, output io.Writer) (int, error)
	// Cleanup removes local registry state for the image. Best-effort;
	// callers log and continue on error.
	Cleanup(ctx context.Context, image string) error
}

// New returns the backend for the given configuration name.
func New(name config.Backend) (Backend, error) {
	switch name {
	case config.BackendDocker:
		return &Docker{}, nil
	case config.BackendSingularity:
		return &Singularity{}, nil
	default:
		return nil, fmt.Errorf("unknown container backend %q", name)
	}
}
