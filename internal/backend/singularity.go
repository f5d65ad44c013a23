package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Singularity runs workload images through the singularity CLI using
// docker:// image references.
type Singularity struct{}

func (s *Singularity) Name() string { return "singularity" }

func (s *Singularity) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "singularity", "--version").Output()
	if err != nil {
		return "", fmt.Errorf("querying singularity version: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (s *Singularity) Run(ctx context.Context, spec RunSpec, output io.Writer) (int, error) {
	args := []string{"run", "-B", spec.RunDir + ":/results", "docker://" + spec.Image}
	args = append(args, spec.Args...)

	cmd := exec.CommandContext(ctx, "singularity", args...)
	// Containers must not consult the host user's Python site-packages.
	cmd.Env = append(os.Environ(), "SINGULARITYENV_PYTHONNOUSERSITE=1")
	cmd.Stdout = output
	cmd.Stderr = output

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("executing singularity: %w", err)
	}
	err := cmd.Wait()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("waiting for singularity: %w", err)
	}
	return 0, nil
}

func (s *Singularity) Cleanup(ctx context.Context, image string) error {
	out, err := exec.CommandContext(ctx, "singularity", "cache", "clean", "--force").CombinedOutput()
	if err != nil {
		return fmt.Errorf("cleaning singularity cache: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
