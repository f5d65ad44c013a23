package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Replay is the dry-run backend: it launches nothing and instead
// synthesizes a no-op run whose summary artifact reports sub-scores
// equal to the workload's reference scores. Every run therefore reduces
// to 1.0, which exercises the whole orchestration and reduction path
// without a container runtime.
type Replay struct {
	// ExitStatus is returned for every run. Zero unless a failure is
	// being simulated.
	ExitStatus int
}

func (r *Replay) Name() string { return "replay" }

func (r *Replay) Version(ctx context.Context) (string, error) {
	return "replay", nil
}

func (r *Replay) Run(ctx context.Context, spec RunSpec, output io.Writer) (int, error) {
	fmt.Fprintf(output, "replay: %s\n", spec.Image)
	if r.ExitStatus != 0 {
		return r.ExitStatus, nil
	}

	wl := spec.Workload
	subs := make(map[string]any, len(wl.RefScores))
	wls := make(map[string]float64, len(wl.RefScores))
	for _, ref := range wl.RefScores {
		if wl.SubKey != "" {
			subs[ref.Name] = map[string]any{wl.SubKey: ref.Value}
		} else {
			subs[ref.Name] = ref.Value
		}
		wls[ref.Name] = ref.Value
	}
	artifact := map[string]any{
		"app":               wl.Name,
		"copies":            1,
		"threads_per_copy":  1,
		"events_per_thread": 1,
		wl.ScoreKey:         subs,
		"wl-scores":         wls,
	}

	dir := filepath.Join(spec.RunDir, wl.GlobPrefix()+"replay")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return -1, fmt.Errorf("creating replay artifact dir: %w", err)
	}
	data, err := json.Marshal(artifact)
	if err != nil {
		return -1, fmt.Errorf("encoding replay artifact: %w", err)
	}
	path := filepath.Join(dir, wl.GlobPrefix()+"summary.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return -1, fmt.Errorf("writing replay artifact: %w", err)
	}
	return 0, nil
}

func (r *Replay) Cleanup(ctx context.Context, image string) error { return nil }
