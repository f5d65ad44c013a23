package runner_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/bryceshirley/HEPScore/internal/backend"
	"github.com/bryceshirley/HEPScore/internal/config"
	"github.com/bryceshirley/HEPScore/internal/runner"
)

// stubBackend fakes the container-execution capability: it writes a
// summary artifact with configurable raw sub-scores instead of running
// anything.
type stubBackend struct {
	name string
	// raw is the sub-score written for every run; rawAt overrides it
	// per run index.
	raw   float64
	rawAt map[int]float64
	// exitAt forces a nonzero exit status for a run index.
	exitAt map[int]int
	// launchErrAt simulates a spawn failure for a run index.
	launchErrAt map[int]bool
	// output is emitted into the run's log before anything else.
	output string
	// noiseLines pads the output with that many numbered lines after
	// output, to push earlier lines out of any tail window.
	noiseLines int
	// cleanups counts Cleanup invocations.
	cleanups int
}

func (s *stubBackend) Name() string {
	if s.name != "" {
		return s.name
	}
	return "stub"
}

func (s *stubBackend) Version(ctx context.Context) (string, error) { return "stub-1.0", nil }

func (s *stubBackend) Cleanup(ctx context.Context, image string) error {
	s.cleanups++
	return nil
}

func (s *stubBackend) Run(ctx context.Context, spec backend.RunSpec, output io.Writer) (int, error) {
	index, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(spec.RunDir), "run"))
	if err != nil {
		return -1, fmt.Errorf("unexpected run dir %s", spec.RunDir)
	}
	if s.output != "" {
		fmt.Fprintln(output, s.output)
	}
	for i := 0; i < s.noiseLines; i++ {
		fmt.Fprintf(output, "event batch %d processed\n", i)
	}
	fmt.Fprintf(output, "running %s repetition %d\n", spec.Image, index)

	if s.launchErrAt[index] {
		return -1, errors.New("spawn failed")
	}
	if code, ok := s.exitAt[index]; ok {
		return code, nil
	}

	raw := s.raw
	if v, ok := s.rawAt[index]; ok {
		raw = v
	}
	wl := spec.Workload
	subs := make(map[string]any, len(wl.RefScores))
	wls := make(map[string]float64, len(wl.RefScores))
	for _, ref := range wl.RefScores {
		subs[ref.Name] = raw
		wls[ref.Name] = raw
	}
	doc := map[string]any{
		"app":               wl.Name,
		"copies":            2,
		"threads_per_copy":  1,
		"events_per_thread": 10,
		wl.ScoreKey:         subs,
		"wl-scores":         wls,
	}
	dir := filepath.Join(spec.RunDir, wl.GlobPrefix()+"-worker")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return -1, err
	}
	data, _ := json.Marshal(doc)
	return 0, os.WriteFile(filepath.Join(dir, wl.GlobPrefix()+"_summary.json"), data, 0o644)
}

func testWorkload() *config.Workload {
	return &config.Workload{
		Name:     "alpha-sim-bmk",
		Version:  "v1.0",
		ScoreKey: "scores",
		RefScores: config.RefScores{
			{Name: "sim", Value: 1.0},
		},
	}
}

func newOptions(t *testing.T, be backend.Backend, reps int, allowFail bool) *runner.Options {
	t.Helper()
	dir := t.TempDir()
	return &runner.Options{
		Backend:     be,
		Workload:    testWorkload(),
		Registry:    "example.org/workloads",
		Repetitions: reps,
		AllowFail:   allowFail,
		WorkDir:     filepath.Join(dir, "alpha-sim-bmk"),
		LogPath:     filepath.Join(dir, "alpha-sim-bmk.log"),
	}
}

func TestRunWorkloadSuccess(t *testing.T) {
	be := &stubBackend{raw: 2.0}
	opts := newOptions(t, be, 3, false)

	res, err := runner.RunWorkload(context.Background(), opts)
	if err != nil {
		t.Fatalf("RunWorkload: %v", err)
	}
	if res.Status != runner.StatusSuccess {
		t.Fatalf("status = %s (%s)", res.Status, res.Reason)
	}
	if len(res.Runs) != 3 {
		t.Fatalf("got %d runs, want 3", len(res.Runs))
	}
	for _, rec := range res.Runs {
		if rec.Score == nil || *rec.Score != 2.0 {
			t.Errorf("run %d score = %v, want 2.0", rec.Index, rec.Score)
		}
		if _, ok := rec.Report["app"]; ok {
			t.Errorf("run %d report still carries workload metadata", rec.Index)
		}
	}
	if res.RepresentativeScore != 2.0 {
		t.Errorf("representative = %v, want 2.0", res.RepresentativeScore)
	}
	if len(res.RepresentativeRuns) != 1 {
		t.Errorf("representative runs = %v, want one index", res.RepresentativeRuns)
	}
	if res.Metadata.App != "alpha-sim-bmk" || res.Metadata.Copies != 2 {
		t.Errorf("metadata = %+v", res.Metadata)
	}
	if be.cleanups != 1 {
		t.Errorf("cleanup called %d times, want 1", be.cleanups)
	}
}

func TestRunWorkloadWritesLogs(t *testing.T) {
	be := &stubBackend{raw: 1.0, output: "hello from the workload"}
	opts := newOptions(t, be, 2, false)

	if _, err := runner.RunWorkload(context.Background(), opts); err != nil {
		t.Fatalf("RunWorkload: %v", err)
	}
	data, err := os.ReadFile(opts.LogPath)
	if err != nil {
		t.Fatalf("reading workload log: %v", err)
	}
	if n := strings.Count(string(data), "hello from the workload"); n != 2 {
		t.Errorf("workload log has %d run outputs, want 2", n)
	}
	snap, err := os.ReadFile(filepath.Join(runner.RunDir(opts.WorkDir, 1), "run1.log"))
	if err != nil {
		t.Fatalf("reading run snapshot: %v", err)
	}
	if !strings.Contains(string(snap), "hello from the workload") {
		t.Error("run snapshot missing run output")
	}
}

func TestRunWorkloadFailFast(t *testing.T) {
	be := &stubBackend{raw: 2.0, exitAt: map[int]int{1: 9}}
	opts := newOptions(t, be, 4, false)

	res, err := runner.RunWorkload(context.Background(), opts)
	if err != nil {
		t.Fatalf("RunWorkload: %v", err)
	}
	if res.Status != runner.StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	// Remaining repetitions are skipped.
	if len(res.Runs) != 2 {
		t.Errorf("got %d runs, want 2", len(res.Runs))
	}
	if res.Scored() {
		t.Error("failed workload must not carry a representative score")
	}
	if be.cleanups != 1 {
		t.Errorf("cleanup called %d times, want 1", be.cleanups)
	}
}

func TestRunWorkloadAllowFail(t *testing.T) {
	be := &stubBackend{rawAt: map[int]float64{0: 1.0, 2: 3.0}, exitAt: map[int]int{1: 1}}
	opts := newOptions(t, be, 3, true)

	res, err := runner.RunWorkload(context.Background(), opts)
	if err != nil {
		t.Fatalf("RunWorkload: %v", err)
	}
	if res.Status != runner.StatusSuccess {
		t.Fatalf("status = %s (%s)", res.Status, res.Reason)
	}
	if len(res.Runs) != 3 {
		t.Fatalf("got %d runs, want 3", len(res.Runs))
	}
	// Two scored runs: even count, median averages both.
	if res.RepresentativeScore != 2.0 {
		t.Errorf("representative = %v, want 2.0", res.RepresentativeScore)
	}
	want := []int{0, 2}
	if len(res.RepresentativeRuns) != 2 || res.RepresentativeRuns[0] != want[0] || res.RepresentativeRuns[1] != want[1] {
		t.Errorf("representative runs = %v, want %v", res.RepresentativeRuns, want)
	}
	if res.WLScores["sim"] != 2.0 {
		t.Errorf("wl-scores sim = %v, want the pairwise mean 2.0", res.WLScores["sim"])
	}
}

func TestRunWorkloadLaunchError(t *testing.T) {
	be := &stubBackend{raw: 2.0, launchErrAt: map[int]bool{0: true}}
	opts := newOptions(t, be, 3, false)

	res, err := runner.RunWorkload(context.Background(), opts)
	if err != nil {
		t.Fatalf("RunWorkload: %v", err)
	}
	if res.Status != runner.StatusFailed {
		t.Errorf("status = %s, want failed", res.Status)
	}
	if len(res.Runs) != 1 {
		t.Errorf("got %d runs, want 1", len(res.Runs))
	}
}

func TestRunWorkloadDiskFull(t *testing.T) {
	be := &stubBackend{raw: 2.0, output: "write failed: No space left on device"}
	opts := newOptions(t, be, 2, false)

	res, err := runner.RunWorkload(context.Background(), opts)
	if err != nil {
		t.Fatalf("RunWorkload: %v", err)
	}
	if res.Status != runner.StatusFailed {
		t.Errorf("status = %s, want failed on disk-full signal", res.Status)
	}
}

func TestRunWorkloadDiskFullBuriedInOutput(t *testing.T) {
	// The signal must be caught as output streams through; by the end
	// of a long run it has scrolled far past any tail window.
	be := &stubBackend{raw: 2.0, output: "write failed: No space left on device", noiseLines: 500}
	opts := newOptions(t, be, 1, false)

	res, err := runner.RunWorkload(context.Background(), opts)
	if err != nil {
		t.Fatalf("RunWorkload: %v", err)
	}
	if res.Status != runner.StatusFailed {
		t.Errorf("status = %s, want failed on buried disk-full signal", res.Status)
	}
}

func TestRunWorkloadOOMKill(t *testing.T) {
	be := &stubBackend{name: "docker", raw: 2.0, exitAt: map[int]int{0: 137}}
	opts := newOptions(t, be, 1, false)

	res, err := runner.RunWorkload(context.Background(), opts)
	if err != nil {
		t.Fatalf("RunWorkload: %v", err)
	}
	if res.Status != runner.StatusFailed {
		t.Errorf("status = %s, want failed", res.Status)
	}
	if res.Runs[0].ExitStatus != 137 {
		t.Errorf("exit status = %d, want 137", res.Runs[0].ExitStatus)
	}
}

func TestRunWorkloadParallel(t *testing.T) {
	be := &stubBackend{raw: 2.0}
	opts := newOptions(t, be, 4, false)
	opts.Parallel = 2

	res, err := runner.RunWorkload(context.Background(), opts)
	if err != nil {
		t.Fatalf("RunWorkload: %v", err)
	}
	if res.Status != runner.StatusSuccess {
		t.Fatalf("status = %s (%s)", res.Status, res.Reason)
	}
	if len(res.Runs) != 4 {
		t.Fatalf("got %d runs, want 4", len(res.Runs))
	}
	for i, rec := range res.Runs {
		if rec.Index != i {
			t.Errorf("run %d has index %d", i, rec.Index)
		}
	}
	if res.RepresentativeScore != 2.0 {
		t.Errorf("representative = %v, want 2.0", res.RepresentativeScore)
	}
	if len(res.RepresentativeRuns) != 2 {
		t.Errorf("representative runs = %v, want two indices", res.RepresentativeRuns)
	}

	// The workload log is assembled from the per-run snapshots after
	// the pool drains, in run-index order.
	data, err := os.ReadFile(opts.LogPath)
	if err != nil {
		t.Fatalf("reading workload log: %v", err)
	}
	last := -1
	for i := 0; i < 4; i++ {
		pos := strings.Index(string(data), fmt.Sprintf("repetition %d", i))
		if pos < 0 {
			t.Fatalf("workload log missing run %d output", i)
		}
		if pos < last {
			t.Errorf("run %d output out of order in the workload log", i)
		}
		last = pos
	}
}

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name string
		opts config.Options
		want []string
	}{
		{"all unset", config.Options{}, nil},
		{"debug only", config.Options{Debug: true}, []string{"-d"}},
		{"threads and events", config.Options{Threads: 4, Events: 100}, []string{"-t", "4", "-e", "100"}},
		{"copies first", config.Options{Copies: 8, Debug: true}, []string{"-c", "8", "-d"}},
		{"everything", config.Options{Debug: true, Threads: 2, Events: 50, Copies: 4}, []string{"-c", "4", "-d", "-t", "2", "-e", "50"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := runner.BuildArgs(tt.opts)
			if len(got) != len(tt.want) {
				t.Fatalf("BuildArgs(%+v) = %v, want %v", tt.opts, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("BuildArgs(%+v) = %v, want %v", tt.opts, got, tt.want)
				}
			}
		})
	}
}
