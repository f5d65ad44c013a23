// Package runner drives repeated container executions for a single
// workload and reduces the per-run results into a representative score.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bryceshirley/HEPScore/internal/backend"
	"github.com/bryceshirley/HEPScore/internal/config"
	"github.com/bryceshirley/HEPScore/internal/parse"
	"github.com/bryceshirley/HEPScore/internal/stats"
)

// Status is the terminal state of a workload.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

const (
	// tailLines is the size of the rolling diagnostic buffer printed
	// when a run fails.
	tailLines = 10
	// tailLineMax caps a single buffered line. Output beyond it is
	// broken up so a workload that never emits a newline cannot grow
	// the buffer.
	tailLineMax = 8192
	// diskFullSignal in a run's output marks the run as failed even
	// when the process reports success.
	diskFullSignal = "No space left on device"
	// oomExitStatus is the Docker kill status for out-of-memory.
	oomExitStatus = 137
)

// tailBuffer keeps the last tailLines lines of a run's output for
// failure diagnostics. Workloads stream output for hours, so the full
// output is never retained in memory; it goes to the log files instead.
// The disk-full signal is flagged as lines pass through, since by the
// time the run ends the matching line may have scrolled out of the
// tail.
type tailBuffer struct {
	lines    []string
	partial  []byte
	diskFull bool
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.partial = append(t.partial, p...)
	for {
		i := bytes.IndexByte(t.partial, '\n')
		if i < 0 {
			if len(t.partial) > tailLineMax {
				t.push(string(t.partial))
				t.partial = t.partial[:0]
			}
			break
		}
		t.push(string(t.partial[:i]))
		t.partial = t.partial[i+1:]
	}
	return len(p), nil
}

func (t *tailBuffer) push(line string) {
	if strings.Contains(line, diskFullSignal) {
		t.diskFull = true
	}
	t.lines = append(t.lines, line)
	if len(t.lines) > tailLines {
		t.lines = t.lines[1:]
	}
}

// Lines returns the buffered tail, including an unterminated final
// line.
func (t *tailBuffer) Lines() []string {
	if len(t.partial) == 0 {
		return t.lines
	}
	out := make([]string, 0, len(t.lines)+1)
	out = append(out, t.lines...)
	out = append(out, string(t.partial))
	if len(out) > tailLines {
		out = out[len(out)-tailLines:]
	}
	return out
}

// DiskFull reports whether the disk-full signal appeared anywhere in
// the streamed output.
func (t *tailBuffer) DiskFull() bool {
	return t.diskFull || bytes.Contains(t.partial, []byte(diskFullSignal))
}

// RunRecord is one execution attempt of a workload.
type RunRecord struct {
	Index           int            `yaml:"index" json:"index"`
	StartedAt       time.Time      `yaml:"started_at" json:"started_at"`
	EndedAt         time.Time      `yaml:"ended_at" json:"ended_at"`
	DurationSeconds int            `yaml:"duration_seconds" json:"duration_seconds"`
	ExitStatus      int            `yaml:"exit_status" json:"exit_status"`
	Report          map[string]any `yaml:"report,omitempty" json:"report,omitempty"`
	// Score is the run's reduced score; nil when the run failed to
	// launch, exit cleanly, or parse.
	Score *float64 `yaml:"reduced_score,omitempty" json:"reduced_score,omitempty"`
}

// WorkloadResult is the outcome of all repetitions of one workload.
type WorkloadResult struct {
	Spec                *config.Workload
	Runs                []RunRecord
	failedRuns          map[int]bool
	Metadata            parse.Metadata
	RepresentativeScore float64
	// RepresentativeRuns holds one run index for an odd number of
	// scored runs, two for an even number.
	RepresentativeRuns []int
	// WLScores are the representative run's raw sub-benchmark scores,
	// averaged pairwise when two runs tie as the median.
	WLScores map[string]float64
	Status   Status
	Reason   string
}

// Scored reports whether a representative score was selected.
func (r *WorkloadResult) Scored() bool {
	return r.Status == StatusSuccess && len(r.RepresentativeRuns) > 0
}

// Options configure one workload's execution.
type Options struct {
	Backend     backend.Backend
	Workload    *config.Workload
	Registry    string
	Repetitions int
	AllowFail   bool
	// WorkDir is the workload's working directory; run<i> directories
	// are created beneath it.
	WorkDir string
	// LogPath is the workload's append-only log file.
	LogPath string
	Verbose bool
	// Parallel > 1 enables the opt-in worker pool for repetitions.
	// Reduction still happens only after every repetition terminates,
	// and run output is kept per-run so log lines never interleave.
	Parallel int
}

// BuildArgs assembles the container option arguments from the workload
// options. Unset values (false, zero) emit nothing; the flag order is
// fixed.
func BuildArgs(opts config.Options) []string {
	var args []string
	if opts.Copies > 0 {
		args = append(args, "-c", strconv.Itoa(opts.Copies))
	}
	if opts.Debug {
		args = append(args, "-d")
	}
	if opts.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(opts.Threads))
	}
	if opts.Events > 0 {
		args = append(args, "-e", strconv.Itoa(opts.Events))
	}
	return args
}

// RunWorkload executes all repetitions of a workload, parses each
// run's artifact, and selects the representative score. Failures are
// absorbed into the returned result's status; only directory setup
// problems surface as errors.
func RunWorkload(ctx context.Context, opts *Options) (*WorkloadResult, error) {
	res := &WorkloadResult{Spec: opts.Workload, Status: StatusSuccess, failedRuns: make(map[int]bool)}
	image := opts.Workload.Image(opts.Registry)
	args := BuildArgs(opts.Workload.Options)

	if err := os.MkdirAll(opts.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating workload dir: %w", err)
	}
	logFile, err := os.OpenFile(opts.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening workload log: %w", err)
	}
	defer logFile.Close()

	plural := ""
	if opts.Repetitions > 1 {
		plural = "s"
	}
	fmt.Printf("Executing %d run%s of %s\n", opts.Repetitions, plural, opts.Workload.Name)

	if opts.Parallel > 1 {
		runPooled(ctx, opts, res, image, args, logFile)
	} else {
		runSequential(ctx, opts, res, image, args, logFile)
	}

	if err := opts.Backend.Cleanup(ctx, image); err != nil {
		log.Printf("warning: cleanup for %s: %v", image, err)
	}

	reduce(opts, res)
	return res, nil
}

func runSequential(ctx context.Context, opts *Options, res *WorkloadResult, image string, args []string, logFile io.Writer) {
	for i := 0; i < opts.Repetitions; i++ {
		if opts.Verbose {
			fmt.Print(".")
		}
		rec, tail, failed := executeRun(ctx, opts, image, args, i, logFile)
		res.Runs = append(res.Runs, rec)
		if failed {
			res.failedRuns[i] = true
			printTail(opts.Workload.Name, i, tail)
			if !opts.AllowFail {
				res.Status = StatusFailed
				res.Reason = fmt.Sprintf("run %d failed with exit status %d", i, rec.ExitStatus)
				return
			}
			// The failed run stops here, but the next repetition index
			// still executes.
		}
	}
}

func runPooled(ctx context.Context, opts *Options, res *WorkloadResult, image string, args []string, logFile io.Writer) {
	records := make([]RunRecord, opts.Repetitions)
	tails := make([]*tailBuffer, opts.Repetitions)
	failures := make([]bool, opts.Repetitions)

	jobs := make([]Job, opts.Repetitions)
	for i := 0; i < opts.Repetitions; i++ {
		i := i
		jobs[i] = func() {
			// Pool mode streams into per-run snapshot files only; the
			// shared workload log is assembled after the pool drains so
			// lines from different repetitions never interleave.
			records[i], tails[i], failures[i] = executeRun(ctx, opts, image, args, i, io.Discard)
		}
	}
	RunPool(opts.Parallel, jobs)

	for i := 0; i < opts.Repetitions; i++ {
		appendRunLog(logFile, RunDir(opts.WorkDir, i), i)
		res.Runs = append(res.Runs, records[i])
		if failures[i] {
			res.failedRuns[i] = true
			printTail(opts.Workload.Name, i, tails[i])
			if !opts.AllowFail && res.Status == StatusSuccess {
				res.Status = StatusFailed
				res.Reason = fmt.Sprintf("run %d failed with exit status %d", i, records[i].ExitStatus)
			}
		}
	}
}

// appendRunLog copies one run's snapshot log into the shared workload
// log. Best-effort, but never silent: the workload log is the record an
// operator reads first.
func appendRunLog(logFile io.Writer, runDir string, index int) {
	path := filepath.Join(runDir, fmt.Sprintf("run%d.log", index))
	f, err := os.Open(path)
	if err != nil {
		log.Printf("warning: reading run log %s: %v", path, err)
		return
	}
	defer f.Close()
	if _, err := io.Copy(logFile, f); err != nil {
		log.Printf("warning: appending run log %s: %v", path, err)
	}
}

// executeRun performs a single repetition: run directory, container
// launch, output streaming, classification. Output streams to the
// workload log, the per-run snapshot log, and a bounded tail buffer;
// it is never held whole in memory.
func executeRun(ctx context.Context, opts *Options, image string, args []string, index int, logFile io.Writer) (RunRecord, *tailBuffer, bool) {
	rec := RunRecord{Index: index}
	runDir := RunDir(opts.WorkDir, index)
	tail := &tailBuffer{}

	if err := os.MkdirAll(runDir, 0o755); err != nil {
		log.Printf("error: creating run dir %s: %v", runDir, err)
		rec.ExitStatus = -1
		return rec, tail, true
	}

	writers := []io.Writer{logFile, tail}
	snapPath := filepath.Join(runDir, fmt.Sprintf("run%d.log", index))
	snapshot, err := os.Create(snapPath)
	if err != nil {
		// The snapshot is best-effort; the run still streams to the
		// workload log.
		log.Printf("warning: creating run log snapshot %s: %v", snapPath, err)
	} else {
		defer snapshot.Close()
		writers = append(writers, snapshot)
	}
	output := io.MultiWriter(writers...)

	rec.StartedAt = time.Now()
	status, err := opts.Backend.Run(ctx, backend.RunSpec{
		Image:    image,
		Args:     args,
		RunDir:   runDir,
		Workload: opts.Workload,
	}, output)
	rec.EndedAt = time.Now()
	rec.DurationSeconds = int(rec.EndedAt.Sub(rec.StartedAt).Seconds())
	rec.ExitStatus = status

	failed := false
	switch {
	case err != nil:
		log.Printf("error: failure to execute %s run %d: %v", opts.Workload.Name, index, err)
		failed = true
	case status == oomExitStatus && opts.Backend.Name() == "docker":
		log.Printf("error: %s run %d killed by the kernel out-of-memory handler (exit status %d)", opts.Workload.Name, index, status)
		failed = true
	case status != 0:
		log.Printf("error: running %s failed, run %d exit status %d", opts.Workload.Name, index, status)
		failed = true
	case tail.DiskFull():
		log.Printf("error: %s run %d reported a full disk", opts.Workload.Name, index)
		failed = true
	}
	return rec, tail, failed
}

// RunDir is the per-repetition working directory under a workload's
// working path.
func RunDir(workDir string, index int) string {
	return filepath.Join(workDir, fmt.Sprintf("run%d", index))
}

func printTail(workload string, index int, tail *tailBuffer) {
	if tail == nil {
		return
	}
	lines := tail.Lines()
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(os.Stderr, "Last output of %s run %d:\n", workload, index)
	for _, line := range lines {
		fmt.Fprintf(os.Stderr, "  %s\n", line)
	}
}

// reduce parses every cleanly exited run, enforces the repetition
// count, and selects the representative score.
func reduce(opts *Options, res *WorkloadResult) {
	if res.Status == StatusFailed {
		return
	}
	scores := make(map[int]float64)
	reports := make(map[int]*parse.RunReport)
	parseErrors := 0
	metaSet := false

	for i := range res.Runs {
		rec := &res.Runs[i]
		// A run that reported a full disk can exit 0 and still leave a
		// plausible artifact, so the failure flag is authoritative.
		if rec.ExitStatus != 0 || res.failedRuns[rec.Index] {
			continue
		}
		report, err := parse.ParseRun(RunDir(opts.WorkDir, rec.Index), opts.Workload)
		if err != nil {
			parseErrors++
			if parseErrors == 1 {
				// First parse failure per workload gets the raw
				// artifact; later ones are only counted.
				if pe, ok := err.(*parse.Error); ok && len(pe.Raw) > 0 {
					log.Printf("error: %s run %d: %v\nraw artifact: %s", opts.Workload.Name, rec.Index, err, pe.Raw)
				} else {
					log.Printf("error: %s run %d: %v", opts.Workload.Name, rec.Index, err)
				}
			}
			continue
		}
		if !metaSet {
			res.Metadata = report.Meta
			metaSet = true
		}
		rec.Report = report.Report
		score := report.Score
		rec.Score = &score
		scores[rec.Index] = score
		reports[rec.Index] = report
		if opts.Verbose {
			fmt.Printf(" %v\n", score)
		}
	}
	if parseErrors > 1 {
		log.Printf("error: %d additional parse failures for %s", parseErrors-1, opts.Workload.Name)
	}

	if len(scores) < opts.Repetitions && !opts.AllowFail {
		res.Status = StatusFailed
		if res.Reason == "" {
			res.Reason = fmt.Sprintf("only %d of %d runs produced a score", len(scores), opts.Repetitions)
		}
		return
	}
	if len(scores) == 0 {
		res.Status = StatusFailed
		if res.Reason == "" {
			res.Reason = "no run produced a score"
		}
		return
	}

	value, indices, err := stats.SelectMedian(scores)
	if err != nil {
		res.Status = StatusFailed
		res.Reason = err.Error()
		return
	}
	res.RepresentativeScore = stats.Round(value, 4)
	res.RepresentativeRuns = indices
	res.WLScores = representativeWLScores(reports, indices)
	res.Status = StatusSuccess

	if opts.Verbose && len(scores) > 1 {
		fmt.Printf(" Median: %v\n", res.RepresentativeScore)
	}
}

// representativeWLScores returns the selected run's raw sub-benchmark
// scores. The even-count median has exactly two contributing runs;
// their scores are averaged pairwise.
func representativeWLScores(reports map[int]*parse.RunReport, indices []int) map[string]float64 {
	if len(indices) == 1 {
		return reports[indices[0]].WLScores
	}
	first := reports[indices[0]].WLScores
	second := reports[indices[1]].WLScores
	out := make(map[string]float64, len(first))
	for name, a := range first {
		b, ok := second[name]
		if !ok {
			continue
		}
		out[name] = (a + b) / 2
	}
	return out
}
