// Package suite sequences workload execution across the whole
// benchmark suite and composes the final score.
package suite

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/bryceshirley/HEPScore/internal/archive"
	"github.com/bryceshirley/HEPScore/internal/backend"
	"github.com/bryceshirley/HEPScore/internal/config"
	"github.com/bryceshirley/HEPScore/internal/runner"
	"github.com/bryceshirley/HEPScore/internal/stats"
)

// coreCount is swappable in tests.
var coreCount = runtime.NumCPU

// Orchestrator drives the suite: one workload at a time, in declared
// order, with the partial-failure policy applied between workloads.
type Orchestrator struct {
	Config   *config.Config
	Backend  backend.Backend
	OutDir   string
	Verbose  bool
	Parallel int
	// Clean enables the archival/retention pass after each workload.
	Clean bool
}

// Run executes every workload and assembles the final report. The
// returned report always carries a terminal status; an error is only
// returned for setup problems that prevent the suite from starting.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	hash, err := o.Config.Hash()
	if err != nil {
		return nil, err
	}
	env, err := captureEnvironment(ctx, o.Backend, o.Config.NCopies)
	if err != nil {
		return nil, err
	}
	report := &Report{
		Name:        o.Config.Name,
		Version:     o.Config.Version,
		ConfigHash:  hash,
		Environment: env,
		Status:      string(runner.StatusSuccess),
	}

	archiver := &archive.Manager{
		ResultsRoot: o.OutDir,
		Enabled:     o.Clean,
		Backend:     o.Backend.Name(),
	}

	failFast := false
	for i := range o.Config.Benchmarks {
		wl := &o.Config.Benchmarks[i]
		workDir := filepath.Join(o.OutDir, wl.Name)

		res, err := runner.RunWorkload(ctx, &runner.Options{
			Backend:     o.Backend,
			Workload:    wl,
			Registry:    o.Config.Registry,
			Repetitions: o.Config.Repetitions,
			AllowFail:   o.Config.AllowFail,
			WorkDir:     workDir,
			LogPath:     filepath.Join(o.OutDir, wl.Name+".log"),
			Verbose:     o.Verbose,
			Parallel:    o.Parallel,
		})
		if err != nil {
			return nil, fmt.Errorf("workload %s: %w", wl.Name, err)
		}

		report.Workloads = append(report.Workloads, toWorkloadReport(wl, res))

		archiver.Archive(workDir, wl.GlobPrefix())

		if res.Status == runner.StatusFailed {
			log.Printf("error: workload %s failed: %s", wl.Name, res.Reason)
			if !o.Config.AllowFail {
				report.Status = string(runner.StatusFailed)
				report.FailedWorkload = wl.Name
				failFast = true
				break
			}
		}
	}

	if failFast {
		// Fail-fast never reports a partially valid number.
		report.Score = Score{}
		report.ScorePerCore = Score{}
		return report, nil
	}

	report.Score = Compose(report.Workloads, o.Config.Method, o.Config.ScalingOrDefault())
	if !report.Score.Valid {
		report.Status = string(runner.StatusFailed)
	}
	report.ScorePerCore = perCore(report.Score, coreCount())
	return report, nil
}

// Compose reduces per-workload representative scores into the suite
// score: the geometric mean over workloads in declaration order,
// multiplied by the scaling factor and rounded to 4 decimals. Workloads
// whose representative score is invalid are excluded; they would poison
// the product. A non-finite result is invalid, never partially valid.
func Compose(workloads []WorkloadReport, method config.Method, scaling float64) Score {
	// Method is a closed set, checked at configuration time; anything
	// else reaching this point is a programming error.
	if method != config.MethodGeometricMean {
		return Score{}
	}
	var vals []float64
	for _, wl := range workloads {
		if wl.Score.Valid {
			vals = append(vals, wl.Score.Value)
		}
	}
	mean, err := stats.GeometricMean(vals)
	if err != nil {
		return Score{}
	}
	v := stats.Round(mean*scaling, 4)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Score{}
	}
	return validScore(v)
}

// perCore normalizes the final score by the detected logical core
// count. An unknown core count makes this field invalid without
// failing the suite.
func perCore(final Score, cores int) Score {
	if !final.Valid || cores <= 0 {
		return Score{}
	}
	return validScore(stats.Round(final.Value/float64(cores), 3))
}

func toWorkloadReport(wl *config.Workload, res *runner.WorkloadResult) WorkloadReport {
	wr := WorkloadReport{
		Name:     wl.Name,
		Version:  wl.Version,
		Metadata: res.Metadata,
		Runs:     res.Runs,
		Status:   string(res.Status),
	}
	if res.Scored() {
		wr.Score = validScore(res.RepresentativeScore)
		wr.MedianRuns = res.RepresentativeRuns
		wr.WLScores = make(map[string]WLScore, len(res.WLScores))
		for name, score := range res.WLScores {
			ref, _ := wl.RefScores.Lookup(name)
			wr.WLScores[name] = WLScore{Score: score, Ref: ref}
		}
	}
	return wr
}

func captureEnvironment(ctx context.Context, b backend.Backend, ncopies int) (Environment, error) {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	version, err := b.Version(ctx)
	if err != nil {
		return Environment{}, fmt.Errorf("detecting %s version: %w", b.Name(), err)
	}
	return Environment{
		System:         fmt.Sprintf("%s %s/%s", host, runtime.GOOS, runtime.GOARCH),
		Date:           time.Now().Format(time.RFC3339),
		ContainerExec:  b.Name(),
		BackendVersion: version,
		NCopies:        ncopies,
		RunID:          uuid.NewString(),
	}, nil
}
