package suite

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bryceshirley/HEPScore/internal/parse"
	"github.com/bryceshirley/HEPScore/internal/runner"
)

// Score is a float that may be invalid. An absent or non-finite result
// is rendered as the literal "invalid", never as zero.
type Score struct {
	Value float64
	Valid bool
}

func validScore(v float64) Score { return Score{Value: v, Valid: true} }

func (s Score) MarshalYAML() (any, error) {
	if !s.Valid {
		return "invalid", nil
	}
	return s.Value, nil
}

func (s Score) MarshalJSON() ([]byte, error) {
	if !s.Valid {
		return json.Marshal("invalid")
	}
	return json.Marshal(s.Value)
}

// Environment records where and how the suite ran.
type Environment struct {
	System         string `yaml:"system" json:"system"`
	Date           string `yaml:"date" json:"date"`
	ContainerExec  string `yaml:"container_exec" json:"container_exec"`
	BackendVersion string `yaml:"backend_version" json:"backend_version"`
	NCopies        int    `yaml:"ncopies" json:"ncopies"`
	RunID          string `yaml:"run_id" json:"run_id"`
}

// WLScore pairs a representative run's raw sub-benchmark score with
// its reference value.
type WLScore struct {
	Score float64 `yaml:"score" json:"score"`
	Ref   float64 `yaml:"ref" json:"ref"`
}

// WorkloadReport is one workload's entry in the suite report.
type WorkloadReport struct {
	Name       string             `yaml:"name" json:"name"`
	Version    string             `yaml:"version" json:"version"`
	Metadata   parse.Metadata     `yaml:"metadata" json:"metadata"`
	Runs       []runner.RunRecord `yaml:"runs" json:"runs"`
	WLScores   map[string]WLScore `yaml:"wl-scores,omitempty" json:"wl-scores,omitempty"`
	Score      Score              `yaml:"score" json:"score"`
	MedianRuns []int              `yaml:"median_runs,omitempty" json:"median_runs,omitempty"`
	Status     string             `yaml:"status" json:"status"`
}

// Report is the suite's sole persisted artifact.
type Report struct {
	Name           string           `yaml:"name" json:"name"`
	Version        string           `yaml:"version" json:"version"`
	ConfigHash     string           `yaml:"config_hash" json:"config_hash"`
	Environment    Environment      `yaml:"environment" json:"environment"`
	Workloads      []WorkloadReport `yaml:"benchmarks" json:"benchmarks"`
	Score          Score            `yaml:"score" json:"score"`
	ScorePerCore   Score            `yaml:"score_per_core" json:"score_per_core"`
	Status         string           `yaml:"status" json:"status"`
	FailedWorkload string           `yaml:"failed_workload,omitempty" json:"failed_workload,omitempty"`
}

type reportDocument struct {
	Suite *Report `yaml:"hepscore_benchmark" json:"hepscore_benchmark"`
}

// WriteReport persists the report as YAML or JSON. A write failure here
// is fatal to the caller: the report is the only output that matters.
func WriteReport(r *Report, path, format string) error {
	doc := reportDocument{Suite: r}
	var data []byte
	var err error
	switch format {
	case "json":
		data, err = json.MarshalIndent(&doc, "", "  ")
	default:
		data, err = yaml.Marshal(&doc)
	}
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing report %s: %w", path, err)
	}
	return nil
}
