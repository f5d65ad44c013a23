// Package parse reads one run's raw summary artifact and reduces it to
// a single normalized score.
package parse

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bryceshirley/HEPScore/internal/config"
	"github.com/bryceshirley/HEPScore/internal/stats"
)

// Metadata is the workload-level run configuration reported by the
// first run's artifact. These fields describe the workload, not an
// individual run, so they are extracted once and stripped from every
// stored per-run report.
type Metadata struct {
	App             string `yaml:"app" json:"app"`
	Copies          int    `yaml:"copies" json:"copies"`
	ThreadsPerCopy  int    `yaml:"threads_per_copy" json:"threads_per_copy"`
	EventsPerThread int    `yaml:"events_per_thread" json:"events_per_thread"`
}

var metadataKeys = []string{"app", "copies", "threads_per_copy", "events_per_thread"}

// Error is a per-run parse failure. It carries the raw artifact content
// so the first failure per workload can be logged with the offending
// document.
type Error struct {
	Path string
	Raw  []byte
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("parsing %s: %v", e.Path, e.Err)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// RunReport is the parsed and reduced result of one run.
type RunReport struct {
	// Score is the reduced score: the geometric mean of the run's
	// sub-benchmark scores normalized against the reference scores.
	Score float64
	// Meta is the workload-level metadata found in the artifact.
	Meta Metadata
	// Report is the artifact with the workload-level metadata fields
	// stripped.
	Report map[string]any
	// WLScores are the raw per-sub-benchmark scores reported by the
	// run, used for the representative run's entry in the suite report.
	WLScores map[string]float64
}

// FindSummary locates the run's summary artifact under runDir. Exactly
// one file matching <globPrefix>*/*summary.json is expected.
func FindSummary(runDir, globPrefix string) (string, error) {
	pattern := filepath.Join(runDir, globPrefix+"*", "*summary.json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", fmt.Errorf("globbing %s: %w", pattern, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no summary artifact matching %s", pattern)
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("expected one summary artifact matching %s, found %d", pattern, len(matches))
	}
	return matches[0], nil
}

// ExtractMetadata splits the workload-level metadata out of a raw
// artifact. It is a pure transform: the input map is left untouched and
// a stripped copy is returned alongside the metadata.
func ExtractMetadata(raw map[string]any) (Metadata, map[string]any) {
	meta := Metadata{
		App:             asString(raw["app"]),
		Copies:          asInt(raw["copies"]),
		ThreadsPerCopy:  asInt(raw["threads_per_copy"]),
		EventsPerThread: asInt(raw["events_per_thread"]),
	}
	stripped := make(map[string]any, len(raw))
	for k, v := range raw {
		stripped[k] = v
	}
	for _, k := range metadataKeys {
		delete(stripped, k)
	}
	return meta, stripped
}

// ParseRun reads, decodes, and reduces one run's summary artifact.
func ParseRun(runDir string, wl *config.Workload) (*RunReport, error) {
	path, err := FindSummary(runDir, wl.GlobPrefix())
	if err != nil {
		return nil, &Error{Err: err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &Error{Path: path, Raw: data, Err: err}
	}

	score, err := ReduceScore(raw, wl)
	if err != nil {
		return nil, &Error{Path: path, Raw: data, Err: err}
	}

	meta, stripped := ExtractMetadata(raw)
	return &RunReport{
		Score:    score,
		Meta:     meta,
		Report:   stripped,
		WLScores: wlScores(raw),
	}, nil
}

// ReduceScore normalizes each sub-benchmark raw score against its
// reference score (refscores iteration order, 4-decimal rounding) and
// returns the geometric mean of the normalized list, rounded to 4
// decimals.
func ReduceScore(raw map[string]any, wl *config.Workload) (float64, error) {
	normalized := make([]float64, 0, len(wl.RefScores))
	for _, ref := range wl.RefScores {
		v, err := subScore(raw, wl.ScoreKey, ref.Name, wl.SubKey)
		if err != nil {
			return 0, err
		}
		normalized = append(normalized, stats.Round(v/ref.Value, 4))
	}
	mean, err := stats.GeometricMean(normalized)
	if err != nil {
		return 0, err
	}
	return stats.Round(mean, 4), nil
}

// subScore digs out one sub-benchmark's raw value: raw[key][sub] when
// no subkey is configured, raw[key][sub][subkey] otherwise.
func subScore(raw map[string]any, key, sub, subKey string) (float64, error) {
	section, ok := raw[key].(map[string]any)
	if !ok {
		return 0, fmt.Errorf("missing score section %q", key)
	}
	v, ok := section[sub]
	if !ok {
		return 0, fmt.Errorf("missing sub-benchmark %q under %q", sub, key)
	}
	if subKey != "" {
		inner, ok := v.(map[string]any)
		if !ok {
			return 0, fmt.Errorf("sub-benchmark %q is not a mapping, cannot apply subkey %q", sub, subKey)
		}
		if v, ok = inner[subKey]; !ok {
			return 0, fmt.Errorf("missing subkey %q under sub-benchmark %q", subKey, sub)
		}
	}
	f, ok := asFloat(v)
	if !ok {
		return 0, fmt.Errorf("non-numeric score for sub-benchmark %q: %v", sub, v)
	}
	return f, nil
}

func wlScores(raw map[string]any) map[string]float64 {
	section, ok := raw["wl-scores"].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]float64, len(section))
	for k, v := range section {
		if f, ok := asFloat(v); ok {
			out[k] = f
		}
	}
	return out
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	f, ok := asFloat(v)
	if !ok {
		return 0
	}
	return int(f)
}
