package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Method selects the statistical reducer used to compose the suite
// score. Only the geometric mean is supported; the set is closed and
// validated at load time.
type Method string

const MethodGeometricMean Method = "geometric_mean"

// Backend names the container-execution mechanism.
type Backend string

const (
	BackendDocker      Backend = "docker"
	BackendSingularity Backend = "singularity"
)

type Config struct {
	Name             string       `yaml:"name" json:"name"`
	Version          string       `yaml:"version" json:"version"`
	Repetitions      int          `yaml:"repetitions" json:"repetitions"`
	ReferenceMachine string       `yaml:"reference_machine" json:"reference_machine"`
	Method           Method       `yaml:"method" json:"method"`
	Scaling          *float64     `yaml:"scaling" json:"scaling"`
	AllowFail        bool         `yaml:"allow_fail" json:"allow_fail"`
	Registry         string       `yaml:"registry" json:"registry"`
	Benchmarks       WorkloadList `yaml:"benchmarks" json:"benchmarks"`

	// Backend is chosen on the command line, not in the YAML document,
	// but is part of the normalized configuration that gets hashed.
	Backend Backend `yaml:"-" json:"backend"`
	// NCopies is the command-line copies override (0 = autodetect).
	NCopies int `yaml:"-" json:"ncopies"`
}

// Workload is one benchmark container image entry in the suite.
type Workload struct {
	Name      string    `yaml:"-" json:"name"`
	Version   string    `yaml:"version" json:"version"`
	ScoreKey  string    `yaml:"scorekey" json:"scorekey"`
	SubKey    string    `yaml:"subkey" json:"subkey,omitempty"`
	Options   Options   `yaml:"options" json:"options"`
	RefScores RefScores `yaml:"refscores" json:"refscores"`
}

// Options are the per-workload container arguments. Zero values are the
// "unset" sentinels and produce no command-line flag.
type Options struct {
	Debug   bool `yaml:"debug" json:"debug"`
	Threads int  `yaml:"threads" json:"threads"`
	Events  int  `yaml:"events" json:"events"`
	Copies  int  `yaml:"copies" json:"copies"`
}

// RefScore is one sub-benchmark's reference baseline.
type RefScore struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// RefScores preserves the document order of the refscores mapping.
// Normalized sub-scores are iterated in this order, so it is
// contractual and a plain Go map would lose it.
type RefScores []RefScore

func (r *RefScores) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("refscores must be a mapping")
	}
	out := make(RefScores, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var name string
		var val float64
		if err := node.Content[i].Decode(&name); err != nil {
			return fmt.Errorf("refscores key: %w", err)
		}
		if err := node.Content[i+1].Decode(&val); err != nil {
			return fmt.Errorf("refscore %q must be numeric: %w", name, err)
		}
		out = append(out, RefScore{Name: name, Value: val})
	}
	*r = out
	return nil
}

// Lookup returns the reference value for a sub-benchmark name.
func (r RefScores) Lookup(name string) (float64, bool) {
	for _, s := range r {
		if s.Name == name {
			return s.Value, true
		}
	}
	return 0, false
}

// WorkloadList preserves the declaration order of the benchmarks
// mapping; workloads run and compose in this order.
type WorkloadList []Workload

func (w *WorkloadList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("benchmarks must be a mapping")
	}
	out := make(WorkloadList, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var wl Workload
		if err := node.Content[i].Decode(&wl.Name); err != nil {
			return fmt.Errorf("benchmark name: %w", err)
		}
		if err := node.Content[i+1].Decode(&wl); err != nil {
			return fmt.Errorf("benchmark %q: %w", wl.Name, err)
		}
		out = append(out, wl)
	}
	*w = out
	return nil
}

// GlobPrefix derives the artifact search prefix from the workload name:
// the name with its trailing "-<suffix>" token removed. The kv-bmk
// workload writes artifacts under a fixed literal prefix instead.
func (w *Workload) GlobPrefix() string {
	if w.Name == "kv-bmk" {
		return "test_"
	}
	parts := strings.Split(w.Name, "-")
	return strings.Join(parts[:len(parts)-1], "-")
}

// Image is the fully qualified container image reference.
func (w *Workload) Image(registry string) string {
	return registry + "/" + w.Name + ":" + w.Version
}

// ScalingOrDefault returns the configured scaling factor, defaulting
// to 1.0 when absent.
func (c *Config) ScalingOrDefault() float64 {
	if c.Scaling == nil {
		return 1.0
	}
	return *c.Scaling
}

// ApplyCopies sets the command-line copies override on every workload
// that does not pin its own copies count.
func (c *Config) ApplyCopies(n int) {
	if n <= 0 {
		return
	}
	c.NCopies = n
	for i := range c.Benchmarks {
		if c.Benchmarks[i].Options.Copies == 0 {
			c.Benchmarks[i].Options.Copies = n
		}
	}
}

type document struct {
	Suite *Config `yaml:"hepscore_benchmark"`
}

// Load reads and validates a suite configuration. An empty path loads
// the built-in default configuration.
func Load(path string) (*Config, error) {
	if path == "" {
		return Parse([]byte(DefaultYAML))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a YAML suite configuration.
func Parse(data []byte) (*Config, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}
	if doc.Suite == nil {
		return nil, fmt.Errorf("missing hepscore_benchmark section")
	}
	if err := validate(doc.Suite); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return doc.Suite, nil
}

var (
	nameRe     = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	registryRe = regexp.MustCompile(`^[a-zA-Z0-9._~:/-]+$`)
)

func validate(cfg *Config) error {
	if cfg.Name == "" {
		return fmt.Errorf("name is required")
	}
	if cfg.Version == "" {
		return fmt.Errorf("version is required")
	}
	if cfg.Repetitions < 1 {
		return fmt.Errorf("repetitions must be at least 1")
	}
	if cfg.Method != MethodGeometricMean {
		return fmt.Errorf("only %q method is supported, got %q", MethodGeometricMean, cfg.Method)
	}
	if cfg.Registry == "" {
		return fmt.Errorf("registry is required")
	}
	if !registryRe.MatchString(cfg.Registry) {
		return fmt.Errorf("illegal characters in registry %q", cfg.Registry)
	}
	if len(cfg.Benchmarks) == 0 {
		return fmt.Errorf("no benchmarks defined")
	}
	seen := make(map[string]bool, len(cfg.Benchmarks))
	for i := range cfg.Benchmarks {
		wl := &cfg.Benchmarks[i]
		if err := validateWorkload(wl); err != nil {
			return err
		}
		if seen[wl.Name] {
			return fmt.Errorf("duplicate benchmark %q", wl.Name)
		}
		seen[wl.Name] = true
	}
	return nil
}

func validateWorkload(wl *Workload) error {
	if wl.Name == "" {
		return fmt.Errorf("benchmark name is required")
	}
	if !nameRe.MatchString(wl.Name) {
		return fmt.Errorf("illegal characters in benchmark name %q", wl.Name)
	}
	if !strings.Contains(wl.Name, "-") {
		return fmt.Errorf("benchmark name %q must contain at least one '-'", wl.Name)
	}
	if wl.Version == "" {
		return fmt.Errorf("benchmark %q: version is required", wl.Name)
	}
	if wl.ScoreKey == "" {
		return fmt.Errorf("benchmark %q: scorekey is required", wl.Name)
	}
	if len(wl.RefScores) == 0 {
		return fmt.Errorf("benchmark %q: refscores is required and must be non-empty", wl.Name)
	}
	refSeen := make(map[string]bool, len(wl.RefScores))
	for _, ref := range wl.RefScores {
		if ref.Name == "" {
			return fmt.Errorf("benchmark %q: empty refscore name", wl.Name)
		}
		if refSeen[ref.Name] {
			return fmt.Errorf("benchmark %q: duplicate refscore %q", wl.Name, ref.Name)
		}
		refSeen[ref.Name] = true
		if ref.Value <= 0 {
			return fmt.Errorf("benchmark %q: refscore %q must be positive, got %v", wl.Name, ref.Name, ref.Value)
		}
	}
	if wl.Options.Threads < 0 || wl.Options.Events < 0 || wl.Options.Copies < 0 {
		return fmt.Errorf("benchmark %q: option values must not be negative", wl.Name)
	}
	return nil
}
