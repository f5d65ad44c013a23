package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bryceshirley/HEPScore/internal/backend"
	"github.com/bryceshirley/HEPScore/internal/config"
	"github.com/bryceshirley/HEPScore/internal/runner"
	"github.com/bryceshirley/HEPScore/internal/suite"
)

var (
	flagDocker      bool
	flagSingularity bool
	flagCopies      int
	flagOutfile     string
	flagFormat      string
	flagVerbose     bool
	flagReplay      bool
	flagParallel    int
	flagClean       bool
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [flags] OUTPUTDIR",
		Short: "Execute the benchmark suite",
		Args:  cobra.ExactArgs(1),
		RunE:  runSuite,
	}
	cmd.Flags().BoolVarP(&flagDocker, "docker", "d", false, "run benchmark containers in Docker")
	cmd.Flags().BoolVarP(&flagSingularity, "singularity", "s", false, "run benchmark containers in Singularity")
	cmd.Flags().IntVarP(&flagCopies, "copies", "c", 0, "sub-benchmark copies override (default: autodetect)")
	cmd.Flags().StringVarP(&flagOutfile, "outfile", "o", "", "alternate report file location")
	cmd.Flags().StringVar(&flagFormat, "format", "yaml", "report format (yaml, json)")
	cmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "display per-run component scores")
	cmd.Flags().BoolVar(&flagReplay, "replay", false, "skip container launches and synthesize no-op runs")
	cmd.Flags().IntVar(&flagParallel, "parallel", 1, "max concurrent repetitions of one workload")
	cmd.Flags().BoolVar(&flagClean, "clean", false, "archive and prune run directories after each workload")
	return cmd
}

// selectBackend resolves the mutually exclusive backend flags.
func selectBackend(docker, singularity, replay bool) (backend.Backend, config.Backend, error) {
	if replay {
		return &backend.Replay{}, config.BackendDocker, nil
	}
	switch {
	case docker && singularity:
		return nil, "", fmt.Errorf("--docker and --singularity are exclusive")
	case docker:
		return &backend.Docker{}, config.BackendDocker, nil
	case singularity:
		return &backend.Singularity{}, config.BackendSingularity, nil
	default:
		return nil, "", fmt.Errorf("must specify a run type (--docker or --singularity)")
	}
}

func runSuite(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return &ExitError{Code: 1, Err: err}
	}

	be, beName, err := selectBackend(flagDocker, flagSingularity, flagReplay)
	if err != nil {
		return &ExitError{Code: 1, Err: err}
	}
	cfg.Backend = beName
	cfg.ApplyCopies(flagCopies)

	outDir, err := suite.CreateOutputDir(args[0], cfg.Name)
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	fmt.Printf("%s Benchmark\n", cfg.Name)
	fmt.Printf("Version: %s\n", cfg.Version)
	if cfg.NCopies > 0 {
		fmt.Printf("Sub-benchmark NCOPIES: %d\n", cfg.NCopies)
	}
	fmt.Printf("Container Execution: %s\n", be.Name())
	fmt.Printf("Registry: %s\n", cfg.Registry)
	fmt.Printf("Output: %s\n\n", outDir)

	orch := &suite.Orchestrator{
		Config:   cfg,
		Backend:  be,
		OutDir:   outDir,
		Verbose:  flagVerbose,
		Parallel: flagParallel,
		Clean:    flagClean,
	}
	report, err := orch.Run(context.Background())
	if err != nil {
		return &ExitError{Code: 2, Err: err}
	}

	outfile := flagOutfile
	if outfile == "" {
		ext := "yaml"
		if flagFormat == "json" {
			ext = "json"
		}
		outfile = filepath.Join(outDir, cfg.Name+"."+ext)
	}
	if err := suite.WriteReport(report, outfile, flagFormat); err != nil {
		return &ExitError{Code: 3, Err: err}
	}

	if report.Score.Valid {
		fmt.Printf("\nFinal result: %v\n", report.Score.Value)
	} else {
		fmt.Println("\nFinal result: invalid")
	}
	if report.Status != string(runner.StatusSuccess) {
		return &ExitError{Code: 2, Err: fmt.Errorf("suite failed (workload %s)", report.FailedWorkload)}
	}
	return nil
}
