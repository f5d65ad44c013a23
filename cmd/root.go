package cmd

import (
	"github.com/spf13/cobra"
)

var cfgFile string

// ExitError carries the process exit code for a failed command:
// 1 for configuration errors, 2 for run or suite failures, 3 when the
// final report cannot be written.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "hepscore",
		Short: "Benchmark suite orchestrator for containerized HEP workloads",
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "f", "", "YAML configuration file (default: built-in)")
	root.AddCommand(newRunCmd())
	root.AddCommand(newPrintConfCmd())
	root.AddCommand(newValidateCmd())
	return root
}
