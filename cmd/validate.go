package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bryceshirley/HEPScore/internal/config"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration and print its provenance hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return &ExitError{Code: 1, Err: err}
			}
			hash, err := cfg.Hash()
			if err != nil {
				return &ExitError{Code: 1, Err: err}
			}
			fmt.Printf("%s %s: %d benchmarks, %d repetitions\n", cfg.Name, cfg.Version, len(cfg.Benchmarks), cfg.Repetitions)
			fmt.Printf("Config hash: %s\n", hash)
			return nil
		},
	}
}
