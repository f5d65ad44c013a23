package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bryceshirley/HEPScore/internal/config"
)

func newPrintConfCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "print-conf",
		Short: "Print the built-in default configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(strings.TrimSpace(config.DefaultYAML))
			return nil
		},
	}
}
