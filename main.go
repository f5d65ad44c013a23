package main

import (
	"errors"
	"os"

	"github.com/bryceshirley/HEPScore/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		var ee *cmd.ExitError
		if errors.As(err, &ee) {
			os.Exit(ee.Code)
		}
		os.Exit(1)
	}
}
