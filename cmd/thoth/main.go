// Package main provides the entry point for the thoth CLI.
package main

import (
	"os"

	"github.com/thothlabs/thoth/cmd/thoth/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
