// Package main is the entry point of the valuation server.
package main

import (
	"fmt"
	"os"

	"appraisal/server/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
