// Package main is the entry point for the Guardian incident pipeline.
package main

import (
	"fmt"
	"os"

	"guardian/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
