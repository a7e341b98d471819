// Package main is the entry point for the udpin UDP ingestion daemon.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/udpin/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
