// Package main is the entry point for the hlsindex CLI.
package main

import (
	"os"

	"github.com/jmylchreest/hlsindex/cmd/hlsindex/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
