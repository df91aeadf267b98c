// Package main is the entry point for the tubemux application.
package main

import (
	"os"

	"github.com/tubemux/tubemux/cmd/tubemux/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
