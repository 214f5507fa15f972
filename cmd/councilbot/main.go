// Package main is the entry point for the councilbot CLI.
package main

import (
	"os"

	"github.com/councilbot/councilbot/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
