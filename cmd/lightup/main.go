// Package main provides the entry point for the lightup CLI.
package main

import (
	"os"

	"github.com/lightupdev/lightup/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
