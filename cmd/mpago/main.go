// Package main is the entry point for the mpago IPC daemon and CLI.
package main

import (
	"os"

	"github.com/mpago/mpago/cmd/mpago/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
