// Package main is the entry point for the wsagent CLI.
package main

import (
	"os"

	"github.com/KafClaw/wsagent/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
