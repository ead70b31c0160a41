package main

import (
	"os"

	"github.com/rankforge/rsengine/cmd/rsengine/commands"
)

// main is the entry point for the rsengine CLI
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
