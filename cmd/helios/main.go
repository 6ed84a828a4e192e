package main

import (
	"os"

	"github.com/helios-quant/backend/cmd/helios/commands"
)

// main is the entry point for the Helios CLI
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
