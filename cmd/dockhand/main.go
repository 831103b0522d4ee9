// Package main is the entry point for the dockhand CLI binary.
package main

import (
	"os"

	"github.com/irahardianto/dockhand/cmd/dockhand/commands"
)

func main() {
	os.Exit(commands.Execute())
}
