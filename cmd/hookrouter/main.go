// Package main is the hookrouter binary registered as the single hook
// command with the host runtime.
package main

import (
	"os"

	"github.com/oremus-labs/ol-hook-router/internal/routercli"
)

func main() {
	os.Exit(routercli.Execute())
}
