// Command spyglass runs the editor integration hub.
package main

import (
	"os"

	"github.com/spyglass-ide/spyglass/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
