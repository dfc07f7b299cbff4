// The main package for the rankcrawl executable.
package main

import (
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/rankcrawl/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	if err := cmd.Execute(os.Args[1:]); err != nil {
		zap.Must(zap.NewProduction()).Fatal("command execution failed", zap.Error(err))
	}
}
