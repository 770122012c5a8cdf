package main

import (
	"fmt"
	"os"

	"github.com/example/neuroscan/internal/cli"
)

// version is set by ldflags at build time.
var version = "dev"

func main() {
	if err := cli.NewRootCommand(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
