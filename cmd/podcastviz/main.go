package main

import (
	"fmt"
	"os"

	"github.com/codebuildervaibhav/podcast-animator/internal/cli"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	deps := &cli.Dependencies{}
	return cli.NewRootCmd(deps).Execute()
}
