package main

import (
	"fmt"
	"os"

	"github.com/rewindhq/rewind/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "rewind: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
