package main

import (
	"fmt"
	"os"

	"fbtenant/internal/cli"
)

// Set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.SetVersionInfo(version, commit, date)
	if err := cli.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "fbtenant: %v\n", err)
		os.Exit(1)
	}
}
