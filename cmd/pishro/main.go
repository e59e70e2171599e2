package main

import (
	"fmt"
	"os"

	"github.com/siavashoutadi/pishro-lib/internal/cli"
)

// Exit codes
const (
	ExitSuccess = 0
	ExitError   = 1
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	build := cli.BuildInfo{
		Version:   Version,
		BuildTime: BuildTime,
	}
	// The root command silences cobra's own error printing, so the error
	// surfaces exactly once here.
	if err := cli.Execute(os.Args[1:], build); err != nil {
		fmt.Fprintf(os.Stderr, "pishro: %v\n", err)
		return ExitError
	}
	return ExitSuccess
}
