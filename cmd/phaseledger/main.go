// Command phaseledger runs agent pipelines and validates their traces.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/phaseledger/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
