// Command xferharness runs end-to-end scenarios against a file-transfer
// server and client built elsewhere.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/xferharness/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil && !cli.IsReported(err) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(cli.GetExitCode(err))
}
