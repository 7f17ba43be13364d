// Command entsync runs the entity synchronization hub and its tooling.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/entsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
