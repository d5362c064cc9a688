// Command ticketfs mounts a cached issue-tracker view as a FUSE
// filesystem. See internal/cmd for the subcommand implementations.
package main

import (
	"fmt"
	"os"

	"github.com/ticketfs/ticketfs/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
