// Command coredb is a small inspection and benchmarking CLI over the
// storage core: raw page dumps and a throughput microbenchmark for the
// buffer pool and B+Tree.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "coredb",
		Short: "Inspect and benchmark the coredb storage core",
	}

	root.AddCommand(newInspectPageCmd())
	root.AddCommand(newBenchCmd())
	return root
}
