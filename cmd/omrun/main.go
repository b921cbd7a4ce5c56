// Command omrun loads an offline model on an accelerator runtime, runs it over
// raw tensor files and reports the top-k elements of every output.
package main

import (
	"fmt"
	"os"

	_ "omrun/internal/acl/ortrt"
	_ "omrun/internal/acl/sim"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := buildRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "omrun:", err)
		os.Exit(1)
	}
}
