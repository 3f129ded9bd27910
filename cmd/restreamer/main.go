// Command restreamer is the control-plane binary: it loads settings,
// boots every internal subsystem and serves the API described in §6
// until SIGTERM/SIGINT.
package main

import (
	"fmt"
	"os"

	"github.com/mrecords121/ephyr/cmd/restreamer/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cmd.ExitCodeFor(err))
	}
}
