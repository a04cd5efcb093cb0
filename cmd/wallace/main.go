// Command wallace serves networked experiments and reconciles crowdsourcing
// platform notifications against participant state.
package main

import (
	"fmt"
	"os"

	"github.com/wallace-lab/wallace/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
