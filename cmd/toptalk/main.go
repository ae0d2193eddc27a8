package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set via `go build -ldflags` during a release.
var Version = "local"

func main() {
	root := cobra.Command{
		Use:     "toptalk",
		Short:   "Real-time top talker flow accounting",
		Version: Version,
	}

	root.AddCommand(
		newRunCommand(),
		newReplayCommand(),
		newSubscribeCommand(),
		newTopCommand(),
		newGenCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
