package main

import (
	"context"
	"fmt"
	"os"

	"tradeshare/internal/cli"
	"tradeshare/internal/logging"
)

func main() {
	// Replaced by the configured logger once config is loaded.
	logger := logging.NewLoggerWithConfig(logging.LogConfig{Level: "warn", Console: true})

	root := cli.NewRootCmd(logger)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}
