package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fleetkeeper/fleetkeeper/cmd/fleetkeeper/app"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/code"
)

func main() {
	cmd := app.NewFleetkeeperCommand(context.Background())
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(code.ExitCode(err))
	}
}
