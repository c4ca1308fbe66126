// Telemetry worker entrypoint - delegates to cli.NewTelemetryWorkerCommand.
package main

import (
	"fmt"
	"os"

	"github.com/sudo-tiz/dns-proxy-go/internal/cli"
)

func main() {
	cmd := cli.NewTelemetryWorkerCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
