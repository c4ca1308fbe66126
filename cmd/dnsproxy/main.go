// DNS proxy entrypoint - delegates to cli.NewServeCommand.
package main

import (
	"fmt"
	"os"

	"github.com/sudo-tiz/dns-proxy-go/internal/cli"
)

func main() {
	cmd := cli.NewServeCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
