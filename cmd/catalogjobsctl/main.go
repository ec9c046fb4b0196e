// catalogjobsctl is the CLI for submitting, inspecting, and cancelling
// catalog jobs against the same backing store catalogjobsd runs against.
package main

import (
	"fmt"
	"os"

	"github.com/lumina-project/catalogjobs/cmd/catalogjobsctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
