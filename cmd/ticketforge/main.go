// Command ticketforge runs the ticket assessment and job splitting pipeline.
package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ticketforge:", err)
		os.Exit(1)
	}
}
