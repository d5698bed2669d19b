// Command schedmail schedules messages and runs the dispatch engine.
package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "schedmail:", err)
		os.Exit(1)
	}
}
