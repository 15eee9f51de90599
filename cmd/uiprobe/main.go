package main

import "os"

var version = "dev"

func main() {
	if err := newRootCmd(version).Execute(); err != nil {
		// Cobra prints the error, we just exit non-zero
		os.Exit(1)
	}
}
