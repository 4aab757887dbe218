// Command gominlp solves mixed-integer nonlinear programs described in YAML files.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
