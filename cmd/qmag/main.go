package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/quatton/qmag/cmd/qmag/cmd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "qmag crashed: %v\n", r)
			if os.Getenv("QMAG_DEBUG") != "" {
				debug.PrintStack()
			}
			os.Exit(2)
		}
	}()

	cmd.Execute()
}
