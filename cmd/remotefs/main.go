package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/moby/sys/reexec"

	"github.com/sdejongh/remotefs/internal/cli"
)

func main() {
	// The binary doubles as the privilege isolation worker
	if reexec.Init() {
		return
	}

	if err := cli.NewRootCommand().Execute(); err != nil {
		var exit *cli.ExitError
		if errors.As(err, &exit) {
			if exit.Err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", exit.Err)
			}
			os.Exit(exit.Code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
}
