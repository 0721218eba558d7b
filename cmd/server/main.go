package main

import (
	"os"

	"github.com/muk365/whiteboard/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
