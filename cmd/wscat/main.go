package main

import (
	"os"

	"github.com/lawnchairsociety/wscat/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
