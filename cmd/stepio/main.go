package main

import (
	"os"

	"github.com/kilupskalvis/stepio/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
