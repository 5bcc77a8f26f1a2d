package main

import (
	"os"

	"github.com/zero-day-ai/falkordb-go/internal/cli"
)

func main() {
	cmd := cli.NewRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
