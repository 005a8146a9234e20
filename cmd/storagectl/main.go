package main

import (
	"os"

	"github.com/raptscallions/storage/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
