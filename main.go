package main

import (
	"os"

	"github.com/udisondev/peerview/cmd/peerview/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
