package main

import (
	"os"

	"github.com/abramin/namelens/cmd/namelens/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
