package main

import (
	"os"

	"github.com/ctagard/debugctl/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
