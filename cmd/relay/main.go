package main

import (
	"os"

	"github.com/relaygo/relay/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
