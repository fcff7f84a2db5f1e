package main

import (
	"fmt"
	"os"

	"github.com/erp/catalogsync/internal/interfaces/cli"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := cli.RootCmd(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
