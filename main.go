package main

import (
	"context"
	"os"

	"erp_wa/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
