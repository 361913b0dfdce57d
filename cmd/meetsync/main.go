package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/agentworkforce/meetsync/internal/cli"
	"github.com/agentworkforce/meetsync/internal/config"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := cli.NewRootCmd(cli.Dependencies{})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	switch {
	case err == nil:
		return 0
	case errors.Is(err, config.ErrInvalid):
		fmt.Fprintf(os.Stderr, "meetsync: %v\n", err)
		return 2
	default:
		fmt.Fprintf(os.Stderr, "meetsync: %v\n", err)
		return 1
	}
}
