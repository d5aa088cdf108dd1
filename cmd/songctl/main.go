package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:  "songctl",
		Usage: "Upload songs to a songdrop library from the command line",
		Commands: []*cli.Command{
			uploadCommand(),
			tokenCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "songctl: %v\n", err)
		os.Exit(1)
	}
}
