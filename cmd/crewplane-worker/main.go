// Package main provides the crewplane worker, which runs submitted jobs.
package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "crewplane-worker",
		EnableShellCompletion: true,
		Usage:                 "Run submitted crew jobs and record their traces",
		Commands: []*cli.Command{
			NewValidateCommand(),
		},
		Flags:  workerFlags(),
		Action: runWorker,
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
