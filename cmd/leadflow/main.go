// Package main is the leadflow operator CLI.
package main

import (
	"context"
	"fmt"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:                  "leadflow",
		Usage:                 "Inspect templates, check workflows and enqueue runs",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			{
				Name:  "catalog",
				Usage: "List the built-in workflow templates",
				Action: func(_ context.Context, command *cli.Command) error {
					return listCatalog(command.Root().Writer)
				},
			},
			{
				Name:      "validate",
				Usage:     "Check a workflow definition file for graph errors",
				ArgsUsage: "<workflow.json>",
				Action: func(_ context.Context, command *cli.Command) error {
					path := command.Args().First()
					if path == "" {
						return cli.Exit("a workflow file is required", 2)
					}

					f, err := os.Open(path)
					if err != nil {
						return err
					}
					defer f.Close()

					return validateWorkflow(f, command.Root().Writer)
				},
			},
			{
				Name:  "enqueue",
				Usage: "Push a run request onto the redis ingress queue",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "redis-url",
						Value:   "redis://localhost:6379/0",
						Sources: cli.EnvVars("REDIS_URL"),
					},
					&cli.StringFlag{
						Name:    "queue",
						Value:   "leadflow:runs",
						Sources: cli.EnvVars("REDIS_QUEUE"),
					},
					&cli.StringFlag{Name: "workflow", Aliases: []string{"w"}, Required: true},
					&cli.StringFlag{Name: "tenant", Aliases: []string{"t"}, Required: true},
					&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "JSON object used as trigger input", Value: "{}"},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					return enqueue(ctx, command.String("redis-url"), command.String("queue"), enqueueRequest{
						WorkflowID: command.String("workflow"),
						TenantID:   command.String("tenant"),
						Input:      command.String("input"),
					}, command.Root().Writer)
				},
			},
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
