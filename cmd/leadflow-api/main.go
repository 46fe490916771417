// Package main runs the leadflow server: API, execution engine, trigger ingress and coordinator.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/leadflow/pkg/cmd"
	"github.com/dukex/leadflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "leadflow-api",
		Usage:                 "Serve the leadflow workflow API and execution engine",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Persistence URL: a directory, file://dir or postgres://...",
				Value:   "./data",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "query-database-url",
				Usage:   "PostgreSQL URL db-query nodes run against",
				Sources: cli.EnvVars("QUERY_DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus transport (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for queue ingress; empty disables it",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-queue",
				Usage:   "Redis list holding run requests",
				Value:   "leadflow:runs",
				Sources: cli.EnvVars("REDIS_QUEUE"),
			},
			&cli.IntFlag{
				Name:    "max-concurrent-per-tenant",
				Usage:   "Active executions allowed per tenant, 0 for unbounded",
				Value:   0,
				Sources: cli.EnvVars("MAX_CONCURRENT_PER_TENANT"),
			},
			&cli.DurationFlag{
				Name:    "node-timeout",
				Usage:   "Default timeout of one node handler call",
				Value:   30 * time.Second,
				Sources: cli.EnvVars("NODE_TIMEOUT"),
			},
			&cli.FloatFlag{
				Name:    "webhook-rate",
				Usage:   "Webhook calls per second allowed per tenant, 0 for unlimited",
				Value:   10,
				Sources: cli.EnvVars("WEBHOOK_RATE"),
			},
			&cli.IntFlag{
				Name:    "webhook-burst",
				Usage:   "Webhook burst size per tenant",
				Value:   20,
				Sources: cli.EnvVars("WEBHOOK_BURST"),
			},
			&cli.StringFlag{
				Name:    "smtp-addr",
				Usage:   "SMTP relay host:port; empty disables email-send nodes",
				Sources: cli.EnvVars("SMTP_ADDR"),
			},
			&cli.StringFlag{
				Name:    "smtp-username",
				Sources: cli.EnvVars("SMTP_USERNAME"),
			},
			&cli.StringFlag{
				Name:    "smtp-password",
				Sources: cli.EnvVars("SMTP_PASSWORD"),
			},
			&cli.StringFlag{
				Name:    "smtp-from",
				Value:   "leadflow@localhost",
				Sources: cli.EnvVars("SMTP_FROM"),
			},
			&cli.BoolFlag{
				Name:    "seed-catalog",
				Usage:   "Publish the built-in template catalog on start",
				Value:   true,
				Sources: cli.EnvVars("SEED_CATALOG"),
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("api")
			logger.InfoContext(ctx, "Initializing leadflow")

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			server, err := cmd.NewServer(ctx, logger, cmd.Config{
				Port:                   int(command.Int("port")),
				DatabaseURL:            command.String("database-url"),
				QueryDatabaseURL:       command.String("query-database-url"),
				EventBus:               command.String("event-bus"),
				KafkaBrokers:           command.String("kafka-brokers"),
				RedisURL:               command.String("redis-url"),
				RedisQueue:             command.String("redis-queue"),
				MaxConcurrentPerTenant: int(command.Int("max-concurrent-per-tenant")),
				NodeTimeout:            command.Duration("node-timeout"),
				WebhookRate:            command.Float("webhook-rate"),
				WebhookBurst:           int(command.Int("webhook-burst")),
				SMTPAddr:               command.String("smtp-addr"),
				SMTPUsername:           command.String("smtp-username"),
				SMTPPassword:           command.String("smtp-password"),
				SMTPFrom:               command.String("smtp-from"),
				OTELEnabled:            command.Bool("otel-enabled"),
				SeedCatalog:            command.Bool("seed-catalog"),
			})
			if err != nil {
				return err
			}

			defer func() {
				err := server.Close(context.Background())
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close server", "error", err)
				}
			}()

			return server.Run(ctx)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("api").Error("leadflow-api stopped", "error", err)
		os.Exit(1)
	}
}
