package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/leadflow/pkg/catalog"
	"github.com/dukex/leadflow/pkg/coordinator"
	"github.com/dukex/leadflow/pkg/dispatcher"
	"github.com/dukex/leadflow/pkg/engine"
	"github.com/dukex/leadflow/pkg/eventbus"
	"github.com/dukex/leadflow/pkg/logstream"
	"github.com/dukex/leadflow/pkg/metrics"
	"github.com/dukex/leadflow/pkg/nodes/email"
	"github.com/dukex/leadflow/pkg/otelhelper"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/dukex/leadflow/pkg/registry"
	"github.com/dukex/leadflow/pkg/retry"
	"github.com/dukex/leadflow/pkg/services"
	"github.com/dukex/leadflow/pkg/triggers/queue"
	"github.com/dukex/leadflow/pkg/triggers/schedule"
	"github.com/dukex/leadflow/pkg/triggers/topic"
	"github.com/dukex/leadflow/pkg/web"
	"github.com/gofiber/fiber/v3"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	// Registers the "postgres" driver for the db-query node.
	_ "github.com/lib/pq"
)

const shutdownTimeout = 30 * time.Second

type Config struct {
	Port        int
	DatabaseURL string
	// QueryDatabaseURL is the database db-query nodes read; empty disables the kind.
	QueryDatabaseURL string

	EventBus     string
	KafkaBrokers string
	// RedisURL enables queue ingress; empty disables it.
	RedisURL   string
	RedisQueue string

	MaxConcurrentPerTenant int
	NodeTimeout            time.Duration
	WebhookRate            float64
	WebhookBurst           int

	SMTPAddr     string
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	OTELEnabled bool
	SeedCatalog bool
}

// Server owns every long-lived component of a leadflow process.
type Server struct {
	logger *slog.Logger
	config Config

	persistence persistence.Persistence
	transport   *Transport
	bus         *eventbus.WatermillEventBus
	queryDB     *sql.DB
	redis       *redis.Client
	traces      otelhelper.ShutdownFunc

	gatherer    *prometheus.Registry
	collector   *metrics.Collector
	registry    *registry.Registry
	stream      *logstream.Stream
	retries     *retry.Scheduler
	engine      *engine.Engine
	fleet       *dispatcher.Dispatcher
	coordinator *coordinator.Coordinator
	handlers    *web.APIHandlers
}

func NewServer(ctx context.Context, logger *slog.Logger, config Config) (*Server, error) {
	s := &Server{logger: logger, config: config}

	err := s.open(ctx)
	if err != nil {
		closeErr := s.Close(ctx)
		if closeErr != nil {
			logger.ErrorContext(ctx, "Failed to release partially opened server", "error", closeErr)
		}

		return nil, err
	}

	return s, nil
}

func (s *Server) open(ctx context.Context) error {
	var err error

	s.persistence, err = NewPersistence(ctx, s.logger, s.config.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open persistence: %w", err)
	}

	s.transport, err = NewTransport(s.logger, s.config.EventBus, s.config.KafkaBrokers)
	if err != nil {
		return err
	}

	s.bus = s.transport.EventBus(s.logger)

	if s.config.QueryDatabaseURL != "" {
		s.queryDB, err = sql.Open("postgres", s.config.QueryDatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open query database: %w", err)
		}
	}

	if s.config.RedisURL != "" {
		options, err := redis.ParseURL(s.config.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}

		s.redis = redis.NewClient(options)
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, "leadflow", s.config.OTELEnabled)
	if err != nil {
		return fmt.Errorf("failed to initialize tracer: %w", err)
	}

	s.traces = shutdown

	s.gatherer = prometheus.NewRegistry()
	s.gatherer.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.collector = metrics.NewCollector(s.gatherer)

	clock := clockwork.NewRealClock()
	s.fleet = dispatcher.New(s.logger, s.collector)
	agentExecutor := dispatcher.NewHTTPExecutor(nil)

	var mailer email.Mailer
	if s.config.SMTPAddr != "" {
		mailer = &email.SMTPMailer{
			Addr:     s.config.SMTPAddr,
			Username: s.config.SMTPUsername,
			Password: s.config.SMTPPassword,
			From:     s.config.SMTPFrom,
		}
	}

	s.registry = NewRegistry(s.logger, NodeDeps{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		DB:         s.queryDB,
		Mailer:     mailer,
		Publisher:  s.transport.Publisher,
		Dispatcher: s.fleet,
	})

	s.stream = logstream.New(s.logger, s.persistence.LogRepository(), s.persistence.ExecutionRepository(), clock)
	s.retries = retry.NewScheduler(clock)

	engineConfig := engine.DefaultConfig()
	engineConfig.MaxConcurrentPerTenant = s.config.MaxConcurrentPerTenant

	if s.config.NodeTimeout > 0 {
		engineConfig.NodeTimeout = s.config.NodeTimeout
	}

	s.engine = engine.New(engine.Deps{
		Logger:     s.logger,
		Workflows:  s.persistence.WorkflowRepository(),
		Executions: s.persistence.ExecutionRepository(),
		Handlers:   s.registry,
		Logs:       s.stream,
		Retries:    retry.NewManager(s.logger, s.stream, retry.DefaultConfig()),
		Scheduler:  s.retries,
		Publisher:  s.bus,
		Metrics:    s.collector,
		Tracer:     tracer,
		Clock:      clock,
	}, engineConfig)

	s.coordinator = coordinator.New(s.logger, s.persistence.OrchestrationRepository(), clock)

	err = s.fleet.Sync(ctx, s.persistence.AgentRepository(), agentExecutor)
	if err != nil {
		return fmt.Errorf("failed to load agents: %w", err)
	}

	templates := services.NewTemplates(s.persistence)

	if s.config.SeedCatalog {
		added, err := catalog.Seed(ctx, templates)
		if err != nil {
			return err
		}

		s.logger.InfoContext(ctx, "Seeded template catalog", "added", added)
	}

	s.handlers = web.NewAPIHandlers(web.Deps{
		Logger:         s.logger,
		Workflows:      services.NewWorkflow(s.persistence),
		Templates:      templates,
		Agents:         services.NewAgents(s.persistence, s.fleet, agentExecutor),
		Engine:         s.engine,
		Logs:           s.stream,
		Orchestrations: s.coordinator,
		Registry:       s.registry,
		Metrics:        s.collector,
		WebhookLimiter: web.NewTenantLimiter(s.config.WebhookRate, s.config.WebhookBurst),
	})

	return nil
}

func (s *Server) App() *fiber.App {
	return web.App(s.handlers, s.gatherer)
}

// Run serves the API, the trigger ingress and the coordinator until ctx is done or one of them
// fails, then drains the engine.
func (s *Server) Run(ctx context.Context) error {
	err := s.coordinator.Subscribe(s.bus)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	err = s.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to execution events: %w", err)
	}

	app := s.App()

	g.Go(func() error {
		s.logger.InfoContext(ctx, "Starting API", "port", s.config.Port)

		return app.Listen(":"+strconv.Itoa(s.config.Port), fiber.ListenConfig{DisableStartupMessage: true})
	})

	g.Go(func() error {
		<-ctx.Done()

		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	g.Go(func() error {
		return schedule.New(s.logger, s.persistence.WorkflowRepository(), s.engine, schedule.DefaultResyncInterval).Run(ctx)
	})

	g.Go(func() error {
		return topic.NewConsumer(s.logger, s.transport.Subscriber, s.engine).Run(ctx)
	})

	if s.redis != nil {
		g.Go(func() error {
			return queue.NewConsumer(s.logger, s.redis, s.engine, s.config.RedisQueue).Run(ctx)
		})
	}

	runErr := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err = s.engine.Shutdown(drainCtx)
	if err != nil {
		s.logger.ErrorContext(drainCtx, "Engine did not drain", "error", err)
	}

	if errors.Is(runErr, context.Canceled) {
		return nil
	}

	return runErr
}

// Close releases every opened resource. It is safe on a partially opened server.
func (s *Server) Close(ctx context.Context) error {
	var errs []error

	if s.retries != nil {
		s.retries.Stop()
	}

	if s.bus != nil {
		errs = append(errs, s.bus.Close())
	} else if s.transport != nil {
		errs = append(errs, s.transport.Close())
	}

	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}

	if s.queryDB != nil {
		errs = append(errs, s.queryDB.Close())
	}

	if s.traces != nil {
		errs = append(errs, s.traces(ctx))
	}

	if s.persistence != nil {
		errs = append(errs, s.persistence.Close(ctx))
	}

	return errors.Join(errs...)
}
