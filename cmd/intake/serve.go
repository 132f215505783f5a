package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Ramsey-B/intake/config"
	"github.com/Ramsey-B/intake/internal/server"
	"github.com/Ramsey-B/intake/pkg/draft"
	"github.com/Ramsey-B/intake/pkg/events"
	"github.com/Ramsey-B/intake/pkg/health"
	"github.com/Ramsey-B/intake/pkg/httpclient"
	"github.com/Ramsey-B/intake/pkg/redis"
	"github.com/Ramsey-B/intake/pkg/startup"
	"github.com/Ramsey-B/intake/pkg/submission"
	"github.com/Ramsey-B/intake/pkg/tracing"
	"github.com/Ramsey-B/intake/pkg/wizard"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the application wizard API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

// app holds what the startup dependencies build for each other
type app struct {
	cfg      *config.Config
	checker  *health.Checker
	provider *sdktrace.TracerProvider
	redis    *redis.Client
	storage  draft.Storage
	guard    submission.Guard
	producer *events.Producer
	sessions *wizard.Manager
	echo     *echo.Echo
	stopRun  context.CancelFunc
}

func serve(ctx context.Context, cfg *config.Config) error {
	a := &app{cfg: cfg, checker: health.NewChecker(cfg.Version)}

	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	boot.AddDependency(startup.Dependency{Name: "tracing", OnStart: a.startTracing, OnStop: a.stopTracing})
	boot.AddDependency(startup.Dependency{Name: "draft-storage", OnStart: a.startStorage, OnStop: a.stopStorage})
	boot.AddDependency(startup.Dependency{Name: "events", OnStart: a.startEvents, OnStop: a.stopEvents})
	boot.AddDependency(startup.Dependency{
		Name:     "http",
		Requires: []string{"tracing", "draft-storage", "events"},
		OnStart:  a.startHTTP,
		OnStop:   a.stopHTTP,
	})

	if err := boot.Start(ctx); err != nil {
		return err
	}
	a.checker.SetReady(true)
	logger.Infof("%s %s listening on :%d", cfg.AppName, cfg.Version, cfg.Port)

	<-ctx.Done()
	logger.Infof("Shutting down %s", cfg.AppName)
	a.checker.SetReady(false)

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return boot.Stop(stopCtx)
}

func (a *app) startTracing(ctx context.Context) error {
	provider, err := tracing.Setup(ctx, a.cfg.AppName, tracing.OTLPConfig{
		Enabled:  a.cfg.OTLPEnabled,
		Endpoint: a.cfg.OTLPEndpoint,
		Protocol: a.cfg.OTLPProtocol,
		Insecure: a.cfg.OTLPInsecure,
	})
	if err != nil {
		return err
	}
	a.provider = provider
	return nil
}

func (a *app) stopTracing(ctx context.Context) error {
	if a.provider == nil {
		return nil
	}
	return a.provider.Shutdown(ctx)
}

func (a *app) startStorage(ctx context.Context) error {
	if a.cfg.DraftStorage == "memory" {
		logger.Warnf("Drafts are kept in process memory and will not survive a restart")
		a.storage = draft.NewMemoryStorage()
		return nil
	}

	client, err := redis.NewClient(ctx, redis.Config{
		Host:     a.cfg.RedisHost,
		Port:     a.cfg.RedisPort,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	}, logger)
	if err != nil {
		return err
	}

	a.redis = client
	a.storage = redis.NewDraftStorage(client, a.cfg.DraftTTL)
	if a.cfg.SubmissionLockEnabled {
		a.guard = redis.NewSubmissionGuard(redis.NewLocker(client, "intake:submit:", a.cfg.SubmissionLockTTL))
	}
	a.checker.AddCheck("redis", client.Ping)
	return nil
}

func (a *app) stopStorage(context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Close()
}

func (a *app) startEvents(context.Context) error {
	if !a.cfg.KafkaEnabled {
		return nil
	}
	a.producer = events.NewProducer(events.Config{
		Brokers:         a.cfg.KafkaBrokers,
		SubmissionTopic: a.cfg.KafkaSubmissionTopic,
	}, logger)
	a.checker.AddOptionalCheck("kafka", a.producer.Ping)
	return nil
}

func (a *app) stopEvents(context.Context) error {
	if a.producer == nil {
		return nil
	}
	return a.producer.Close()
}

func (a *app) submissionOptions() []submission.Option {
	opts := []submission.Option{submission.WithViewURL(a.cfg.SubmissionViewURL)}
	if a.guard != nil {
		opts = append(opts, submission.WithGuard(a.guard))
	}
	if a.producer != nil {
		opts = append(opts, submission.WithPublisher(a.producer))
	}
	return opts
}

func (a *app) startHTTP(context.Context) error {
	clientCfg := httpclient.DefaultConfig()
	clientCfg.Timeout = a.cfg.SubmissionTimeout

	a.sessions = wizard.NewManager(wizard.ManagerConfig{
		Storage:     a.storage,
		DraftKey:    a.cfg.DraftKey,
		Debounce:    a.cfg.DraftDebounce,
		IdleTimeout: a.cfg.SessionIdleTimeout,
		Sender:      submission.NewHTTPSender(httpclient.NewClient(clientCfg, logger), a.cfg.SubmissionURL),
		Submission:  a.submissionOptions(),
		Logger:      logger,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	a.stopRun = cancel
	go a.sessions.Run(runCtx, a.cfg.SessionSweepInterval)

	a.echo = server.NewAPI(server.Options{
		ServiceName:  a.cfg.AppName,
		AllowOrigins: a.cfg.AllowOrigins,
		AllowMethods: a.cfg.AllowMethods,
		Tracing:      true,
		Logger:       logger,
	}, a.sessions, a.checker)

	a.echo.Server = a.httpServer(a.echo)
	go func() {
		if err := a.echo.StartServer(a.echo.Server); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Errorf("HTTP server stopped")
		}
	}()
	return nil
}

func (a *app) httpServer(handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Port),
		Handler:           handler,
		ReadTimeout:       time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(a.cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(a.cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}
}

func (a *app) stopHTTP(ctx context.Context) error {
	var err error
	if a.echo != nil {
		err = a.echo.Shutdown(ctx)
	}
	if a.stopRun != nil {
		a.stopRun()
	}
	if a.sessions != nil {
		a.sessions.Close(ctx)
	}
	return err
}
