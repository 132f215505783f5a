// Package server assembles the echo instance serving the intake API.
package server

import (
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/intake/internal/handlers"
	"github.com/Ramsey-B/intake/pkg/health"
	"github.com/Ramsey-B/intake/pkg/middleware"
	"github.com/Ramsey-B/intake/pkg/wizard"
)

// Options configures the API server
type Options struct {
	ServiceName  string
	AllowOrigins []string
	AllowMethods []string
	// Tracing adds the otelecho middleware
	Tracing bool
	Logger  ectologger.Logger
}

// NewAPI builds the wizard API with health and metrics routes.
func NewAPI(opts Options, sessions *wizard.Manager, checker *health.Checker) *echo.Echo {
	opts = opts.withDefaults()
	e := newEcho(opts)

	api := e.Group("/api/v1/applications")
	handlers.NewApplicationHandler(sessions, opts.Logger).Register(api)

	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}

// NewMockAPI builds the stand-in remote submission endpoint.
func NewMockAPI(opts Options, failRate float64) *echo.Echo {
	opts = opts.withDefaults()
	e := newEcho(opts)
	handlers.NewMockSubmissionHandler(failRate, opts.Logger).Register(e.Group(""))
	e.GET("/health/live", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": string(health.StatusHealthy)})
	})
	return e
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	}
	if o.ServiceName == "" {
		o.ServiceName = "intake-api"
	}
	return o
}

func newEcho(opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(opts.Logger)

	e.Use(echomw.Recover())
	if opts.Tracing {
		e.Use(otelecho.Middleware(opts.ServiceName))
	}
	e.Use(middleware.Context())
	e.Use(middleware.Logger(opts.Logger))
	if len(opts.AllowOrigins) > 0 {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins:  opts.AllowOrigins,
			AllowMethods:  opts.AllowMethods,
			AllowHeaders:  []string{echo.HeaderContentType, echo.HeaderXRequestID, middleware.HeaderSessionID},
			ExposeHeaders: []string{echo.HeaderXRequestID},
			MaxAge:        int((12 * time.Hour).Seconds()),
		}))
	}
	e.Use(echomw.BodyLimit("2M"))

	return e
}
