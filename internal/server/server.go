package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"vlog-platform/internal/domain"
)

const maxBodySize = 1 << 20

// Check reports readiness of one dependency.
type Check func(ctx context.Context) error

type Options struct {
	Service    string
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	Checks     map[string]Check
	Logger     *log.Logger
}

// New builds the echo instance every service shares: CORS, panic recovery,
// request metrics and the health, readiness and metrics routes.
func New(opts Options) *echo.Echo {
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  opts.Service,
		Registerer: opts.Registerer,
		Skipper: func(c echo.Context) bool {
			switch c.Path() {
			case "/metrics", "/healthz", "/readyz":
				return true
			}
			return false
		},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/readyz", readyz(opts.Checks, opts.Logger))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	return e
}

func readyz(checks map[string]Check, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		status := map[string]string{}
		ready := true
		for name, check := range checks {
			if err := check(ctx); err != nil {
				ready = false
				status[name] = err.Error()
				logger.WithError(err).WithField("check", name).Warn("readiness check failed")
				continue
			}
			status[name] = "ok"
		}
		if !ready {
			return c.JSON(http.StatusServiceUnavailable, status)
		}
		return c.JSON(http.StatusOK, status)
	}
}

// Run serves e on addr until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, e *echo.Echo, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// Decode reads a JSON body into v, rejecting unknown fields.
func Decode(c echo.Context, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid body: %w", err)
	}
	return nil
}

// Mutation is the response body for writes. SyncDelayed is set when the
// write committed but its event could not be published yet.
type Mutation struct {
	Data        any  `json:"data"`
	SyncDelayed bool `json:"syncDelayed,omitempty"`
}

// Committed answers a successful write. A publish failure is reported as
// delayed sync, never as a failed request.
func Committed(c echo.Context, status int, data any, publishErr error) error {
	resp := Mutation{Data: data}
	if publishErr != nil {
		resp.SyncDelayed = true
		c.Response().Header().Set("X-Sync-Delayed", "true")
	}
	return c.JSON(status, resp)
}

// Error maps domain errors onto HTTP status codes.
func Error(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrCycle):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, domain.ErrForbidden):
		return c.JSON(http.StatusForbidden, map[string]string{"error": err.Error()})
	default:
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func BadRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}
