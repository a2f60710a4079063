// Package api exposes the entity, record and export operations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"gemini/internal/adapters/export"
	"gemini/internal/model"
	"gemini/internal/records"
	"gemini/internal/schema"
)

// Prefix is the versioned route prefix.
const Prefix = "/api/v1"

// Options configures optional parts of the Controller.
type Options struct {
	Logger *slog.Logger
	// Exports serves the /exports routes when set.
	Exports *export.Worker
	// Metrics is mounted at MetricsPath when set.
	Metrics     http.Handler
	MetricsPath string
}

// Controller owns the echo instance and the services behind the routes.
type Controller struct {
	Echo  *echo.Echo
	Group *echo.Group

	catalog  *schema.Catalog
	recorder *records.Recorder
	exports  *export.Worker
	log      *slog.Logger
}

// New builds the echo instance and registers every route.
func New(catalog *schema.Catalog, recorder *records.Recorder, opts Options) *Controller {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger(log))

	c := &Controller{
		Echo:     e,
		catalog:  catalog,
		recorder: recorder,
		exports:  opts.Exports,
		log:      log,
	}
	e.GET("/healthz", c.Health)
	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		e.GET(path, echo.WrapHandler(opts.Metrics))
	}

	c.Group = e.Group(Prefix)
	c.initEntityRoutes()
	c.initRecordRoutes()
	if c.exports != nil {
		c.initExportRoutes()
	}
	return c
}

// ServeHTTP lets the controller be used as a plain http.Handler.
func (c *Controller) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.Echo.ServeHTTP(w, r)
}

// Start serves on addr until Shutdown.
func (c *Controller) Start(addr string) error {
	if err := c.Echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (c *Controller) Shutdown(ctx context.Context) error {
	return c.Echo.Shutdown(ctx)
}

func requestLogger(log *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				log.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			log.Debug("request", attrs...)
			return nil
		},
	})
}

// Health reports whether the relational store answers.
func (c *Controller) Health(ctx echo.Context) error {
	pctx, cancel := context.WithTimeout(ctx.Request().Context(), 2*time.Second)
	defer cancel()
	if err := c.catalog.DB().Ping(pctx); err != nil {
		return c.HandleError(ctx, model.NewError(model.KindUnavailable, "", "ping", err), "database unreachable")
	}
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	Kind          string `json:"kind,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// StatusOf maps an error to its HTTP status by model error kind.
func StatusOf(err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	switch model.KindOf(err) {
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindConstraint:
		return http.StatusConflict
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// HandleError logs err with a correlation id and writes the error body.
func (c *Controller) HandleError(ctx echo.Context, err error, message string) error {
	code := StatusOf(err)
	resp := ErrorResponse{
		Error:         err.Error(),
		Message:       message,
		Code:          code,
		CorrelationID: uuid.NewString()[:8],
	}
	var me *model.Error
	if errors.As(err, &me) {
		resp.Kind = string(me.Kind)
	}
	level := slog.LevelInfo
	if code >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	c.log.Log(ctx.Request().Context(), level, "api error",
		"correlation_id", resp.CorrelationID,
		"path", ctx.Path(),
		"status", code,
		"message", message,
		"error", err)
	return ctx.JSON(code, resp)
}

// decodeBody decodes the JSON request body into dst.
func decodeBody(ctx echo.Context, dst any) error {
	if err := json.NewDecoder(ctx.Request().Body).Decode(dst); err != nil {
		return badRequest(fmt.Errorf("decode body: %w", err))
	}
	return nil
}

// badRequest wraps a decoding failure so it maps to 400.
func badRequest(err error) error {
	return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
}
