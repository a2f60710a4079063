package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"gemini/internal/adapters/export"
	"gemini/internal/model"
	"gemini/internal/records"
	"gemini/pkg/domain"
)

func (c *Controller) initExportRoutes() {
	g := c.Group.Group("/exports")
	g.POST("", c.CreateExport)
	g.GET("", c.ListExports)
	g.GET("/:id", c.GetExport)
}

type exportRequest struct {
	Kind        domain.RecordKind `json:"kind"`
	Formats     []export.Format   `json:"formats"`
	Query       records.Query     `json:"query"`
	RequestedBy string            `json:"requested_by"`
}

// CreateExport queues an export of one record view.
func (c *Controller) CreateExport(ctx echo.Context) error {
	var req exportRequest
	if err := decodeBody(ctx, &req); err != nil {
		return c.HandleError(ctx, err, "invalid body")
	}
	job, err := c.exports.Enqueue(ctx.Request().Context(), export.Input{
		Kind:        req.Kind,
		Query:       req.Query,
		Formats:     req.Formats,
		RequestedBy: req.RequestedBy,
	})
	switch {
	case errors.Is(err, export.ErrQueueFull), errors.Is(err, export.ErrStopped):
		return c.HandleError(ctx, model.NewError(model.KindUnavailable, "exports", "enqueue", err), "export queue unavailable")
	case err != nil:
		return c.HandleError(ctx, err, "invalid export")
	}
	return ctx.JSON(http.StatusAccepted, job)
}

// ListExports returns every tracked export.
func (c *Controller) ListExports(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.exports.List())
}

// GetExport returns one export with its artifacts.
func (c *Controller) GetExport(ctx echo.Context) error {
	job, ok := c.exports.Get(ctx.Param("id"))
	if !ok {
		return c.HandleError(ctx, model.NotFoundError("exports", "get", fmt.Errorf("id %s", ctx.Param("id"))), "not found")
	}
	return ctx.JSON(http.StatusOK, job)
}
