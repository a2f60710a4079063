package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"gemini/internal/model"
)

func (c *Controller) initEntityRoutes() {
	g := c.Group.Group("/entities")
	g.GET("", c.ListEntityTypes)
	g.GET("/:type", c.ListEntities)
	g.POST("/:type", c.CreateEntity)
	g.GET("/:type/:id", c.GetEntity)
	g.PATCH("/:type/:id", c.UpdateEntity)
	g.DELETE("/:type/:id", c.DeleteEntity)
}

func (c *Controller) entityModel(ctx echo.Context) (*model.Base, error) {
	name := ctx.Param("type")
	b, ok := c.catalog.Entity(name)
	if !ok {
		return nil, model.NotFoundError(name, "resolve", fmt.Errorf("unknown entity type %q", name))
	}
	return b, nil
}

// ListEntityTypes returns the addressable entity type names.
func (c *Controller) ListEntityTypes(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string][]string{"types": c.catalog.EntityNames()})
}

// ListEntities filters rows by query parameters. Each parameter is an
// equality filter on the column of the same name; limit caps the result.
func (c *Controller) ListEntities(ctx echo.Context) error {
	b, err := c.entityModel(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "unknown entity type")
	}
	args := model.Args{}
	limit := 0
	for key, vals := range ctx.QueryParams() {
		if len(vals) == 0 {
			continue
		}
		if key == "limit" {
			if limit, err = strconv.Atoi(vals[0]); err != nil || limit < 0 {
				return c.HandleError(ctx, badRequest(fmt.Errorf("invalid limit %q", vals[0])), "invalid query")
			}
			continue
		}
		args[key] = vals[0]
	}
	vals, err := b.ValidateFields(args)
	if err != nil {
		return c.HandleError(ctx, err, "invalid filter")
	}
	rows, err := b.SearchFilter(ctx.Request().Context(), model.Filter{Equal: vals, Limit: limit})
	if err != nil {
		return c.HandleError(ctx, err, "search failed")
	}
	if rows == nil {
		rows = []model.Row{}
	}
	return ctx.JSON(http.StatusOK, rows)
}

// CreateEntity inserts the JSON body as a new row.
func (c *Controller) CreateEntity(ctx echo.Context) error {
	b, err := c.entityModel(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "unknown entity type")
	}
	var args model.Args
	if err := decodeBody(ctx, &args); err != nil {
		return c.HandleError(ctx, err, "invalid body")
	}
	row, err := b.Create(ctx.Request().Context(), args)
	if err != nil {
		return c.HandleError(ctx, err, "create failed")
	}
	return ctx.JSON(http.StatusCreated, row)
}

// GetEntity returns one row by id.
func (c *Controller) GetEntity(ctx echo.Context) error {
	b, err := c.entityModel(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "unknown entity type")
	}
	row, found, err := b.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "get failed")
	}
	if !found {
		return c.HandleError(ctx, model.NotFoundError(b.Descriptor().Table, "get", fmt.Errorf("id %s", ctx.Param("id"))), "not found")
	}
	return ctx.JSON(http.StatusOK, row)
}

// UpdateEntity applies the JSON body as a partial update.
func (c *Controller) UpdateEntity(ctx echo.Context) error {
	b, err := c.entityModel(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "unknown entity type")
	}
	var args model.Args
	if err := decodeBody(ctx, &args); err != nil {
		return c.HandleError(ctx, err, "invalid body")
	}
	rctx := ctx.Request().Context()
	row, found, err := b.Get(rctx, ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "get failed")
	}
	if !found {
		return c.HandleError(ctx, model.NotFoundError(b.Descriptor().Table, "update", fmt.Errorf("id %s", ctx.Param("id"))), "not found")
	}
	updated, err := b.Update(rctx, row, args)
	if err != nil {
		return c.HandleError(ctx, err, "update failed")
	}
	return ctx.JSON(http.StatusOK, updated)
}

// DeleteEntity removes one row by id.
func (c *Controller) DeleteEntity(ctx echo.Context) error {
	b, err := c.entityModel(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "unknown entity type")
	}
	deleted, err := b.Delete(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "delete failed")
	}
	if !deleted {
		return c.HandleError(ctx, model.NotFoundError(b.Descriptor().Table, "delete", fmt.Errorf("id %s", ctx.Param("id"))), "not found")
	}
	return ctx.NoContent(http.StatusNoContent)
}
