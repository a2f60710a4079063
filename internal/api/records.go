package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"gemini/internal/model"
	"gemini/internal/records"
	"gemini/pkg/domain"
)

func (c *Controller) initRecordRoutes() {
	g := c.Group.Group("/records")
	g.POST("/:kind", c.AddRecords)
	g.GET("/:kind", c.SearchRecords)
	g.GET("/:kind/:id", c.GetRecord)
	g.PATCH("/:kind/:id", c.UpdateRecord)
	g.DELETE("/:kind/:id", c.DeleteRecord)
}

func recordKind(ctx echo.Context) (domain.RecordKind, error) {
	kind, err := domain.ParseRecordKind(ctx.Param("kind"))
	if err != nil {
		return "", model.NotFoundError("records", "resolve", err)
	}
	return kind, nil
}

// AddRecords ingests one columnar batch.
func (c *Controller) AddRecords(ctx echo.Context) error {
	kind, err := recordKind(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "unknown record kind")
	}
	var batch records.Batch
	if err := decodeBody(ctx, &batch); err != nil {
		return c.HandleError(ctx, err, "invalid body")
	}
	batch.Kind = kind
	res, err := c.recorder.Add(ctx.Request().Context(), batch)
	if err != nil {
		return c.HandleError(ctx, err, "ingest failed")
	}
	return ctx.JSON(http.StatusCreated, res)
}

// parseQuery reads a record query from the URL. record_info is a JSON
// object; from and to are calendar dates.
func parseQuery(ctx echo.Context) (records.Query, error) {
	var q records.Query
	var plot, row, col int64
	err := echo.QueryParamsBinder(ctx).
		String("entity_name", &q.EntityName).
		String("dataset_name", &q.DatasetName).
		String("experiment_name", &q.ExperimentName).
		String("season_name", &q.SeasonName).
		String("site_name", &q.SiteName).
		Int64("plot_number", &plot).
		Int64("plot_row_number", &row).
		Int64("plot_column_number", &col).
		Time("from", &q.From, domain.DateLayout).
		Time("to", &q.To, domain.DateLayout).
		Int("limit", &q.Limit).
		BindError()
	if err != nil {
		return q, badRequest(err)
	}
	if ctx.QueryParam("plot_number") != "" {
		q.PlotNumber = &plot
	}
	if ctx.QueryParam("plot_row_number") != "" {
		q.PlotRowNumber = &row
	}
	if ctx.QueryParam("plot_column_number") != "" {
		q.PlotColumnNumber = &col
	}
	if raw := ctx.QueryParam("record_info"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &q.Info); err != nil {
			return q, badRequest(fmt.Errorf("record_info: %w", err))
		}
	}
	return q, nil
}

// SearchRecords streams matching records as newline-delimited JSON. Errors
// after the first record end the stream early.
func (c *Controller) SearchRecords(ctx echo.Context) error {
	kind, err := recordKind(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "unknown record kind")
	}
	q, err := parseQuery(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "invalid query")
	}
	rctx := ctx.Request().Context()
	cur, err := c.recorder.Search(rctx, kind, q)
	if err != nil {
		return c.HandleError(ctx, err, "search failed")
	}
	defer func() { _ = cur.Close() }()

	resp := ctx.Response()
	resp.Header().Set(echo.HeaderContentType, "application/x-ndjson")
	resp.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(resp)
	n := 0
	for rec, err := range cur.All() {
		if err != nil {
			c.log.Warn("record stream aborted", "kind", kind, "written", n, "error", err)
			return nil
		}
		if err := enc.Encode(rec); err != nil {
			return nil
		}
		n++
		if n%100 == 0 {
			resp.Flush()
		}
	}
	resp.Flush()
	return nil
}

// GetRecord returns one record by id.
func (c *Controller) GetRecord(ctx echo.Context) error {
	kind, err := recordKind(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "unknown record kind")
	}
	rec, found, err := c.recorder.Get(ctx.Request().Context(), kind, ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "get failed")
	}
	if !found {
		return c.HandleError(ctx, model.NotFoundError(string(kind)+"_records", "get", fmt.Errorf("id %s", ctx.Param("id"))), "not found")
	}
	return ctx.JSON(http.StatusOK, rec)
}

// UpdateRecord merges record_info keys and optionally replaces the file.
func (c *Controller) UpdateRecord(ctx echo.Context) error {
	kind, err := recordKind(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "unknown record kind")
	}
	var p records.Patch
	if err := decodeBody(ctx, &p); err != nil {
		return c.HandleError(ctx, err, "invalid body")
	}
	rec, err := c.recorder.Update(ctx.Request().Context(), kind, ctx.Param("id"), p)
	if err != nil {
		return c.HandleError(ctx, err, "update failed")
	}
	return ctx.JSON(http.StatusOK, rec)
}

// DeleteRecord removes one record. Attached files are kept.
func (c *Controller) DeleteRecord(ctx echo.Context) error {
	kind, err := recordKind(ctx)
	if err != nil {
		return c.HandleError(ctx, err, "unknown record kind")
	}
	deleted, err := c.recorder.Delete(ctx.Request().Context(), kind, ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "delete failed")
	}
	if !deleted {
		return c.HandleError(ctx, model.NotFoundError(string(kind)+"_records", "delete", fmt.Errorf("id %s", ctx.Param("id"))), "not found")
	}
	return ctx.NoContent(http.StatusNoContent)
}
