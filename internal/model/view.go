package model

import (
	"context"
	"time"

	"gemini/internal/persistence"
)

// View wraps a read-only Base over a read view. Every read first refreshes
// the view so rows written before the call are visible.
type View struct {
	base *Base
}

// NewView returns a View over desc. The descriptor is marked read-only.
func NewView(db *persistence.DB, desc *Descriptor, opts Options) *View {
	desc.ReadOnly = true
	return &View{base: New(db, desc, opts)}
}

// Descriptor returns the view descriptor.
func (v *View) Descriptor() *Descriptor { return v.base.desc }

// Refresh recomputes the view. It is a no-op for dialects whose views are
// always current.
func (v *View) Refresh(ctx context.Context) (err error) {
	stmt := v.base.db.Dialect.RefreshView(v.base.desc.Table)
	if stmt == "" {
		return nil
	}
	start := time.Now()
	defer func() {
		if v.base.opts.Observer != nil {
			v.base.opts.Observer.ObserveRefresh(v.base.desc.Table, time.Since(start), err)
		}
	}()
	if _, err = v.base.db.SQL.ExecContext(ctx, stmt); err != nil {
		v.base.log.Warn("view refresh failed", "error", err)
		return classify(v.base.db.Dialect, v.base.desc.Table, "refresh", err)
	}
	return nil
}

// Get refreshes the view and returns the row with id.
func (v *View) Get(ctx context.Context, id any) (Row, bool, error) {
	if err := v.Refresh(ctx); err != nil {
		return nil, false, err
	}
	return v.base.Get(ctx, id)
}

// GetByParameters refreshes the view and returns the first matching row.
func (v *View) GetByParameters(ctx context.Context, args Args) (Row, bool, error) {
	if err := v.Refresh(ctx); err != nil {
		return nil, false, err
	}
	return v.base.GetByParameters(ctx, args)
}

// Search refreshes the view and returns every matching row.
func (v *View) Search(ctx context.Context, args Args) ([]Row, error) {
	if err := v.Refresh(ctx); err != nil {
		return nil, err
	}
	return v.base.Search(ctx, args)
}

// SearchFilter refreshes the view and returns every row matching f.
func (v *View) SearchFilter(ctx context.Context, f Filter) ([]Row, error) {
	if err := v.Refresh(ctx); err != nil {
		return nil, err
	}
	return v.base.SearchFilter(ctx, f)
}

// Stream refreshes the view once and returns a cursor over matching rows.
func (v *View) Stream(ctx context.Context, args Args) (*Cursor, error) {
	if err := v.Refresh(ctx); err != nil {
		return nil, err
	}
	return v.base.Stream(ctx, args)
}

// StreamFilter refreshes the view once and returns a cursor over rows matching f.
func (v *View) StreamFilter(ctx context.Context, f Filter) (*Cursor, error) {
	if err := v.Refresh(ctx); err != nil {
		return nil, err
	}
	return v.base.StreamFilter(ctx, f)
}

// All refreshes the view and returns every row.
func (v *View) All(ctx context.Context) ([]Row, error) {
	if err := v.Refresh(ctx); err != nil {
		return nil, err
	}
	return v.base.All(ctx)
}

// Count refreshes the view and counts matching rows.
func (v *View) Count(ctx context.Context, args Args) (int64, error) {
	if err := v.Refresh(ctx); err != nil {
		return 0, err
	}
	return v.base.Count(ctx, args)
}

// CountFilter refreshes the view and counts rows matching f.
func (v *View) CountFilter(ctx context.Context, f Filter) (int64, error) {
	if err := v.Refresh(ctx); err != nil {
		return 0, err
	}
	return v.base.CountFilter(ctx, f)
}
