// Package export runs queued record exports: each export streams one record
// view into CSV or NDJSON files stored under <prefix>/<kind>/<id>.<format>.
package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"gemini/internal/model"
	"gemini/internal/objectstore"
	"gemini/internal/records"
	"gemini/internal/schema"
	"gemini/pkg/domain"
)

// Status describes the lifecycle stage of an export.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// DefaultPrefix is the key prefix of export artifacts.
const DefaultPrefix = "exports"

var (
	// ErrQueueFull is returned when the export queue has no free slot.
	ErrQueueFull = errors.New("export queue full")
	// ErrStopped is returned by Enqueue after Stop.
	ErrStopped = errors.New("export worker stopped")
)

// Artifact is one stored export file.
type Artifact struct {
	Key         string    `json:"key"`
	Format      Format    `json:"format"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	Rows        int       `json:"rows"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Export tracks one request and its artifacts.
type Export struct {
	ID          string            `json:"id"`
	Kind        domain.RecordKind `json:"kind"`
	Query       records.Query     `json:"query"`
	Formats     []Format          `json:"formats"`
	Status      Status            `json:"status"`
	Error       string            `json:"error,omitempty"`
	Artifacts   []Artifact        `json:"artifacts,omitempty"`
	RequestedBy string            `json:"requested_by,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

func (e Export) copy() Export {
	dup := e
	dup.Formats = append([]Format(nil), e.Formats...)
	if len(e.Artifacts) > 0 {
		dup.Artifacts = append([]Artifact(nil), e.Artifacts...)
	}
	return dup
}

// Input is an export request.
type Input struct {
	Kind        domain.RecordKind
	Query       records.Query
	Formats     []Format
	RequestedBy string
}

// Sink stores artifacts.
type Sink interface {
	UploadReader(ctx context.Context, key string, r io.Reader, tags map[string]string) (objectstore.UploadResult, error)
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Observer receives finished export statuses.
type Observer interface {
	ObserveExport(status string)
}

// Options tunes a Worker.
type Options struct {
	Workers   int
	QueueSize int
	Prefix    string
	Logger    *slog.Logger
	Observer  Observer
}

// Worker executes exports asynchronously on a fixed pool of goroutines.
type Worker struct {
	src  Source
	sink Sink
	opts Options
	log  *slog.Logger

	queue chan string
	mu    sync.RWMutex
	jobs  map[string]*Export
	state int // 0 new, 1 started, 2 stopped

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker constructs a worker. Start must be called before exports run.
func NewWorker(src Source, sink Sink, opts Options) *Worker {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		src:    src,
		sink:   sink,
		opts:   opts,
		log:    log,
		queue:  make(chan string, opts.QueueSize),
		jobs:   make(map[string]*Export),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the worker goroutines. It is a no-op after the first call.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != 0 {
		return
	}
	w.state = 1
	for range w.opts.Workers {
		w.wg.Add(1)
		go w.loop()
	}
}

// Stop cancels running exports and waits for the goroutines to exit or ctx
// to end. Queued exports that never ran are marked failed.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	w.state = 2
	w.mu.Unlock()
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	for {
		select {
		case id := <-w.queue:
			w.fail(id, ErrStopped)
		default:
			return nil
		}
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case id := <-w.queue:
			w.process(id)
		}
	}
}

// Enqueue validates in and schedules it. The returned snapshot is queued.
func (w *Worker) Enqueue(ctx context.Context, in Input) (Export, error) {
	if _, ok := schema.Record(in.Kind); !ok {
		return Export{}, model.ValidationError("exports", "enqueue", "kind", fmt.Errorf("unknown record kind %q", in.Kind))
	}
	formats := in.Formats
	if len(formats) == 0 {
		formats = []Format{FormatCSV}
	}
	uniq := make([]Format, 0, len(formats))
	seen := make(map[Format]bool)
	for _, f := range formats {
		if _, err := ParseFormat(string(f)); err != nil {
			return Export{}, model.ValidationError("exports", "enqueue", "formats", err)
		}
		if !seen[f] {
			seen[f] = true
			uniq = append(uniq, f)
		}
	}

	now := time.Now().UTC()
	job := &Export{
		ID:          uuid.NewString(),
		Kind:        in.Kind,
		Query:       in.Query,
		Formats:     uniq,
		Status:      StatusQueued,
		RequestedBy: in.RequestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == 2 {
		return Export{}, ErrStopped
	}
	select {
	case w.queue <- job.ID:
	default:
		return Export{}, ErrQueueFull
	}
	w.jobs[job.ID] = job
	w.log.InfoContext(ctx, "export queued", "export", job.ID, "kind", job.Kind, "requested_by", job.RequestedBy)
	return job.copy(), nil
}

// Get returns a snapshot of the export with id.
func (w *Worker) Get(id string) (Export, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	job, ok := w.jobs[id]
	if !ok {
		return Export{}, false
	}
	return job.copy(), true
}

// List returns snapshots of every export, oldest first.
func (w *Worker) List() []Export {
	w.mu.RLock()
	out := make([]Export, 0, len(w.jobs))
	for _, job := range w.jobs {
		out = append(out, job.copy())
	}
	w.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Wait polls the export with id until it succeeds, fails or ctx ends.
func (w *Worker) Wait(ctx context.Context, id string) (Export, error) {
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()
	for {
		job, ok := w.Get(id)
		if !ok {
			return Export{}, fmt.Errorf("export %s not found", id)
		}
		switch job.Status {
		case StatusSucceeded:
			return job, nil
		case StatusFailed:
			return job, fmt.Errorf("export %s failed: %s", id, job.Error)
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-tick.C:
		}
	}
}

func (w *Worker) process(id string) {
	job, ok := w.Get(id)
	if !ok {
		return
	}
	w.update(id, func(e *Export) { e.Status = StatusRunning })

	artifacts := make([]Artifact, 0, len(job.Formats))
	for _, f := range job.Formats {
		a, err := w.render(job, f)
		if err != nil {
			w.fail(id, err)
			return
		}
		artifacts = append(artifacts, a)
	}
	now := time.Now().UTC()
	w.update(id, func(e *Export) {
		e.Status = StatusSucceeded
		e.Error = ""
		e.Artifacts = artifacts
		e.CompletedAt = &now
	})
	w.observe(StatusSucceeded)
	w.log.Info("export succeeded", "export", id, "kind", job.Kind, "artifacts", len(artifacts))
}

// render writes one format to a temporary file and uploads it.
func (w *Worker) render(job Export, f Format) (Artifact, error) {
	tmp, err := os.CreateTemp("", "gemini-export-*")
	if err != nil {
		return Artifact{}, err
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()
	rows, err := Write(w.ctx, w.src, job.Kind, job.Query, f, tmp)
	if err != nil {
		return Artifact{}, fmt.Errorf("render %s: %w", f, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return Artifact{}, err
	}
	key := path.Join(w.opts.Prefix, string(job.Kind), job.ID+"."+string(f))
	res, err := w.sink.UploadReader(w.ctx, key, tmp, map[string]string{"export": job.ID, "kind": string(job.Kind)})
	if err != nil {
		return Artifact{}, fmt.Errorf("store %s: %w", key, err)
	}
	a := Artifact{
		Key:         key,
		Format:      f,
		ContentType: f.ContentType(),
		SizeBytes:   res.Size,
		Rows:        rows,
		CreatedAt:   time.Now().UTC(),
	}
	if u, err := w.sink.PresignedURL(w.ctx, key, 0); err == nil {
		a.URL = u
	} else {
		w.log.Warn("presign export artifact failed", "key", key, "error", err)
	}
	return a, nil
}

func (w *Worker) update(id string, fn func(*Export)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if job, ok := w.jobs[id]; ok {
		fn(job)
		job.UpdatedAt = time.Now().UTC()
	}
}

func (w *Worker) fail(id string, err error) {
	now := time.Now().UTC()
	w.update(id, func(e *Export) {
		e.Status = StatusFailed
		e.Error = err.Error()
		e.CompletedAt = &now
	})
	w.observe(StatusFailed)
	w.log.Warn("export failed", "export", id, "error", err)
}

func (w *Worker) observe(s Status) {
	if w.opts.Observer != nil {
		w.opts.Observer.ObserveExport(string(s))
	}
}
