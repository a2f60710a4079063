package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"gemini/internal/blob"
	"gemini/internal/infra/persistence/sqlite"
	"gemini/internal/model"
	"gemini/internal/objectstore"
	"gemini/internal/persistence"
	"gemini/internal/records"
	"gemini/internal/schema"
	"gemini/pkg/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"))
}

type statusCounter struct {
	mu   sync.Mutex
	seen map[string]int
}

func (s *statusCounter) ObserveExport(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen == nil {
		s.seen = make(map[string]int)
	}
	s.seen[status]++
}

func (s *statusCounter) get(status string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[status]
}

func newRecorder(t *testing.T) (*records.Recorder, *objectstore.Client) {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "export.db"), persistence.PoolConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(ctx))
	catalog := schema.NewCatalog(db, model.Options{})
	objects := objectstore.New(blob.NewMemory(), objectstore.Options{})
	rec := records.New(catalog, objects, records.Options{})

	sensors, _ := catalog.Entity("sensor")
	_, err = sensors.Create(ctx, model.Args{"sensor_name": "RGB"})
	require.NoError(t, err)
	traits, _ := catalog.Entity("trait")
	_, err = traits.Create(ctx, model.Args{"trait_name": "Height"})
	require.NoError(t, err)

	base := time.Date(2023, 7, 1, 12, 0, 0, 0, time.UTC)
	_, err = rec.Add(ctx, records.Batch{
		Kind: domain.KindSensor, EntityName: "RGB",
		Timestamps: []time.Time{base, base.Add(time.Hour), base.Add(2 * time.Hour)},
		Data:       []map[string]any{{"ndvi": 0.1}, {"ndvi": 0.2}, {"ndvi": 0.3}},
		Infos:      []map[string]any{{"pass": 1}, {"pass": 2}, {"pass": 3}},
	})
	require.NoError(t, err)
	_, err = rec.Add(ctx, records.Batch{
		Kind: domain.KindTrait, EntityName: "Height",
		Timestamps:  []time.Time{base},
		Values:      []float64{12.5},
		PlotNumbers: []int64{4},
	})
	require.NoError(t, err)
	return rec, objects
}

func waitFor(t *testing.T, w *Worker, id string, want Status) Export {
	t.Helper()
	var got Export
	require.Eventually(t, func() bool {
		var ok bool
		got, ok = w.Get(id)
		return ok && got.Status == want
	}, 5*time.Second, 10*time.Millisecond)
	return got
}

func TestWorkerExportsRecords(t *testing.T) {
	ctx := context.Background()
	rec, objects := newRecorder(t)
	obs := &statusCounter{}
	w := NewWorker(rec, objects, Options{Workers: 2, Observer: obs})
	w.Start()
	t.Cleanup(func() { require.NoError(t, w.Stop(context.Background())) })

	job, err := w.Enqueue(ctx, Input{Kind: domain.KindSensor, Formats: []Format{FormatCSV, FormatNDJSON, FormatCSV}, RequestedBy: "kim"})
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, job.Status)
	assert.Equal(t, []Format{FormatCSV, FormatNDJSON}, job.Formats)

	done := waitFor(t, w, job.ID, StatusSucceeded)
	require.Len(t, done.Artifacts, 2)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, 1, obs.get(string(StatusSucceeded)))

	csvArt := done.Artifacts[0]
	assert.Equal(t, "exports/sensor/"+job.ID+".csv", csvArt.Key)
	assert.Equal(t, 3, csvArt.Rows)
	assert.NotEmpty(t, csvArt.URL)
	_, body, err := objects.Open(ctx, csvArt.Key)
	require.NoError(t, err)
	rows, err := csv.NewReader(body).ReadAll()
	_ = body.Close()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, Columns, rows[0])
	assert.Equal(t, "RGB", rows[1][3])
	assert.Equal(t, "RGB_2023-07-01", rows[1][4])
	assert.JSONEq(t, `{"ndvi":0.1}`, rows[1][12])
	assert.JSONEq(t, `{"pass":1}`, rows[1][15])

	_, body, err = objects.Open(ctx, done.Artifacts[1].Key)
	require.NoError(t, err)
	lines := 0
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		lines++
	}
	_ = body.Close()
	assert.Equal(t, 3, lines)

	assert.Len(t, w.List(), 1)
}

func TestWorkerFailsOnBadQuery(t *testing.T) {
	ctx := context.Background()
	rec, objects := newRecorder(t)
	obs := &statusCounter{}
	w := NewWorker(rec, objects, Options{Observer: obs})
	w.Start()
	t.Cleanup(func() { require.NoError(t, w.Stop(context.Background())) })

	plot := int64(1)
	job, err := w.Enqueue(ctx, Input{Kind: domain.KindScript, Query: records.Query{PlotNumber: &plot}})
	require.NoError(t, err)
	failed, err := w.Wait(ctx, job.ID)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "plot_number")
	assert.Equal(t, 1, obs.get(string(StatusFailed)))
}

func TestEnqueueValidation(t *testing.T) {
	w := NewWorker(nil, nil, Options{})
	_, err := w.Enqueue(context.Background(), Input{Kind: "weather"})
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindValidation))
	_, err = w.Enqueue(context.Background(), Input{Kind: domain.KindSensor, Formats: []Format{"parquet"}})
	require.Error(t, err)
	assert.True(t, model.IsKind(err, model.KindValidation))
	_, ok := w.Get("missing")
	assert.False(t, ok)
	require.NoError(t, w.Stop(context.Background()))
}

func TestQueueFullAndStop(t *testing.T) {
	ctx := context.Background()
	w := NewWorker(nil, nil, Options{QueueSize: 1})
	first, err := w.Enqueue(ctx, Input{Kind: domain.KindSensor})
	require.NoError(t, err)
	_, err = w.Enqueue(ctx, Input{Kind: domain.KindSensor})
	assert.ErrorIs(t, err, ErrQueueFull)

	require.NoError(t, w.Stop(ctx))
	got, ok := w.Get(first.ID)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, ErrStopped.Error(), got.Error)

	_, err = w.Enqueue(ctx, Input{Kind: domain.KindSensor})
	assert.ErrorIs(t, err, ErrStopped)
	w.Start()
}

func TestWriteTraitCSV(t *testing.T) {
	rec, _ := newRecorder(t)
	var buf bytes.Buffer
	n, err := Write(context.Background(), rec, domain.KindTrait, records.Query{}, FormatCSV, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "12.5", rows[1][11])
	assert.Equal(t, "4", rows[1][8])
	assert.Empty(t, rows[1][12])

	_, err = Write(context.Background(), rec, domain.KindTrait, records.Query{}, "xml", io.Discard)
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("ndjson")
	require.NoError(t, err)
	assert.Equal(t, "application/x-ndjson", f.ContentType())
	assert.Equal(t, "text/csv", FormatCSV.ContentType())
	_, err = ParseFormat("png")
	assert.Error(t, err)
}
