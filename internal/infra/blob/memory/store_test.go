package memory

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gemini/internal/blob/core"
)

func TestReturnedInfoIsIsolated(t *testing.T) {
	ctx := context.Background()
	s := New()
	md := map[string]string{"a": "1"}
	info, err := s.Put(ctx, "k", strings.NewReader("data"), core.PutOptions{Metadata: md, Tags: map[string]string{"t": "v"}})
	require.NoError(t, err)
	md["a"] = "changed"
	info.Tags["t"] = "changed"

	head, err := s.Head(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "1", head.Metadata["a"])
	assert.Equal(t, "v", head.Tags["t"])

	_, rc, err := s.Get(ctx, "k")
	require.NoError(t, err)
	b, _ := io.ReadAll(rc)
	assert.Equal(t, "data", string(b))
}

func TestPutRejectsEmptyKey(t *testing.T) {
	_, err := New().Put(context.Background(), "", strings.NewReader("x"), core.PutOptions{})
	assert.Error(t, err)
}

func TestPresignRequiresObject(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.PresignURL(ctx, "nope", core.SignedURLOptions{})
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.Put(ctx, "a/b.txt", strings.NewReader("x"), core.PutOptions{})
	require.NoError(t, err)
	u, err := s.PresignURL(ctx, "a/b.txt", core.SignedURLOptions{})
	require.NoError(t, err)
	assert.Equal(t, "memory:///a/b.txt", u)
	assert.Equal(t, core.DriverMemory, s.Driver())
}
