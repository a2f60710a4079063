package model_test

import (
	"testing"

	"gemini/testutil"
)

func TestModelStaysDriverAndTransportFree(t *testing.T) {
	if testing.Short() {
		t.Skip("loads the package graph")
	}
	testutil.AssertNoTransitiveDependency(t, "gemini/internal/model", testutil.DriverImportForbidden, "model works through persistence.Dialect")
	testutil.AssertNoTransitiveDependency(t, "gemini/internal/model", testutil.TransportImportForbidden, "model is transport agnostic")
}
