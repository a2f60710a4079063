package testutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/packages"
)

func TestPredicates(t *testing.T) {
	assert.True(t, InternalImportForbidden("gemini/internal/model"))
	assert.False(t, InternalImportForbidden("gemini/pkg/domain"))

	assert.True(t, TransportImportForbidden("github.com/labstack/echo/v4"))
	assert.True(t, TransportImportForbidden("github.com/spf13/viper"))
	assert.False(t, TransportImportForbidden("github.com/spf13/cast"))

	assert.True(t, DriverImportForbidden("github.com/jackc/pgx/v5/stdlib"))
	assert.True(t, DriverImportForbidden("modernc.org/sqlite"))
	assert.True(t, DriverImportForbidden("github.com/aws/aws-sdk-go-v2/service/s3"))
	assert.False(t, DriverImportForbidden("modernc.org/sqlitex"))
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.go"), []byte("package tmp\nimport \"gemini/internal/model\"\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x_test.go"), []byte("package tmp\nimport \"gemini/internal/api\"\n"), 0o600))

	viols, err := directImportViolations(dir, InternalImportForbidden)
	require.NoError(t, err)
	assert.Equal(t, []string{"gemini/internal/model (in x.go)"}, viols)

	AssertNoDirectImports(t, dir, TransportImportForbidden, "none")
}

func TestTransitiveViolations(t *testing.T) {
	leaf := &packages.Package{PkgPath: "modernc.org/sqlite"}
	mid := &packages.Package{PkgPath: "gemini/internal/infra/persistence/sqlite", Imports: map[string]*packages.Package{"modernc.org/sqlite": leaf}}
	root := &packages.Package{PkgPath: "gemini/internal/app", Imports: map[string]*packages.Package{
		"gemini/internal/infra/persistence/sqlite": mid,
		"fmt": {PkgPath: "fmt"},
	}}
	orig := loadPackages
	t.Cleanup(func() { loadPackages = orig })

	loadPackages = func(string) ([]*packages.Package, error) { return []*packages.Package{root}, nil }
	viols, err := transitiveDependencyViolations("gemini/internal/app", DriverImportForbidden)
	require.NoError(t, err)
	assert.Equal(t, []string{"modernc.org/sqlite (via gemini/internal/infra/persistence/sqlite)"}, viols)

	loadPackages = func(string) ([]*packages.Package, error) { return nil, errors.New("boom") }
	_, err = transitiveDependencyViolations("x", DriverImportForbidden)
	assert.Error(t, err)
}

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestFailHelpers(t *testing.T) {
	r := &recordingFatal{}
	failIfDirectViolations(r, "reason", nil)
	assert.Empty(t, r.msg)
	failIfDirectViolations(r, "reason", []string{"a"})
	assert.Contains(t, r.msg, "forbidden direct imports detected (reason)")
	failIfTransitiveViolations(r, "why", []string{"b"})
	assert.Contains(t, r.msg, "forbidden transitive dependency detected (why)")
}
