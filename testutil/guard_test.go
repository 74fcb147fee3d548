package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInternalImportForbiddenPredicate(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"labcore/internal/engine", true},
		{"labcore/pkg/domain", false},
	}
	for _, c := range cases {
		if got := InternalImportForbidden(c.in); got != c.want {
			t.Fatalf("InternalImportForbidden(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestStorageImportForbiddenPredicate(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"database/sql", true},
		{"github.com/jackc/pgx/v5/stdlib", true},
		{"modernc.org/sqlite", true},
		{"github.com/aws/aws-sdk-go-v2/service/s3", true},
		{"labcore/internal/infra/persistence/memory", true},
		{"labcore/internal/blob/core", true},
		{"labcore/internal/units", false},
		{"math", false},
		{"gopkg.in/yaml.v3", false},
	}
	for _, c := range cases {
		if got := StorageImportForbidden(c.in); got != c.want {
			t.Fatalf("StorageImportForbidden(%q)=%v want %v", c.in, got, c.want)
		}
	}
	either := AnyOf(InternalImportForbidden, StorageImportForbidden)
	if !either("labcore/internal/units") || !either("database/sql") || either("sort") {
		t.Fatalf("AnyOf must match when any predicate does")
	}
}

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"x.go":      "package tmp\nimport \"fmt\"\nfunc X(){fmt.Println(1)}",
		"y.go":      "package tmp\nimport _ \"modernc.org/sqlite\"\n",
		"y_test.go": "package tmp\nimport _ \"database/sql\"\n",
	}
	for name, src := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	AssertNoDirectImports(t, dir, func(string) bool { return false }, "none")

	viols, err := directImportViolations(dir, StorageImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "modernc.org/sqlite (in y.go)" {
		t.Fatalf("unexpected violations %v", viols)
	}
	var rec recordingFatal
	failIfDirectViolations(&rec, "pure", viols)
	if !strings.Contains(rec.msg, "pure") || !strings.Contains(rec.msg, "y.go") {
		t.Fatalf("unexpected failure message %q", rec.msg)
	}
}
