package engine

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestCalculationPackagesCannotExecuteCode ensures formulas are only ever
// interpreted: no labcore package reachable from the calculation core may
// import a process, plugin or script runtime.
func TestCalculationPackagesCannotExecuteCode(t *testing.T) {
	forbidden := []string{"os/exec", "plugin", "github.com/traefik/yaegi", "github.com/dop251/goja", "github.com/robertkrimen/otto"}
	roots := []string{
		"labcore/internal/formula",
		"labcore/internal/compliance",
		"labcore/internal/schema",
		"labcore/internal/engine",
	}

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports | packages.NeedDeps}
	pkgs, err := packages.Load(cfg, roots...)
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	seen := make(map[string]struct{})
	packages.Visit(pkgs, func(pkg *packages.Package) bool {
		if !strings.HasPrefix(pkg.PkgPath, "labcore/") {
			return false
		}
		for importPath := range pkg.Imports {
			for _, bad := range forbidden {
				if importPath == bad || strings.HasPrefix(importPath, bad+"/") {
					seen[pkg.PkgPath+": "+importPath] = struct{}{}
				}
			}
		}
		return true
	}, nil)

	if len(seen) > 0 {
		violations := make([]string, 0, len(seen))
		for v := range seen {
			violations = append(violations, v)
		}
		sort.Strings(violations)
		for _, v := range violations {
			t.Errorf("forbidden import: %s", v)
		}
		t.Fatalf("found %d forbidden imports reachable from calculation packages", len(violations))
	}
}
