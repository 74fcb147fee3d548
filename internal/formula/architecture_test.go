package formula

import (
	"testing"

	"labcore/testutil"
)

func TestFormulaHasNoStorageImports(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.StorageImportForbidden, "formula evaluation must stay pure")
}
