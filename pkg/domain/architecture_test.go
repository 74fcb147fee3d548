package domain

import (
	"testing"

	"labcore/testutil"
)

// TestDomainDoesNotImportInternal keeps the shared record model free of the
// engine and of storage so every layer can depend on it.
func TestDomainDoesNotImportInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".",
		testutil.AnyOf(testutil.InternalImportForbidden, testutil.StorageImportForbidden),
		"domain package must not import internal or storage packages")
}
