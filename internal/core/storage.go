package core

import (
	"fmt"
	"os"

	"labcore/internal/infra/persistence/memory"
	"labcore/internal/infra/persistence/postgres"
	"labcore/internal/infra/persistence/sqlite"
	"labcore/pkg/domain"
)

// StorageDriver identifies a concrete revision ledger implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenRevisionStore selects a ledger backend using environment variables.
// Defaults to sqlite when unset.
//
//	LABCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	LABCORE_SQLITE_PATH: path to sqlite file (default ./labcore.db)
//	LABCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenRevisionStore() (domain.RevisionStore, error) {
	driver := os.Getenv("LABCORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		store, err := sqlite.NewStore(os.Getenv("LABCORE_SQLITE_PATH"))
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoragePostgres:
		store, err := postgres.NewStore(os.Getenv("LABCORE_POSTGRES_DSN"))
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
