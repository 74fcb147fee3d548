package domain

import "context"

// RevisionStore is the append-only ledger of finalized records. Append must
// reject a revision that is not exactly one greater than the latest stored
// revision of the same record with ErrRevisionConflict.
type RevisionStore interface {
	Append(ctx context.Context, rec FinalizedTestRecord) error
	Latest(ctx context.Context, recordID string) (FinalizedTestRecord, bool, error)
	History(ctx context.Context, recordID string) ([]FinalizedTestRecord, error)
	Close() error
}
