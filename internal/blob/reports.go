package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"labcore/pkg/domain"
)

const reportContentType = "application/json"

// ReportKey is the archive key of one finalized revision. Revisions are zero
// padded so a prefix listing returns them in order.
func ReportKey(recordID string, revision int) string {
	return fmt.Sprintf("reports/%s/%06d.json", recordID, revision)
}

// ReportPrefix is the key prefix shared by every revision of a record.
func ReportPrefix(recordID string) string {
	return "reports/" + recordID + "/"
}

// PutReport archives the JSON document of a finalized revision. Archiving the
// same revision twice fails with ErrExists.
func PutReport(ctx context.Context, store Store, rec domain.FinalizedTestRecord) (Info, error) {
	if rec.ID == "" {
		return Info{}, fmt.Errorf("archive report: record id is required")
	}
	payload, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return Info{}, fmt.Errorf("encode report: %w", err)
	}
	return store.Put(ctx, ReportKey(rec.ID, rec.Revision), bytes.NewReader(payload), PutOptions{
		ContentType: reportContentType,
		Metadata: map[string]string{
			"test-type": string(rec.TestType),
			"revision":  strconv.Itoa(rec.Revision),
			"status":    string(rec.Summary.Status),
		},
	})
}

// GetReport reads an archived revision back.
func GetReport(ctx context.Context, store Store, recordID string, revision int) (domain.FinalizedTestRecord, error) {
	_, rc, err := store.Get(ctx, ReportKey(recordID, revision))
	if err != nil {
		return domain.FinalizedTestRecord{}, err
	}
	defer func() { _ = rc.Close() }()
	var rec domain.FinalizedTestRecord
	if err := json.NewDecoder(rc).Decode(&rec); err != nil {
		return domain.FinalizedTestRecord{}, fmt.Errorf("decode report %s: %w", ReportKey(recordID, revision), err)
	}
	return rec, nil
}
