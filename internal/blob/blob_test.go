package blob

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"labcore/pkg/domain"
)

func TestOpenSelectsDriverFromEnv(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name   string
		env    map[string]string
		want   Driver
		errMsg bool
	}{
		{name: "default fs", env: map[string]string{"LABCORE_BLOB_DRIVER": "", "LABCORE_BLOB_FS_ROOT": t.TempDir()}, want: DriverFilesystem},
		{name: "memory", env: map[string]string{"LABCORE_BLOB_DRIVER": "memory"}, want: DriverMemory},
		{name: "s3 without bucket", env: map[string]string{"LABCORE_BLOB_DRIVER": "s3", "LABCORE_BLOB_S3_BUCKET": ""}, errMsg: true},
		{name: "unknown", env: map[string]string{"LABCORE_BLOB_DRIVER": "ftp"}, errMsg: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			store, err := Open(ctx)
			if tc.errMsg {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if store.Driver() != tc.want {
				t.Fatalf("driver = %s, want %s", store.Driver(), tc.want)
			}
		})
	}
}

func TestReportKeyOrdersRevisions(t *testing.T) {
	if got := ReportKey("rec-1", 12); got != "reports/rec-1/000012.json" {
		t.Fatalf("ReportKey = %s", got)
	}
	if ReportKey("r", 2) > ReportKey("r", 10) {
		t.Fatalf("keys must sort by revision")
	}
}

func TestPutReportRoundTripAcrossBackends(t *testing.T) {
	ctx := context.Background()
	fsStore, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	stores := map[string]Store{
		"memory": NewMemory(),
		"fs":     fsStore,
		"s3":     NewMockS3ForTests(),
	}
	rec := domain.FinalizedTestRecord{
		ID:       "rec-7",
		TestType: "concrete_cylinder",
		Revision: 1,
		Header:   map[string]domain.RawValue{"design_strength": "25"},
		Rows: []domain.SampleRow{{
			ID:      "c1",
			Values:  map[string]domain.RawValue{"max_load": "200"},
			Numeric: map[string]float64{"max_load": 200000},
			Derived: map[string]float64{"strength": 25.5},
		}},
		Summary:     domain.SummaryResult{Aggregates: map[string]float64{"strength.mean": 25.5}, Status: domain.StatusPass},
		FinalizedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			info, err := PutReport(ctx, store, rec)
			if err != nil {
				t.Fatalf("PutReport: %v", err)
			}
			if info.Key != ReportKey(rec.ID, rec.Revision) {
				t.Fatalf("unexpected key %s", info.Key)
			}
			if _, err := PutReport(ctx, store, rec); !errors.Is(err, ErrExists) {
				t.Fatalf("expected ErrExists on second archive, got %v", err)
			}
			got, err := GetReport(ctx, store, rec.ID, rec.Revision)
			if err != nil {
				t.Fatalf("GetReport: %v", err)
			}
			if diff := cmp.Diff(rec, got); diff != "" {
				t.Fatalf("report mismatch (-want +got):\n%s", diff)
			}
			list, err := store.List(ctx, ReportPrefix(rec.ID))
			if err != nil || len(list) != 1 {
				t.Fatalf("list = %v err=%v", list, err)
			}
			if _, err := GetReport(ctx, store, rec.ID, 2); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound for unarchived revision, got %v", err)
			}
		})
	}
}

func TestPutReportRequiresID(t *testing.T) {
	if _, err := PutReport(context.Background(), NewMemory(), domain.FinalizedTestRecord{Revision: 1}); err == nil {
		t.Fatalf("expected error")
	}
}
