package core

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"labcore/internal/blob"
	"labcore/internal/engine"
	"labcore/pkg/domain"
)

const defaultSubmitConcurrency = 4

// Service ties the calculation engine to the revision ledger and the report
// archive. It is safe for concurrent use; the ledger's revision check settles
// races between writers of the same record.
type Service struct {
	engine  *engine.Engine
	ledger  domain.RevisionStore
	archive blob.Store
	logger  *zap.Logger
	metrics MetricsRecorder
	workers int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger. Nil restores the no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger == nil {
			logger = zap.NewNop()
		}
		s.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) {
		if m == nil {
			m = noopMetrics{}
		}
		s.metrics = m
	}
}

// WithArchive enables archiving report JSON for every finalized revision.
func WithArchive(store blob.Store) Option {
	return func(s *Service) { s.archive = store }
}

// WithSubmitConcurrency bounds how many drafts SubmitAll finalizes at once.
func WithSubmitConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// NewService constructs a service over eng and ledger.
func NewService(eng *engine.Engine, ledger domain.RevisionStore, opts ...Option) *Service {
	s := &Service{
		engine:  eng,
		ledger:  ledger,
		logger:  zap.NewNop(),
		metrics: noopMetrics{},
		workers: defaultSubmitConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Engine returns the underlying calculation engine.
func (s *Service) Engine() *engine.Engine { return s.engine }

// Ledger returns the revision ledger.
func (s *Service) Ledger() domain.RevisionStore { return s.ledger }

// Types lists the registered test types.
func (s *Service) Types() []domain.TestTypeID { return s.engine.Registry().IDs() }

// Describe returns the schema definition of a test type.
func (s *Service) Describe(id domain.TestTypeID) (domain.TestTypeSchema, error) {
	sc, err := s.engine.Schema(id)
	if err != nil {
		return domain.TestTypeSchema{}, err
	}
	return sc.Definition(), nil
}

// Compute creates a record of testType and replays the draft into it. The
// record is returned with every value the engine rejected.
func (s *Service) Compute(ctx context.Context, testType domain.TestTypeID, d Draft) (rec domain.TestRecord, rejected []Rejection, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "compute", start, err) }()
	return s.compute(testType, d)
}

func (s *Service) compute(testType domain.TestTypeID, d Draft) (domain.TestRecord, []Rejection, error) {
	rec, err := s.engine.CreateTestRecord(testType)
	if err != nil {
		return domain.TestRecord{}, nil, err
	}
	return apply(s.engine, rec, d)
}

// Finalize locks rec, appends it to the ledger and archives its report.
// When only archiving fails the revision is already committed: it is returned
// together with the archive error.
func (s *Service) Finalize(ctx context.Context, rec domain.TestRecord) (fin domain.FinalizedTestRecord, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "finalize", start, err) }()
	return s.finalize(ctx, rec)
}

func (s *Service) finalize(ctx context.Context, rec domain.TestRecord) (domain.FinalizedTestRecord, error) {
	_, fin, err := s.engine.Finalize(rec)
	if err != nil {
		return domain.FinalizedTestRecord{}, err
	}
	if err := s.ledger.Append(ctx, fin); err != nil {
		return domain.FinalizedTestRecord{}, fmt.Errorf("append revision: %w", err)
	}
	s.logger.Info("revision finalized",
		zap.String("record_id", fin.ID),
		zap.String("test_type", string(fin.TestType)),
		zap.Int("revision", fin.Revision),
		zap.String("status", string(fin.Summary.Status)),
	)
	if s.archive == nil {
		return fin, nil
	}
	info, err := blob.PutReport(ctx, s.archive, fin)
	if err != nil {
		s.logger.Error("report archive failed", zap.String("record_id", fin.ID), zap.Int("revision", fin.Revision), zap.Error(err))
		return fin, fmt.Errorf("archive report %s: %w", blob.ReportKey(fin.ID, fin.Revision), err)
	}
	s.logger.Debug("report archived", zap.String("key", info.Key), zap.Int64("size_bytes", info.Size), zap.String("driver", string(s.archive.Driver())))
	return fin, nil
}

// Submit computes a draft and finalizes it as revision 1 of a new record.
func (s *Service) Submit(ctx context.Context, testType domain.TestTypeID, d Draft) (fin domain.FinalizedTestRecord, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "submit", start, err) }()
	rec, _, err := s.compute(testType, d)
	if err != nil {
		return domain.FinalizedTestRecord{}, err
	}
	return s.finalize(ctx, rec)
}

// SubmitAll submits drafts concurrently. Results keep the order of drafts.
// The first failure cancels the drafts that have not started yet.
func (s *Service) SubmitAll(ctx context.Context, testType domain.TestTypeID, drafts []Draft) ([]domain.FinalizedTestRecord, error) {
	out := make([]domain.FinalizedTestRecord, len(drafts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, d := range drafts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fin, err := s.Submit(gctx, testType, d)
			if err != nil {
				return fmt.Errorf("draft %d: %w", i+1, err)
			}
			out[i] = fin
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}

// History returns every finalized revision of a record, oldest first.
func (s *Service) History(ctx context.Context, recordID string) (revs []domain.FinalizedTestRecord, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "history", start, err) }()
	revs, err = s.ledger.History(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if len(revs) == 0 {
		return nil, domain.ErrNotFound{Entity: "record", ID: recordID}
	}
	return revs, nil
}

// Revise opens the next revision of a finalized record for editing.
func (s *Service) Revise(ctx context.Context, recordID string) (rec domain.TestRecord, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "revise", start, err) }()
	latest, ok, err := s.ledger.Latest(ctx, recordID)
	if err != nil {
		return domain.TestRecord{}, err
	}
	if !ok {
		return domain.TestRecord{}, domain.ErrNotFound{Entity: "record", ID: recordID}
	}
	return s.engine.Revise(latest)
}

// Amend opens the next revision of recordID, replays d over the carried
// values and finalizes it. Draft rows address existing rows by position.
func (s *Service) Amend(ctx context.Context, recordID string, d Draft) (fin domain.FinalizedTestRecord, err error) {
	start := time.Now()
	defer func() { s.observe(ctx, "amend", start, err) }()
	latest, ok, err := s.ledger.Latest(ctx, recordID)
	if err != nil {
		return domain.FinalizedTestRecord{}, err
	}
	if !ok {
		return domain.FinalizedTestRecord{}, domain.ErrNotFound{Entity: "record", ID: recordID}
	}
	rec, err := s.engine.Revise(latest)
	if err != nil {
		return domain.FinalizedTestRecord{}, err
	}
	if rec, _, err = apply(s.engine, rec, d); err != nil {
		return domain.FinalizedTestRecord{}, err
	}
	return s.finalize(ctx, rec)
}

func (s *Service) observe(ctx context.Context, op string, start time.Time, err error) {
	elapsed := time.Since(start)
	s.metrics.Observe(ctx, op, err == nil, elapsed)
	if err != nil {
		s.logger.Warn("operation failed", zap.String("operation", op), zap.Duration("duration", elapsed), zap.Error(err))
		return
	}
	s.logger.Debug("operation complete", zap.String("operation", op), zap.Duration("duration", elapsed))
}
