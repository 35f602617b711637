package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"

	"github.com/bobmcallan/stockgen/internal/common"
	"github.com/bobmcallan/stockgen/internal/interfaces"
	"github.com/bobmcallan/stockgen/internal/models"
)

// maxConflictRetries bounds retries of a merge that lost an optimistic transaction race.
const maxConflictRetries = 5

type reportStorage struct {
	store  *Store
	logger *common.Logger
}

func newReportStorage(store *Store, logger *common.Logger) *reportStorage {
	return &reportStorage{store: store, logger: logger}
}

func (s *reportStorage) GetByKey(_ context.Context, key string) (*models.Report, error) {
	var report models.Report
	err := s.store.db.Get(key, &report)
	if err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get report '%s': %w", key, err)
	}
	if report.Fields == nil {
		report.Fields = make(map[string]string)
	}
	return &report, nil
}

// Upsert merges report.Fields into the stored row inside one transaction, so
// concurrent writers of different columns never lose each other's values.
func (s *reportStorage) Upsert(ctx context.Context, report *models.Report) error {
	if report.Key == "" {
		return fmt.Errorf("report key is required")
	}

	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.store.db.Badger().Update(func(tx *badger.Txn) error {
			return s.merge(tx, report)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if err != nil {
		return fmt.Errorf("failed to upsert report '%s': %w", report.Key, err)
	}
	s.logger.Debug().Str("key", report.Key).Int("columns", len(report.Fields)).Msg("Report upserted")
	return nil
}

func (s *reportStorage) merge(tx *badger.Txn, report *models.Report) error {
	var existing models.Report
	err := s.store.db.TxGet(tx, report.Key, &existing)
	switch {
	case errors.Is(err, badgerhold.ErrNotFound):
		existing = models.Report{Key: report.Key}
	case err != nil:
		return err
	}

	existing.Merge(report.Fields)
	if report.Ticker != "" {
		existing.Ticker = report.Ticker
	}
	if report.Name != "" {
		existing.Name = report.Name
	}
	existing.Owner = report.Owner
	existing.UpdatedAt = report.UpdatedAt
	if existing.UpdatedAt.IsZero() {
		existing.UpdatedAt = time.Now()
	}
	return s.store.db.TxUpsert(tx, report.Key, &existing)
}

func (s *reportStorage) Delete(_ context.Context, key string) error {
	err := s.store.db.Delete(key, models.Report{})
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to delete report '%s': %w", key, err)
	}
	return nil
}

func (s *reportStorage) DeleteByTicker(_ context.Context, ticker string) (int, error) {
	count := 0
	err := s.store.db.Badger().Update(func(tx *badger.Txn) error {
		var reports []models.Report
		if err := s.store.db.TxFind(tx, &reports, badgerhold.Where("Ticker").Eq(ticker).Index("Ticker")); err != nil {
			return err
		}
		for _, r := range reports {
			if err := s.store.db.TxDelete(tx, r.Key, models.Report{}); err != nil {
				return err
			}
		}
		count = len(reports)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete reports for '%s': %w", ticker, err)
	}
	s.logger.Debug().Str("ticker", ticker).Int("count", count).Msg("Reports deleted by ticker")
	return count, nil
}

func (s *reportStorage) ListByOwner(_ context.Context, owner string) ([]models.ReportSummary, error) {
	var reports []models.Report
	query := badgerhold.Where("Owner").Eq(owner).Index("Owner").SortBy("UpdatedAt").Reverse()
	if err := s.store.db.Find(&reports, query); err != nil {
		return nil, fmt.Errorf("failed to list reports for '%s': %w", owner, err)
	}
	out := make([]models.ReportSummary, len(reports))
	for i, r := range reports {
		out[i] = models.ReportSummary{Key: r.Key, Ticker: r.Ticker, Name: r.Name, UpdatedAt: r.UpdatedAt}
	}
	return out, nil
}

var _ interfaces.ReportStore = (*reportStorage)(nil)
