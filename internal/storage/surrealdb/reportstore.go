package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/stockgen/internal/common"
	"github.com/bobmcallan/stockgen/internal/interfaces"
	"github.com/bobmcallan/stockgen/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// reportRecord is the SurrealDB record shape for the reports table.
type reportRecord struct {
	Key       string            `json:"key"`
	Ticker    string            `json:"ticker"`
	Name      string            `json:"name"`
	Owner     string            `json:"owner"`
	Fields    map[string]string `json:"fields"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (r *reportRecord) toModel() *models.Report {
	fields := r.Fields
	if fields == nil {
		fields = make(map[string]string)
	}
	return &models.Report{
		Key:       r.Key,
		Ticker:    r.Ticker,
		Name:      r.Name,
		Owner:     r.Owner,
		Fields:    fields,
		UpdatedAt: r.UpdatedAt,
	}
}

// ReportStore implements interfaces.ReportStore using SurrealDB.
type ReportStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewReportStore creates a new ReportStore.
func NewReportStore(db *surrealdb.DB, logger *common.Logger) *ReportStore {
	return &ReportStore{db: db, logger: logger}
}

func (s *ReportStore) GetByKey(ctx context.Context, key string) (*models.Report, error) {
	record, err := surrealdb.Select[reportRecord](ctx, s.db, surrealmodels.NewRecordID(reportTable, key))
	if err != nil {
		if isNotFoundError(err) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to select report %s: %w", key, err)
	}
	if record == nil {
		return nil, models.ErrNotFound
	}
	return record.toModel(), nil
}

// Upsert merges the given columns into the row. The nested fields object is
// merged key by key, so columns absent from report.Fields keep their values.
func (s *ReportStore) Upsert(ctx context.Context, report *models.Report) error {
	if report.Key == "" {
		return fmt.Errorf("report key is required")
	}
	updated := report.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	data := map[string]any{
		"key":        report.Key,
		"ticker":     report.Ticker,
		"owner":      report.Owner,
		"updated_at": updated,
		"fields":     report.Fields,
	}
	if report.Fields == nil {
		data["fields"] = map[string]string{}
	}
	if report.Name != "" {
		data["name"] = report.Name
	}

	sql := "UPSERT $rid MERGE $data"
	vars := map[string]any{
		"rid":  surrealmodels.NewRecordID(reportTable, report.Key),
		"data": data,
	}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		_, err := surrealdb.Query[[]reportRecord](ctx, s.db, sql, vars)
		if err == nil {
			s.logger.Debug().Str("key", report.Key).Int("columns", len(report.Fields)).Msg("Report upserted")
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("failed to upsert report %s: %w", report.Key, lastErr)
}

func (s *ReportStore) Delete(ctx context.Context, key string) error {
	_, err := surrealdb.Delete[reportRecord](ctx, s.db, surrealmodels.NewRecordID(reportTable, key))
	if err != nil && !isNotFoundError(err) {
		return fmt.Errorf("failed to delete report %s: %w", key, err)
	}
	return nil
}

func (s *ReportStore) DeleteByTicker(ctx context.Context, ticker string) (int, error) {
	sql := "DELETE " + reportTable + " WHERE ticker = $ticker RETURN BEFORE"
	vars := map[string]any{"ticker": ticker}

	results, err := surrealdb.Query[[]reportRecord](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to delete reports for %s: %w", ticker, err)
	}
	count := 0
	if results != nil && len(*results) > 0 {
		count = len((*results)[0].Result)
	}
	s.logger.Debug().Str("ticker", ticker).Int("count", count).Msg("Reports deleted by ticker")
	return count, nil
}

func (s *ReportStore) ListByOwner(ctx context.Context, owner string) ([]models.ReportSummary, error) {
	sql := "SELECT key, ticker, name, updated_at FROM " + reportTable + " WHERE owner = $owner ORDER BY updated_at DESC"
	vars := map[string]any{"owner": owner}

	results, err := surrealdb.Query[[]models.ReportSummary](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports for %s: %w", owner, err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return (*results)[0].Result, nil
}

var _ interfaces.ReportStore = (*ReportStore)(nil)
