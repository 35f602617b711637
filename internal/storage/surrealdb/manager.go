package surrealdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bobmcallan/stockgen/internal/common"
	"github.com/bobmcallan/stockgen/internal/interfaces"
	"github.com/surrealdb/surrealdb.go"
)

const (
	reportTable = "reports"
	imageTable  = "images"
)

// Manager implements interfaces.StorageManager using SurrealDB.
type Manager struct {
	db     *surrealdb.DB
	logger *common.Logger

	reportStore *ReportStore
	imageStore  *ImageStore
}

// connectTimeout bounds the handshake at startup so a missing database fails fast.
const connectTimeout = 15 * time.Second

// NewManager connects to the configured SurrealDB and prepares the tables.
func NewManager(logger *common.Logger, config *common.Config) (*Manager, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	db, err := open(ctx, config.Storage)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("address", config.Storage.Address).
		Str("namespace", config.Storage.Namespace).
		Str("database", config.Storage.Database).
		Msg("SurrealDB storage manager initialized")

	return &Manager{
		db:          db,
		logger:      logger,
		reportStore: NewReportStore(db, logger),
		imageStore:  NewImageStore(db, logger),
	}, nil
}

// open signs in, selects the namespace and database, and defines the tables.
// The connection is closed on any failure.
func open(ctx context.Context, cfg common.StorageConfig) (*surrealdb.DB, error) {
	db, err := surrealdb.New(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("connect to SurrealDB at %s: %w", cfg.Address, err)
	}

	steps := []struct {
		what string
		run  func() error
	}{
		{"sign in", func() error {
			_, err := db.SignIn(ctx, map[string]interface{}{"user": cfg.Username, "pass": cfg.Password})
			return err
		}},
		{"select namespace/database", func() error { return db.Use(ctx, cfg.Namespace, cfg.Database) }},
		{"define tables", func() error { return defineTables(ctx, db) }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			db.Close(context.Background())
			return nil, fmt.Errorf("SurrealDB %s: %w", step.what, err)
		}
	}
	return db, nil
}

// defineTables creates the tables and lookup indexes (SurrealDB v3 errors on
// querying non-existent tables).
func defineTables(ctx context.Context, db *surrealdb.DB) error {
	stmts := []string{
		fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", reportTable),
		fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", imageTable),
		fmt.Sprintf("DEFINE INDEX IF NOT EXISTS idx_reports_ticker ON %s FIELDS ticker", reportTable),
		fmt.Sprintf("DEFINE INDEX IF NOT EXISTS idx_reports_owner ON %s FIELDS owner", reportTable),
	}
	for _, sql := range stmts {
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			return fmt.Errorf("run %q: %w", sql, err)
		}
	}
	return nil
}

func (m *Manager) ReportStore() interfaces.ReportStore {
	return m.reportStore
}

func (m *Manager) ImageStore() interfaces.ImageStore {
	return m.imageStore
}

func (m *Manager) Backend() string {
	return "surrealdb"
}

// Close ends the connection. Calling it twice is harmless.
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	m.db.Close(context.Background())
	m.db = nil
	return nil
}

// isNotFoundError matches the driver's responses for a missing record.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "does not exist")
}

var _ interfaces.StorageManager = (*Manager)(nil)
