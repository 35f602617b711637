// Package interfaces defines service contracts for stockgen
package interfaces

import (
	"context"

	"github.com/bobmcallan/stockgen/internal/models"
)

// StorageManager coordinates the report and image stores of one backend.
type StorageManager interface {
	ReportStore() ReportStore
	ImageStore() ImageStore

	// Backend names the active implementation ("surrealdb" or "badger").
	Backend() string

	Close() error
}

// ReportStore persists report rows keyed by report key.
type ReportStore interface {
	// GetByKey returns models.ErrNotFound when no row exists.
	GetByKey(ctx context.Context, key string) (*models.Report, error)

	// Upsert inserts or merges a row. Only the columns present in report.Fields
	// are written; other stored columns are left untouched.
	Upsert(ctx context.Context, report *models.Report) error

	// Delete removes one row. Deleting a missing row is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteByTicker removes the default row and every override of a ticker.
	DeleteByTicker(ctx context.Context, ticker string) (int, error)

	// ListByOwner returns an owner's override reports, newest first.
	ListByOwner(ctx context.Context, owner string) ([]models.ReportSummary, error)
}

// ImageStore persists one image per ticker.
type ImageStore interface {
	GetImage(ctx context.Context, ticker string) (*models.Image, error)
	SaveImage(ctx context.Context, image *models.Image) error
	DeleteImage(ctx context.Context, ticker string) error
}
