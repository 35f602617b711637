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

// maxCBORDocBytes is the maximum encoded document size for SurrealDB's CBOR wire format.
// Documents exceeding this limit cause opaque CBOR errors at the driver level.
const maxCBORDocBytes = 10_000_000

// imageRecord is the SurrealDB record shape for the images table.
type imageRecord struct {
	Ticker      string    `json:"ticker"`
	DataURI     string    `json:"data_uri"`
	ContentType string    `json:"content_type"`
	SourceURL   string    `json:"source_url"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ImageStore implements interfaces.ImageStore using SurrealDB.
type ImageStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewImageStore creates a new ImageStore.
func NewImageStore(db *surrealdb.DB, logger *common.Logger) *ImageStore {
	return &ImageStore{db: db, logger: logger}
}

func (s *ImageStore) GetImage(ctx context.Context, ticker string) (*models.Image, error) {
	record, err := surrealdb.Select[imageRecord](ctx, s.db, surrealmodels.NewRecordID(imageTable, ticker))
	if err != nil {
		if isNotFoundError(err) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to select image %s: %w", ticker, err)
	}
	if record == nil {
		return nil, models.ErrNotFound
	}
	return &models.Image{
		Ticker:      record.Ticker,
		DataURI:     record.DataURI,
		ContentType: record.ContentType,
		SourceURL:   record.SourceURL,
		UpdatedAt:   record.UpdatedAt,
	}, nil
}

func (s *ImageStore) SaveImage(ctx context.Context, image *models.Image) error {
	if len(image.DataURI) > maxCBORDocBytes {
		return fmt.Errorf("image for %s too large for storage: %d bytes (limit %d)", image.Ticker, len(image.DataURI), maxCBORDocBytes)
	}
	updated := image.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	sql := `UPSERT $rid SET
		ticker = $ticker, data_uri = $data_uri, content_type = $content_type,
		source_url = $source_url, updated_at = $updated_at`
	vars := map[string]any{
		"rid":          surrealmodels.NewRecordID(imageTable, image.Ticker),
		"ticker":       image.Ticker,
		"data_uri":     image.DataURI,
		"content_type": image.ContentType,
		"source_url":   image.SourceURL,
		"updated_at":   updated,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to save image %s: %w", image.Ticker, err)
	}
	return nil
}

func (s *ImageStore) DeleteImage(ctx context.Context, ticker string) error {
	_, err := surrealdb.Delete[imageRecord](ctx, s.db, surrealmodels.NewRecordID(imageTable, ticker))
	if err != nil && !isNotFoundError(err) {
		return fmt.Errorf("failed to delete image %s: %w", ticker, err)
	}
	return nil
}

var _ interfaces.ImageStore = (*ImageStore)(nil)
