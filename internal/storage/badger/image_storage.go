package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/bobmcallan/stockgen/internal/common"
	"github.com/bobmcallan/stockgen/internal/interfaces"
	"github.com/bobmcallan/stockgen/internal/models"
)

type imageStorage struct {
	store  *Store
	logger *common.Logger
}

func newImageStorage(store *Store, logger *common.Logger) *imageStorage {
	return &imageStorage{store: store, logger: logger}
}

func (s *imageStorage) GetImage(_ context.Context, ticker string) (*models.Image, error) {
	var img models.Image
	if err := s.store.db.Get(ticker, &img); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get image '%s': %w", ticker, err)
	}
	return &img, nil
}

func (s *imageStorage) SaveImage(_ context.Context, image *models.Image) error {
	if image.UpdatedAt.IsZero() {
		image.UpdatedAt = time.Now()
	}
	if err := s.store.db.Upsert(image.Ticker, image); err != nil {
		return fmt.Errorf("failed to save image '%s': %w", image.Ticker, err)
	}
	s.logger.Debug().Str("ticker", image.Ticker).Msg("Image saved")
	return nil
}

func (s *imageStorage) DeleteImage(_ context.Context, ticker string) error {
	err := s.store.db.Delete(ticker, models.Image{})
	if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("failed to delete image '%s': %w", ticker, err)
	}
	return nil
}

var _ interfaces.ImageStore = (*imageStorage)(nil)
