package resolver

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/bobmcallan/stockgen/internal/common"
	"github.com/bobmcallan/stockgen/internal/interfaces"
	"github.com/bobmcallan/stockgen/internal/models"
)

// DefaultWriter writes generated content back to a ticker's default report so
// later viewers skip generation. When the default row already exists each
// generated column is merged in as it arrives. Otherwise columns are buffered
// and the row is inserted once, by Commit, only when every generatable column
// is present. Columns a viewer's override supplies are not generated, and
// override text never goes into the shared row, so such a session leaves the
// insert to a later viewer.
type DefaultWriter struct {
	store  interfaces.ReportStore
	logger *common.Logger
	ticker string
	name   string

	mu      sync.Mutex
	exists  bool
	pending map[string]string
	seed    map[string]string
}

// NewDefaultWriter creates a writer. exists says whether the default row was found on load.
func NewDefaultWriter(store interfaces.ReportStore, logger *common.Logger, ticker, name string, exists bool, seed map[string]string) *DefaultWriter {
	return &DefaultWriter{
		store:   store,
		logger:  logger,
		ticker:  models.NormalizeTicker(ticker),
		name:    name,
		exists:  exists,
		pending: make(map[string]string),
		seed:    maps.Clone(seed),
	}
}

// Exists reports whether the default row is known to be present.
func (w *DefaultWriter) Exists() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.exists
}

// Record hands over one generated column. Write failures are logged, not
// returned: the value is already cached for this session.
func (w *DefaultWriter) Record(ctx context.Context, column, value string) {
	w.mu.Lock()
	if !w.exists {
		w.pending[column] = value
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	row := &models.Report{
		Key:       w.ticker,
		Ticker:    w.ticker,
		Name:      w.name,
		Fields:    map[string]string{column: value},
		UpdatedAt: time.Now(),
	}
	if err := w.store.Upsert(context.WithoutCancel(ctx), row); err != nil {
		w.logger.Warn().Err(err).Str("ticker", w.ticker).Str("column", column).Msg("Default report update failed")
		return
	}
	w.logger.Debug().Str("ticker", w.ticker).Str("column", column).Msg("Default report updated")
}

// Commit inserts the buffered default report if it does not exist yet and every
// generatable column has a value. It returns true when a row was written.
func (w *DefaultWriter) Commit(ctx context.Context) (bool, error) {
	w.mu.Lock()
	if w.exists {
		w.mu.Unlock()
		return false, nil
	}
	var missing []string
	for _, spec := range models.FieldCatalog() {
		if !spec.Generatable() {
			continue
		}
		if w.pending[spec.Column()] == "" {
			missing = append(missing, spec.Column())
		}
	}
	if len(missing) > 0 {
		w.mu.Unlock()
		w.logger.Debug().Str("ticker", w.ticker).Strs("missing", missing).Msg("Default report not inserted")
		return false, nil
	}

	fields := maps.Clone(w.seed)
	if fields == nil {
		fields = make(map[string]string, len(w.pending))
	}
	maps.Copy(fields, w.pending)
	w.mu.Unlock()

	row := &models.Report{
		Key:       w.ticker,
		Ticker:    w.ticker,
		Name:      w.name,
		Fields:    fields,
		UpdatedAt: time.Now(),
	}
	if err := w.store.Upsert(context.WithoutCancel(ctx), row); err != nil {
		return false, models.NewPersistenceError("insert default", w.ticker, err)
	}

	w.mu.Lock()
	w.exists = true
	clear(w.pending)
	w.mu.Unlock()

	w.logger.Info().Str("ticker", w.ticker).Int("columns", len(fields)).Msg("Default report inserted")
	return true, nil
}
