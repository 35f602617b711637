// Package report orchestrates viewer sessions over open report views
package report

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/bobmcallan/stockgen/internal/common"
	"github.com/bobmcallan/stockgen/internal/interfaces"
	"github.com/bobmcallan/stockgen/internal/models"
	"github.com/bobmcallan/stockgen/internal/services/patcher"
	"github.com/bobmcallan/stockgen/internal/services/reportcache"
	"github.com/bobmcallan/stockgen/internal/services/resolver"
)

// Options tunes a Service.
type Options struct {
	// CallBudget caps generation calls per session.
	CallBudget int
	// GenerationTimeout bounds each generation call.
	GenerationTimeout time.Duration
	// IdleTTL is how long an untouched session survives the sweeper.
	IdleTTL time.Duration
}

// Seed is the live market data row a client opens a report with.
type Seed struct {
	Name   string            `json:"name"`
	Fields map[string]string `json:"fields"`
}

// Session groups the views of one viewer and owns their call budget.
type Session struct {
	ID        string
	Viewer    string
	Budget    *resolver.Budget
	CreatedAt time.Time

	mu       sync.Mutex
	views    map[string]*View
	lastSeen time.Time
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// LastSeen returns when the session was last used.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Service implements the dashboard workflow: sessions, views, persistence
// of edits and the image cache.
type Service struct {
	store     interfaces.ReportStore
	images    interfaces.ImageStore
	generator interfaces.GenerationClient
	fetcher   interfaces.ImageFetcher
	patcher   *patcher.Patcher
	logger    *common.Logger
	opts      Options

	mu       sync.RWMutex
	sessions map[string]*Session

	cron *cron.Cron
}

// NewService creates a report service. generator and fetcher may be nil.
func NewService(
	storage interfaces.StorageManager,
	generator interfaces.GenerationClient,
	fetcher interfaces.ImageFetcher,
	logger *common.Logger,
	opts Options,
) *Service {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 2 * time.Hour
	}
	return &Service{
		store:     storage.ReportStore(),
		images:    storage.ImageStore(),
		generator: generator,
		fetcher:   fetcher,
		patcher:   patcher.New(storage.ReportStore(), logger),
		logger:    logger,
		opts:      opts,
		sessions:  make(map[string]*Session),
	}
}

// CreateSession starts a session for viewer. An empty viewer is anonymous.
func (s *Service) CreateSession(viewer string) (*Session, error) {
	if viewer != "" && !common.ValidViewerID(viewer) {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidViewer, viewer)
	}
	now := time.Now()
	sess := &Session{
		ID:        uuid.New().String(),
		Viewer:    viewer,
		Budget:    resolver.NewBudget(s.opts.CallBudget),
		CreatedAt: now,
		views:     make(map[string]*View),
		lastSeen:  now,
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.logger.Info().Str("session", sess.ID).Str("viewer", viewer).Int("budget", s.opts.CallBudget).Msg("Session created")
	return sess, nil
}

// GetSession returns a live session.
func (s *Service) GetSession(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}
	sess.touch(time.Now())
	return sess, nil
}

// OpenView opens ticker inside a session and starts resolution in the
// background. Reopening a ticker reuses the existing view, so resolved fields
// are never generated twice in one session.
func (s *Service) OpenView(ctx context.Context, sessionID, ticker string, seed Seed) (*View, error) {
	sess, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	ticker = models.NormalizeTicker(ticker)
	if ticker == "" {
		return nil, models.ErrInvalidTicker
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if v, ok := sess.views[ticker]; ok {
		v.touch()
		v.start(ctx)
		return v, nil
	}

	def, err := s.load(ctx, models.ReportKey("", ticker))
	if err != nil {
		return nil, err
	}
	var override *models.Report
	if sess.Viewer != "" {
		if override, err = s.load(ctx, models.ReportKey(sess.Viewer, ticker)); err != nil {
			return nil, err
		}
	}

	seedFields := FilterSeed(seed.Fields)
	name := strings.TrimSpace(seed.Name)
	if name == "" && def != nil {
		name = def.Name
	}
	if name == "" {
		name = ticker
	}

	// The cache starts from seed, then the default row, then the override.
	values := maps.Clone(seedFields)
	if values == nil {
		values = make(map[string]string)
	}
	if def != nil {
		maps.Copy(values, def.Fields)
	}
	if override != nil {
		maps.Copy(values, override.Fields)
	}

	saved := override
	if sess.Viewer == "" {
		saved = def
	}
	cache := reportcache.New(ticker, sess.Viewer, name, values, saved)
	writer := resolver.NewDefaultWriter(s.store, s.logger, ticker, name, def != nil, seedFields)

	v := &View{
		sessionID: sess.ID,
		ticker:    ticker,
		viewer:    sess.Viewer,
		cache:     cache,
		writer:    writer,
		budget:    sess.Budget,
		patcher:   s.patcher,
		store:     s.store,
		logger:    s.logger,
		states:    make(map[models.Group]GroupState),
		lastUsed:  time.Now(),
	}
	v.resolver = resolver.New(resolver.Config{
		Cache:     cache,
		Override:  override,
		Default:   def,
		Seed:      seedFields,
		Generator: s.generator,
		Budget:    sess.Budget,
		Writer:    writer,
		Timeout:   s.opts.GenerationTimeout,
		Logger:    s.logger,
	})
	sess.views[ticker] = v

	s.logger.Info().Str("session", sess.ID).Str("ticker", ticker).Str("viewer", sess.Viewer).
		Bool("default_exists", def != nil).Bool("override_exists", override != nil).Msg("Report view opened")

	v.start(ctx)
	return v, nil
}

// load reads one row; a missing row is nil without error.
func (s *Service) load(ctx context.Context, key string) (*models.Report, error) {
	r, err := s.store.GetByKey(ctx, key)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, models.NewPersistenceError("get", key, err)
	}
	return r, nil
}

// View returns an open view.
func (s *Service) View(sessionID, ticker string) (*View, error) {
	sess, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	ticker = models.NormalizeTicker(ticker)
	sess.mu.Lock()
	v, ok := sess.views[ticker]
	sess.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrViewNotFound, ticker)
	}
	v.touch()
	return v, nil
}

// CloseView cancels outstanding work of a view. The view stays in the session
// so reopening it keeps everything resolved so far.
func (s *Service) CloseView(sessionID, ticker string) error {
	v, err := s.View(sessionID, ticker)
	if err != nil {
		return err
	}
	v.Close()
	s.logger.Debug().Str("session", sessionID).Str("ticker", v.ticker).Msg("Report view closed")
	return nil
}

// CloseSession cancels every view of a session and forgets it.
func (s *Service) CloseSession(sessionID string) {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		return
	}
	sess.mu.Lock()
	for _, v := range sess.views {
		v.Close()
	}
	sess.mu.Unlock()
}

// Sweep evicts sessions idle since before now minus IdleTTL and returns how many went.
func (s *Service) Sweep(now time.Time) int {
	cutoff := now.Add(-s.opts.IdleTTL)
	var idle []string
	s.mu.RLock()
	for id, sess := range s.sessions {
		if sess.LastSeen().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range idle {
		s.CloseSession(id)
	}
	if len(idle) > 0 {
		s.logger.Info().Int("evicted", len(idle)).Msg("Idle sessions swept")
	}
	return len(idle)
}

// StartSweeper runs Sweep on a cron schedule such as "@every 5m".
func (s *Service) StartSweeper(schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { s.Sweep(time.Now()) }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c
	s.logger.Info().Str("schedule", schedule).Dur("idle_ttl", s.opts.IdleTTL).Msg("Session sweeper started")
	return nil
}

// Stop halts the sweeper and cancels every open view.
func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	for _, id := range ids {
		s.CloseSession(id)
	}
}

// ListOwnerReports lists the reports an owner has saved.
func (s *Service) ListOwnerReports(ctx context.Context, owner string) ([]models.ReportSummary, error) {
	if !common.ValidViewerID(owner) {
		return nil, fmt.Errorf("%w: %q", models.ErrInvalidViewer, owner)
	}
	out, err := s.store.ListByOwner(ctx, owner)
	if err != nil {
		return nil, models.NewPersistenceError("list", owner, err)
	}
	return out, nil
}

// ResetOverride deletes a viewer's saved report so the next open shows the default.
func (s *Service) ResetOverride(ctx context.Context, viewer, ticker string) error {
	if !common.ValidViewerID(viewer) {
		return fmt.Errorf("%w: %q", models.ErrInvalidViewer, viewer)
	}
	ticker = models.NormalizeTicker(ticker)
	if ticker == "" {
		return models.ErrInvalidTicker
	}
	key := models.ReportKey(viewer, ticker)
	if err := s.store.Delete(ctx, key); err != nil {
		return models.NewPersistenceError("delete", key, err)
	}
	s.dropViews(ticker, viewer)
	s.logger.Info().Str("key", key).Msg("Report override reset")
	return nil
}

// WipeTicker deletes the default report, every override and the cached image
// of a ticker, and drops open views of it.
func (s *Service) WipeTicker(ctx context.Context, ticker string) (int, error) {
	ticker = models.NormalizeTicker(ticker)
	if ticker == "" {
		return 0, models.ErrInvalidTicker
	}
	n, err := s.store.DeleteByTicker(ctx, ticker)
	if err != nil {
		return n, models.NewPersistenceError("wipe", ticker, err)
	}
	if err := s.images.DeleteImage(ctx, ticker); err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Warn().Err(err).Str("ticker", ticker).Msg("Image delete during wipe failed")
	}
	s.dropViews(ticker, "")
	s.logger.Warn().Str("ticker", ticker).Int("reports", n).Msg("Ticker wiped")
	return n, nil
}

// dropViews removes open views of ticker. An empty viewer matches every session.
func (s *Service) dropViews(ticker, viewer string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if viewer != "" && sess.Viewer != viewer {
			continue
		}
		sess.mu.Lock()
		if v, ok := sess.views[ticker]; ok {
			v.Close()
			delete(sess.views, ticker)
		}
		sess.mu.Unlock()
	}
}

// SaveImage stores a pasted image. dataURI must be a base64 image data URI.
func (s *Service) SaveImage(ctx context.Context, ticker, dataURI, sourceURL string) (*models.Image, error) {
	ticker = models.NormalizeTicker(ticker)
	if ticker == "" {
		return nil, models.ErrInvalidTicker
	}
	contentType, err := ImageContentType(dataURI)
	if err != nil {
		return nil, err
	}
	img := &models.Image{
		Ticker:      ticker,
		DataURI:     dataURI,
		ContentType: contentType,
		SourceURL:   sourceURL,
		UpdatedAt:   time.Now(),
	}
	if err := s.images.SaveImage(ctx, img); err != nil {
		return nil, models.NewPersistenceError("save image", ticker, err)
	}
	s.logger.Debug().Str("ticker", ticker).Str("content_type", contentType).Int("bytes", len(dataURI)).Msg("Image saved")
	return img, nil
}

// ImportImage fetches a remote image and stores it as a data URI.
func (s *Service) ImportImage(ctx context.Context, ticker, sourceURL string) (*models.Image, error) {
	if s.fetcher == nil {
		return nil, fmt.Errorf("%w: image import not configured", models.ErrImageFetch)
	}
	dataURI, err := s.fetcher.FetchAsDataURI(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	return s.SaveImage(ctx, ticker, dataURI, sourceURL)
}

// GetImage returns the cached image of a ticker or models.ErrNotFound.
func (s *Service) GetImage(ctx context.Context, ticker string) (*models.Image, error) {
	ticker = models.NormalizeTicker(ticker)
	img, err := s.images.GetImage(ctx, ticker)
	if err != nil {
		return nil, models.NewPersistenceError("get image", ticker, err)
	}
	return img, nil
}

// DeleteImage removes the cached image of a ticker.
func (s *Service) DeleteImage(ctx context.Context, ticker string) error {
	ticker = models.NormalizeTicker(ticker)
	if err := s.images.DeleteImage(ctx, ticker); err != nil {
		return models.NewPersistenceError("delete image", ticker, err)
	}
	return nil
}

// ChartYears is how many calendar years the financial chart covers, ending last year.
const ChartYears = 5

// FinancialChart renders the per-year financial rows of the default report as a PNG.
func (s *Service) FinancialChart(ctx context.Context, ticker string) ([]byte, error) {
	ticker = models.NormalizeTicker(ticker)
	r, err := s.store.GetByKey(ctx, ticker)
	if err != nil {
		return nil, models.NewPersistenceError("get", ticker, err)
	}
	last := time.Now().Year() - 1
	years := make([]int, 0, ChartYears)
	for y := last - ChartYears + 1; y <= last; y++ {
		years = append(years, y)
	}
	name := r.Name
	if name == "" {
		name = ticker
	}
	return RenderFinancialChart(name+" financials ($B)", YearlyFinancials(r.Fields, years))
}

// FilterSeed keeps the seed columns a report may store: metric and scalar
// numbers, yearly financial rows and image columns. Blank values are dropped.
func FilterSeed(fields map[string]string) map[string]string {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if strings.TrimSpace(v) == "" {
			continue
		}
		if spec, ok := models.LookupField(k); ok {
			if spec.Kind == models.KindMetric || spec.Kind == models.KindScalar {
				out[k] = v
			}
			continue
		}
		if models.IsYearlyColumn(k) {
			out[k] = v
			continue
		}
		for _, c := range models.ImageColumns {
			if c == k {
				out[k] = v
			}
		}
	}
	return out
}

// ImageContentType validates a base64 image data URI and returns its media type.
func ImageContentType(dataURI string) (string, error) {
	rest, ok := strings.CutPrefix(dataURI, "data:")
	if !ok {
		return "", fmt.Errorf("%w: not a data URI", models.ErrInvalidImage)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok || payload == "" {
		return "", fmt.Errorf("%w: missing payload", models.ErrInvalidImage)
	}
	contentType, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", fmt.Errorf("%w: payload must be base64", models.ErrInvalidImage)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("%w: content type %q", models.ErrInvalidImage, contentType)
	}
	if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrInvalidImage, err)
	}
	return contentType, nil
}
