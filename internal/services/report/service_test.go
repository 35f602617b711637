package report

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/stockgen/internal/common"
	"github.com/bobmcallan/stockgen/internal/interfaces"
	"github.com/bobmcallan/stockgen/internal/models"
)

// --- mocks ---

type mockReportStore struct {
	mu      sync.Mutex
	rows    map[string]*models.Report
	deleted []string
}

func (m *mockReportStore) GetByKey(_ context.Context, key string) (*models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[key]
	if !ok {
		return nil, models.ErrNotFound
	}
	return r.Clone(), nil
}

func (m *mockReportStore) Upsert(_ context.Context, r *models.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.rows[r.Key]; ok {
		existing.Merge(r.Fields)
		return nil
	}
	m.rows[r.Key] = r.Clone()
	return nil
}

func (m *mockReportStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *mockReportStore) DeleteByTicker(_ context.Context, ticker string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, r := range m.rows {
		if r.Ticker == ticker || k == ticker {
			delete(m.rows, k)
			n++
		}
	}
	return n, nil
}

func (m *mockReportStore) ListByOwner(_ context.Context, owner string) ([]models.ReportSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ReportSummary
	for _, r := range m.rows {
		if r.Owner == owner {
			out = append(out, models.ReportSummary{Key: r.Key, Ticker: r.Ticker, Name: r.Name})
		}
	}
	return out, nil
}

type mockImageStore struct {
	mu     sync.Mutex
	images map[string]*models.Image
}

func (m *mockImageStore) GetImage(_ context.Context, ticker string) (*models.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[ticker]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *img
	return &cp, nil
}

func (m *mockImageStore) SaveImage(_ context.Context, img *models.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *img
	m.images[img.Ticker] = &cp
	return nil
}

func (m *mockImageStore) DeleteImage(_ context.Context, ticker string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.images, ticker)
	return nil
}

type mockStorage struct {
	reports *mockReportStore
	images  *mockImageStore
}

func newMockStorage() *mockStorage {
	return &mockStorage{
		reports: &mockReportStore{rows: make(map[string]*models.Report)},
		images:  &mockImageStore{images: make(map[string]*models.Image)},
	}
}

func (m *mockStorage) ReportStore() interfaces.ReportStore { return m.reports }
func (m *mockStorage) ImageStore() interfaces.ImageStore   { return m.images }
func (m *mockStorage) Backend() string                     { return "mock" }
func (m *mockStorage) Close() error                        { return nil }

type mockGenerator struct {
	calls atomic.Int32
	gate  chan struct{}
}

func (m *mockGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	m.calls.Add(1)
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "1. Point: Something notable.\n", nil
}

type mockFetcher struct {
	uri string
	err error
}

func (m *mockFetcher) FetchAsDataURI(context.Context, string) (string, error) {
	return m.uri, m.err
}

// --- helpers ---

func generatableCount() int {
	n := 0
	for _, f := range models.FieldCatalog() {
		if f.Generatable() {
			n++
		}
	}
	return n
}

func newTestService(gen interfaces.GenerationClient, budget int) (*Service, *mockStorage) {
	storage := newMockStorage()
	svc := NewService(storage, gen, &mockFetcher{}, common.NewSilentLogger(), Options{
		CallBudget:        budget,
		GenerationTimeout: 5 * time.Second,
		IdleTTL:           time.Hour,
	})
	return svc, storage
}

func openAndWait(t *testing.T, svc *Service, sid, ticker string) *View {
	t.Helper()
	v, err := svc.OpenView(context.Background(), sid, ticker, Seed{
		Name:   "Apple Inc",
		Fields: map[string]string{"marketCap": "3.1T", "recommendation": "buy"},
	})
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, v.Wait(ctx))
	return v
}

func groupStates(st ViewState) map[models.Group]GroupState {
	out := make(map[models.Group]GroupState)
	for _, g := range st.Groups {
		out[g.Group] = g.State
	}
	return out
}

// --- tests ---

func TestOpenView_GeneratesAndInsertsDefault(t *testing.T) {
	gen := &mockGenerator{}
	svc, storage := newTestService(gen, 30)
	sess, err := svc.CreateSession("alice")
	require.NoError(t, err)

	v := openAndWait(t, svc, sess.ID, "aapl")
	assert.Equal(t, "AAPL", v.Ticker())
	assert.Equal(t, int32(generatableCount()), gen.calls.Load())

	st := v.State()
	assert.Equal(t, "alice-AAPL", st.Key)
	for g, s := range groupStates(st) {
		assert.Equal(t, StateResolved, s, "group %s", g)
	}

	def, err := storage.reports.GetByKey(context.Background(), "AAPL")
	require.NoError(t, err)
	for _, f := range models.FieldCatalog() {
		if f.Generatable() {
			assert.NotEmpty(t, def.Fields[f.Column()], f.Column())
		}
	}
	assert.Equal(t, "3.1T", def.Fields["marketCap"])

	// The viewer's override is never written by generation.
	_, err = storage.reports.GetByKey(context.Background(), "alice-AAPL")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestOpenView_ReopenNeverRegenerates(t *testing.T) {
	gen := &mockGenerator{}
	svc, _ := newTestService(gen, 30)
	sess, err := svc.CreateSession("alice")
	require.NoError(t, err)

	first := openAndWait(t, svc, sess.ID, "AAPL")
	calls := gen.calls.Load()

	second := openAndWait(t, svc, sess.ID, "AAPL")
	assert.Same(t, first, second)
	assert.Equal(t, calls, gen.calls.Load())
}

func TestOpenView_DefaultRowSkipsGeneration(t *testing.T) {
	gen := &mockGenerator{}
	svc, storage := newTestService(gen, 30)
	fields := map[string]string{}
	for _, f := range models.FieldCatalog() {
		if f.Generatable() {
			fields[f.Column()] = "1. Stored: From the default report.\n"
		}
	}
	storage.reports.rows["AAPL"] = &models.Report{Key: "AAPL", Ticker: "AAPL", Name: "Apple Inc", Fields: fields}

	sess, err := svc.CreateSession("")
	require.NoError(t, err)
	v := openAndWait(t, svc, sess.ID, "AAPL")

	assert.Zero(t, gen.calls.Load())
	rv, ok := v.Cache().Resolved("description")
	require.True(t, ok)
	assert.Equal(t, models.TierDefault, rv.Tier)
}

func TestOpenView_BudgetExhausted(t *testing.T) {
	gen := &mockGenerator{}
	svc, storage := newTestService(gen, 2)
	sess, err := svc.CreateSession("alice")
	require.NoError(t, err)

	v := openAndWait(t, svc, sess.ID, "AAPL")
	assert.Equal(t, int32(2), gen.calls.Load())

	st := v.State()
	assert.Equal(t, 0, st.Budget.Remaining)
	unavailable := 0
	for _, g := range st.Groups {
		for _, f := range g.Fields {
			if f.Tier == models.TierUnavailable {
				unavailable++
			}
		}
	}
	assert.Equal(t, generatableCount()-2, unavailable)

	// An incomplete default report is never inserted.
	_, err = storage.reports.GetByKey(context.Background(), "AAPL")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCloseView_CancelsAndReopenResumes(t *testing.T) {
	gen := &mockGenerator{gate: make(chan struct{})}
	svc, _ := newTestService(gen, 100)
	sess, err := svc.CreateSession("alice")
	require.NoError(t, err)

	v, err := svc.OpenView(context.Background(), sess.ID, "AAPL", Seed{Name: "Apple Inc"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return gen.calls.Load() > 0 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, svc.CloseView(sess.ID, "AAPL"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, v.Wait(ctx))
	for g, s := range groupStates(v.State()) {
		assert.Equal(t, StateCancelled, s, "group %s", g)
	}

	close(gen.gate)
	again := openAndWait(t, svc, sess.ID, "AAPL")
	assert.Same(t, v, again)
	for g, s := range groupStates(again.State()) {
		assert.Equal(t, StateResolved, s, "group %s", g)
	}
}

func TestEditAndSave_WritesViewerOverride(t *testing.T) {
	svc, storage := newTestService(nil, 0)
	sess, err := svc.CreateSession("alice")
	require.NoError(t, err)
	v := openAndWait(t, svc, sess.ID, "AAPL")

	require.NoError(t, v.Edit("description", "A phone maker."))
	assert.Equal(t, []string{"description"}, v.State().Dirty)

	err = v.Edit("notAColumn", "x")
	assert.ErrorIs(t, err, models.ErrUnknownField)

	saved, err := v.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice-AAPL", saved.Key)
	assert.Equal(t, "A phone maker.", storage.reports.rows["alice-AAPL"].Fields["description"])
	assert.Empty(t, v.State().Dirty)

	_, err = storage.reports.GetByKey(context.Background(), "AAPL")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSave_AnonymousWritesDefault(t *testing.T) {
	svc, storage := newTestService(nil, 0)
	sess, err := svc.CreateSession("")
	require.NoError(t, err)
	v := openAndWait(t, svc, sess.ID, "AAPL")

	require.NoError(t, v.Edit("conclusion", "Hold."))
	_, err = v.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Hold.", storage.reports.rows["AAPL"].Fields["conclusion"])
}

func TestPatchPoint_ThroughView(t *testing.T) {
	svc, storage := newTestService(nil, 0)
	storage.reports.rows["alice-AAPL"] = &models.Report{
		Key: "alice-AAPL", Ticker: "AAPL", Owner: "alice",
		Fields: map[string]string{"strengthsAndCatalysts": "1. Brand: Loved.\n2. Cash: Plenty.\n"},
	}
	sess, err := svc.CreateSession("alice")
	require.NoError(t, err)
	v := openAndWait(t, svc, sess.ID, "AAPL")

	got, err := v.PatchPoint(context.Background(), "strengthsAndCatalysts", 2, models.PartBody, "Net cash")
	require.NoError(t, err)
	assert.Equal(t, "1. Brand: Loved.\n2. Cash: Net cash.\n", got)
	assert.Equal(t, got, storage.reports.rows["alice-AAPL"].Fields["strengthsAndCatalysts"])
}

func TestSessions_UnknownAndInvalid(t *testing.T) {
	svc, _ := newTestService(nil, 0)

	_, err := svc.OpenView(context.Background(), "missing", "AAPL", Seed{})
	assert.ErrorIs(t, err, models.ErrSessionNotFound)

	_, err = svc.CreateSession("bad-viewer")
	assert.ErrorIs(t, err, models.ErrInvalidViewer)

	sess, err := svc.CreateSession("alice")
	require.NoError(t, err)
	_, err = svc.OpenView(context.Background(), sess.ID, "  ", Seed{})
	assert.ErrorIs(t, err, models.ErrInvalidTicker)

	_, err = svc.View(sess.ID, "MSFT")
	assert.ErrorIs(t, err, models.ErrViewNotFound)
}

func TestSweep_EvictsIdleSessions(t *testing.T) {
	svc, _ := newTestService(nil, 0)
	sess, err := svc.CreateSession("alice")
	require.NoError(t, err)

	assert.Equal(t, 0, svc.Sweep(time.Now()))
	assert.Equal(t, 1, svc.Sweep(time.Now().Add(2*time.Hour)))

	_, err = svc.GetSession(sess.ID)
	assert.ErrorIs(t, err, models.ErrSessionNotFound)
}

func TestStartSweeper_RejectsBadSchedule(t *testing.T) {
	svc, _ := newTestService(nil, 0)
	assert.Error(t, svc.StartSweeper("not a schedule"))
	require.NoError(t, svc.StartSweeper("@every 1h"))
	svc.Stop()
}

func TestWipeTicker(t *testing.T) {
	svc, storage := newTestService(nil, 0)
	storage.reports.rows["AAPL"] = &models.Report{Key: "AAPL", Ticker: "AAPL"}
	storage.reports.rows["alice-AAPL"] = &models.Report{Key: "alice-AAPL", Ticker: "AAPL", Owner: "alice"}
	storage.reports.rows["MSFT"] = &models.Report{Key: "MSFT", Ticker: "MSFT"}
	storage.images.images["AAPL"] = &models.Image{Ticker: "AAPL"}

	sess, err := svc.CreateSession("alice")
	require.NoError(t, err)
	openAndWait(t, svc, sess.ID, "AAPL")

	n, err := svc.WipeTicker(context.Background(), "aapl")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Contains(t, storage.reports.rows, "MSFT")
	assert.NotContains(t, storage.images.images, "AAPL")

	_, err = svc.View(sess.ID, "AAPL")
	assert.ErrorIs(t, err, models.ErrViewNotFound)
}

func TestResetOverride(t *testing.T) {
	svc, storage := newTestService(nil, 0)
	storage.reports.rows["alice-AAPL"] = &models.Report{Key: "alice-AAPL", Ticker: "AAPL", Owner: "alice"}

	require.NoError(t, svc.ResetOverride(context.Background(), "alice", "AAPL"))
	assert.NotContains(t, storage.reports.rows, "alice-AAPL")

	assert.ErrorIs(t, svc.ResetOverride(context.Background(), "", "AAPL"), models.ErrInvalidViewer)
}

func TestListOwnerReports(t *testing.T) {
	svc, storage := newTestService(nil, 0)
	storage.reports.rows["alice-AAPL"] = &models.Report{Key: "alice-AAPL", Ticker: "AAPL", Owner: "alice"}
	storage.reports.rows["bob-AAPL"] = &models.Report{Key: "bob-AAPL", Ticker: "AAPL", Owner: "bob"}

	out, err := svc.ListOwnerReports(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "AAPL", models.DisplayName(out[0].Key))
}

func TestImages(t *testing.T) {
	svc, _ := newTestService(nil, 0)
	ctx := context.Background()
	uri := "data:image/png;base64,iVBORw0KGgo="

	img, err := svc.SaveImage(ctx, "aapl", uri, "")
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.ContentType)

	got, err := svc.GetImage(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, uri, got.DataURI)

	_, err = svc.SaveImage(ctx, "AAPL", "data:text/plain;base64,aGk=", "")
	assert.ErrorIs(t, err, models.ErrInvalidImage)

	require.NoError(t, svc.DeleteImage(ctx, "AAPL"))
	_, err = svc.GetImage(ctx, "AAPL")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestImportImage(t *testing.T) {
	svc, _ := newTestService(nil, 0)
	svc.fetcher = &mockFetcher{uri: "data:image/jpeg;base64,/9j/4AAQ"}

	img, err := svc.ImportImage(context.Background(), "AAPL", "https://example.com/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", img.ContentType)
	assert.Equal(t, "https://example.com/a.jpg", img.SourceURL)

	svc.fetcher = &mockFetcher{err: errors.Join(models.ErrImageFetch, errors.New("404"))}
	_, err = svc.ImportImage(context.Background(), "AAPL", "https://example.com/missing.jpg")
	assert.ErrorIs(t, err, models.ErrImageFetch)
}

func TestImageContentType(t *testing.T) {
	ct, err := ImageContentType("data:image/webp;base64,UklGRg==")
	require.NoError(t, err)
	assert.Equal(t, "image/webp", ct)

	for _, bad := range []string{"", "https://x/y.png", "data:image/png,raw", "data:image/png;base64,", "data:image/png;base64,@@@"} {
		_, err := ImageContentType(bad)
		assert.ErrorIs(t, err, models.ErrInvalidImage, bad)
	}
}

func TestFilterSeed(t *testing.T) {
	got := FilterSeed(map[string]string{
		"marketCap":      "3.1T",
		"recommendation": "buy",
		"revenue23":      "383.29B",
		"url1":           "https://x/logo.png",
		"description":    "should not seed prose",
		"marketCapDsc":   "nor descriptions",
		"peTtm":          "  ",
		"random":         "x",
	})
	assert.Equal(t, map[string]string{
		"marketCap":      "3.1T",
		"recommendation": "buy",
		"revenue23":      "383.29B",
		"url1":           "https://x/logo.png",
	}, got)
}

func TestFinancialChart(t *testing.T) {
	svc, storage := newTestService(nil, 0)
	last := time.Now().Year() - 1
	fields := map[string]string{}
	for y := last - 2; y <= last; y++ {
		fields[models.YearlyColumn("revenue", y)] = "100B"
		fields[models.YearlyColumn("netProfit", y)] = "20B"
		fields[models.YearlyColumn("ebitda", y)] = "30B"
	}
	storage.reports.rows["AAPL"] = &models.Report{Key: "AAPL", Ticker: "AAPL", Name: "Apple", Fields: fields}

	png, err := svc.FinancialChart(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(png), "\x89PNG"))

	_, err = svc.FinancialChart(context.Background(), "MSFT")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func sharedField(t *testing.T, sr *SharedReport, name string) models.ResolvedValue {
	t.Helper()
	for _, g := range sr.Groups {
		for _, f := range g.Fields {
			if f.Field == name {
				return f
			}
		}
	}
	t.Fatalf("field %s not in shared report", name)
	return models.ResolvedValue{}
}

func TestSharedReport_MergesOverrideWithoutGenerating(t *testing.T) {
	gen := &mockGenerator{}
	svc, storage := newTestService(gen, 30)
	storage.reports.rows["AAPL"] = &models.Report{Key: "AAPL", Ticker: "AAPL", Name: "Apple Inc", Fields: map[string]string{
		"description":           "Shared overview",
		"marketCap":             "3.1T",
		"marketCapDsc":          "Mega cap.",
		"strengthsAndCatalysts": "1. Brand: Loved.\n2. Cash: Plenty.\n",
	}}
	storage.reports.rows["alice-AAPL"] = &models.Report{Key: "alice-AAPL", Ticker: "AAPL", Owner: "alice", Fields: map[string]string{
		"description": "Alice overview",
	}}

	sr, err := svc.SharedReport(context.Background(), "alice", "aapl")
	require.NoError(t, err)
	assert.Equal(t, "alice-AAPL", sr.Key)
	assert.Equal(t, "Apple Inc", sr.Name)

	desc := sharedField(t, sr, "description")
	assert.Equal(t, "Alice overview", desc.Value)
	assert.Equal(t, models.TierOverride, desc.Tier)

	mc := sharedField(t, sr, "marketCap")
	assert.Equal(t, "3.1T", mc.Value)
	assert.Equal(t, "Mega cap.", mc.Description)
	assert.Equal(t, models.TierDefault, mc.Tier)

	assert.Len(t, sharedField(t, sr, "strengthsAndCatalysts").Points, 2)
	assert.Equal(t, models.TierUnavailable, sharedField(t, sr, "conclusion").Tier)
	assert.Zero(t, gen.calls.Load())

	// Another owner without a saved report sees the default row.
	sr, err = svc.SharedReport(context.Background(), "bob", "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", sr.Key)
	assert.Equal(t, "Shared overview", sharedField(t, sr, "description").Value)
}

func TestSharedReport_Errors(t *testing.T) {
	svc, storage := newTestService(nil, 30)
	storage.reports.rows["alice-MSFT"] = &models.Report{Key: "alice-MSFT", Ticker: "MSFT", Owner: "alice",
		Fields: map[string]string{"description": "Only mine"}}
	ctx := context.Background()

	_, err := svc.SharedReport(ctx, "alice", "TSLA")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = svc.SharedReport(ctx, "al-ice", "MSFT")
	assert.ErrorIs(t, err, models.ErrInvalidViewer)
	_, err = svc.SharedReport(ctx, "alice", " ")
	assert.ErrorIs(t, err, models.ErrInvalidTicker)

	sr, err := svc.SharedReport(ctx, "alice", "MSFT")
	require.NoError(t, err)
	assert.Equal(t, "MSFT", sr.Name)
	assert.Equal(t, "Only mine", sharedField(t, sr, "description").Value)
}
