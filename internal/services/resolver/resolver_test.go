package resolver

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
	"github.com/bobmcallan/stockgen/internal/models"
	"github.com/bobmcallan/stockgen/internal/services/reportcache"
)

// --- mocks ---

type mockGenerator struct {
	calls   atomic.Int32
	mu      sync.Mutex
	prompts []string
	reply   func(prompt string) (string, error)
	gate    chan struct{}
}

func (m *mockGenerator) Complete(ctx context.Context, prompt string) (string, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.gate != nil {
		select {
		case <-m.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if m.reply != nil {
		return m.reply(prompt)
	}
	return "generated text", nil
}

type mockReportStore struct {
	mu   sync.Mutex
	rows map[string]*models.Report
	fail error
}

func newMockReportStore() *mockReportStore {
	return &mockReportStore{rows: make(map[string]*models.Report)}
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
	if m.fail != nil {
		return m.fail
	}
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
	return nil
}

func (m *mockReportStore) DeleteByTicker(context.Context, string) (int, error) { return 0, nil }

func (m *mockReportStore) ListByOwner(context.Context, string) ([]models.ReportSummary, error) {
	return nil, nil
}

func field(t *testing.T, name string) models.FieldSpec {
	t.Helper()
	spec, ok := models.LookupField(name)
	require.True(t, ok, name)
	return spec
}

func newTestResolver(override, def *models.Report, gen *mockGenerator, budget int) (*Resolver, *reportcache.Cache, *DefaultWriter, *mockReportStore) {
	store := newMockReportStore()
	if def != nil {
		store.rows[def.Key] = def.Clone()
	}
	seed := map[string]string{"marketCap": "3.1T", "recommendation": "Buy"}
	cache := reportcache.New("AAPL", "alice", "Apple Inc.", seed, override)
	logger := common.NewSilentLogger()
	writer := NewDefaultWriter(store, logger, "AAPL", "Apple Inc.", def != nil, seed)
	r := New(Config{
		Cache:     cache,
		Override:  override,
		Default:   def,
		Seed:      seed,
		Generator: gen,
		Budget:    NewBudget(budget),
		Writer:    writer,
		Timeout:   time.Second,
		Logger:    logger,
	})
	return r, cache, writer, store
}

// --- tests ---

func TestResolve_OverrideWins(t *testing.T) {
	override := &models.Report{Key: "alice-AAPL", Fields: map[string]string{"description": "mine"}}
	def := &models.Report{Key: "AAPL", Fields: map[string]string{"description": "shared"}}
	gen := &mockGenerator{}
	r, _, _, _ := newTestResolver(override, def, gen, 30)

	rv := r.Resolve(context.Background(), field(t, "description"))
	assert.Equal(t, "mine", rv.Value)
	assert.Equal(t, models.TierOverride, rv.Tier)
	assert.Zero(t, gen.calls.Load())
}

func TestResolve_FallsBackToDefault(t *testing.T) {
	override := &models.Report{Key: "alice-AAPL", Fields: map[string]string{"conclusion": "mine"}}
	def := &models.Report{Key: "AAPL", Fields: map[string]string{"description": "shared"}}
	gen := &mockGenerator{}
	r, _, _, _ := newTestResolver(override, def, gen, 30)

	rv := r.Resolve(context.Background(), field(t, "description"))
	assert.Equal(t, "shared", rv.Value)
	assert.Equal(t, models.TierDefault, rv.Tier)
	assert.Zero(t, gen.calls.Load())
}

func TestResolve_GeneratesOnceWhenMissing(t *testing.T) {
	gen := &mockGenerator{}
	r, _, _, _ := newTestResolver(nil, nil, gen, 30)

	spec := field(t, "description")
	rv := r.Resolve(context.Background(), spec)
	assert.Equal(t, "generated text", rv.Value)
	assert.Equal(t, models.TierGenerated, rv.Tier)

	again := r.Resolve(context.Background(), spec)
	assert.Equal(t, "generated text", again.Value)
	assert.Equal(t, int32(1), gen.calls.Load())
	assert.Equal(t, []string{"Give Apple Inc. company's description in 50-70 words"}, gen.prompts)
}

func TestResolve_ConcurrentCallsShareOneGeneration(t *testing.T) {
	gen := &mockGenerator{gate: make(chan struct{})}
	r, _, _, _ := newTestResolver(nil, nil, gen, 30)
	spec := field(t, "strengthsAndCatalysts")
	gen.reply = func(string) (string, error) {
		return "1. Brand: Loved.\n2. Cash: Plenty.\n", nil
	}

	var wg sync.WaitGroup
	results := make([]models.ResolvedValue, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Resolve(context.Background(), spec)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(gen.gate)
	wg.Wait()

	assert.Equal(t, int32(1), gen.calls.Load())
	for _, rv := range results {
		assert.Equal(t, models.TierGenerated, rv.Tier)
		assert.Len(t, rv.Points, 2)
	}
}

func TestResolve_CallerLeavingDoesNotFailOthers(t *testing.T) {
	gen := &mockGenerator{gate: make(chan struct{})}
	r, _, _, _ := newTestResolver(nil, nil, gen, 30)
	spec := field(t, "description")

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	first := make(chan models.ResolvedValue, 1)
	go func() { first <- r.Resolve(firstCtx, spec) }()
	time.Sleep(20 * time.Millisecond)

	second := make(chan models.ResolvedValue, 1)
	go func() { second <- r.Resolve(context.Background(), spec) }()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	assert.Equal(t, models.TierUnavailable, (<-first).Tier)

	close(gen.gate)
	rv := <-second
	assert.Equal(t, models.TierGenerated, rv.Tier)
	assert.Equal(t, "generated text", rv.Value)
	assert.Equal(t, int32(1), gen.calls.Load())
}

func TestResolve_LastCallerLeavingCancelsGeneration(t *testing.T) {
	gen := &mockGenerator{gate: make(chan struct{})}
	r, _, _, _ := newTestResolver(nil, nil, gen, 30)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan models.ResolvedValue, 1)
	go func() { done <- r.Resolve(ctx, field(t, "description")) }()
	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.Equal(t, models.TierUnavailable, (<-done).Tier)

	// The abandoned call sees its context cancelled and nothing is memoised.
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.flights) == 0
	}, time.Second, 5*time.Millisecond)
	close(gen.gate)
	require.Eventually(t, func() bool {
		return r.Resolve(context.Background(), field(t, "description")).Tier == models.TierGenerated
	}, time.Second, 5*time.Millisecond)
}

func TestResolve_BudgetExhausted(t *testing.T) {
	gen := &mockGenerator{}
	r, _, _, _ := newTestResolver(nil, nil, gen, 1)

	first := r.Resolve(context.Background(), field(t, "description"))
	assert.True(t, first.Available())

	second := r.Resolve(context.Background(), field(t, "conclusion"))
	assert.Equal(t, models.TierUnavailable, second.Tier)
	assert.False(t, second.Available())
	assert.Equal(t, int32(1), gen.calls.Load())
}

func TestResolve_FailureIsNotMemoised(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	gen := &mockGenerator{reply: func(string) (string, error) {
		if fail.Load() {
			return "", errors.New("503 overloaded")
		}
		return "recovered", nil
	}}
	r, _, _, _ := newTestResolver(nil, nil, gen, 30)
	spec := field(t, "description")

	rv := r.Resolve(context.Background(), spec)
	assert.Equal(t, models.TierUnavailable, rv.Tier)

	fail.Store(false)
	rv = r.Resolve(context.Background(), spec)
	assert.Equal(t, "recovered", rv.Value)
	assert.Equal(t, int32(2), gen.calls.Load())
}

func TestResolve_MalformedGeneratedListIsUnavailable(t *testing.T) {
	gen := &mockGenerator{reply: func(string) (string, error) { return "I cannot help with that.", nil }}
	r, _, _, _ := newTestResolver(nil, nil, gen, 30)

	rv := r.Resolve(context.Background(), field(t, "risksAndMitigation"))
	assert.Equal(t, models.TierUnavailable, rv.Tier)
	assert.Empty(t, rv.Points)
}

func TestResolve_MetricCarriesSeedValue(t *testing.T) {
	gen := &mockGenerator{reply: func(string) (string, error) { return "Mega cap leader.", nil }}
	r, cache, _, _ := newTestResolver(nil, nil, gen, 30)

	rv := r.Resolve(context.Background(), field(t, "marketCap"))
	assert.Equal(t, "3.1T", rv.Value)
	assert.Equal(t, "Mega cap leader.", rv.Description)
	d, ok := cache.Get("marketCapDsc")
	assert.True(t, ok)
	assert.Equal(t, "Mega cap leader.", d)
}

func TestResolve_ScalarFromSeed(t *testing.T) {
	gen := &mockGenerator{}
	r, _, _, _ := newTestResolver(nil, nil, gen, 30)

	rv := r.Resolve(context.Background(), field(t, "recommendation"))
	assert.Equal(t, "Buy", rv.Value)
	assert.Equal(t, models.TierSeed, rv.Tier)
	assert.Zero(t, gen.calls.Load())
}

func TestResolve_ConclusionPromptBlanksImages(t *testing.T) {
	gen := &mockGenerator{}
	r, cache, _, _ := newTestResolver(nil, nil, gen, 30)
	cache.ApplyEdit("url1", "data:image/png;base64,AAAA")

	r.Resolve(context.Background(), field(t, "conclusion"))
	require.Len(t, gen.prompts, 1)
	p := gen.prompts[0]
	assert.True(t, strings.HasPrefix(p, "With this info {"))
	assert.Contains(t, p, `"url1":""`)
	assert.NotContains(t, p, "base64")
	assert.Contains(t, p, `"marketCap":"3.1T"`)
}

func TestResolve_WritesBackToExistingDefault(t *testing.T) {
	def := &models.Report{Key: "AAPL", Ticker: "AAPL", Fields: map[string]string{"conclusion": "Hold"}}
	gen := &mockGenerator{}
	r, _, _, store := newTestResolver(nil, def, gen, 30)

	r.Resolve(context.Background(), field(t, "description"))

	row, err := store.GetByKey(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "generated text", row.Fields["description"])
	assert.Equal(t, "Hold", row.Fields["conclusion"])
}

func TestDefaultWriter_InsertsOnlyWhenComplete(t *testing.T) {
	gen := &mockGenerator{reply: func(p string) (string, error) {
		if strings.Contains(p, "Risks") || strings.Contains(p, "catalysts") {
			return "1. Item: Detail.\n", nil
		}
		return "text", nil
	}}
	r, _, writer, store := newTestResolver(nil, nil, gen, 100)
	ctx := context.Background()

	r.Resolve(ctx, field(t, "description"))
	inserted, err := writer.Commit(ctx)
	require.NoError(t, err)
	assert.False(t, inserted)
	_, err = store.GetByKey(ctx, "AAPL")
	assert.ErrorIs(t, err, models.ErrNotFound)

	for _, spec := range models.FieldCatalog() {
		r.Resolve(ctx, spec)
	}
	inserted, err = writer.Commit(ctx)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.True(t, writer.Exists())

	row, err := store.GetByKey(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "text", row.Fields["description"])
	assert.Equal(t, "text", row.Fields["marketCapDsc"])
	assert.Equal(t, "3.1T", row.Fields["marketCap"])
	assert.Equal(t, "1. Item: Detail.\n", row.Fields["strengthsAndCatalysts"])
}

func TestDefaultWriter_OverrideColumnsAreNotShared(t *testing.T) {
	override := &models.Report{Key: "alice-AAPL", Fields: map[string]string{"description": "my private notes"}}
	gen := &mockGenerator{reply: func(p string) (string, error) {
		if strings.Contains(p, "Risks") || strings.Contains(p, "catalysts") {
			return "1. Item: Detail.\n", nil
		}
		return "text", nil
	}}
	r, _, writer, store := newTestResolver(override, nil, gen, 100)
	ctx := context.Background()

	for _, spec := range models.FieldCatalog() {
		r.Resolve(ctx, spec)
	}
	inserted, err := writer.Commit(ctx)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.False(t, writer.Exists())
	_, err = store.GetByKey(ctx, "AAPL")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestDefaultWriter_CommitSurfacesPersistenceFailure(t *testing.T) {
	store := newMockReportStore()
	store.fail = errors.New("disk full")
	w := NewDefaultWriter(store, common.NewSilentLogger(), "AAPL", "Apple", false, nil)
	for _, spec := range models.FieldCatalog() {
		if spec.Generatable() {
			w.Record(context.Background(), spec.Column(), "x")
		}
	}
	inserted, err := w.Commit(context.Background())
	assert.False(t, inserted)
	assert.ErrorIs(t, err, models.ErrPersistence)
	assert.False(t, w.Exists())
}

func TestBudget_ConcurrentAcquire(t *testing.T) {
	b := NewBudget(30)
	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.TryAcquire() {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(30), granted.Load())
	assert.Equal(t, 0, b.Remaining())
	assert.Equal(t, 30, b.Used())
	assert.False(t, NewBudget(-1).TryAcquire())
}

func TestReportJSON(t *testing.T) {
	got := ReportJSON(map[string]string{"url2": "https://x/y.png", "description": "d"}, "Apple", "AAPL")
	assert.Equal(t, `{"description":"d","name":"Apple","ticker":"AAPL","url2":""}`, got)
}
