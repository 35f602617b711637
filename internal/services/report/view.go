package report

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bobmcallan/stockgen/internal/common"
	"github.com/bobmcallan/stockgen/internal/interfaces"
	"github.com/bobmcallan/stockgen/internal/models"
	"github.com/bobmcallan/stockgen/internal/services/patcher"
	"github.com/bobmcallan/stockgen/internal/services/reportcache"
	"github.com/bobmcallan/stockgen/internal/services/resolver"
)

// GroupState is the loading state of one report section.
type GroupState string

const (
	StateIdle      GroupState = "idle"
	StateLoading   GroupState = "loading"
	StateResolved  GroupState = "resolved"
	StateCancelled GroupState = "cancelled"
)

// GroupView is one section of a ViewState.
type GroupView struct {
	Group  models.Group           `json:"group"`
	State  GroupState             `json:"state"`
	Fields []models.ResolvedValue `json:"fields"`
}

// BudgetView reports a session's generation budget.
type BudgetView struct {
	Limit     int `json:"limit"`
	Used      int `json:"used"`
	Remaining int `json:"remaining"`
}

// ViewState is what a client renders for an open report.
type ViewState struct {
	SessionID string      `json:"session_id"`
	Key       string      `json:"key"`
	Ticker    string      `json:"ticker"`
	Name      string      `json:"name"`
	Viewer    string      `json:"viewer,omitempty"`
	Groups    []GroupView `json:"groups"`
	Dirty     []string    `json:"dirty"`
	Budget    BudgetView  `json:"budget"`
}

// View is one open report inside a session. Its cache outlives cancellation:
// closing a view stops outstanding calls but keeps everything resolved so far.
type View struct {
	sessionID string
	ticker    string
	viewer    string

	cache    *reportcache.Cache
	resolver *resolver.Resolver
	writer   *resolver.DefaultWriter
	budget   *resolver.Budget
	patcher  *patcher.Patcher
	store    interfaces.ReportStore
	logger   *common.Logger

	mu       sync.Mutex
	states   map[models.Group]GroupState
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	lastUsed time.Time
}

func (v *View) Ticker() string { return v.ticker }
func (v *View) Viewer() string { return v.viewer }

// Cache exposes the view's report cache.
func (v *View) Cache() *reportcache.Cache { return v.cache }

func (v *View) touch() {
	v.mu.Lock()
	v.lastUsed = time.Now()
	v.mu.Unlock()
}

// start launches a resolution round in the background unless one is running.
// The round is detached from parent's cancellation; Close stops it.
func (v *View) start(parent context.Context) {
	v.mu.Lock()
	if v.running {
		v.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	v.running = true
	v.cancel = cancel
	v.done = make(chan struct{})
	done := v.done
	v.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		v.ResolveAll(ctx)
		v.mu.Lock()
		v.running = false
		v.mu.Unlock()
	}()
}

// ResolveAll resolves every section concurrently. Each section flips from
// loading to resolved on its own; fields inside a section also run in
// parallel. Once all sections finish, the default report is inserted if this
// round generated every field it needs.
func (v *View) ResolveAll(ctx context.Context) {
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for _, group := range models.Groups() {
		v.setState(group, StateLoading)
		g.Go(func() error {
			v.resolveGroup(gctx, group)
			if gctx.Err() != nil {
				v.setState(group, StateCancelled)
			} else {
				v.setState(group, StateResolved)
			}
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		v.logger.Debug().Str("ticker", v.ticker).Msg("Resolution cancelled")
		return
	}
	if _, err := v.writer.Commit(ctx); err != nil {
		v.logger.Warn().Err(err).Str("ticker", v.ticker).Msg("Default report insert failed")
	}
	v.logger.Debug().Str("ticker", v.ticker).Str("viewer", v.viewer).
		Int("budget_used", v.budget.Used()).Dur("elapsed", time.Since(start)).Msg("Report resolved")
}

func (v *View) resolveGroup(ctx context.Context, group models.Group) {
	var g errgroup.Group
	for _, spec := range models.FieldsInGroup(group) {
		g.Go(func() error {
			v.resolver.Resolve(ctx, spec)
			return nil
		})
	}
	_ = g.Wait()
}

func (v *View) setState(group models.Group, state GroupState) {
	v.mu.Lock()
	v.states[group] = state
	v.mu.Unlock()
}

// Wait blocks until the current resolution round ends or ctx is done.
func (v *View) Wait(ctx context.Context) error {
	v.mu.Lock()
	done := v.done
	v.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels outstanding generation and persistence calls of this view.
func (v *View) Close() {
	v.mu.Lock()
	cancel := v.cancel
	v.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Resolve re-requests a single field. Fields already resolved return from the
// cache; an unavailable field is attempted again.
func (v *View) Resolve(ctx context.Context, field string) (models.ResolvedValue, error) {
	spec, ok := models.LookupField(field)
	if !ok {
		return models.ResolvedValue{}, fmt.Errorf("%w: %s", models.ErrUnknownField, field)
	}
	v.touch()
	return v.resolver.Resolve(ctx, spec), nil
}

// Edit overwrites a column in the cache. Nothing is persisted until Save.
func (v *View) Edit(column, value string) error {
	if !models.KnownColumn(column) {
		return fmt.Errorf("%w: %s", models.ErrUnknownField, column)
	}
	v.touch()
	v.cache.ApplyEdit(column, value)
	return nil
}

// Save flushes pending edits to the viewer's report key.
func (v *View) Save(ctx context.Context) (*models.Report, error) {
	v.touch()
	saved, err := v.cache.Flush(ctx, v.store)
	if err != nil {
		v.logger.Warn().Err(err).Str("key", v.cache.Key()).Msg("Report save failed")
		return nil, err
	}
	v.logger.Info().Str("key", saved.Key).Int("columns", len(saved.Fields)).Msg("Report saved")
	return saved, nil
}

// PatchPoint edits one bullet of a point-list field and persists that column.
func (v *View) PatchPoint(ctx context.Context, field string, index int, part models.PointPart, text string) (string, error) {
	v.touch()
	return v.patcher.PatchPoint(ctx, v.cache, field, index, part, text)
}

// State snapshots section states and resolved values. Sections still loading
// list only the fields resolved so far.
func (v *View) State() ViewState {
	v.mu.Lock()
	states := make(map[models.Group]GroupState, len(v.states))
	for g, s := range v.states {
		states[g] = s
	}
	v.mu.Unlock()

	out := ViewState{
		SessionID: v.sessionID,
		Key:       v.cache.Key(),
		Ticker:    v.ticker,
		Name:      v.cache.Name(),
		Viewer:    v.viewer,
		Dirty:     v.cache.Dirty(),
		Budget: BudgetView{
			Limit:     v.budget.Limit(),
			Used:      v.budget.Used(),
			Remaining: v.budget.Remaining(),
		},
	}
	for _, group := range models.Groups() {
		state, ok := states[group]
		if !ok {
			state = StateIdle
		}
		gv := GroupView{Group: group, State: state, Fields: []models.ResolvedValue{}}
		for _, spec := range models.FieldsInGroup(group) {
			if rv, ok := v.cache.Resolved(spec.Name); ok {
				gv.Fields = append(gv.Fields, rv)
				continue
			}
			if state == StateLoading || state == StateIdle {
				continue
			}
			rv := models.ResolvedValue{Field: spec.Name, Label: spec.Label, Tier: models.TierUnavailable}
			if spec.Kind == models.KindMetric {
				rv.Value, _ = v.cache.Get(spec.Name)
			}
			gv.Fields = append(gv.Fields, rv)
		}
		out.Groups = append(out.Groups, gv)
	}
	return out
}
