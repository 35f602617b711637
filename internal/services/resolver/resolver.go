// Package resolver resolves report fields through the override, default and
// generation tiers, at most once per field per view.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bobmcallan/stockgen/internal/common"
	"github.com/bobmcallan/stockgen/internal/interfaces"
	"github.com/bobmcallan/stockgen/internal/models"
	"github.com/bobmcallan/stockgen/internal/services/points"
	"github.com/bobmcallan/stockgen/internal/services/reportcache"
)

// Config carries everything one view's resolver needs. Override and Default
// are the rows loaded when the view opened; either may be nil.
type Config struct {
	Cache     *reportcache.Cache
	Override  *models.Report
	Default   *models.Report
	Seed      map[string]string
	Generator interfaces.GenerationClient
	Budget    *Budget
	Writer    *DefaultWriter
	Timeout   time.Duration
	Logger    *common.Logger
}

// Resolver resolves fields for one (viewer, ticker) view.
type Resolver struct {
	cfg   Config
	calls singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the context of one shared resolution. It is cancelled only once
// every caller waiting on it has gone.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// New creates a resolver. Generator and Writer may be nil, in which case the
// generation tier always reports unavailable.
func New(cfg Config) *Resolver {
	if cfg.Logger == nil {
		cfg.Logger = common.NewSilentLogger()
	}
	if cfg.Budget == nil {
		cfg.Budget = NewBudget(0)
	}
	return &Resolver{cfg: cfg, flights: make(map[string]*flight)}
}

// Resolve returns the display value of one field. It never fails: a field that
// cannot be produced resolves with TierUnavailable. Concurrent calls for the
// same field share one resolution, and a successful resolution is memoised in
// the cache for the rest of the session. Unavailable results are not memoised
// so an explicit re-request can try again.
func (r *Resolver) Resolve(ctx context.Context, spec models.FieldSpec) models.ResolvedValue {
	if rv, ok := r.cfg.Cache.Resolved(spec.Name); ok {
		return rv
	}

	fctx, release := r.join(ctx, spec.Name)
	defer release()

	ch := r.calls.DoChan(spec.Name, func() (interface{}, error) {
		if rv, ok := r.cfg.Cache.Resolved(spec.Name); ok {
			return rv, nil
		}
		rv := r.resolve(fctx, spec)
		if rv.Available() {
			r.cfg.Cache.StoreResolved(rv)
			if stored, ok := r.cfg.Cache.Resolved(spec.Name); ok {
				return stored, nil
			}
		}
		return rv, nil
	})
	select {
	case res := <-ch:
		return res.Val.(models.ResolvedValue)
	case <-ctx.Done():
		rv := models.ResolvedValue{Field: spec.Name, Label: spec.Label, Tier: models.TierUnavailable}
		if spec.Kind == models.KindMetric {
			rv.Value = r.scalar(spec.Name)
		}
		return rv
	}
}

// join registers ctx as a waiter on field's shared resolution and returns the
// context that resolution runs on. A caller that gives up only cancels the
// resolution when it was the last one waiting.
func (r *Resolver) join(ctx context.Context, field string) (context.Context, func()) {
	r.mu.Lock()
	f, ok := r.flights[field]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		r.flights[field] = f
	}
	f.waiters++
	r.mu.Unlock()

	leave := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		f.waiters--
		if f.waiters == 0 {
			f.cancel()
			if r.flights[field] == f {
				delete(r.flights, field)
			}
		}
	}
	stop := context.AfterFunc(ctx, leave)
	return f.ctx, func() {
		if stop() {
			leave()
		}
	}
}

func (r *Resolver) resolve(ctx context.Context, spec models.FieldSpec) models.ResolvedValue {
	column := spec.Column()
	rv := models.ResolvedValue{Field: spec.Name, Label: spec.Label}
	if spec.Kind == models.KindMetric {
		rv.Value = r.scalar(spec.Name)
	}

	text, tier := r.stored(column)
	if tier == "" && spec.Kind == models.KindScalar {
		if v := r.cfg.Seed[column]; v != "" {
			text, tier = v, models.TierSeed
		}
	}
	if tier == "" && spec.Generatable() {
		text, tier = r.generate(ctx, spec)
	}
	if tier == "" {
		tier = models.TierUnavailable
	}

	rv.Tier = tier
	if spec.Kind == models.KindMetric {
		rv.Description = text
	} else {
		rv.Value = text
	}
	if spec.Kind == models.KindPointList && tier != models.TierUnavailable {
		rv.Points, _ = points.DecodeAll(text, spec.Variant)
	}
	return rv
}

// stored looks a column up in session edits, the override row and the default row.
func (r *Resolver) stored(column string) (string, models.Tier) {
	if v, ok := r.cfg.Cache.Edited(column); ok && v != "" {
		return v, models.TierOverride
	}
	if v, ok := r.cfg.Override.Get(column); ok {
		return v, models.TierOverride
	}
	if v, ok := r.cfg.Default.Get(column); ok {
		return v, models.TierDefault
	}
	return "", ""
}

// scalar returns a metric's number, preferring stored rows over the live seed.
func (r *Resolver) scalar(name string) string {
	if v, ok := r.cfg.Override.Get(name); ok {
		return v
	}
	if v, ok := r.cfg.Default.Get(name); ok {
		return v
	}
	return r.cfg.Seed[name]
}

func (r *Resolver) generate(ctx context.Context, spec models.FieldSpec) (string, models.Tier) {
	logger := r.cfg.Logger
	if r.cfg.Generator == nil {
		return "", ""
	}
	if !r.cfg.Budget.TryAcquire() {
		logger.Debug().Str("field", spec.Name).Str("ticker", r.cfg.Cache.Ticker()).Msg(models.ErrBudgetExhausted.Error())
		return "", ""
	}

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := r.cfg.Generator.Complete(ctx, r.prompt(spec))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug().Str("field", spec.Name).Msg("Generation cancelled")
		} else {
			logger.Warn().Err(err).Str("field", spec.Name).Str("ticker", r.cfg.Cache.Ticker()).Msg("Generation failed")
		}
		return "", ""
	}

	text = strings.TrimSpace(text)
	if spec.Kind == models.KindPointList {
		text = points.Normalize(text, spec.Variant)
		if text == "" {
			logger.Warn().Str("field", spec.Name).Err(models.ErrMalformedPointList).Msg("Generated list discarded")
			return "", ""
		}
	}
	if text == "" {
		return "", ""
	}

	logger.Debug().Str("field", spec.Name).Str("ticker", r.cfg.Cache.Ticker()).Dur("elapsed", time.Since(start)).Msg("Field generated")
	if r.cfg.Writer != nil {
		r.cfg.Writer.Record(ctx, spec.Column(), text)
	}
	return text, models.TierGenerated
}

// prompt renders a field's template. The report placeholder receives the
// current report as JSON with image columns blanked.
func (r *Resolver) prompt(spec models.FieldSpec) string {
	name := r.cfg.Cache.Name()
	if name == "" {
		name = r.cfg.Cache.Ticker()
	}
	p := spec.RenderPrompt(name)
	if !strings.Contains(p, models.PromptReport) {
		return p
	}
	return strings.ReplaceAll(p, models.PromptReport, ReportJSON(r.cfg.Cache.Snapshot(), name, r.cfg.Cache.Ticker()))
}

// ReportJSON serialises report columns for embedding in a prompt. Image columns
// and inline data URIs are blanked so binary content is never sent.
func ReportJSON(columns map[string]string, name, ticker string) string {
	out := make(map[string]string, len(columns)+2)
	for k, v := range columns {
		if strings.HasPrefix(v, "data:") {
			v = ""
		}
		out[k] = v
	}
	for _, c := range models.ImageColumns {
		if _, ok := out[c]; ok {
			out[c] = ""
		}
	}
	out["name"] = name
	out["ticker"] = ticker
	b, err := json.Marshal(out)
	if err != nil {
		return "{}"
	}
	return string(b)
}
