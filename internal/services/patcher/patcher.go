// Package patcher edits a single bullet of a point-list field.
package patcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bobmcallan/stockgen/internal/common"
	"github.com/bobmcallan/stockgen/internal/interfaces"
	"github.com/bobmcallan/stockgen/internal/models"
	"github.com/bobmcallan/stockgen/internal/services/points"
	"github.com/bobmcallan/stockgen/internal/services/reportcache"
)

// Patcher applies decode, mutate and re-encode to one bullet, then persists
// only the patched column. Patches to the same report column run one at a
// time, so edits to different bullets never overwrite each other.
type Patcher struct {
	store  interfaces.ReportStore
	logger *common.Logger

	mu    sync.Mutex
	locks map[string]*columnLock
}

type columnLock struct {
	sync.Mutex
	refs int
}

// New creates a Patcher.
func New(store interfaces.ReportStore, logger *common.Logger) *Patcher {
	return &Patcher{store: store, logger: logger, locks: make(map[string]*columnLock)}
}

// lock serialises patches on one report column and returns the unlock func.
func (p *Patcher) lock(key string) func() {
	p.mu.Lock()
	l, ok := p.locks[key]
	if !ok {
		l = &columnLock{}
		p.locks[key] = l
	}
	l.refs++
	p.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		p.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(p.locks, key)
		}
		p.mu.Unlock()
	}
}

// PatchPoint replaces one part of bullet index (1-based) of field and returns
// the re-encoded list. The cache is updated before the write; a persistence
// failure is returned with the edit still applied and marked dirty.
func (p *Patcher) PatchPoint(ctx context.Context, cache *reportcache.Cache, field string, index int, part models.PointPart, text string) (string, error) {
	spec, ok := models.LookupField(field)
	if !ok || spec.Kind != models.KindPointList {
		return "", fmt.Errorf("%w: %s is not a point-list field", models.ErrInvalidPatch, field)
	}
	if !part.Valid() || (part == models.PartMitigation && spec.Variant != models.ListRisks) {
		return "", fmt.Errorf("%w: part %q not valid for %s", models.ErrInvalidPatch, part, field)
	}
	text = strings.TrimSpace(text)
	if err := checkText(spec.Variant, part, text); err != nil {
		return "", err
	}

	unlock := p.lock(cache.Key() + "/" + field)
	defer unlock()

	fallback, err := p.fallback(ctx, cache, field)
	if err != nil {
		return "", err
	}

	encoded, seq, err := cache.Update(field, fallback, func(current string) (string, error) {
		return patch(current, spec, index, part, text)
	})
	if err != nil {
		return "", err
	}

	row := &models.Report{
		Key:       cache.Key(),
		Ticker:    cache.Ticker(),
		Name:      cache.Name(),
		Owner:     cache.Owner(),
		Fields:    map[string]string{field: encoded},
		UpdatedAt: time.Now(),
	}
	if err := p.store.Upsert(ctx, row); err != nil {
		p.logger.Warn().Err(err).Str("key", row.Key).Str("field", field).Msg("Point patch not persisted")
		return encoded, models.NewPersistenceError("patch", row.Key, err)
	}
	cache.MarkClean(field, seq, encoded)

	p.logger.Debug().Str("key", row.Key).Str("field", field).Int("index", index).Str("part", string(part)).Msg("Point patched")
	return encoded, nil
}

// checkText rejects text that would change the list's structure once encoded.
func checkText(variant models.ListVariant, part models.PointPart, text string) error {
	switch {
	case text == "":
		return fmt.Errorf("%w: text is empty", models.ErrInvalidPatch)
	case part == models.PartTitle && strings.Contains(text, ":"):
		return fmt.Errorf("%w: title may not contain ':'", models.ErrInvalidPatch)
	case variant == models.ListRisks && strings.Contains(text, points.MitigationMarker):
		return fmt.Errorf("%w: text may not contain %q", models.ErrInvalidPatch, points.MitigationMarker)
	case points.ContainsIndex(text):
		return fmt.Errorf("%w: text may not contain a numbered index", models.ErrInvalidPatch)
	}
	return nil
}

// patch decodes current, rewrites one part of bullet index and re-encodes.
func patch(current string, spec models.FieldSpec, index int, part models.PointPart, text string) (string, error) {
	pts, _ := points.DecodeAll(current, spec.Variant)
	if index < 1 || index > len(pts) {
		return "", fmt.Errorf("%w: %s has %d bullets, got index %d", models.ErrPointNotFound, spec.Name, len(pts), index)
	}

	target := &pts[index-1]
	switch part {
	case models.PartTitle:
		target.Title = text
	case models.PartBody:
		target.Body = text
	case models.PartMitigation:
		target.Mitigation = text
	}
	encoded := points.Encode(pts, spec.Variant)

	if got, _ := points.DecodeAll(encoded, spec.Variant); len(got) != len(pts) {
		return "", fmt.Errorf("%w: patched %s no longer decodes to %d bullets", models.ErrInvalidPatch, spec.Name, len(pts))
	}
	return encoded, nil
}

// fallback returns the default report's value when the cache has none yet, so
// edits are not blocked on resolution having finished.
func (p *Patcher) fallback(ctx context.Context, cache *reportcache.Cache, field string) (string, error) {
	if _, ok := cache.Get(field); ok {
		return "", nil
	}
	def, err := p.store.GetByKey(ctx, models.ReportKey("", cache.Ticker()))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", nil
		}
		return "", models.NewPersistenceError("get", cache.Ticker(), err)
	}
	v, _ := def.Get(field)
	return v, nil
}
