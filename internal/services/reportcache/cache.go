// Package reportcache holds the in-memory view of the report a viewer is
// currently looking at: seed data, resolved fields and unsaved edits.
package reportcache

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/bobmcallan/stockgen/internal/interfaces"
	"github.com/bobmcallan/stockgen/internal/models"
	"github.com/bobmcallan/stockgen/internal/services/points"
)

// Cache is the session-scoped source of truth for one (viewer, ticker) report.
// Dirty tracking is per column: each edit gets a sequence number and a flush
// only clears columns whose sequence has not moved while the write was in flight.
// Thread-safe with sync.RWMutex.
type Cache struct {
	mu sync.RWMutex

	ticker string
	owner  string
	name   string

	saved    map[string]string // last persisted row for the target key
	values   map[string]string // current column values
	dirty    map[string]uint64 // column -> edit sequence
	seq      uint64
	resolved map[string]models.ResolvedValue
}

// New seeds a cache. saved is the row a flush will merge into (the viewer's
// override, or the default row for anonymous viewers) and may be nil.
func New(ticker, owner, name string, seed map[string]string, saved *models.Report) *Cache {
	c := &Cache{
		ticker:   models.NormalizeTicker(ticker),
		owner:    owner,
		name:     name,
		saved:    make(map[string]string),
		values:   make(map[string]string, len(seed)),
		dirty:    make(map[string]uint64),
		resolved: make(map[string]models.ResolvedValue),
	}
	maps.Copy(c.values, seed)
	if saved != nil {
		maps.Copy(c.saved, saved.Fields)
	}
	return c
}

// Key is the report key a flush writes to.
func (c *Cache) Key() string {
	return models.ReportKey(c.owner, c.ticker)
}

func (c *Cache) Ticker() string { return c.ticker }
func (c *Cache) Owner() string  { return c.owner }
func (c *Cache) Name() string   { return c.name }

// Get returns the current value of a column.
func (c *Cache) Get(column string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[column]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Edited returns the value of a column the viewer changed in this session.
func (c *Cache) Edited(column string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.dirty[column]; !ok {
		return "", false
	}
	return c.values[column], true
}

// ApplyEdit overwrites a column immediately and marks it dirty. It returns the
// edit's sequence number for MarkClean.
func (c *Cache) ApplyEdit(column, value string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.values[column] = value
	c.dirty[column] = c.seq
	return c.seq
}

// Update rewrites a column from its current value under the cache lock and
// marks it dirty. fn receives fallback when the column is empty. Nothing
// changes when fn returns an error.
func (c *Cache) Update(column, fallback string, fn func(current string) (string, error)) (string, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.values[column]
	if current == "" {
		current = fallback
	}
	next, err := fn(current)
	if err != nil {
		return "", 0, err
	}
	c.seq++
	c.values[column] = next
	c.dirty[column] = c.seq
	return next, c.seq, nil
}

// MarkClean clears a column's dirty flag if no later edit has landed, and
// records value as persisted.
func (c *Cache) MarkClean(column string, seq uint64, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dirty[column] == seq {
		delete(c.dirty, column)
	}
	c.saved[column] = value
}

// Dirty lists the columns with unsaved edits, sorted.
func (c *Cache) Dirty() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.dirty))
}

// Resolved returns a field's resolution with any later edits applied.
func (c *Cache) Resolved(field string) (models.ResolvedValue, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rv, ok := c.resolved[field]
	if !ok {
		return models.ResolvedValue{}, false
	}
	return c.overlay(rv), true
}

// StoreResolved memoises a resolution and copies it into the column values.
// Columns with pending edits keep the edited text.
func (c *Cache) StoreResolved(rv models.ResolvedValue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolved[rv.Field] = rv

	spec, ok := models.LookupField(rv.Field)
	if !ok {
		return
	}
	if spec.Kind == models.KindMetric {
		if _, edited := c.dirty[spec.Name]; !edited && rv.Value != "" {
			c.values[spec.Name] = rv.Value
		}
		if _, edited := c.dirty[spec.Column()]; !edited {
			c.values[spec.Column()] = rv.Description
		}
		return
	}
	if _, edited := c.dirty[spec.Name]; !edited {
		c.values[spec.Name] = rv.Value
	}
}

// overlay reflects current column values into a stored resolution. Caller holds mu.
func (c *Cache) overlay(rv models.ResolvedValue) models.ResolvedValue {
	spec, ok := models.LookupField(rv.Field)
	if !ok {
		return rv
	}
	switch spec.Kind {
	case models.KindMetric:
		if v, ok := c.values[spec.Name]; ok && v != "" {
			rv.Value = v
		}
		if _, ok := c.dirty[spec.Column()]; ok {
			rv.Description = c.values[spec.Column()]
			rv.Tier = models.TierOverride
		}
	default:
		if _, ok := c.dirty[spec.Name]; ok {
			rv.Value = c.values[spec.Name]
			rv.Tier = models.TierOverride
		}
	}
	if spec.Kind == models.KindPointList {
		rv.Points, _ = points.DecodeAll(rv.Value, spec.Variant)
	}
	return rv
}

// Snapshot copies the current column values.
func (c *Cache) Snapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.values)
}

// Flush persists the saved snapshot merged with dirty columns, the point-list
// columns re-encoded from their current text, and the identity fields. Dirty
// flags are cleared only on success; a failure leaves both the flags and the
// in-memory values untouched so a retry resends the same delta.
func (c *Cache) Flush(ctx context.Context, store interfaces.ReportStore) (*models.Report, error) {
	c.mu.RLock()
	payload := maps.Clone(c.saved)
	pending := maps.Clone(c.dirty)
	for column := range pending {
		payload[column] = c.values[column]
	}
	for _, spec := range models.PointListFields() {
		v, ok := c.values[spec.Name]
		if !ok || v == "" {
			continue
		}
		if encoded := points.Normalize(v, spec.Variant); encoded != "" {
			payload[spec.Name] = encoded
		} else {
			payload[spec.Name] = v
		}
	}
	report := &models.Report{
		Key:       models.ReportKey(c.owner, c.ticker),
		Ticker:    c.ticker,
		Name:      c.name,
		Owner:     c.owner,
		Fields:    payload,
		UpdatedAt: time.Now(),
	}
	c.mu.RUnlock()

	if err := store.Upsert(ctx, report); err != nil {
		return nil, models.NewPersistenceError("flush", report.Key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for column, seq := range pending {
		if c.dirty[column] == seq {
			delete(c.dirty, column)
		}
	}
	maps.Copy(c.saved, payload)
	return report.Clone(), nil
}
