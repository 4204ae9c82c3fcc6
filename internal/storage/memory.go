package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryProvider keeps tables in process memory. It backs development
// servers and tests.
type MemoryProvider struct {
	mu      sync.RWMutex
	tables  map[string][]Row
	now     func() time.Time
	newID   func() string
	timeout time.Duration
}

func NewMemoryProvider(opts ...Option) *MemoryProvider {
	p := &MemoryProvider{
		tables: make(map[string][]Row),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyMemory(p)
		}
	}
	return p
}

func (p *MemoryProvider) SelectOrdered(ctx context.Context, table, orderColumn string, descending bool) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	rows := make([]Row, 0, len(p.tables[table]))
	for i := len(p.tables[table]) - 1; i >= 0; i-- {
		rows = append(rows, p.tables[table][i].clone())
	}
	p.mu.RUnlock()

	sort.SliceStable(rows, func(i, j int) bool {
		cmp := compareValues(rows[i][orderColumn], rows[j][orderColumn])
		if descending {
			return cmp > 0
		}
		return cmp < 0
	})
	return rows, nil
}

func (p *MemoryProvider) Insert(ctx context.Context, table string, values Row) (Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	row := values.clone()
	if id, _ := row["id"].(string); strings.TrimSpace(id) == "" {
		row["id"] = p.newID()
	}
	if _, ok := row["created_at"]; !ok {
		row["created_at"] = p.now().UTC()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.tables[table] {
		if existing["id"] == row["id"] {
			return nil, fmt.Errorf("duplicate key value violates unique constraint \"%s_pkey\"", table)
		}
	}
	p.tables[table] = append(p.tables[table], row)
	return row.clone(), nil
}

func (p *MemoryProvider) UpdateByID(ctx context.Context, table, id string, values Row) (Row, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if _, ok := values["id"]; ok {
		return nil, false, errors.New("id is immutable")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, existing := range p.tables[table] {
		if existing["id"] != id {
			continue
		}
		updated := existing.clone()
		for column, value := range values {
			updated[column] = value
		}
		p.tables[table][i] = updated
		return updated.clone(), true, nil
	}
	return nil, false, nil
}

func (p *MemoryProvider) DeleteByID(ctx context.Context, table, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	rows := p.tables[table]
	for i, existing := range rows {
		if existing["id"] == id {
			p.tables[table] = append(rows[:i:i], rows[i+1:]...)
			return nil
		}
	}
	return nil
}

func (p *MemoryProvider) Ping(ctx context.Context) error {
	return ctx.Err()
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case int64:
		if bv, ok := b.(int64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	}
	return 0
}
