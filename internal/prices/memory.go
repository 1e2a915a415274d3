package prices

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps records in process. It follows the same upsert rules as
// Store and backs dry runs and tests.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: map[string]Record{}}
}

func (m *MemoryStore) Save(_ context.Context, recs []Record) (int, error) {
	recs = Dedupe(recs)
	for _, r := range recs {
		if err := r.Validate(); err != nil {
			return 0, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range recs {
		k := r.Key()
		if prev, ok := m.rows[k]; ok && sameValues(prev, r) {
			continue
		}
		m.rows[k] = r
		n++
	}
	return n, nil
}

// Rows returns a snapshot ordered by date, market, material and currency.
func (m *MemoryStore) Rows() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Market != b.Market {
			return a.Market < b.Market
		}
		if a.Material != b.Material {
			return a.Material < b.Material
		}
		return a.Currency < b.Currency
	})
	return out
}

func sameValues(a, b Record) bool {
	if !a.Price.Equal(b.Price) || a.ConversionRate.Valid != b.ConversionRate.Valid {
		return false
	}
	if a.ConversionRate.Valid && !a.ConversionRate.Decimal.Equal(b.ConversionRate.Decimal) {
		return false
	}
	return a.Organisation == b.Organisation &&
		a.MaterialCategory == b.MaterialCategory &&
		a.MarketType == b.MarketType
}
