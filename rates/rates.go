// Package rates provides exchange rate sourcing for auction pricing. Price
// feeds live outside the daemon; implementations only relay them.
package rates

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Oracle answers how much one unit of base is worth in quote units.
type Oracle interface {
	Rate(ctx context.Context, base, quote string) (decimal.Decimal, error)
}

// Static is a fixed-rate oracle backed by a map, used in development mode and
// tests. Pairs are keyed as base/quote and the inverse rate is derived.
type Static struct {
	mu    sync.RWMutex
	rates map[string]decimal.Decimal
}

func NewStatic(pairs map[string]decimal.Decimal) *Static {
	rates := make(map[string]decimal.Decimal, len(pairs))
	for pair, rate := range pairs {
		rates[pair] = rate
	}

	return &Static{rates: rates}
}

func (s *Static) Set(base, quote string, rate decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[base+"/"+quote] = rate
}

func (s *Static) Rate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	if base == quote {
		return decimal.NewFromInt(1), nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if rate, ok := s.rates[base+"/"+quote]; ok {
		return rate, nil
	}
	if inverse, ok := s.rates[quote+"/"+base]; ok && !inverse.IsZero() {
		return decimal.NewFromInt(1).Div(inverse), nil
	}

	return decimal.Decimal{}, fmt.Errorf("no rate configured for %s/%s", base, quote)
}
