package product

import (
	"context"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

const filterFPR = 0.001

// IDFilter is a probabilistic membership filter over known product IDs.
// Cart mutations consult it to reject requests for obviously unknown products
// without a database round-trip. A negative answer is definitive; a positive
// answer still requires the authoritative repository lookup.
//
// A nil *IDFilter is valid and admits every ID.
type IDFilter struct {
	mu sync.RWMutex
	bf *bloom.BloomFilter
}

// NewIDFilter builds a filter containing the given IDs.
func NewIDFilter(ids []string) *IDFilter {
	f := &IDFilter{}
	f.rebuild(ids)
	return f
}

// MayContain reports whether id may be a known product ID.
func (f *IDFilter) MayContain(id string) bool {
	if f == nil {
		return true
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.bf.TestString(id)
}

// Reload rebuilds the filter from a fresh catalog read. Products created
// after the last rebuild are admitted once the next rebuild runs; until then
// the filter would wrongly reject them, which is why rebuilds are periodic.
func (f *IDFilter) Reload(ctx context.Context, repo Repository) error {
	ids, err := repo.ListIDs(ctx)
	if err != nil {
		return err
	}
	f.rebuild(ids)
	return nil
}

func (f *IDFilter) rebuild(ids []string) {
	// Double the current cardinality so the filter stays under the target
	// false-positive rate as the catalog grows between rebuilds.
	capacity := uint(len(ids))*2 + 1024
	bf := bloom.NewWithEstimates(capacity, filterFPR)
	for _, id := range ids {
		bf.AddString(id)
	}

	f.mu.Lock()
	f.bf = bf
	f.mu.Unlock()
}
