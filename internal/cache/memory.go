package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/vantagesec/verdict/internal/intel"
)

// Memory is the in-process store: one expirable LRU per depth, TTL baked in
// at construction. The LRU never serves an entry past its TTL.
type Memory struct {
	lru *expirable.LRU[string, *intel.Assessment]
}

func NewMemory(size int, ttl time.Duration) *Memory {
	return &Memory{lru: expirable.NewLRU[string, *intel.Assessment](size, nil, ttl)}
}

func (m *Memory) Get(_ context.Context, key string) (*intel.Assessment, bool) {
	return m.lru.Get(key)
}

func (m *Memory) Set(_ context.Context, key string, a *intel.Assessment) {
	m.lru.Add(key, a)
}

// MemoryStores builds the standard/deep/forensic store set. Deep analysis is
// more expensive and changes more slowly, so deeper depths keep entries
// longer.
func MemoryStores(size int, standard, deep, forensic time.Duration) map[intel.Depth]Store {
	return map[intel.Depth]Store{
		intel.DepthStandard: NewMemory(size, standard),
		intel.DepthDeep:     NewMemory(size, deep),
		intel.DepthForensic: NewMemory(size, forensic),
	}
}
