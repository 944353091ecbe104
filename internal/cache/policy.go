package cache

import (
	"fmt"
	"strings"

	"github.com/objectfs/objectcache/pkg/types"
)

// Supported eviction policy names
const (
	PolicyLRU = "lru"
	PolicyLFU = "lfu"
)

// PolicyStats represents eviction policy statistics
type PolicyStats struct {
	Tracked  int    `json:"tracked"`
	Added    uint64 `json:"added"`
	Removed  uint64 `json:"removed"`
	Touched  uint64 `json:"touched"`
	Proposed uint64 `json:"proposed"`
}

// NewPolicy returns the eviction policy registered under name
func NewPolicy(name string) (types.EvictionPolicy, error) {
	switch strings.ToLower(name) {
	case "", PolicyLRU:
		return NewLRUPolicy(), nil
	case PolicyLFU:
		return NewLFUPolicy(), nil
	default:
		return nil, fmt.Errorf("unknown eviction policy: %s", name)
	}
}

var (
	_ types.EvictionPolicy = (*LRUPolicy)(nil)
	_ types.EvictionPolicy = (*LFUPolicy)(nil)
)
