package channel

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

type dedupe struct {
	mu  sync.Mutex
	lru *lru.Cache[uint64, struct{}]
}

func newDedupe(size int) *dedupe {
	if size <= 0 {
		size = 4096
	}
	c, _ := lru.New[uint64, struct{}](size)
	return &dedupe{lru: c}
}

// first returns true the first time parts is seen since it was last evicted
func (d *dedupe) first(parts ...string) bool {
	h := xxhash.New()
	for _, p := range parts {
		_, _ = h.WriteString(p)
		_, _ = h.Write([]byte{0})
	}
	k := h.Sum64()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lru.Contains(k) {
		return false
	}
	d.lru.Add(k, struct{}{})
	return true
}
