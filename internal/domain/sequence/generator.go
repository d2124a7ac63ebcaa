// Package sequence hands out monotonically increasing counter values and
// formats them into the human-readable identifiers used across the clinic
// (PAT-2026-0001, INV-2026-0042, ...).
package sequence

import (
	"context"
	"fmt"
	"sync"
)

// Generator returns the next value of a named counter. Counters start at 1,
// are created on first use and never go backwards. Concurrent callers always
// receive distinct values.
type Generator interface {
	Next(ctx context.Context, name string) (uint64, error)
}

// MemoryGenerator keeps counters in process memory. Values are lost on restart.
type MemoryGenerator struct {
	mu       sync.Mutex
	counters map[string]uint64
}

func NewMemoryGenerator() *MemoryGenerator {
	return &MemoryGenerator{counters: make(map[string]uint64)}
}

func (g *MemoryGenerator) Next(ctx context.Context, name string) (uint64, error) {
	if err := validName(name); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counters[name]++
	return g.counters[name], nil
}

// Seed sets a counter so the next call returns value+1.
func (g *MemoryGenerator) Seed(name string, value uint64) {
	g.mu.Lock()
	g.counters[name] = value
	g.mu.Unlock()
}

func validName(name string) error {
	if name == "" {
		return fmt.Errorf("sequence name is required")
	}
	if len(name) > 64 {
		return fmt.Errorf("sequence name %q exceeds 64 characters", name)
	}
	return nil
}
