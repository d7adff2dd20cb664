package dispatch

import (
	"sort"
	"sync"

	"github.com/LUCIT-Systems-and-Development/unicorn-binance-websocket-api-sub001/pkg/core"
)

// Buffers holds the manager-wide rings: named stream buffers, the global
// default buffer and the error and result rings. Each has its own lock.
type Buffers struct {
	mu       sync.RWMutex
	named    map[string]*Ring[core.Frame]
	capacity int

	global  *Ring[core.Frame]
	errors  *Ring[core.Frame]
	results *Ring[core.Frame]
}

// NewBuffers sizes the stream buffers with streamMax and the error and
// result rings with errorMax and resultMax.
func NewBuffers(streamMax, errorMax, resultMax int) *Buffers {
	return &Buffers{
		named:    make(map[string]*Ring[core.Frame]),
		capacity: streamMax,
		global:   NewRing[core.Frame](streamMax),
		errors:   NewRing[core.Frame](errorMax),
		results:  NewRing[core.Frame](resultMax),
	}
}

// Named returns the ring called name, creating it on first use. The empty
// name is the global buffer.
func (b *Buffers) Named(name string) *Ring[core.Frame] {
	if name == "" {
		return b.global
	}
	b.mu.RLock()
	r, ok := b.named[name]
	b.mu.RUnlock()
	if ok {
		return r
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok = b.named[name]; !ok {
		r = NewRing[core.Frame](b.capacity)
		b.named[name] = r
	}
	return r
}

// Lookup returns the ring called name without creating it.
func (b *Buffers) Lookup(name string) (*Ring[core.Frame], bool) {
	if name == "" {
		return b.global, true
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.named[name]
	return r, ok
}

// Names returns the names of all named buffers, sorted.
func (b *Buffers) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.named))
	for name := range b.named {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *Buffers) Global() *Ring[core.Frame]  { return b.global }
func (b *Buffers) Errors() *Ring[core.Frame]  { return b.errors }
func (b *Buffers) Results() *Ring[core.Frame] { return b.results }

// Pop removes the oldest frame of the named buffer.
func (b *Buffers) Pop(name string) (core.Frame, bool) {
	r, ok := b.Lookup(name)
	if !ok {
		return core.Frame{}, false
	}
	return r.Pop()
}

// Len returns the number of frames in the named buffer.
func (b *Buffers) Len(name string) int {
	r, ok := b.Lookup(name)
	if !ok {
		return 0
	}
	return r.Len()
}

// Clear empties the named buffer.
func (b *Buffers) Clear(name string) {
	if r, ok := b.Lookup(name); ok {
		r.Clear()
	}
}

// Dropped sums the frames pushed out of every stream buffer.
func (b *Buffers) Dropped() int64 {
	total := b.global.Dropped()
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, r := range b.named {
		total += r.Dropped()
	}
	return total
}
