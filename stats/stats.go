// Package stats holds the counters the page pool reports while it works.
// The names match the files the kernel implementation exposes in sysfs.
package stats

import (
	"fmt"
	"sync/atomic"

	yaml "gopkg.in/yaml.v2"
)

// Type selects one of the pool counters.
type Type int

const (
	// Stored counts successful stores (new pages and overwrites).
	Stored Type = iota
	// Loaded counts cache hits delivered by a load.
	Loaded
	// Evicted counts pages pushed out of the LRU.
	Evicted
	// Cached is the number of pages currently holding cache content.
	Cached
	// Discarded counts cached pages stolen back by a range allocation.
	Discarded

	numTypes
)

var typeNames = [numTypes]string{
	Stored:    "stored",
	Loaded:    "loaded",
	Evicted:   "evicted",
	Cached:    "cached",
	Discarded: "discarded",
}

func (t Type) String() string {
	if t < 0 || t >= numTypes {
		return fmt.Sprintf("unknown(%d)", int(t))
	}

	return typeNames[t]
}

// Types returns all known counter types in a stable order.
func Types() []Type {
	types := make([]Type, 0, numTypes)
	for t := Type(0); t < numTypes; t++ {
		types = append(types, t)
	}

	return types
}

// Sink receives counter updates from the pool.
// Implementations must be safe for concurrent use and must not block.
type Sink interface {
	Inc(t Type)
	Dec(t Type)
	Add(t Type, delta int64)
}

// Discard is a Sink that drops every update.
type Discard struct{}

func (Discard) Inc(Type)        {}
func (Discard) Dec(Type)        {}
func (Discard) Add(Type, int64) {}

// Counters is the default Sink, keeping every counter in an atomic integer.
type Counters struct {
	vals [numTypes]atomic.Int64
}

// NewCounters returns a zeroed set of counters.
func NewCounters() *Counters {
	return &Counters{}
}

func (c *Counters) Inc(t Type) {
	c.Add(t, 1)
}

func (c *Counters) Dec(t Type) {
	c.Add(t, -1)
}

func (c *Counters) Add(t Type, delta int64) {
	if t < 0 || t >= numTypes {
		return
	}

	c.vals[t].Add(delta)
}

// Get returns the current value of a single counter.
func (c *Counters) Get(t Type) int64 {
	if t < 0 || t >= numTypes {
		return 0
	}

	return c.vals[t].Load()
}

// Snapshot is a point-in-time copy of all counters.
// The single counters are read one after another, so the
// snapshot is only exact when the pool is quiescent.
type Snapshot struct {
	Stored    int64 `yaml:"stored"`
	Loaded    int64 `yaml:"loaded"`
	Evicted   int64 `yaml:"evicted"`
	Cached    int64 `yaml:"cached"`
	Discarded int64 `yaml:"discarded"`
}

// Snapshot reads all counters.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Stored:    c.Get(Stored),
		Loaded:    c.Get(Loaded),
		Evicted:   c.Get(Evicted),
		Cached:    c.Get(Cached),
		Discarded: c.Get(Discarded),
	}
}

// YAML renders the snapshot in the format `gcma bench` prints.
func (s Snapshot) YAML() ([]byte, error) {
	return yaml.Marshal(s)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"stored=%d loaded=%d evicted=%d cached=%d discarded=%d",
		s.Stored, s.Loaded, s.Evicted, s.Cached, s.Discarded,
	)
}
