package defaults

import (
	"fmt"

	"github.com/sahib/config"
)

func pageSizeValidator(val interface{}) error {
	i, ok := val.(int64)
	if !ok {
		return fmt.Errorf("page size is not an int64: %v", val)
	}

	if i < 512 || i > 65536 {
		return fmt.Errorf("page size must be in [512, 65536]: %d", i)
	}

	if i&(i-1) != 0 {
		return fmt.Errorf("page size must be a power of two: %d", i)
	}

	return nil
}

// DefaultsV0 is the default config validation for gcma
var DefaultsV0 = config.DefaultMapping{
	"pool": config.DefaultMapping{
		"page_size": config.DefaultEntry{
			Default:      4096,
			NeedsRestart: true,
			Docs:         "Size of a single page in bytes. Every registered area is split into pages of this size.",
			Validator:    pageSizeValidator,
		},
		"evict_batch": config.DefaultEntry{
			Default:      64,
			NeedsRestart: false,
			Docs:         "How many pages one pass of the eviction loop isolates under the LRU lock at most.",
			Validator:    config.IntRangeValidator(1, 4096),
		},
		"direct_reclaim": config.DefaultEntry{
			Default:      1,
			NeedsRestart: false,
			Docs: `How many pages a store evicts itself when the pool is exhausted.
Set to 0 to disable direct reclaim; stores will then rely on the background evictor.`,
			Validator: config.IntRangeValidator(0, 4096),
		},
	},
	"discard": config.DefaultMapping{
		"yield_interval": config.DefaultEntry{
			Default:      4096,
			NeedsRestart: false,
			Docs:         "After how many scanned pages a range allocation yields the processor.",
			Validator:    config.IntRangeValidator(1, 1<<30),
		},
		"max_retries": config.DefaultEntry{
			Default:      100000,
			NeedsRestart: false,
			Docs:         "How often a range allocation retries a busy page before giving up (0 means forever).",
			Validator:    config.IntRangeValidator(0, 1<<40),
		},
		"spin_retries": config.DefaultEntry{
			Default:      64,
			NeedsRestart: false,
			Docs:         "Retries of a busy page after which a range allocation starts yielding between attempts.",
			Validator:    config.IntRangeValidator(0, 1<<30),
		},
	},
	"evictor": config.DefaultMapping{
		"enabled": config.DefaultEntry{
			Default:      true,
			NeedsRestart: true,
			Docs:         "Run a background evictor that frees pages when a store found the pool exhausted.",
		},
		"batch": config.DefaultEntry{
			Default:      64,
			NeedsRestart: false,
			Docs:         "How many pages the background evictor frees per run.",
			Validator:    config.IntRangeValidator(1, 1<<20),
		},
		"max_runs_per_second": config.DefaultEntry{
			Default:      0,
			NeedsRestart: true,
			Docs:         "How many evictor runs per second are allowed at max (0 means unlimited).",
			Validator:    config.IntRangeValidator(0, 1<<20),
		},
	},
	"reclaim": config.DefaultMapping{
		"interval": config.DefaultEntry{
			Default:      "100ms",
			NeedsRestart: true,
			Docs:         "How often deferred frees are checked for an elapsed grace period.",
			Validator:    config.DurationValidator(),
		},
	},
	"cleancache": config.DefaultMapping{
		"shadow_entries": config.DefaultEntry{
			Default:      4096,
			NeedsRestart: true,
			Docs:         "How many evicted page keys a mount remembers to report refaults.",
			Validator:    config.IntRangeValidator(1, 1<<24),
		},
	},
}
