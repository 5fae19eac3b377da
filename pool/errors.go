package pool

import (
	"errors"
)

var (
	// ErrOutOfAreaSlots is returned when more than MaxAreas areas would exist.
	ErrOutOfAreaSlots = errors.New("no free area slots")
	// ErrUnsupportedPageSize is returned when a filesystem uses a page size
	// that differs from the one of the pool.
	ErrUnsupportedPageSize = errors.New("unsupported page size")
	// ErrNoAreaRegistered is returned by InitFilesystem before any area exists.
	ErrNoAreaRegistered = errors.New("no area registered")
	// ErrAreaOverlap is returned when a new area overlaps an existing one.
	ErrAreaOverlap = errors.New("area overlaps with existing area")
	// ErrBadArea is returned for misaligned or too small ranges.
	ErrBadArea = errors.New("bad area range")
	// ErrRangeBusy is returned by AllocRange when a page could not be
	// stolen back from the cache within the configured number of retries.
	ErrRangeBusy = errors.New("page range is busy")
	// ErrRangeNotOwned is returned by Memory for ranges that were not
	// allocated with AllocRange or that span several areas.
	ErrRangeNotOwned = errors.New("page range is not owned by caller")

	// errAlreadyExists signals a lost insert race; the caller looks up again.
	errAlreadyExists = errors.New("inode already exists")
)
