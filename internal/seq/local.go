package seq

import "sync/atomic"

// LocalAllocator mints synthetic placeholder sequences for events that
// originate locally and have not been acknowledged by the producer yet.
// Placeholders are negative (-1, -2, ...) so they can never collide with,
// or order against, a real producer-assigned sequence.
//
// Thread-safety: safe for concurrent use; each call returns a unique
// placeholder.
type LocalAllocator struct {
	n atomic.Int64
}

// NewLocalAllocator creates an allocator whose first placeholder is -1.
func NewLocalAllocator() *LocalAllocator {
	return &LocalAllocator{}
}

// Next returns the next placeholder sequence.
func (a *LocalAllocator) Next() Seq {
	return FromInt(-a.n.Add(1))
}

// Issued returns how many placeholders have been handed out.
func (a *LocalAllocator) Issued() int64 {
	return a.n.Load()
}
