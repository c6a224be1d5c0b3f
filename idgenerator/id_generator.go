// Package idgenerator hands out process-local numeric identifiers for
// sessions and listener registrations.
package idgenerator

import "sync/atomic"

// IdGenerator produces increasing uint32 ids. The zero value is ready to use
// and yields 1 first, so 0 can be reserved as "no id". Safe for concurrent use.
type IdGenerator struct {
	last atomic.Uint32
}

// NewIdGenerator returns a generator whose first Next() is after+1.
//
// Parameters:
//   - after: The id considered already issued
//
// Returns:
//   - A new IdGenerator
func NewIdGenerator(after uint32) *IdGenerator {
	gen := &IdGenerator{}
	gen.last.Store(after)
	return gen
}

// Next returns a fresh id. The sequence wraps around after math.MaxUint32.
func (g *IdGenerator) Next() uint32 {
	return g.last.Add(1)
}
