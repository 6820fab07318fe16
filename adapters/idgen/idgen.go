// Package idgen generates run identifiers.
package idgen

import (
	"fmt"
	"sync/atomic"

	"github.com/artpar/rpcspec/ports"
	"github.com/google/uuid"
)

// TimeOrdered generates UUID v7 identifiers, which sort by creation time.
type TimeOrdered struct{}

// New returns a UUID v7, or a random UUID v4 if the clock source fails.
func (TimeOrdered) New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Ensure interface compliance.
var _ ports.IDGenerator = TimeOrdered{}

// Sequential generates zero-padded sequential IDs such as "run-000001".
type Sequential struct {
	prefix  string
	counter atomic.Uint64
}

// NewSequential creates a sequential ID generator.
func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

// New returns the next ID.
func (s *Sequential) New() string {
	return fmt.Sprintf("%s%06d", s.prefix, s.counter.Add(1))
}

// Ensure interface compliance.
var _ ports.IDGenerator = (*Sequential)(nil)
