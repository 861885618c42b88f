package service

import (
	"time"

	"github.com/leaselock/auctiond/internal/domain"
)

// SystemClock reads the wall clock in unix seconds.
type SystemClock struct{}

// Now returns the current unix time in seconds.
func (SystemClock) Now() int64 {
	return time.Now().Unix()
}

// FixedClock always returns the same instant. Used in tests to drive auction
// time explicitly.
type FixedClock struct {
	Unix int64
}

// Now returns the fixed instant.
func (c FixedClock) Now() int64 {
	return c.Unix
}

var (
	_ domain.Clock = SystemClock{}
	_ domain.Clock = FixedClock{}
)
