package settlement

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// SingleFlight runs at most one job at a time. A call made while a job is
// running returns immediately instead of queueing behind it.
type SingleFlight struct {
	sem *semaphore.Weighted
}

func NewSingleFlight() *SingleFlight {
	return &SingleFlight{sem: semaphore.NewWeighted(1)}
}

// Do runs fn unless another job holds the flight. ran reports whether fn was called.
func (s *SingleFlight) Do(ctx context.Context, fn func(ctx context.Context) error) (ran bool, err error) {
	if !s.sem.TryAcquire(1) {
		return false, nil
	}
	defer s.sem.Release(1)

	return true, fn(ctx)
}
