package collab

import (
	"context"
	"errors"
)

var MaxSemaphore = 100

// SemaphoreControl bounds how many operations are in flight at once; an
// Acquire that cannot get a slot before ctx expires fails instead of queuing
// forever.
type SemaphoreControl struct {
	ch chan struct{}
}

func NewSemaphoreControl() *SemaphoreControl {
	return &SemaphoreControl{ch: make(chan struct{}, MaxSemaphore)}
}

func (s *SemaphoreControl) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.New("semaphore acquire timed out")
	}
}

func (s *SemaphoreControl) Release() error {
	select {
	case <-s.ch:
		return nil
	default:
		return errors.New("semaphore release without acquire")
	}
}
