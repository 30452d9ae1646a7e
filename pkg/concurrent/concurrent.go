// Package concurrent provides small helpers for running an action across a
// slice of elements in parallel.
package concurrent

import (
	"sync"

	"golang.org/x/sync/errgroup"
)

// ForEach runs the action for each element in a separate goroutine and
// waits for all of them. It returns the first error encountered.
func ForEach[T any](elements []T, action func(T) error) error {
	errGroup := errgroup.Group{}
	for _, element := range elements {
		errGroup.Go(func() error {
			return action(element)
		})
	}
	return errGroup.Wait()
}

// Throttle runs the action for each element with at most concurrency
// goroutines in flight and waits for all of them.
func Throttle[T any](elements []T, concurrency int, action func(T) error) error {
	errGroup := errgroup.Group{}
	errGroup.SetLimit(concurrency)
	for _, element := range elements {
		errGroup.Go(func() error {
			return action(element)
		})
	}
	return errGroup.Wait()
}

// Merge merges multiple channels of T into a single output channel. The
// output closes once every input closes.
func Merge[T any](chs ...<-chan T) <-chan T {
	out := make(chan T)
	var wg sync.WaitGroup
	wg.Add(len(chs))
	for _, ch := range chs {
		go func(c <-chan T) {
			defer wg.Done()
			for v := range c {
				out <- v
			}
		}(ch)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
