package concurrent

import (
	"context"
	"sync"
)

// Result represents the result of a parallel operation
type Result[T any] struct {
	Value T
	Error error
	Index int // Original index in the input slice
}

// MapWithLimit runs fn over each item in parallel with at most maxConcurrent
// goroutines running at once. It waits for all items to complete, even if
// some fail, and preserves input order in the results.
func MapWithLimit[T any, R any](ctx context.Context, items []T, fn func(ctx context.Context, item T) (R, error), maxConcurrent int) []Result[R] {
	if maxConcurrent <= 0 {
		maxConcurrent = len(items)
	}

	results := make([]Result[R], len(items))
	var wg sync.WaitGroup

	// Semaphore channel bounds concurrency
	semaphore := make(chan struct{}, maxConcurrent)

	for i, item := range items {
		wg.Add(1)
		go func(index int, it T) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			value, err := fn(ctx, it)
			results[index] = Result[R]{
				Value: value,
				Error: err,
				Index: index,
			}
		}(i, item)
	}

	wg.Wait()
	return results
}

// Collect separates successful values from errors
func Collect[T any](results []Result[T]) (values []T, errors []error) {
	values = make([]T, 0, len(results))
	errors = make([]error, 0)

	for _, result := range results {
		if result.Error != nil {
			errors = append(errors, result.Error)
		} else {
			values = append(values, result.Value)
		}
	}

	return values, errors
}
