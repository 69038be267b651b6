// Package stages implements the five stage runners (C6): Research, Risk,
// Portfolio, AI Optimizer, and Compliance. Each exposes the uniform
// StageResult contract from spec.md §4.6.
package stages

import "sync"

// FanOut runs fn(item) for every item in items with bounded concurrency n,
// collecting results in input order. This is the single fan-out primitive
// spec.md's DESIGN NOTES calls for (used by Research's price fetches, the
// sentiment batch fetch, and the Position Monitor's re-scoring), replacing
// the teacher's per-department ad-hoc concurrency.
func FanOut[T any, R any](items []T, n int, fn func(T) R) []R {
	if n < 1 {
		n = 1
	}
	results := make([]R, len(items))
	sem := make(chan struct{}, n)
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item T) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = fn(item)
		}(i, item)
	}
	wg.Wait()
	return results
}
