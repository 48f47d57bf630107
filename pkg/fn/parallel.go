package fn

import "sync"

// ParMap applies f to every item across at most workers goroutines,
// preserving input order. workers <= 0 means one goroutine per item.
func ParMap[T, U any](items []T, workers int, f func(T) U) []U {
	out := make([]U, len(items))
	runBounded(len(items), workers, func(i int) {
		out[i] = f(items[i])
	})
	return out
}

// ParMapResult is ParMap for fallible f; every item runs regardless of
// other items' failures, and results keep input order.
func ParMapResult[T, U any](items []T, workers int, f func(T) Result[U]) []Result[U] {
	out := make([]Result[U], len(items))
	runBounded(len(items), workers, func(i int) {
		out[i] = f(items[i])
	})
	return out
}

func runBounded(n, workers int, do func(i int)) {
	if n == 0 {
		return
	}
	if workers <= 0 || workers > n {
		workers = n
	}
	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer func() { <-sem; wg.Done() }()
			do(i)
		}(i)
	}
	wg.Wait()
}
