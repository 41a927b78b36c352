package batch

import "sync"

// InBatches runs fn for every index in [0,n), at most size at a time, and
// waits for each batch before starting the next one.
func InBatches(n, size int, fn func(i int)) {
	if size <= 0 {
		size = 1
	}
	for start := 0; start < n; start += size {
		end := min(start+size, n)

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				fn(i)
			}(i)
		}
		wg.Wait()
	}
}
