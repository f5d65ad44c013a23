package runner

import "sync"

// Job is one repetition's unit of work. Jobs report their outcome
// through the per-index record slices they close over, so the pool
// itself carries no results.
type Job func()

// RunPool executes jobs with at most maxWorkers running concurrently
// and returns once all of them have finished. Used for the opt-in
// parallel-repetitions mode.
func RunPool(maxWorkers int, jobs []Job) {
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxWorkers)

	for _, job := range jobs {
		wg.Add(1)
		sem <- struct{}{}
		go func(j Job) {
			defer wg.Done()
			defer func() { <-sem }()
			j()
		}(job)
	}
	wg.Wait()
}
