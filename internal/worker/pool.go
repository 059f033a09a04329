// Package worker provides a job pool for batch recommendation runs.
package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/resona-audio/resona/internal/core/domain"
	"github.com/resona-audio/resona/internal/core/services"
)

// Job is one audio file to recommend for.
type Job struct {
	QueryID   string
	AudioPath string
}

// Entry is the per-job outcome in the batch document. Error carries the
// failure message for jobs whose pipeline failed; the rest of the batch is
// unaffected.
type Entry struct {
	*domain.ResultRecord
	Error string `json:"error,omitempty"`
}

// Pool runs recommendation jobs concurrently. A failed job records an error
// entry and the pool keeps going; batch runs never abort on one bad file.
type Pool struct {
	rec        *services.Recommender
	jobs       chan Job
	wg         sync.WaitGroup
	jobTimeout time.Duration

	mu      sync.Mutex
	results map[string]Entry
}

// NewPool creates a worker pool with the given queue size.
func NewPool(rec *services.Recommender, queueSize int, jobTimeout time.Duration) *Pool {
	if queueSize < 1 {
		queueSize = 1
	}
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Minute
	}
	return &Pool{
		rec:        rec,
		jobs:       make(chan Job, queueSize),
		jobTimeout: jobTimeout,
		results:    make(map[string]Entry),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start(workers int) {
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				p.processJob(job)
			}
		}()
	}
}

// Submit queues a job, blocking when the queue is full. Batch runs must not
// drop work.
func (p *Pool) Submit(job Job) {
	p.jobs <- job
}

// Stop waits for workers to finish after closing the queue.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
}

// Results returns a copy of the collected entries, keyed by query id.
func (p *Pool) Results() map[string]Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]Entry, len(p.results))
	for k, v := range p.results {
		out[k] = v
	}
	return out
}

func (p *Pool) processJob(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.jobTimeout)
	defer cancel()

	res, err := p.rec.RecommendFile(ctx, job.QueryID, job.AudioPath)
	if err != nil {
		log.Printf("WARN worker: job %s failed: %v", job.QueryID, err)
		p.store(job.QueryID, Entry{Error: err.Error()})
		return
	}

	record := domain.NewResultRecord(res)
	p.store(job.QueryID, Entry{ResultRecord: &record})
	log.Printf("worker: processed %s (%s, %d recommendations)", job.QueryID, res.Method, len(res.Recommendations))
}

func (p *Pool) store(id string, e Entry) {
	p.mu.Lock()
	p.results[id] = e
	p.mu.Unlock()
}
