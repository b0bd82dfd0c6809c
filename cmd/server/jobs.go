package main

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"quantsim/services/engine"
)

// JobStatus tracks a submitted job through its lifecycle.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

// Job is the API view of one queued analysis.
type Job struct {
	ID          string              `json:"job_id"`
	Kind        string              `json:"kind"`
	Status      JobStatus           `json:"status"`
	SubmittedAt time.Time           `json:"submitted_at"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	FinishedAt  *time.Time          `json:"finished_at,omitempty"`
	Error       string              `json:"error,omitempty"`
	Manifest    *engine.RunManifest `json:"manifest,omitempty"`
	Result      any                 `json:"result,omitempty"`
}

// task pairs a job id with the closure that produces its result.
type task struct {
	id  string
	run func(ctx context.Context) (any, error)
}

// jobStore keeps every job for the lifetime of the process. All mutation
// goes through the store so handler reads never race worker writes.
type jobStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func newJobStore() *jobStore {
	return &jobStore{jobs: make(map[string]*Job)}
}

func (s *jobStore) add(j *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
}

func (s *jobStore) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

// snapshot returns a copy safe to serve while workers keep writing.
func (s *jobStore) snapshot(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

func (s *jobStore) markRunning(id string) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status = JobRunning
		j.StartedAt = &now
	}
}

func (s *jobStore) finish(id string, result any, err error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return
	}
	j.FinishedAt = &now
	if err != nil {
		j.Status = JobFailed
		j.Error = err.Error()
		return
	}
	j.Status = JobDone
	j.Result = result
}

// submit enqueues without blocking; false means the queue is full and the
// caller should push back.
func (s *Service) submit(t task) bool {
	select {
	case s.queue <- t:
		return true
	default:
		return false
	}
}

// startWorkers spins up the job pool. Workers drain the queue until ctx is
// cancelled; jobs still queued at shutdown stay in state queued.
func (s *Service) startWorkers(ctx context.Context, wg *sync.WaitGroup) {
	n := s.cfg.Engine.Workers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	s.logger.Info("starting job workers", zap.Int("workers", n), zap.Int("queue_depth", cap(s.queue)))
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case t, ok := <-s.queue:
					if !ok {
						return
					}
					s.execute(ctx, worker, t)
				}
			}
		}(i)
	}
}

func (s *Service) execute(ctx context.Context, worker int, t task) {
	start := time.Now()
	s.store.markRunning(t.id)
	result, err := t.run(ctx)
	s.store.finish(t.id, result, err)
	if err != nil {
		s.logger.Error("job failed",
			zap.String("job_id", t.id),
			zap.Int("worker", worker),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return
	}
	s.logger.Info("job done",
		zap.String("job_id", t.id),
		zap.Int("worker", worker),
		zap.Duration("elapsed", time.Since(start)))
}
