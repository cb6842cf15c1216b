package api

import (
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
)

// RunStatus is the lifecycle state of an API-started run.
type RunStatus string

// Run states.
const (
	RunQueued  RunStatus = "queued"
	RunRunning RunStatus = "running"
	RunDone    RunStatus = "done"
)

const defaultRunHistory = 100

// Run is the externally visible record of one crawl run.
type Run struct {
	ID         string                         `json:"run_id"`
	Status     RunStatus                      `json:"status"`
	Request    RunRequest                     `json:"request"`
	Results    map[string]crawler.CrawlResult `json:"results,omitempty"`
	CreatedAt  time.Time                      `json:"created_at"`
	StartedAt  *time.Time                     `json:"started_at,omitempty"`
	FinishedAt *time.Time                     `json:"finished_at,omitempty"`
}

// RunStore keeps recent runs in memory. Once more than its capacity is held,
// the oldest finished runs are evicted.
type RunStore struct {
	mu       sync.RWMutex
	runs     map[string]*Run
	order    []string
	capacity int
}

// NewRunStore creates a RunStore. A non-positive capacity uses the default.
func NewRunStore(capacity int) *RunStore {
	if capacity <= 0 {
		capacity = defaultRunHistory
	}
	return &RunStore{runs: make(map[string]*Run), capacity: capacity}
}

// Create records a queued run.
func (s *RunStore) Create(id string, req RunRequest, now time.Time) Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	run := &Run{ID: id, Status: RunQueued, Request: req, CreatedAt: now}
	s.runs[id] = run
	s.order = append(s.order, id)
	s.evictLocked()
	return copyRun(run)
}

// Start marks a run as running.
func (s *RunStore) Start(id string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		t := now
		run.Status = RunRunning
		run.StartedAt = &t
	}
}

// Complete stores the per-site results and marks the run done.
func (s *RunStore) Complete(id string, results map[string]crawler.CrawlResult, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[id]; ok {
		t := now
		run.Status = RunDone
		run.Results = results
		run.FinishedAt = &t
	}
}

// Get returns a copy of a run.
func (s *RunStore) Get(id string) (Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return Run{}, false
	}
	return copyRun(run), true
}

// List returns every retained run, newest first, without per-site results.
func (s *RunStore) List() []Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Run, 0, len(s.runs))
	for _, run := range s.runs {
		cp := copyRun(run)
		cp.Results = nil
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *RunStore) evictLocked() {
	for len(s.runs) > s.capacity {
		evicted := false
		for i, id := range s.order {
			if s.runs[id].Status == RunDone {
				delete(s.runs, id)
				s.order = append(s.order[:i], s.order[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			return
		}
	}
}

func copyRun(run *Run) Run {
	cp := *run
	cp.Request.Sites = append([]string(nil), run.Request.Sites...)
	if run.Results != nil {
		cp.Results = make(map[string]crawler.CrawlResult, len(run.Results))
		for k, v := range run.Results {
			cp.Results[k] = v
		}
	}
	return cp
}
