package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/apsjohn/pianovision-fingerings/internal/worker"
)

// Job status constants
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusComplete   JobStatus = "complete"
	StatusFailed     JobStatus = "failed"
)

var stageText = map[worker.Stage]string{
	worker.StageQueued:         "Queued",
	worker.StageAwaitingEngine: "Waiting for engine...",
	worker.StageProcessing:     "Computing fingerings...",
	worker.StageDone:           "Complete!",
}

// Job represents one submitted fingering request
type Job struct {
	ID        string
	Filename  string
	Mode      worker.Mode
	HandSize  string
	CreatedAt time.Time
	Updates   chan string

	mu       sync.Mutex
	status   JobStatus
	stage    string
	response *worker.Response
}

// JobSnapshot is a consistent view of a job
type JobSnapshot struct {
	ID       string
	Filename string
	Status   JobStatus
	Stage    string
	Response *worker.Response
}

// Snapshot returns the job's current state
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return JobSnapshot{
		ID:       j.ID,
		Filename: j.Filename,
		Status:   j.status,
		Stage:    j.stage,
		Response: j.response,
	}
}

func (j *Job) setStage(status JobStatus, stage string) {
	j.mu.Lock()
	j.status = status
	j.stage = stage
	j.mu.Unlock()

	// never block the worker on a slow or absent SSE reader
	select {
	case j.Updates <- stage:
	default:
	}
}

func (j *Job) finish(resp worker.Response) {
	status, stage := StatusComplete, stageText[worker.StageDone]
	if resp.Err != nil {
		status, stage = StatusFailed, "Error: "+resp.Err.Error()
	}

	j.mu.Lock()
	j.response = &resp
	j.mu.Unlock()
	j.setStage(status, stage)
	close(j.Updates)
}

// JobManager tracks jobs submitted to the worker
type JobManager struct {
	jobs   map[string]*Job
	mu     sync.RWMutex
	worker *worker.Worker
	ttl    time.Duration
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJobManager creates a new job manager
func NewJobManager(w *worker.Worker, ttl time.Duration, logger *slog.Logger) *JobManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &JobManager{
		jobs:   make(map[string]*Job),
		worker: w,
		ttl:    ttl,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Create creates a new pending job
func (m *JobManager) Create(filename string, mode worker.Mode, handSize string) *Job {
	job := &Job{
		ID:        uuid.NewString(),
		Filename:  filename,
		Mode:      mode,
		HandSize:  handSize,
		CreatedAt: time.Now(),
		Updates:   make(chan string, 10),
		status:    StatusPending,
		stage:     "Uploading...",
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()
	return job
}

// Get retrieves a job by ID
func (m *JobManager) Get(id string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// Submit posts the job's input to the worker and tracks it to completion
func (m *JobManager) Submit(job *Job, data []byte) error {
	req := worker.Request{
		ID:       job.ID,
		MIDI:     data,
		HandSize: job.HandSize,
		Mode:     job.Mode,
		Progress: func(s worker.Stage) {
			if s == worker.StageDone {
				return
			}
			status := StatusProcessing
			if s == worker.StageQueued {
				status = StatusPending
			}
			job.setStage(status, stageText[s])
		},
	}

	reply, err := m.worker.Post(m.ctx, req)
	if err != nil {
		m.remove(job.ID)
		return err
	}

	m.wg.Add(1)
	go m.await(job, reply)
	return nil
}

func (m *JobManager) await(job *Job, reply <-chan worker.Response) {
	defer m.wg.Done()

	resp := <-reply
	job.finish(resp)

	time.AfterFunc(m.ttl, func() {
		m.remove(job.ID)
	})
}

func (m *JobManager) remove(id string) {
	m.mu.Lock()
	delete(m.jobs, id)
	m.mu.Unlock()
}

// Close cancels jobs still waiting on the engine and waits for all
// trackers to finish
func (m *JobManager) Close() {
	m.cancel()
	m.wg.Wait()
}
