// videocursor/job/job.go
// Package job queues edit operations and runs them against the media engine.
package job

import (
	"sync"
	"time"

	"videocursor/edit"
)

type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Event is one progress update pushed to subscribers. Status follows the
// wire vocabulary: started, processing, completed, error.
type Event struct {
	Status        string `json:"status"`
	Progress      int    `json:"progress"`
	Message       string `json:"message,omitempty"`
	ResultAssetID string `json:"output_id,omitempty"`
}

const (
	EventStarted    = "started"
	EventProcessing = "processing"
	EventCompleted  = "completed"
	EventError      = "error"
)

// Job is one queued or executed edit. Mutable fields are guarded by mu;
// use Snapshot for a consistent read.
type Job struct {
	ID            string    `json:"job_id"`
	Kind          edit.Kind `json:"operation"`
	SourceAssetID string    `json:"file_id"`
	Slot          string    `json:"-"`
	State         State     `json:"state"`
	Progress      int       `json:"progress"`
	ResultAssetID string    `json:"output_id,omitempty"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	CompletedAt   time.Time `json:"completed_at,omitempty"`

	op        edit.Operation
	refIDs    []string
	engineLog string

	mu       sync.Mutex
	subs     map[int]chan Event
	nextSub  int
	terminal *Event
}

func (j *Job) Snapshot() Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Job{
		ID:            j.ID,
		Kind:          j.Kind,
		SourceAssetID: j.SourceAssetID,
		State:         j.State,
		Progress:      j.Progress,
		ResultAssetID: j.ResultAssetID,
		Error:         j.Error,
		CreatedAt:     j.CreatedAt,
		StartedAt:     j.StartedAt,
		CompletedAt:   j.CompletedAt,
	}
}

// EngineLog is the tail of the engine's output for the job, kept for
// operator diagnosis. Not part of the API payload.
func (j *Job) EngineLog() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.engineLog
}

func (j *Job) terminalState() bool {
	return j.State == StateSucceeded || j.State == StateFailed
}

// Subscribe returns a channel of events for the job and a cancel function.
// The current state is replayed first. Exactly one terminal event
// (completed or error) is delivered before the channel closes.
func (j *Job) Subscribe() (<-chan Event, func()) {
	j.mu.Lock()
	defer j.mu.Unlock()

	ch := make(chan Event, 16)

	if j.terminal != nil {
		ch <- *j.terminal
		close(ch)
		return ch, func() {}
	}

	switch j.State {
	case StateQueued:
		ch <- Event{Status: EventStarted, Progress: 0}
	case StateRunning:
		ch <- Event{Status: EventProcessing, Progress: j.Progress}
	}

	if j.subs == nil {
		j.subs = make(map[int]chan Event)
	}
	id := j.nextSub
	j.nextSub++
	j.subs[id] = ch

	return ch, func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		if _, ok := j.subs[id]; ok {
			delete(j.subs, id)
			close(ch)
		}
	}
}

// publish pushes a progress event to all subscribers. Slow subscribers
// lose intermediate updates, never the terminal one.
func (j *Job) publish(ev Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, ch := range j.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// finish records the terminal event and closes every subscriber channel.
func (j *Job) finish(ev Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.terminal = &ev
	for id, ch := range j.subs {
		select {
		case ch <- ev:
		default:
			// Buffer full of stale progress; make room for the terminal
			// event. The drain must not block: the subscriber may have
			// emptied the channel since the full send failed.
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
		delete(j.subs, id)
		close(ch)
	}
}

func (j *Job) setProgress(pct int) {
	j.mu.Lock()
	if pct <= j.Progress {
		j.mu.Unlock()
		return
	}
	j.Progress = pct
	j.mu.Unlock()
	j.publish(Event{Status: EventProcessing, Progress: pct})
}
