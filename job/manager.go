// videocursor/job/manager.go
package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/sirupsen/logrus"

	"videocursor/asset"
	"videocursor/config"
	"videocursor/edit"
	"videocursor/ffmpeg"
)

var ErrNotFound = errors.New("job not found")

// EngineRunner executes one operation's plan against local media files.
type EngineRunner interface {
	Run(ctx context.Context, op edit.Operation, refs ffmpeg.Refs, onProgress func(int)) (string, error)
	Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)
}

type Manager struct {
	cfg    *config.Config
	log    *logrus.Logger
	store  *asset.Store
	slots  *asset.Slots
	runner EngineRunner

	jobs           sync.Map
	jobQueue       chan *Job
	concurrencySem chan struct{}
}

func NewManager(cfg *config.Config, log *logrus.Logger, store *asset.Store, slots *asset.Slots, runner EngineRunner) *Manager {
	return &Manager{
		cfg:            cfg,
		log:            log,
		store:          store,
		slots:          slots,
		runner:         runner,
		jobQueue:       make(chan *Job, 100),
		concurrencySem: make(chan struct{}, cfg.MaxConcurrency),
	}
}

// Terminal jobs are kept around long enough for clients to poll the
// outcome, then aged out.
const (
	jobRetention    = 30 * time.Minute
	cleanupInterval = 5 * time.Minute
)

func (m *Manager) Start(ctx context.Context) {
	m.log.WithField("concurrency", m.cfg.MaxConcurrency).Info("job manager started")
	go m.workerLoop(ctx)
	go m.cleanupLoop(ctx)
}

func (m *Manager) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pruneJobs(time.Now().Add(-jobRetention))
		}
	}
}

// pruneJobs drops terminal jobs that completed before the cutoff. Queued
// and running jobs are never touched.
func (m *Manager) pruneJobs(cutoff time.Time) {
	m.jobs.Range(func(key, value interface{}) bool {
		j := value.(*Job)
		j.mu.Lock()
		stale := j.terminalState() && j.CompletedAt.Before(cutoff)
		j.mu.Unlock()
		if stale {
			m.jobs.Delete(key)
			m.log.WithField("job", j.ID).Debug("pruned terminal job")
		}
		return true
	})
}

func (m *Manager) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.log.Info("worker loop shutting down")
			return
		case j := <-m.jobQueue:
			// Wait for a free processing slot
			m.concurrencySem <- struct{}{}
			go func(j *Job) {
				defer func() { <-m.concurrencySem }()
				m.process(ctx, j)
			}(j)
		}
	}
}

// Submit validates the operation's asset references and queues a job.
// Reference problems (missing audio or subtitle assets) surface here,
// before anything is queued.
func (m *Manager) Submit(op edit.Operation, source *asset.Asset, slot string) (*Job, error) {
	refIDs := []string{source.ID}
	if id := referencedAssetID(op); id != "" {
		ref, err := m.store.Get(id)
		if err != nil {
			return nil, fmt.Errorf("referenced asset %s: %w", id, err)
		}
		if wantKind := referencedKind(op); ref.Kind != wantKind {
			return nil, fmt.Errorf("asset %s is %s, expected %s", id, ref.Kind, wantKind)
		}
		refIDs = append(refIDs, id)
	}

	j := &Job{
		ID:            shortuuid.New(),
		Kind:          op.Kind(),
		SourceAssetID: source.ID,
		Slot:          slot,
		State:         StateQueued,
		CreatedAt:     time.Now(),
		op:            op,
		refIDs:        refIDs,
	}

	m.jobs.Store(j.ID, j)
	m.jobQueue <- j
	m.log.WithFields(logrus.Fields{
		"job":       j.ID,
		"operation": j.Kind,
		"file":      source.ID,
	}).Info("job queued")
	return j, nil
}

func (m *Manager) process(parentCtx context.Context, j *Job) {
	jobCtx, cancel := context.WithTimeout(parentCtx, m.cfg.FFTimeout)
	defer cancel()

	j.mu.Lock()
	j.State = StateRunning
	j.StartedAt = time.Now()
	j.mu.Unlock()
	j.publish(Event{Status: EventStarted, Progress: 0})

	source, err := m.store.Get(j.SourceAssetID)
	if err != nil {
		m.fail(j, fmt.Errorf("source asset: %w", err))
		return
	}

	// The up-front probe at upload time can fail or race; plan building and
	// progress weighting need the duration, so probe lazily here.
	if source.Duration == 0 {
		if probe, err := m.runner.Probe(jobCtx, m.store.Path(source)); err == nil {
			if secs := probe.DurationSeconds(); secs > 0 {
				source.Duration = secs
				if err := m.store.SetDuration(source.ID, secs); err != nil {
					m.log.WithError(err).Warn("could not record source duration")
				}
			}
		}
	}

	refs := ffmpeg.Refs{
		Input:    m.store.Path(source),
		Duration: source.Duration,
	}
	if id := referencedAssetID(j.op); id != "" {
		ref, err := m.store.Get(id)
		if err != nil {
			m.fail(j, fmt.Errorf("referenced asset: %w", err))
			return
		}
		switch j.op.(type) {
		case *edit.Subtitles:
			refs.Subtitle = m.store.Path(ref)
		default:
			refs.Audio = m.store.Path(ref)
		}
	}

	ext := ffmpeg.OutputExt(j.op)
	outID, outPath := m.store.StageDerived(ext)
	refs.Output = outPath

	engineLog, err := m.runner.Run(jobCtx, j.op, refs, j.setProgress)
	j.mu.Lock()
	j.engineLog = engineLog
	j.mu.Unlock()

	if err != nil {
		m.store.Discard(outPath)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("job canceled or timed out")
		}
		m.fail(j, err)
		return
	}

	derived, err := m.store.CommitDerived(outID, ext, source.ID, source.DisplayName)
	if err != nil {
		m.store.Discard(outPath)
		m.fail(j, fmt.Errorf("register output: %w", err))
		return
	}

	if probe, err := m.runner.Probe(jobCtx, m.store.Path(derived)); err == nil {
		if secs := probe.DurationSeconds(); secs > 0 {
			if err := m.store.SetDuration(derived.ID, secs); err != nil {
				m.log.WithError(err).Warn("could not record output duration")
			}
		}
	}

	m.slots.SetCurrent(j.Slot, derived.ID)

	j.mu.Lock()
	j.State = StateSucceeded
	j.Progress = 100
	j.ResultAssetID = derived.ID
	j.CompletedAt = time.Now()
	j.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"job":    j.ID,
		"output": derived.ID,
	}).Info("job completed")
	j.finish(Event{Status: EventCompleted, Progress: 100, ResultAssetID: derived.ID})
}

func (m *Manager) fail(j *Job, err error) {
	j.mu.Lock()
	j.State = StateFailed
	j.Error = err.Error()
	j.CompletedAt = time.Now()
	progress := j.Progress
	j.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"job":   j.ID,
		"error": err,
	}).Warn("job failed")
	j.finish(Event{Status: EventError, Progress: progress, Message: err.Error()})
}

func (m *Manager) Get(jobID string) (*Job, bool) {
	if val, ok := m.jobs.Load(jobID); ok {
		return val.(*Job), true
	}
	return nil, false
}

// WaitTerminal blocks until the job reaches a terminal state or ctx ends,
// then returns a snapshot.
func (m *Manager) WaitTerminal(ctx context.Context, jobID string) (Job, error) {
	j, ok := m.Get(jobID)
	if !ok {
		return Job{}, ErrNotFound
	}

	events, cancel := j.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return j.Snapshot(), ctx.Err()
		case ev, open := <-events:
			if !open || ev.Status == EventCompleted || ev.Status == EventError {
				return j.Snapshot(), nil
			}
		}
	}
}

// InFlightFor reports whether a queued or running job references the asset.
func (m *Manager) InFlightFor(assetID string) bool {
	busy := false
	m.jobs.Range(func(_, value interface{}) bool {
		j := value.(*Job)
		j.mu.Lock()
		terminal := j.terminalState()
		j.mu.Unlock()
		if terminal {
			return true
		}
		for _, id := range j.refIDs {
			if id == assetID {
				busy = true
				return false
			}
		}
		return true
	})
	return busy
}

func referencedAssetID(op edit.Operation) string {
	switch o := op.(type) {
	case *edit.BackgroundAudio:
		return o.AudioAssetID
	case *edit.SoundEffect:
		return o.AudioAssetID
	case *edit.Subtitles:
		return o.SubtitleAssetID
	default:
		return ""
	}
}

func referencedKind(op edit.Operation) asset.Kind {
	if _, ok := op.(*edit.Subtitles); ok {
		return asset.KindSubtitle
	}
	return asset.KindAudio
}
