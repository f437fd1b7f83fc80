// videocursor/job/job_test.go
package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFinishDeliversTerminalToBusySubscriber(t *testing.T) {
	j := &Job{ID: "j1", State: StateRunning}

	events, cancel := j.Subscribe()
	defer cancel()

	// Fill the subscriber's buffer with stale progress.
	for i := 1; i <= 40; i++ {
		j.publish(Event{Status: EventProcessing, Progress: i})
	}

	last := make(chan Event, 1)
	go func() {
		var ev Event
		for e := range events {
			ev = e
		}
		last <- ev
	}()

	done := make(chan struct{})
	go func() {
		j.finish(Event{Status: EventError, Message: "boom"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("finish blocked against a draining subscriber")
	}

	select {
	case ev := <-last:
		assert.Equal(t, EventError, ev.Status)
		assert.Equal(t, "boom", ev.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber channel never closed")
	}
}

func TestSetProgressMonotonic(t *testing.T) {
	j := &Job{ID: "j1", State: StateRunning}

	j.setProgress(40)
	j.setProgress(30)
	assert.Equal(t, 40, j.Snapshot().Progress)

	j.setProgress(55)
	assert.Equal(t, 55, j.Snapshot().Progress)
}
