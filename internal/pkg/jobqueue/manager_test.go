package jobqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestNewManager(t *testing.T) {
	manager := NewManager(nil)

	assert.Nil(t, manager.GetQueue())
	assert.False(t, manager.IsRunning())
}

func TestManager_PeriodicTaskRuns(t *testing.T) {
	manager := NewManager(nil)

	var runs atomic.Int32
	manager.Every(TaskCredentialSweep, 10*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("token endpoint down")
	})

	manager.Start()
	assert.True(t, manager.IsRunning())
	assert.True(t, waitFor(func() bool { return runs.Load() >= 2 }, time.Second), "task should keep running after errors")

	manager.Stop()
	assert.False(t, manager.IsRunning())
	stopped := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, runs.Load())
}

func TestManager_RunOnce(t *testing.T) {
	manager := NewManager(nil)

	var runs atomic.Int32
	manager.Every(TaskCredentialSweep, time.Hour, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})

	require.NoError(t, manager.RunOnce(context.Background(), TaskCredentialSweep))
	assert.Equal(t, int32(1), runs.Load())

	assert.Error(t, manager.RunOnce(context.Background(), "nope"))
}

func TestManager_StartStopIdempotent(t *testing.T) {
	manager := NewManager(nil)

	// Stop without starting should be safe
	manager.Stop()
	assert.False(t, manager.IsRunning())

	manager.Start()
	manager.Start()
	assert.True(t, manager.IsRunning())

	manager.Stop()
	manager.Stop()
	assert.False(t, manager.IsRunning())

	// Restart after stop
	manager.Start()
	assert.True(t, manager.IsRunning())
	manager.Stop()
}

func TestManager_SkipsTasksWithoutInterval(t *testing.T) {
	manager := NewManager(nil)

	var runs atomic.Int32
	manager.Every("disabled", 0, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	manager.Start()
	time.Sleep(20 * time.Millisecond)
	manager.Stop()

	assert.Equal(t, int32(0), runs.Load())
}
