package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// TaskCredentialSweep keeps the current OAuth credential warm.
const TaskCredentialSweep = "credential_sweep"

// TaskFunc is the body of a periodic task. Errors are logged, never fatal.
type TaskFunc func(ctx context.Context) error

type periodicTask struct {
	name     string
	interval time.Duration
	run      TaskFunc
	timeout  time.Duration
}

// Manager owns the optional job queue and the periodic background tasks
type Manager struct {
	queue   *Queue
	tasks   []periodicTask
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewManager creates a manager. queue may be nil when nothing is processed
// asynchronously.
func NewManager(queue *Queue) *Manager {
	return &Manager{queue: queue}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Every registers a task that runs every interval once the manager is started.
// Each run is bounded by the interval.
func (m *Manager) Every(name string, interval time.Duration, run TaskFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, periodicTask{name: name, interval: interval, run: run, timeout: interval})
}

// RunOnce runs a registered task immediately in the caller's goroutine.
func (m *Manager) RunOnce(ctx context.Context, name string) error {
	m.mu.Lock()
	var task *periodicTask
	for i := range m.tasks {
		if m.tasks[i].name == name {
			task = &m.tasks[i]
			break
		}
	}
	m.mu.Unlock()

	if task == nil {
		return fmt.Errorf("no periodic task named %q", name)
	}
	return task.run(ctx)
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting background tasks")

	if m.queue != nil {
		m.queue.Start()
	}

	for _, task := range m.tasks {
		if task.interval <= 0 {
			log.Warnf("[JobQueue Manager] Task %s has no interval, not scheduling it", task.name)
			continue
		}
		m.wg.Add(1)
		go m.taskWorker(task, m.stopCh)
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")
	close(m.stopCh)
	m.running = false
	m.mu.Unlock()

	// Wait for background workers to finish
	m.wg.Wait()

	if m.queue != nil {
		m.queue.Stop()
	}
	log.Info("[JobQueue Manager] Stopped successfully")
}

func (m *Manager) taskWorker(task periodicTask, stopCh <-chan struct{}) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started %s worker (interval: %s)", task.name, task.interval)

	ticker := time.NewTicker(task.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			log.Infof("[JobQueue Manager] %s worker stopping", task.name)
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), task.timeout)
			if err := task.run(ctx); err != nil {
				log.Errorf("[JobQueue Manager] %s error: %v", task.name, err)
			}
			cancel()
		}
	}
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
