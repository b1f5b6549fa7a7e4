// Package janitor runs periodic maintenance tasks on a cron schedule that is owned
// by the component that starts it.
package janitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Janitor schedules cleanup tasks and stops them on Stop.
type Janitor struct {
	mu      sync.Mutex
	cron    *cron.Cron
	logger  *zap.Logger
	started bool
	stopped bool
}

// New creates an idle Janitor.
func New(logger *zap.Logger) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: logger,
	}
}

// Every registers task to run once per interval and starts the scheduler.
func (j *Janitor) Every(name string, interval time.Duration, task func()) error {
	if interval < time.Second {
		return fmt.Errorf("janitor %s: interval %s below one second", name, interval)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.stopped {
		return fmt.Errorf("janitor %s: already stopped", name)
	}
	spec := fmt.Sprintf("@every %s", interval)
	if _, err := j.cron.AddFunc(spec, func() {
		start := time.Now()
		task()
		j.logger.Debug("janitor task finished", zap.String("task", name), zap.Duration("took", time.Since(start)))
	}); err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	if !j.started {
		j.cron.Start()
		j.started = true
	}
	j.logger.Info("janitor task scheduled", zap.String("task", name), zap.Duration("interval", interval))
	return nil
}

// Stop halts the scheduler and waits for a running task to return. It is safe to
// call more than once.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if j.stopped {
		j.mu.Unlock()
		return
	}
	j.stopped = true
	started := j.started
	j.mu.Unlock()
	if started {
		<-j.cron.Stop().Done()
	}
}
