package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tlsync/internal/logs"
)

// Scheduler гоняет именованные задачи по тикерам. Перекрытие тиков
// гасится атомарным флагом на задачу: если прошлый запуск ещё идёт,
// тик пропускается.
type Scheduler struct {
	jobs []*job
	wg   sync.WaitGroup
}

type job struct {
	name     string
	interval time.Duration
	fn       func(context.Context)
	running  atomic.Bool
}

func New() *Scheduler { return &Scheduler{} }

func (s *Scheduler) Add(name string, interval time.Duration, fn func(context.Context)) {
	s.jobs = append(s.jobs, &job{name: name, interval: interval, fn: fn})
}

// Start запускает по горутине на задачу; останов — через ctx.
// Wait блокируется до завершения всех задач после отмены.
func (s *Scheduler) Start(ctx context.Context) {
	for _, j := range s.jobs {
		s.wg.Add(1)
		go func(j *job) {
			defer s.wg.Done()
			ticker := time.NewTicker(j.interval)
			defer ticker.Stop()
			logs.Logger.WithField("job", j.name).Infof("scheduled every %s", j.interval)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.runOnce(ctx, j)
				}
			}
		}(j)
	}
}

func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) runOnce(ctx context.Context, j *job) {
	if !j.running.CompareAndSwap(false, true) {
		logs.Logger.WithField("job", j.name).Debug("previous run still in progress, skipping tick")
		return
	}
	defer j.running.Store(false)

	start := time.Now()
	j.fn(ctx)
	logs.Logger.WithFields(map[string]any{
		"job":      j.name,
		"duration": time.Since(start).String(),
	}).Debug("job finished")
}
