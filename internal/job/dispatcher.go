package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gozhiyuan/omnimemory-sub000/internal/config"
	"github.com/gozhiyuan/omnimemory-sub000/internal/metrics"
	"github.com/gozhiyuan/omnimemory-sub000/internal/models"
)

// Handler executes one task. A returned error sends the task back for
// another attempt until its attempts are exhausted.
type Handler func(ctx context.Context, task *models.Task) error

// Dispatcher claims pending tasks and runs them on a fixed worker pool.
type Dispatcher struct {
	store     Store
	handlers  map[string]Handler
	names     []string
	workers   int
	poll      time.Duration
	lease     time.Duration
	collector *metrics.Collector
	log       *slog.Logger
	wg        sync.WaitGroup
}

func NewDispatcher(store Store, cfg config.Config, collector *metrics.Collector, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	poll := cfg.TaskPoll
	if poll <= 0 {
		poll = time.Second
	}
	lease := cfg.TaskLease
	if lease <= 0 {
		lease = 5 * time.Minute
	}
	return &Dispatcher{
		store:     store,
		handlers:  make(map[string]Handler),
		workers:   workers,
		poll:      poll,
		lease:     lease,
		collector: collector,
		log:       log,
	}
}

// Register binds a handler to a task name. Must be called before Run.
func (d *Dispatcher) Register(name string, h Handler) {
	d.handlers[name] = h
}

// Run processes tasks until ctx is cancelled, then drains in-flight work.
func (d *Dispatcher) Run(ctx context.Context) error {
	if len(d.handlers) == 0 {
		return errors.New("no task handlers registered")
	}
	d.names = make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		d.names = append(d.names, name)
	}
	sort.Strings(d.names)

	if n, err := d.store.RequeueExpired(ctx); err != nil {
		d.log.Warn("requeue expired tasks", "error", err)
	} else if n > 0 {
		d.log.Info("requeued expired tasks", "count", n)
	}

	d.wg.Add(1)
	go d.requeueLoop(ctx)

	d.log.Info("dispatcher started", "workers", d.workers, "tasks", d.names)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}

	<-ctx.Done()
	d.wg.Wait()
	d.log.Info("dispatcher drained")
	return nil
}

// requeueLoop periodically returns tasks whose lease expired to the pending
// pool so crashed or stalled workers do not strand them.
func (d *Dispatcher) requeueLoop(ctx context.Context) {
	defer d.wg.Done()
	interval := d.lease / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.store.RequeueExpired(ctx)
			if err != nil {
				d.log.Warn("requeue expired tasks", "error", err)
				continue
			}
			if n > 0 {
				d.log.Info("requeued expired tasks", "count", n)
			}
		}
	}
}

func (d *Dispatcher) worker(ctx context.Context, id int) {
	defer d.wg.Done()
	for ctx.Err() == nil {
		task, err := d.store.ClaimNextTask(ctx, d.names, d.lease)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.log.Error("claim task", "worker", id, "error", err)
			sleepCtx(ctx, d.poll)
			continue
		}
		if task == nil {
			sleepCtx(ctx, d.poll)
			continue
		}
		d.execute(ctx, task)
	}
}

// execute runs one claimed task and records its outcome. Handler panics are
// contained and count as failures.
func (d *Dispatcher) execute(ctx context.Context, task *models.Task) {
	taskID := models.MustRecordIDString(task.ID)
	log := d.log.With("task_id", taskID, "task", task.Name, "attempt", task.Attempts)
	start := time.Now()

	err := runHandler(ctx, d.handlers[task.Name], task)

	if d.collector != nil {
		d.collector.RecordTiming(metrics.OpTask+":"+task.Name, time.Since(start))
	}

	// status writes must survive shutdown cancellation
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err == nil {
		if cerr := d.store.CompleteTask(writeCtx, taskID); cerr != nil {
			log.Error("complete task", "error", cerr)
			return
		}
		log.Debug("task completed", "duration", time.Since(start))
		return
	}

	final := task.Attempts >= task.MaxAttempts
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		// interrupted by shutdown, not a handler defect
		final = false
	}
	if ferr := d.store.FailTask(writeCtx, taskID, err.Error(), final); ferr != nil {
		log.Error("record task failure", "error", ferr)
		return
	}
	if final {
		log.Error("task failed permanently", "error", err)
	} else {
		log.Warn("task failed, will retry", "error", err)
	}
}

func runHandler(ctx context.Context, handler Handler, task *models.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	if handler == nil {
		return fmt.Errorf("no handler registered for %s", task.Name)
	}
	return handler(ctx, task)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
