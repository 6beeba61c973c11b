package worker

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"datafactory/internal/messaging"
)

// Worker pulls tasks from the queue and runs them through the
// Executor. Each instance goroutine processes strictly one message at
// a time; horizontal scale comes from running more instances or more
// processes, with the queue as the only coordination point.
type Worker struct {
	Queue       messaging.TaskQueue
	Executor    *Executor
	Concurrency int
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup) {
	numWorkers := w.Concurrency
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
		slog.Info("worker concurrency not specified, defaulting to cpu count", "concurrency", numWorkers)
	}

	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go w.runInstance(ctx, wg, i)
	}

	slog.Info("worker instances started", "count", numWorkers)
}

func (w *Worker) runInstance(ctx context.Context, wg *sync.WaitGroup, id int) {
	defer wg.Done()
	slog.Info("worker instance starting", "worker", id)

	for ctx.Err() == nil {
		w.Queue.Receive(ctx, 1)(func(d messaging.Delivery, err error) bool {
			if err != nil {
				slog.Error("error receiving task", "worker", id, "error", err)
				return true
			}
			w.process(ctx, id, d)
			return true
		})
	}

	slog.Info("worker instance exiting", "worker", id)
}

func (w *Worker) process(ctx context.Context, id int, d messaging.Delivery) {
	msg := d.Message()
	slog.Info("received task", "worker", id, "type", msg.Type, "start_index", msg.StartIndex,
		"num_samples", msg.NumSamples, "receive_count", d.ReceiveCount())

	err := w.Executor.Execute(ctx, msg)
	switch {
	case err == nil:
		if ackErr := d.Ack(); ackErr != nil {
			slog.Error("failed to ack task", "worker", id, "error", ackErr)
		}
	case IsTerminal(err):
		// Retrying cannot change the outcome: dead-letter now instead
		// of burning redelivery attempts.
		slog.Error("terminal task error, dead-lettering", "worker", id, "type", msg.Type,
			"start_index", msg.StartIndex, "error", err)
		if rejectErr := d.Reject(); rejectErr != nil {
			slog.Error("failed to reject task", "worker", id, "error", rejectErr)
		}
	default:
		// Transient: signal failure and let the redrive policy govern
		// the retry. The worker never acks a failed task.
		slog.Error("task failed, eligible for redelivery", "worker", id, "type", msg.Type,
			"start_index", msg.StartIndex, "receive_count", d.ReceiveCount(), "error", err)
		if retryErr := d.Retry(); retryErr != nil {
			slog.Error("failed to signal task retry", "worker", id, "error", retryErr)
		}
	}
}
