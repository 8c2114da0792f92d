package command

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"iotc-agent/internal/model"
)

const (
	DefaultQueueSize = 16

	shutdownReason     = "agent shutting down"
	shutdownAckTimeout = 2 * time.Second
)

var ErrQueueFull = errors.New("command queue full")

// ResultListener is notified after each command has been handled.
type ResultListener func(model.CommandMessage, Result)

// Worker runs commands one at a time off a bounded queue so a slow script
// cannot stall the caller.
type Worker struct {
	executor  *Executor
	queue     chan model.CommandMessage
	logger    *zap.SugaredLogger
	mu        sync.RWMutex
	listeners []ResultListener
}

func NewWorker(executor *Executor, size int, logger *zap.SugaredLogger) *Worker {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Worker{
		executor: executor,
		queue:    make(chan model.CommandMessage, size),
		logger:   logger,
	}
}

// OnResult registers a listener for handled commands.
func (w *Worker) OnResult(listener ResultListener) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, listener)
}

// Submit queues msg without blocking.
func (w *Worker) Submit(msg model.CommandMessage) error {
	select {
	case w.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Reject acknowledges msg as failed without running it.
func (w *Worker) Reject(ctx context.Context, msg model.CommandMessage, reason string) {
	w.executor.Acknowledge(ctx, msg, model.AckFail, reason)
}

// Run processes queued commands until ctx is done. A command already running
// when ctx is cancelled is allowed to finish; commands still queued are
// rejected.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Infow("command worker started", "queue_size", cap(w.queue))
	for {
		if ctx.Err() != nil {
			w.drain(ctx)
			return nil
		}
		select {
		case <-ctx.Done():
			w.drain(ctx)
			return nil
		case msg := <-w.queue:
			res := w.executor.Handle(ctx, msg)

			w.mu.RLock()
			listeners := append([]ResultListener(nil), w.listeners...)
			w.mu.RUnlock()
			for _, l := range listeners {
				l(msg, res)
			}
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownAckTimeout)
	defer cancel()
	n := 0
	for {
		select {
		case msg := <-w.queue:
			w.Reject(ackCtx, msg, shutdownReason)
			n++
		default:
			w.logger.Infow("command worker stopped", "rejected", n)
			return
		}
	}
}
