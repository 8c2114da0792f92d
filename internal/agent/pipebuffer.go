package agent

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"iotc-agent/internal/pipe"
)

const DefaultPipeBufferSize = 64

// PipeBuffer holds values read from the inter-process channel until the
// next telemetry tick. When full, new values are dropped.
type PipeBuffer struct {
	ch       chan any
	dropped  atomic.Int64
	observer Observer
	logger   *zap.SugaredLogger
}

func NewPipeBuffer(size int, observer Observer, logger *zap.SugaredLogger) *PipeBuffer {
	if size <= 0 {
		size = DefaultPipeBufferSize
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &PipeBuffer{
		ch:       make(chan any, size),
		observer: observer,
		logger:   logger,
	}
}

// Push adds v without blocking. It reports false when v was dropped.
func (b *PipeBuffer) Push(v any) bool {
	select {
	case b.ch <- v:
		b.observer.PipeValue()
		return true
	default:
		b.dropped.Add(1)
		b.observer.PipeDropped()
		return false
	}
}

// Drain returns every buffered value without blocking.
func (b *PipeBuffer) Drain() []any {
	var out []any
	for {
		select {
		case v := <-b.ch:
			out = append(out, v)
		default:
			return out
		}
	}
}

func (b *PipeBuffer) Dropped() int64 {
	return b.dropped.Load()
}

// ValueReader is the blocking read side of the pipe.
type ValueReader interface {
	ReadNext() (any, error)
	Close() error
}

// RunConsumer copies values from r into the buffer until ctx is done. r is
// closed on return, which also unblocks a pending read.
func (b *PipeBuffer) RunConsumer(ctx context.Context, r ValueReader) error {
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		if err := r.Close(); err != nil {
			b.logger.Warnw("pipe close failed", "error", err)
		}
	}()
	defer close(stop)

	b.logger.Info("pipe consumer started")
	for {
		v, err := r.ReadNext()
		if err != nil {
			if errors.Is(err, pipe.ErrClosed) {
				b.logger.Info("pipe consumer stopped")
				return nil
			}
			return err
		}
		if !b.Push(v) {
			b.logger.Warnw("pipe buffer full, value dropped", "dropped", b.Dropped())
		}
	}
}
