package pipe

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var jsonStd = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultRetryDelay = 500 * time.Millisecond
	wakeInterval      = 50 * time.Millisecond
)

// Producer streams values to a single consumer. Sends are fire-and-forget:
// a broken rendezvous is re-established and the send retried.
type Producer struct {
	rv         rendezvous
	logger     *zap.SugaredLogger
	retryDelay time.Duration
	session    string

	mu     sync.Mutex
	w      io.WriteCloser
	closed atomic.Bool
}

func NewProducer(endpoint string, logger *zap.SugaredLogger) *Producer {
	return &Producer{
		rv:         parseEndpoint(endpoint),
		logger:     logger,
		retryDelay: defaultRetryDelay,
		session:    uuid.NewString(),
	}
}

// ensureInitialized returns the current connection, blocking until a consumer
// attaches when there is none.
func (p *Producer) ensureInitialized() (io.Writer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.w != nil {
		return p.w, nil
	}
	w, err := p.rv.openWriter()
	if err != nil {
		return nil, err
	}
	p.w = w
	p.logger.Infow("pipe consumer attached", "endpoint", p.rv.String(), "session", p.session)
	return p.w, nil
}

func (p *Producer) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.w != nil {
		p.w.Close()
	}
	p.w = nil
}

// Send blocks until v has been written to an attached consumer, retrying
// indefinitely until ctx is done or the producer is closed.
func (p *Producer) Send(ctx context.Context, v any) error {
	frame, err := jsonStd.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode pipe value: %w", err)
	}
	frame = append(frame, '\n')

	// Opening the rendezvous blocks in the kernel until a consumer attaches.
	// Once ctx is done keep waking it until Send has returned.
	done := make(chan struct{})
	defer close(done)
	stop := context.AfterFunc(ctx, func() { p.wakeUntil(done) })
	defer stop()

	for {
		if p.closed.Load() {
			return ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		w, err := p.ensureInitialized()
		if ctxErr := ctx.Err(); ctxErr != nil {
			// a writer opened by the wake-up has no reader; the next write resets it
			return ctxErr
		}
		if err != nil {
			if p.closed.Load() {
				return ErrClosed
			}
			p.logger.Warnw("pipe rendezvous unavailable, retrying", "endpoint", p.rv.String(), "error", err)
			if !sleepCtx(ctx, p.retryDelay) {
				return ctx.Err()
			}
			continue
		}

		if _, err := w.Write(frame); err != nil {
			p.logger.Warnw("pipe write failed, re-establishing", "endpoint", p.rv.String(), "error", err)
			p.reset()
			continue
		}
		return nil
	}
}

func (p *Producer) wakeUntil(done <-chan struct{}) {
	t := time.NewTicker(wakeInterval)
	defer t.Stop()
	for {
		p.rv.wakeWriter()
		select {
		case <-done:
			return
		case <-t.C:
		}
	}
}

// SendKeyValue sends a single-entry mapping.
func (p *Producer) SendKeyValue(ctx context.Context, key string, value any) error {
	return p.Send(ctx, map[string]any{key: value})
}

func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.rv.wakeWriter()
	p.reset()
	return p.rv.close()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
