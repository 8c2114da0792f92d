package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"iotc-agent/internal/pipe"
)

func TestPipeBufferDropsWhenFull(t *testing.T) {
	b := NewPipeBuffer(2, nil, zap.NewNop().Sugar())
	assert.True(t, b.Push(1.0))
	assert.True(t, b.Push(2.0))
	assert.False(t, b.Push(3.0))
	assert.Equal(t, int64(1), b.Dropped())

	assert.Equal(t, []any{1.0, 2.0}, b.Drain())
	assert.Empty(t, b.Drain())
}

// chanReader serves values from a channel and reports pipe.ErrClosed once closed.
type chanReader struct {
	values chan any
	closed chan struct{}
}

func newChanReader() *chanReader {
	return &chanReader{values: make(chan any), closed: make(chan struct{})}
}

func (r *chanReader) ReadNext() (any, error) {
	select {
	case v := <-r.values:
		return v, nil
	case <-r.closed:
		return nil, pipe.ErrClosed
	}
}

func (r *chanReader) Close() error {
	close(r.closed)
	return nil
}

func TestRunConsumerFillsBufferUntilCancelled(t *testing.T) {
	b := NewPipeBuffer(8, nil, zap.NewNop().Sugar())
	r := newChanReader()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.RunConsumer(ctx, r) }()

	r.values <- map[string]any{"k": "v"}
	require.Eventually(t, func() bool { return len(b.ch) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
	assert.Equal(t, []any{map[string]any{"k": "v"}}, b.Drain())
}

type failingReader struct{}

func (failingReader) ReadNext() (any, error) { return nil, errors.New("disk gone") }
func (failingReader) Close() error           { return nil }

func TestRunConsumerReturnsReadErrors(t *testing.T) {
	b := NewPipeBuffer(1, nil, zap.NewNop().Sugar())
	err := b.RunConsumer(context.Background(), failingReader{})
	assert.ErrorContains(t, err, "disk gone")
}
