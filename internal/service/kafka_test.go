package service

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"iotc-agent/internal/model"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
	hang   bool // block until the context ends, like an unreachable broker
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaMirrorWritesOneMessagePerRecord(t *testing.T) {
	w := &fakeWriter{}
	mirror := newKafkaMirror(w, "telemetry", zap.NewNop().Sugar())

	records := []model.TelemetryRecord{
		{UniqueID: "dev-1", Time: "2024-05-01T10:00:00.000Z", Data: map[string]any{"tv": math.NaN(), "ok": true}},
	}
	require.NoError(t, mirror.SendTelemetry(context.Background(), records))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "dev-1", string(w.msgs[0].Key))
	assert.JSONEq(t, `{"uniqueId":"dev-1","time":"2024-05-01T10:00:00.000Z","data":{"tv":null,"ok":true}}`, string(w.msgs[0].Value))

	require.NoError(t, mirror.Close())
	assert.True(t, w.closed)
}

func TestKafkaMirrorPropagatesWriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	mirror := newKafkaMirror(w, "telemetry", zap.NewNop().Sugar())

	err := mirror.SendTelemetry(context.Background(), []model.TelemetryRecord{{UniqueID: "dev-1"}})
	assert.ErrorContains(t, err, "broker down")

	assert.NoError(t, mirror.SendTelemetry(context.Background(), nil))
}

func TestKafkaMirrorBoundsSlowBroker(t *testing.T) {
	w := &fakeWriter{hang: true}
	mirror := newKafkaMirror(w, "telemetry", zap.NewNop().Sugar())
	mirror.timeout = 50 * time.Millisecond

	start := time.Now()
	err := mirror.SendTelemetry(context.Background(), []model.TelemetryRecord{
		{UniqueID: "dev-1", Time: "2024-05-01T10:00:00.000Z", Data: map[string]any{"tv": 1}},
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
