// Package agent assembles device telemetry from attribute sources and routes
// remote events to the command worker and registered callback handlers.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"iotc-agent/internal/attribute"
	"iotc-agent/internal/config"
	"iotc-agent/internal/model"
)

const DefaultInterval = 10 * time.Second

// TelemetrySink accepts telemetry records. The remote service and the
// optional mirrors implement it.
type TelemetrySink interface {
	SendTelemetry(ctx context.Context, records []model.TelemetryRecord) error
}

// Remote is the management service as seen by the agent.
type Remote interface {
	TelemetrySink
	RequestAttributes(ctx context.Context) error
}

// CommandQueue accepts commands for sequential execution.
type CommandQueue interface {
	Submit(msg model.CommandMessage) error
	Reject(ctx context.Context, msg model.CommandMessage, reason string)
}

type Option func(*Agent)

// WithMirrors adds sinks that receive a copy of every telemetry record.
func WithMirrors(sinks ...TelemetrySink) Option {
	return func(a *Agent) { a.mirrors = append(a.mirrors, sinks...) }
}

func WithObserver(o Observer) Option {
	return func(a *Agent) { a.observer = o }
}

// WithPipeBuffer merges values received over the pipe into telemetry.
func WithPipeBuffer(b *PipeBuffer) Option {
	return func(a *Agent) { a.pipe = b }
}

// WithLocalState adds values computed in-process to every record. They are
// applied after attributes and before pipe values.
func WithLocalState(fn func() map[string]any) Option {
	return func(a *Agent) { a.localState = fn }
}

func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// Agent is the device-side state: attribute descriptors, the metadata cache
// and the callback slots.
type Agent struct {
	uniqueID    string
	descriptors []*attribute.Descriptor
	gate        bool
	interval    time.Duration

	// replaced wholesale on every metadata update
	metadata atomic.Pointer[map[string]model.SemanticType]

	remote     Remote
	commands   CommandQueue
	mirrors    []TelemetrySink
	pipe       *PipeBuffer
	localState func() map[string]any
	observer   Observer
	now        func() time.Time
	logger     *zap.SugaredLogger

	mu       sync.RWMutex
	handlers map[string]CallbackHandler
}

// DescriptorsFromConfig builds one descriptor per configured attribute, in
// configuration order.
func DescriptorsFromConfig(dev *config.DeviceConfig) ([]*attribute.Descriptor, error) {
	out := make([]*attribute.Descriptor, 0, len(dev.Device.Attributes))
	for _, a := range dev.Device.Attributes {
		enc, err := a.Encoding()
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", a.Name, err)
		}
		out = append(out, attribute.New(a.Name, a.PrivateData, enc))
	}
	return out, nil
}

func New(cfg *config.Config, descriptors []*attribute.Descriptor, remote Remote, commands CommandQueue, logger *zap.SugaredLogger, opts ...Option) *Agent {
	a := &Agent{
		uniqueID:    cfg.Device.DUID,
		descriptors: descriptors,
		gate:        cfg.GateAttributes,
		interval:    cfg.TelemetryInterval,
		remote:      remote,
		commands:    commands,
		observer:    noopObserver{},
		now:         time.Now,
		logger:      logger,
		handlers:    make(map[string]CallbackHandler),
	}
	if a.interval <= 0 {
		a.interval = DefaultInterval
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// OnRemoteMetadataUpdate replaces the attribute metadata cache.
func (a *Agent) OnRemoteMetadataUpdate(metadata []model.AttributeMetadata) {
	m := make(map[string]model.SemanticType, len(metadata))
	for _, md := range metadata {
		m[md.Name] = md.DataType
	}
	a.metadata.Store(&m)
	a.logger.Infow("attribute metadata updated", "count", len(m))
}

// HasMetadata reports whether attribute metadata has been received.
func (a *Agent) HasMetadata() bool {
	return a.metadata.Load() != nil
}

// CollectTelemetryData reads every attribute for one tick. ok is false when
// gating is on and no metadata has arrived yet, in which case nothing is sent.
func (a *Agent) CollectTelemetryData() (data map[string]any, ok bool) {
	data = make(map[string]any)

	if a.gate {
		md := a.metadata.Load()
		if md == nil {
			a.logger.Debug("no attribute metadata yet, skipping telemetry")
			return nil, false
		}
		for _, d := range a.descriptors {
			target, declared := (*md)[d.Name]
			if !declared {
				continue
			}
			v, err := d.Value(target)
			a.put(data, d, v, err)
		}
	} else {
		for _, d := range a.descriptors {
			v, err := d.ReadRaw()
			a.put(data, d, v, err)
		}
	}

	if a.localState != nil {
		for k, v := range a.localState() {
			data[k] = v
		}
	}
	a.mergePipe(data)
	return data, true
}

func (a *Agent) put(data map[string]any, d *attribute.Descriptor, v any, err error) {
	switch {
	case errors.Is(err, attribute.ErrNotFound):
		a.logger.Warnw("attribute source missing", "attribute", d.Name, "path", d.SourcePath)
	case errors.Is(err, attribute.ErrDecodeFailure):
		a.observer.DecodeFailure(d.Name)
		a.logger.Warnw("attribute decode failed", "attribute", d.Name, "error", err)
	case err != nil:
		a.logger.Errorw("attribute read failed", "attribute", d.Name, "error", err)
	case v == nil:
		a.logger.Debugw("no conversion for attribute", "attribute", d.Name)
	default:
		data[d.Name] = v
	}
}

func (a *Agent) mergePipe(data map[string]any) {
	if a.pipe == nil {
		return
	}
	for _, v := range a.pipe.Drain() {
		m, ok := v.(map[string]any)
		if !ok {
			a.logger.Warnw("dropping non-object pipe value", "value", v)
			continue
		}
		for k, val := range m {
			data[k] = val
		}
	}
}

// BuildTelemetryRecord wraps the current data with the device id and time.
func (a *Agent) BuildTelemetryRecord() (model.TelemetryRecord, bool) {
	data, ok := a.CollectTelemetryData()
	if !ok {
		return model.TelemetryRecord{}, false
	}
	return model.TelemetryRecord{
		UniqueID: a.uniqueID,
		Time:     FormatTime(a.now()),
		Data:     data,
	}, true
}

// FormatTime renders t as UTC with whole seconds and a literal .000Z suffix.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05") + ".000Z"
}

// SendTelemetry builds one record and hands it to the remote service and
// every mirror. A missing session drops the record without retry.
func (a *Agent) SendTelemetry(ctx context.Context) {
	a.observer.TelemetryTick()

	rec, ok := a.BuildTelemetryRecord()
	if !ok {
		a.observer.TelemetrySkipped()
		return
	}
	records := []model.TelemetryRecord{rec}

	if err := a.remote.SendTelemetry(ctx, records); err != nil {
		a.observer.TelemetryDropped()
		if errors.Is(err, model.ErrNoClient) {
			a.logger.Warn("no client")
		} else {
			a.logger.Errorw("failed to send telemetry", "error", err)
		}
	} else {
		a.observer.TelemetrySent()
	}

	for _, m := range a.mirrors {
		if err := m.SendTelemetry(ctx, records); err != nil {
			a.logger.Errorw("failed to mirror telemetry", "error", err)
		}
	}
}

// Run sends telemetry every interval until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Infow("telemetry loop started", "interval", a.interval, "gated", a.gate, "attributes", len(a.descriptors))
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("telemetry loop stopped")
			return nil
		case <-ticker.C:
			a.SendTelemetry(ctx)
		}
	}
}
