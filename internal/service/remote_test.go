package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"iotc-agent/internal/config"
	"iotc-agent/internal/model"
	"iotc-agent/pkg/iotconnect"
)

type sentFrame struct {
	Type    string
	Payload string
}

type fakeSession struct {
	mu         sync.Mutex
	alive      bool
	connectErr error
	handlers   map[string]iotconnect.MessageHandler
	hooks      []func()
	sent       []sentFrame
	sendErr    error
}

func newFakeSession() *fakeSession {
	return &fakeSession{handlers: make(map[string]iotconnect.MessageHandler)}
}

func (f *fakeSession) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.alive = true
	return nil
}

func (f *fakeSession) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alive = false
	return nil
}

func (f *fakeSession) IsClientAlive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeSession) OnMessage(msgType string, h iotconnect.MessageHandler) {
	f.handlers[msgType] = h
}

func (f *fakeSession) OnReconnect(fn func()) { f.hooks = append(f.hooks, fn) }

func (f *fakeSession) Send(ctx context.Context, msgType string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := jsonStd.Marshal(payload)
		if err != nil {
			return err
		}
		raw = b
	}
	return f.SendRaw(ctx, msgType, raw)
}

func (f *fakeSession) SendRaw(_ context.Context, msgType string, payload json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentFrame{Type: msgType, Payload: string(payload)})
	return nil
}

func (f *fakeSession) deliver(msgType, payload string) {
	f.handlers[msgType](iotconnect.Envelope{Type: msgType, Payload: json.RawMessage(payload)})
}

func (f *fakeSession) frames() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentFrame(nil), f.sent...)
}

type recordingHandler struct {
	commands   []model.CommandMessage
	metadata   [][]model.AttributeMetadata
	changes    int
	callbacks  []model.CallbackMessage
	callbackEr error
}

func (h *recordingHandler) OnCommandMessage(_ context.Context, msg model.CommandMessage) {
	h.commands = append(h.commands, msg)
}

func (h *recordingHandler) OnRemoteMetadataUpdate(md []model.AttributeMetadata) {
	h.metadata = append(h.metadata, md)
}

func (h *recordingHandler) OnAttributeChange(context.Context) error {
	h.changes++
	return nil
}

func (h *recordingHandler) OnCallback(_ context.Context, msg model.CallbackMessage) error {
	h.callbacks = append(h.callbacks, msg)
	return h.callbackEr
}

func newTestService(t *testing.T, sess *fakeSession) *RemoteService {
	t.Helper()
	cfg := &config.Config{Device: &config.DeviceConfig{
		DUID:         "dev-1",
		CPID:         "acme",
		Env:          "poc",
		DiscoveryURL: "https://discovery.example.com",
		Auth:         config.AuthConfig{Type: config.AuthToken},
	}}
	svc := NewRemoteService(cfg, zap.NewNop().Sugar())
	svc.discover = func(_ context.Context, _ *http.Client, discoveryURL, cpid, env, uniqueID string) (string, error) {
		assert.Equal(t, "https://discovery.example.com", discoveryURL)
		assert.Equal(t, "acme", cpid)
		assert.Equal(t, "poc", env)
		assert.Equal(t, "dev-1", uniqueID)
		return "wss://session.example.com", nil
	}
	svc.newSession = func(url string, _ *http.Client) session {
		assert.Equal(t, "wss://session.example.com", url)
		return sess
	}
	return svc
}

func TestRemoteServiceConnectRequestsAttributes(t *testing.T) {
	sess := newFakeSession()
	svc := newTestService(t, sess)

	require.NoError(t, svc.Connect(context.Background()))
	assert.True(t, svc.IsAlive())

	frames := sess.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, iotconnect.TypeGetAttributes, frames[0].Type)

	// reconnect hook asks again
	require.Len(t, sess.hooks, 1)
	sess.hooks[0]()
	assert.Len(t, sess.frames(), 2)
}

func TestRemoteServiceDispatchesEvents(t *testing.T) {
	sess := newFakeSession()
	svc := newTestService(t, sess)
	h := &recordingHandler{callbackEr: errors.New("not implemented")}
	svc.Bind(h)
	require.NoError(t, svc.Connect(context.Background()))

	sess.deliver(iotconnect.TypeCommand, `{"cmd":"reboot now","ack":"a-1","id":"c-1"}`)
	sess.deliver(iotconnect.TypeAttributes, `{"data":[{"name":"tv","dataType":"FLOAT"}]}`)
	sess.deliver(iotconnect.TypeAttributeChange, `{}`)
	sess.deliver(iotconnect.TypeOTA, `{"urls":[]}`)
	sess.deliver(iotconnect.TypeTwin, `{}`)
	sess.deliver(iotconnect.TypeCommand, `not json`)

	require.Len(t, h.commands, 1)
	assert.Equal(t, "reboot now", h.commands[0].Command)
	token, ok := h.commands[0].AckToken()
	assert.True(t, ok)
	assert.Equal(t, "a-1", token)

	require.Len(t, h.metadata, 1)
	assert.Equal(t, []model.AttributeMetadata{{Name: "tv", DataType: model.TypeFloat}}, h.metadata[0])

	assert.Equal(t, 1, h.changes)

	require.Len(t, h.callbacks, 2)
	assert.Equal(t, "ota", h.callbacks[0].Kind)
	assert.JSONEq(t, `{"urls":[]}`, string(h.callbacks[0].Payload))
	assert.Equal(t, "twin", h.callbacks[1].Kind)
}

func TestRemoteServiceSendsWithoutClient(t *testing.T) {
	sess := newFakeSession()
	svc := newTestService(t, sess)

	err := svc.SendTelemetry(context.Background(), []model.TelemetryRecord{{UniqueID: "dev-1"}})
	assert.ErrorIs(t, err, model.ErrNoClient)

	err = svc.SendAck(context.Background(), model.AckMessage{AckID: "a"})
	assert.ErrorIs(t, err, model.ErrNoClient)
	assert.Empty(t, sess.frames())
}

func TestRemoteServiceSendTelemetryAndAck(t *testing.T) {
	sess := newFakeSession()
	svc := newTestService(t, sess)
	require.NoError(t, svc.Connect(context.Background()))

	rec := model.TelemetryRecord{
		UniqueID: "dev-1",
		Time:     "2024-05-01T10:00:00.000Z",
		Data:     map[string]any{"tv": 20.5},
	}
	require.NoError(t, svc.SendTelemetry(context.Background(), []model.TelemetryRecord{rec}))
	require.NoError(t, svc.SendAck(context.Background(), model.AckMessage{
		AckID: "a-1", Status: model.AckSuccess, Message: "ok\n", CorrelationID: "c-1",
	}))

	frames := sess.frames()
	require.Len(t, frames, 3)
	assert.Equal(t, iotconnect.TypeTelemetry, frames[1].Type)
	assert.JSONEq(t, `[{"uniqueId":"dev-1","time":"2024-05-01T10:00:00.000Z","data":{"tv":20.5}}]`, frames[1].Payload)
	assert.Equal(t, iotconnect.TypeAck, frames[2].Type)
	assert.JSONEq(t, `{"ackId":"a-1","status":"SUCCESS","message":"ok\n","childId":"c-1"}`, frames[2].Payload)

	svc.Shutdown()
	assert.False(t, svc.IsAlive())
}

func TestRemoteServiceRunStopsOnCancel(t *testing.T) {
	sess := newFakeSession()
	sess.connectErr = errors.New("refused")
	svc := newTestService(t, sess)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, svc.Run(ctx))
	assert.False(t, svc.IsAlive())
}

func TestRemoteServiceSessionDroppedMidSend(t *testing.T) {
	sess := newFakeSession()
	svc := newTestService(t, sess)
	require.NoError(t, svc.Connect(context.Background()))

	sess.sendErr = iotconnect.ErrNotConnected
	err := svc.SendAck(context.Background(), model.AckMessage{AckID: "a"})
	assert.ErrorIs(t, err, model.ErrNoClient)
	assert.ErrorIs(t, err, iotconnect.ErrNotConnected)

	sess.sendErr = errors.New("write timeout")
	err = svc.SendTelemetry(context.Background(), nil)
	assert.NotErrorIs(t, err, model.ErrNoClient)
}
