package agent

import (
	"context"
	"errors"
	"fmt"

	"iotc-agent/internal/command"
	"iotc-agent/internal/model"
)

// ErrNotImplemented is returned for remote events with no registered handler.
var ErrNotImplemented = errors.New("not implemented")

// Callback kinds that accept a pluggable handler.
const (
	KindOTA          = "ota"
	KindModule       = "module"
	KindTwin         = "twin"
	KindDeviceChange = "device_change"
	KindRuleChange   = "rule_change"
)

type CallbackHandler func(ctx context.Context, msg model.CallbackMessage) error

// RegisterHandler installs fn for kind, replacing any earlier handler.
func (a *Agent) RegisterHandler(kind string, fn CallbackHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[kind] = fn
}

// OnCallback dispatches msg to the handler registered for its kind.
func (a *Agent) OnCallback(ctx context.Context, msg model.CallbackMessage) error {
	a.mu.RLock()
	fn, ok := a.handlers[msg.Kind]
	a.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%s callback: %w", msg.Kind, ErrNotImplemented)
	}
	return fn(ctx, msg)
}

func (a *Agent) OnOTACommand(ctx context.Context, payload []byte) error {
	return a.OnCallback(ctx, model.CallbackMessage{Kind: KindOTA, Payload: payload})
}

func (a *Agent) OnModuleCommand(ctx context.Context, payload []byte) error {
	return a.OnCallback(ctx, model.CallbackMessage{Kind: KindModule, Payload: payload})
}

func (a *Agent) OnTwinChange(ctx context.Context, payload []byte) error {
	return a.OnCallback(ctx, model.CallbackMessage{Kind: KindTwin, Payload: payload})
}

func (a *Agent) OnDeviceChange(ctx context.Context, payload []byte) error {
	return a.OnCallback(ctx, model.CallbackMessage{Kind: KindDeviceChange, Payload: payload})
}

func (a *Agent) OnRuleChange(ctx context.Context, payload []byte) error {
	return a.OnCallback(ctx, model.CallbackMessage{Kind: KindRuleChange, Payload: payload})
}

// OnAttributeChange asks the remote side for fresh attribute metadata.
func (a *Agent) OnAttributeChange(ctx context.Context) error {
	if err := a.remote.RequestAttributes(ctx); err != nil {
		if errors.Is(err, model.ErrNoClient) {
			a.logger.Warn("no client")
		}
		return fmt.Errorf("request attributes: %w", err)
	}
	return nil
}

// OnCommandMessage queues msg for the command worker. When the queue is full
// the command is refused and acknowledged as failed.
func (a *Agent) OnCommandMessage(ctx context.Context, msg model.CommandMessage) {
	if err := a.commands.Submit(msg); err != nil {
		a.logger.Warnw("command refused", "command", msg.Command, "error", err)
		if errors.Is(err, command.ErrQueueFull) {
			a.commands.Reject(ctx, msg, err.Error())
		}
		return
	}
	a.logger.Debugw("command queued", "command", msg.Command)
}
