package iotconnect

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var jsonStd = jsoniter.ConfigCompatibleWithStandardLibrary

// Message types exchanged with the management service.
const (
	TypeCommand         = "command"
	TypeOTA             = "ota"
	TypeModule          = "module"
	TypeTwin            = "twin"
	TypeDeviceChange    = "device_change"
	TypeRuleChange      = "rule_change"
	TypeAttributeChange = "attribute_change"
	TypeAttributes      = "attributes"

	TypeTelemetry     = "telemetry"
	TypeAck           = "ack"
	TypeGetAttributes = "get_attributes"
	TypeHeartbeat     = "heartbeat"
)

// Envelope is the frame carried by every websocket message.
type Envelope struct {
	Type    string          `json:"type"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MessageHandler receives inbound frames of one type. Handlers run on the
// reader goroutine and must not block.
type MessageHandler func(Envelope)

// OnMessage registers the handler for an inbound message type, replacing
// any earlier one.
func (client *Client) OnMessage(msgType string, handler MessageHandler) {
	client.mu.Lock()
	defer client.mu.Unlock()
	client.handlers[msgType] = handler
}

// OnReconnect registers fn to run after every successful reconnect.
func (client *Client) OnReconnect(fn func()) {
	client.mu.Lock()
	defer client.mu.Unlock()
	client.reconnectHooks = append(client.reconnectHooks, fn)
}

func (client *Client) runReconnectHooks() {
	client.mu.Lock()
	hooks := append([]func(){}, client.reconnectHooks...)
	client.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// Send writes one frame of msgType with payload encoded as JSON.
func (client *Client) Send(ctx context.Context, msgType string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := jsonStd.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", msgType, err)
		}
		raw = b
	}
	return client.SendRaw(ctx, msgType, raw)
}

// SendRaw writes a frame whose payload is already JSON encoded.
func (client *Client) SendRaw(ctx context.Context, msgType string, payload json.RawMessage) error {
	data, err := jsonStd.Marshal(Envelope{
		Type:    msgType,
		Ref:     uuid.NewString(),
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", msgType, err)
	}

	client.mu.Lock()
	conn := client.conn
	alive := client.state == stateConnected
	client.mu.Unlock()

	if conn == nil || !alive {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, client.writeTimeout)
	defer cancel()

	return conn.Write(ctx, websocket.MessageText, data)
}

// listenForMessages reads frames from the server and dispatches them by type.
func (client *Client) listenForMessages() {
	for {
		client.mu.Lock()
		ctx := client.ctx
		conn := client.conn
		client.mu.Unlock()

		if ctx == nil || ctx.Err() != nil || conn == nil {
			client.logger.Info("Listener exiting")
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			if !client.isConnectionAlive(err) {
				if ctx.Err() != nil {
					client.logger.Info("Listener exiting")
					return
				}
				client.logger.Warn("Connection lost during message read", zap.Error(err))
				client.dropConnection()
				go client.reconnect(context.Background())
				return
			}
			continue
		}

		var env Envelope
		if err := jsonStd.Unmarshal(data, &env); err != nil {
			client.logger.Warn("Malformed frame", zap.Error(err))
			continue
		}

		client.mu.Lock()
		handler, exists := client.handlers[env.Type]
		client.mu.Unlock()

		if !exists {
			client.logger.Warn("No handler found for message type", zap.String("type", env.Type))
			continue
		}
		handler(env)
	}
}
