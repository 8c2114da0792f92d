package iotconnect

import (
	"context"
	"time"

	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// startHeartbeats launches a heartbeat goroutine
func (client *Client) startHeartbeats() {
	client.mu.Lock()
	if client.heartbeatCancel != nil {
		client.heartbeatCancel()
	}

	ctx := client.ctx
	if ctx == nil {
		client.mu.Unlock()
		return
	}

	hbCtx, cancel := context.WithCancel(ctx)
	client.heartbeatCancel = cancel
	client.mu.Unlock()

	go client.heartbeatLoop(hbCtx)
}

// heartbeatLoop periodically sends heartbeat messages. A failed heartbeat
// drops the connection and hands over to the reconnect loop.
func (client *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(client.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := client.sendHeartbeat(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			client.logger.Error("Heartbeat failed", zap.Error(err))
			client.dropConnection()
			go client.reconnect(context.Background())
			return
		}
	}
}

// sendHeartbeat sends a heartbeat message to the server
func (client *Client) sendHeartbeat(ctx context.Context) error {
	client.mu.Lock()
	conn := client.conn
	client.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	heartbeatCtx, cancel := context.WithTimeout(ctx, client.heartbeatDuration)
	defer cancel()

	client.logger.Debug("Sending heartbeat")
	return wsjson.Write(heartbeatCtx, conn, Envelope{Type: TypeHeartbeat})
}
