package realtime

import (
	"context"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"iotc-agent/internal/command"
	"iotc-agent/internal/model"
)

var jsonStd = jsoniter.ConfigCompatibleWithStandardLibrary

// Feed topics.
const (
	TopicTelemetry = "telemetry"
	TopicCommands  = "commands"
)

// FeedMessage is the frame pushed to feed clients.
type FeedMessage struct {
	Topic string `json:"topic"`
	Data  any    `json:"data"`
}

// CommandEvent is the commands topic payload.
type CommandEvent struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	State    string   `json:"state"`
	ExitCode int      `json:"exit_code"`
	Message  string   `json:"message"`
	AckID    string   `json:"ack_id,omitempty"`
}

type Hub struct {
	mu sync.RWMutex

	// room mapping: topic -> clients
	rooms map[string]map[*Client]bool

	// reverse mapping: client -> subscribed topics
	clientSubs map[*Client]map[string]bool
	logger     *zap.SugaredLogger
}

func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		clientSubs: make(map[*Client]map[string]bool),
		logger:     logger,
	}
}

// register adds c with no subscriptions.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clientSubs[c] = make(map[string]bool)
}

func (h *Hub) Subscribe(topic string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clientSubs[c]; !ok {
		return
	}
	if h.rooms[topic] == nil {
		h.rooms[topic] = make(map[*Client]bool)
	}
	h.rooms[topic][c] = true
	h.clientSubs[c][topic] = true
}

// Unsubscribe removes c from every topic and closes its send queue.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.clientSubs[c]
	if !ok {
		return
	}
	for topic := range subs {
		delete(h.rooms[topic], c)
		if len(h.rooms[topic]) == 0 {
			delete(h.rooms, topic)
		}
	}
	delete(h.clientSubs, c)
	close(c.send)
}

// Subscribers returns the number of clients on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[topic])
}

func (h *Hub) Broadcast(topic string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[topic] {
		select {
		case client.send <- msg:
		default:
			// slow client -> skip
			h.logger.Debugw("feed client too slow, frame skipped", "subject", client.subject, "topic", topic)
		}
	}
}

func (h *Hub) publish(topic string, data any) error {
	if h.Subscribers(topic) == 0 {
		return nil
	}
	msg, err := jsonStd.Marshal(FeedMessage{Topic: topic, Data: data})
	if err != nil {
		return err
	}
	h.Broadcast(topic, msg)
	return nil
}

// SendTelemetry mirrors telemetry records to feed subscribers.
func (h *Hub) SendTelemetry(_ context.Context, records []model.TelemetryRecord) error {
	cleaned := make([]model.TelemetryRecord, len(records))
	for i, rec := range records {
		cleaned[i] = model.TelemetryRecord{UniqueID: rec.UniqueID, Time: rec.Time, Data: model.CleanData(rec.Data)}
	}
	return h.publish(TopicTelemetry, cleaned)
}

// PublishCommandResult is a command.ResultListener.
func (h *Hub) PublishCommandResult(msg model.CommandMessage, res command.Result) {
	token, _ := msg.AckToken()
	event := CommandEvent{
		Command:  res.Name,
		Args:     res.Args,
		State:    res.State.String(),
		ExitCode: res.ExitCode,
		Message:  res.Message,
		AckID:    token,
	}
	if err := h.publish(TopicCommands, event); err != nil {
		h.logger.Warnw("failed to publish command result", "error", err)
	}
}

// Shutdown drops every client.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clientSubs))
	for c := range h.clientSubs {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.Unsubscribe(c)
	}
}
