package model

import "encoding/json"

// TelemetryRecord is one entry of the telemetry array sent to the remote service.
type TelemetryRecord struct {
	UniqueID string         `json:"uniqueId"`
	Time     string         `json:"time"`
	Data     map[string]any `json:"data"`
}

// CommandMessage is a device command received from the remote service.
type CommandMessage struct {
	Command string  `json:"cmd"`
	Ack     *string `json:"ack,omitempty"`
	ID      *string `json:"id,omitempty"`
}

// AckToken returns the ack token and whether an ack was requested.
func (m CommandMessage) AckToken() (string, bool) {
	if m.Ack == nil || *m.Ack == "" {
		return "", false
	}
	return *m.Ack, true
}

// CorrelationID returns the message id, or "" when none was sent.
func (m CommandMessage) CorrelationID() string {
	if m.ID == nil {
		return ""
	}
	return *m.ID
}

type AckStatus string

const (
	AckSuccess AckStatus = "SUCCESS"
	AckFail    AckStatus = "FAIL"
)

// AckMessage correlates a command result back to its requester.
type AckMessage struct {
	AckID         string    `json:"ackId"`
	Status        AckStatus `json:"status"`
	Message       string    `json:"message"`
	CorrelationID string    `json:"childId,omitempty"`
}

// AttributeMetadata is one attribute declared by the remote side.
type AttributeMetadata struct {
	Name     string       `json:"name"`
	DataType SemanticType `json:"dataType"`
}

// AttributesResponse is the payload of an "attributes" message.
type AttributesResponse struct {
	Data []AttributeMetadata `json:"data"`
}

// CallbackMessage carries the raw payload of a remote event the agent does not model.
type CallbackMessage struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
