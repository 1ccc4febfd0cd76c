// Package protocol defines the WebSocket messages exchanged with playback observers.
package protocol

import "encoding/json"

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// TypeState carries a full playback snapshot; sent on connect, on state
	// changes and in reply to TypeStatusRequest
	TypeState MessageType = "state"

	// TypeProgress is sent after each processed note
	TypeProgress MessageType = "progress"

	// TypePress and TypeRelease report injected touches
	TypePress   MessageType = "press"
	TypeRelease MessageType = "release"

	// TypeSkipped reports a note with no calibration
	TypeSkipped MessageType = "skipped"

	// TypeFinished is the terminal message of a session
	TypeFinished MessageType = "finished"

	// TypeStop is sent by a client to stop playback
	TypeStop MessageType = "stop"

	// TypeStatusRequest is sent by a client to ask for a TypeState reply
	TypeStatusRequest MessageType = "status_req"

	// TypePing can be used for application-level heartbeats if needed
	TypePing MessageType = "ping"
)

// Message is the generic container for all WebSocket messages
type Message struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// StatePayload is the payload for TypeState
type StatePayload struct {
	State       string `json:"state"`
	Cursor      int    `json:"cursor"`
	Total       int    `json:"total"`
	Progress    int    `json:"progress"`
	Pressed     []int  `json:"pressed"`
	Calibration int    `json:"calibration"` // percent of the reference octave calibrated
}

// ProgressPayload is the payload for TypeProgress
type ProgressPayload struct {
	Percent int `json:"percent"`
}

// TouchPayload is the payload for TypePress, TypeRelease and TypeSkipped
type TouchPayload struct {
	Note      int    `json:"note"`
	Name      string `json:"name"`
	X         int    `json:"x,omitempty"`
	Y         int    `json:"y,omitempty"`
	Timestamp int64  `json:"ts"` // Unix ms
}

// FinishedPayload is the payload for TypeFinished
type FinishedPayload struct {
	Outcome  string `json:"outcome"` // "completed", "cancelled", "failed"
	Error    string `json:"error,omitempty"`
	Played   int    `json:"played"`
	Skipped  int    `json:"skipped"`
	Progress int    `json:"progress"`
}

// DecodePayload converts a generically decoded payload into v
func DecodePayload(msg Message, v interface{}) error {
	b, err := json.Marshal(msg.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
