package streaming

import (
	"encoding/json"
	"time"

	"github.com/aerolab/flighttrials/pkg/core"
)

// Message type constants matching the radio bridge protocol.
const (
	TypeSetpoint    = "setpoint"
	TypeTakeOff     = "takeoff"
	TypeLand        = "land"
	TypeGoTo        = "goto"
	TypeStop        = "stop"
	TypeParamSet    = "param_set"
	TypeParamGet    = "param_get"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"

	TypeAck       = "ack"
	TypeTelemetry = "telemetry"
)

// Envelope wraps all messages sent over the WebSocket.
// ID correlates a command with its ack; URI addresses one vehicle on the bridge.
type Envelope struct {
	Type    string          `json:"type"`
	ID      uint64          `json:"id,omitempty"`
	URI     string          `json:"uri,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AckPayload is the bridge's response to a command, sent in an envelope
// of type "ack" carrying the command's ID. Value is set for param reads.
type AckPayload struct {
	OK    bool    `json:"ok"`
	Error string  `json:"error,omitempty"`
	Value float64 `json:"value,omitempty"`
}

// SetpointPayload carries a position setpoint.
type SetpointPayload struct {
	core.Setpoint
}

// TakeOffPayload and LandPayload drive the vehicle's high-level commander.
type TakeOffPayload struct {
	Height     float64 `json:"height"`
	DurationMs int64   `json:"durationMs"`
}

type LandPayload struct {
	Height     float64 `json:"height"`
	DurationMs int64   `json:"durationMs"`
}

// GoToPayload moves the vehicle with the high-level commander.
type GoToPayload struct {
	core.Setpoint
	DurationMs int64 `json:"durationMs"`
	Relative   bool  `json:"relative"`
}

// ParamPayload sets or reads a firmware parameter. Value is ignored for reads.
type ParamPayload struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// SubscribePayload registers a telemetry log block.
type SubscribePayload struct {
	Subscription uint64   `json:"subscription"`
	Channels     []string `json:"channels"`
	PeriodMs     int64    `json:"periodMs"`
}

// UnsubscribePayload removes a telemetry log block.
type UnsubscribePayload struct {
	Subscription uint64 `json:"subscription"`
}

// TelemetryPayload is pushed by the bridge for each log block delivery.
type TelemetryPayload struct {
	Subscription uint64             `json:"subscription"`
	Timestamp    uint64             `json:"timestamp"`
	Data         map[string]float64 `json:"data"`
}

// Millis converts a duration to whole milliseconds for the wire.
func Millis(d time.Duration) int64 {
	return d.Milliseconds()
}

// NewEnvelope marshals payload into an envelope.
func NewEnvelope(msgType string, id uint64, uri string, payload any) (Envelope, error) {
	env := Envelope{Type: msgType, ID: id, URI: uri}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		env.Payload = raw
	}
	return env, nil
}
