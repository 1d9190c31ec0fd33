// Package protocol defines the JSON events exchanged between browser windows and the relay.
package protocol

import (
	"encoding/json"
)

// Event names
const (
	// client -> relay
	EventRegisterWindow   = "register-window"
	EventWindowUpdate     = "window-update"
	EventRealtimePosition = "realtime-position"
	EventUpdateSceneState = "update-scene-state"
	EventPing             = "ping"
	EventHeartbeat        = "heartbeat"

	// relay -> client
	EventHello                  = "hello"
	EventRegistered             = "registered"
	EventWindowsUpdate          = "windows-update"
	EventWindowAdded            = "window-added"
	EventWindowShapeChanged     = "window-shape-changed"
	EventRealtimePositionUpdate = "realtime-position-update"
	EventWindowRemoved          = "window-removed"
	EventSceneState             = "scene-state"
	EventPong                   = "pong"
	EventHeartbeatAck           = "heartbeat-ack"
)

// Rect is a window rectangle in screen coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the midpoint of the rectangle.
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width*0.5, r.Y + r.Height*0.5
}

// WindowRecord is the relay's view of one connected window. Metadata is
// forwarded verbatim and never decoded.
type WindowRecord struct {
	ID               int64           `json:"id"`
	ConnectionID     string          `json:"connectionId"`
	Shape            Rect            `json:"shape"`
	RealtimePosition Rect            `json:"realtimePosition"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
}

// Clone returns a copy that does not share the metadata buffer.
func (w WindowRecord) Clone() WindowRecord {
	if w.Metadata != nil {
		w.Metadata = append(json.RawMessage(nil), w.Metadata...)
	}
	return w
}

// RegisterWindow is sent once a window has loaded.
type RegisterWindow struct {
	Shape    Rect            `json:"shape"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// UnmarshalJSON accepts both "metadata" and the older "metaData" spelling.
func (r *RegisterWindow) UnmarshalJSON(data []byte) error {
	var raw struct {
		Shape    *Rect           `json:"shape"`
		Metadata json.RawMessage `json:"metadata"`
		MetaData json.RawMessage `json:"metaData"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Shape == nil {
		return ErrMissingField("shape")
	}
	r.Shape = *raw.Shape
	r.Metadata = raw.Metadata
	if len(r.Metadata) == 0 {
		r.Metadata = raw.MetaData
	}
	return nil
}

// WindowUpdate carries a coarse shape change.
type WindowUpdate struct {
	Shape *Rect `json:"shape"`
}

// RealtimePosition carries a high frequency position sample.
type RealtimePosition struct {
	Position *Rect `json:"position"`
}

// ShapeChanged is broadcast (throttled) after a WindowUpdate.
type ShapeChanged struct {
	ID           int64  `json:"id"`
	ConnectionID string `json:"connectionId"`
	Shape        Rect   `json:"shape"`
}

// PositionChanged is broadcast (batched) after RealtimePosition samples.
type PositionChanged struct {
	ID           int64  `json:"id"`
	ConnectionID string `json:"connectionId"`
	Position     Rect   `json:"position"`
}

// WindowRemoved is broadcast when a registered connection goes away.
type WindowRemoved struct {
	ID           int64  `json:"id"`
	ConnectionID string `json:"connectionId"`
}

// Hello is the first event on every connection.
type Hello struct {
	ConnectionID string `json:"connectionId"`
	Role         string `json:"role"`
}
