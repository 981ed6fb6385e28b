package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DeviceResponse is the outbound JSON envelope to a device session. Unlike
// UserResponse it is externally tagged: the JSON object has exactly one key,
// named after the variant, matching the wire shape the embedded capture
// client already expects (`{"Connected":{"user_id":"..."}}`,
// `{"Disconnected":null}`).
type DeviceResponse struct {
	Kind   DeviceResponseKind
	UserID string // populated for DeviceResponseConnected only
}

// DeviceResponseKind enumerates the DeviceResponse variants.
type DeviceResponseKind int

const (
	DeviceResponseConnected DeviceResponseKind = iota
	DeviceResponseDisconnected
)

func (k DeviceResponseKind) tag() string {
	switch k {
	case DeviceResponseConnected:
		return "Connected"
	case DeviceResponseDisconnected:
		return "Disconnected"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// NewDeviceConnected builds the response sent once a Connect succeeds.
func NewDeviceConnected(userID string) DeviceResponse {
	return DeviceResponse{Kind: DeviceResponseConnected, UserID: userID}
}

// NewDeviceDisconnected builds the response sent once the user disconnects.
func NewDeviceDisconnected() DeviceResponse {
	return DeviceResponse{Kind: DeviceResponseDisconnected}
}

// MarshalJSON renders the externally-tagged single-key object shape.
func (d DeviceResponse) MarshalJSON() ([]byte, error) {
	switch d.Kind {
	case DeviceResponseConnected:
		return json.Marshal(map[string]any{
			d.Kind.tag(): map[string]string{"user_id": d.UserID},
		})
	case DeviceResponseDisconnected:
		return json.Marshal(map[string]any{d.Kind.tag(): nil})
	default:
		return nil, fmt.Errorf("protocol: marshal device response: %s", d.Kind.tag())
	}
}

// UnmarshalJSON parses the externally-tagged single-key object shape.
// Used only by tests exercising the wire round-trip; the server never
// receives a DeviceResponse, it only ever sends one.
func (d *DeviceResponse) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return fmt.Errorf("protocol: device response must have exactly one key, got %d", len(raw))
	}
	for key, payload := range raw {
		switch key {
		case "Connected":
			var body struct {
				UserID string `json:"user_id"`
			}
			if err := json.Unmarshal(payload, &body); err != nil {
				return fmt.Errorf("protocol: decode Connected payload: %w", err)
			}
			*d = NewDeviceConnected(body.UserID)
		case "Disconnected":
			*d = NewDeviceDisconnected()
		default:
			return fmt.Errorf("protocol: unknown device response variant %q", key)
		}
	}
	return nil
}
