// Package protocol defines the wire shapes exchanged with user and device
// clients over their respective WebSocket connections.
package protocol

// LinkRequest is the inbound JSON envelope from a user session, tagged by type.
type LinkRequest struct {
	Type     string `json:"type"`
	DeviceID string `json:"device_id,omitempty"`
}

// Link request types.
const (
	LinkRequestConnect    = "connect"
	LinkRequestDisconnect = "disconnect"
)

// UserResponse is the outbound JSON envelope to a user session, tagged by status.
type UserResponse struct {
	Status   string `json:"status"`
	DeviceID string `json:"device_id,omitempty"`
}

// User response statuses.
const (
	UserStatusConnected    = "connected"
	UserStatusDisconnected = "disconnected"
	UserStatusNoSuchDevice = "no_such_device"
	UserStatusDropped      = "dropped"
)

// NewUserConnected builds the response sent once a Connect succeeds.
func NewUserConnected(deviceID string) UserResponse {
	return UserResponse{Status: UserStatusConnected, DeviceID: deviceID}
}

// NewUserDisconnected builds the response sent once a Disconnect completes.
func NewUserDisconnected() UserResponse {
	return UserResponse{Status: UserStatusDisconnected}
}

// NewUserNoSuchDevice builds the response sent when Connect targets an unknown device.
func NewUserNoSuchDevice() UserResponse {
	return UserResponse{Status: UserStatusNoSuchDevice}
}

// NewUserDropped builds the response sent when the paired device vanishes.
func NewUserDropped() UserResponse {
	return UserResponse{Status: UserStatusDropped}
}
