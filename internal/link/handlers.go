package link

import (
	"fmt"
	"log/slog"
	"os"

	"videobroker/internal/protocol"
)

func (m *Manager) handleNewUser(e newUserEvent) {
	if _, exists := m.users[e.id]; exists {
		slog.Warn("link: duplicate user id rejected", "user_id", e.id)
		e.reply <- newUserResult{Duplicate: true}
		return
	}
	outbox := make(chan protocol.UserResponse, outboxSize)
	m.users[e.id] = &userEntry{id: e.id, conn: userConn{kind: userDisconnected}, outbox: outbox}
	slog.Info("link: user registered", "user_id", e.id, "total_users", len(m.users))
	e.reply <- newUserResult{Outbox: outbox}
}

func (m *Manager) handleNewDevice(e newDeviceEvent) {
	if _, exists := m.devices[e.id]; exists {
		slog.Warn("link: duplicate device id rejected", "device_id", e.id)
		e.reply <- newDeviceResult{Duplicate: true}
		return
	}
	outbox := make(chan protocol.DeviceResponse, outboxSize)
	m.devices[e.id] = &deviceEntry{id: e.id, conn: deviceConn{kind: deviceDisconnected}, outbox: outbox}
	slog.Info("link: device registered", "device_id", e.id, "total_devices", len(m.devices))
	e.reply <- newDeviceResult{Outbox: outbox}
}

// handleUserConnect implements §4.1.1 Connect semantics.
func (m *Manager) handleUserConnect(e userConnectEvent) {
	u, ok := m.users[e.id]
	if !ok {
		panic(fmt.Sprintf("link: Connect from unregistered user %q", e.id))
	}

	d, ok := m.devices[e.device]
	if !ok {
		trySendUser(u.outbox, protocol.NewUserNoSuchDevice())
		return
	}

	if u.conn.kind == userConnectedToDevice || d.conn.kind == deviceConnectedToUser {
		panic(fmt.Sprintf("link: Connect invariant breach: user %q state=%v device %q state=%v",
			e.id, u.conn.kind, e.device, d.conn.kind))
	}

	u.conn = userConn{kind: userConnectedToDevice, device: e.device}
	d.conn = deviceConn{kind: deviceConnectedToUser, user: e.id}

	trySendUser(u.outbox, protocol.NewUserConnected(string(e.device)))
	trySendDevice(d.outbox, protocol.NewDeviceConnected(string(e.id)))

	slog.Info("link: paired", "user_id", e.id, "device_id", e.device)
}

// handleUserDisconnect implements §4.1.2 Disconnect semantics.
func (m *Manager) handleUserDisconnect(e userDisconnectEvent) {
	u, ok := m.users[e.id]
	if !ok {
		panic(fmt.Sprintf("link: Disconnect from unregistered user %q", e.id))
	}

	switch u.conn.kind {
	case userConnectedToDevice:
		deviceID := u.conn.device
		d, ok := m.devices[deviceID]
		if !ok || d.conn.kind != deviceConnectedToUser || d.conn.user != e.id {
			panic(fmt.Sprintf("link: Disconnect invariant breach: user %q claims device %q not reciprocally connected", e.id, deviceID))
		}
		u.conn = userConn{kind: userDisconnected}
		d.conn = deviceConn{kind: deviceDisconnected}
		trySendUser(u.outbox, protocol.NewUserDisconnected())
		trySendDevice(d.outbox, protocol.NewDeviceDisconnected())
		slog.Info("link: unpaired by user", "user_id", e.id, "device_id", deviceID)

	case userDropped:
		// Race-recovery rule: the device side already left. A subsequent
		// peer-initiated disconnect is absorbed silently.
		u.conn = userConn{kind: userDisconnected}
		slog.Debug("link: disconnect absorbed after prior drop", "user_id", e.id)

	case userDisconnected:
		panic(fmt.Sprintf("link: Disconnect from already-disconnected user %q", e.id))
	}
}

// handleUserDropped implements §4.1.3 UserDropped semantics.
func (m *Manager) handleUserDropped(e userDroppedEvent) {
	u, ok := m.users[e.id]
	if !ok {
		panic(fmt.Sprintf("link: UserDropped for unregistered user %q", e.id))
	}

	if u.conn.kind == userConnectedToDevice {
		deviceID := u.conn.device
		if d, ok := m.devices[deviceID]; ok {
			d.conn = deviceConn{kind: deviceDisconnected}
			trySendDevice(d.outbox, protocol.NewDeviceDisconnected())
		}
	}

	delete(m.users, e.id)
	close(u.outbox)
	slog.Info("link: user dropped", "user_id", e.id, "remaining_users", len(m.users))
}

// handleDeviceDropped implements the device-drop half of §4.1.3. Because the
// device is the scarcer resource, the remaining user transitions to the
// distinct Dropped state rather than being removed outright: it is told
// Dropped and tolerated if it later issues a stray Disconnect. The Dropped
// state does not block pairing: handleUserConnect accepts a Connect from a
// Dropped user exactly as from a Disconnected one.
func (m *Manager) handleDeviceDropped(e deviceDroppedEvent) {
	d, ok := m.devices[e.id]
	if !ok {
		panic(fmt.Sprintf("link: DeviceDropped for unregistered device %q", e.id))
	}

	if d.conn.kind == deviceConnectedToUser {
		userID := d.conn.user
		if u, ok := m.users[userID]; ok {
			u.conn = userConn{kind: userDropped}
			trySendUser(u.outbox, protocol.NewUserDropped())
		}
	}

	delete(m.devices, e.id)
	close(d.outbox)
	slog.Info("link: device dropped", "device_id", e.id, "remaining_devices", len(m.devices))
}

// trySendUser and trySendDevice implement the "backpressure tolerance"
// policy from §5: a full outbox never stalls the Manager. The send is
// attempted without blocking; a full mailbox is logged and the message is
// dropped — the peer session is about to close anyway and will emit its own
// Dropped event.
func trySendUser(ch chan protocol.UserResponse, msg protocol.UserResponse) {
	select {
	case ch <- msg:
	default:
		slog.Warn("link: user outbox full, dropping response", "status", msg.Status)
	}
}

func trySendDevice(ch chan protocol.DeviceResponse, msg protocol.DeviceResponse) {
	select {
	case ch <- msg:
	default:
		slog.Warn("link: device outbox full, dropping response")
	}
}

// fatalExit terminates the process. Overridable indirectly via Manager's
// onFatal hook; this is only the default implementation's mechanism.
func fatalExit() {
	os.Exit(1)
}
