package link

import (
	"context"
	"testing"
	"time"

	"videobroker/internal/protocol"
)

func newRunningManager(t *testing.T) (*Manager, context.Context) {
	t.Helper()
	m := New()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go m.Run(ctx)
	return m, ctx
}

func recvUser(t *testing.T, ch <-chan protocol.UserResponse) protocol.UserResponse {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for user response")
		return protocol.UserResponse{}
	}
}

func recvDevice(t *testing.T, ch <-chan protocol.DeviceResponse) protocol.DeviceResponse {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for device response")
		return protocol.DeviceResponse{}
	}
}

func TestNewUserRejectsDuplicate(t *testing.T) {
	m, ctx := newRunningManager(t)

	if _, err := m.NewUser(ctx, "alice"); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	result, err := m.NewUser(ctx, "alice")
	if err != nil {
		t.Fatalf("second registration: %v", err)
	}
	if !result.Duplicate {
		t.Fatalf("expected Duplicate true, got %+v", result)
	}
}

func TestNewDeviceRejectsDuplicate(t *testing.T) {
	m, ctx := newRunningManager(t)

	if _, err := m.NewDevice(ctx, "dev1"); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	result, err := m.NewDevice(ctx, "dev1")
	if err != nil {
		t.Fatalf("second registration: %v", err)
	}
	if !result.Duplicate {
		t.Fatalf("expected Duplicate true, got %+v", result)
	}
}

// TestConnectPairsBothSides covers S1: Connect against a registered device
// delivers Connected to both the user and the device.
func TestConnectPairsBothSides(t *testing.T) {
	m, ctx := newRunningManager(t)

	userRes, _ := m.NewUser(ctx, "alice")
	devRes, _ := m.NewDevice(ctx, "dev1")

	m.UserConnect(ctx, "alice", "dev1")

	ur := recvUser(t, userRes.Outbox)
	if ur.Status != protocol.UserStatusConnected || ur.DeviceID != "dev1" {
		t.Fatalf("unexpected user response: %+v", ur)
	}
	dr := recvDevice(t, devRes.Outbox)
	if dr.Kind != protocol.DeviceResponseConnected || dr.UserID != "alice" {
		t.Fatalf("unexpected device response: %+v", dr)
	}
}

// TestConnectUnknownDevice covers S2: Connect against an unregistered device
// id yields NoSuchDevice without touching any state.
func TestConnectUnknownDevice(t *testing.T) {
	m, ctx := newRunningManager(t)

	userRes, _ := m.NewUser(ctx, "alice")
	m.UserConnect(ctx, "alice", "ghost")

	ur := recvUser(t, userRes.Outbox)
	if ur.Status != protocol.UserStatusNoSuchDevice {
		t.Fatalf("expected no_such_device, got %+v", ur)
	}
}

// TestDisconnectUnpairsBothSides covers the user-initiated Disconnect path.
func TestDisconnectUnpairsBothSides(t *testing.T) {
	m, ctx := newRunningManager(t)

	userRes, _ := m.NewUser(ctx, "alice")
	devRes, _ := m.NewDevice(ctx, "dev1")
	m.UserConnect(ctx, "alice", "dev1")
	recvUser(t, userRes.Outbox)
	recvDevice(t, devRes.Outbox)

	m.UserDisconnect(ctx, "alice")

	ur := recvUser(t, userRes.Outbox)
	if ur.Status != protocol.UserStatusDisconnected {
		t.Fatalf("expected disconnected, got %+v", ur)
	}
	dr := recvDevice(t, devRes.Outbox)
	if dr.Kind != protocol.DeviceResponseDisconnected {
		t.Fatalf("expected Disconnected, got %+v", dr)
	}
}

// TestDeviceDroppedMarksUserDropped covers §4.1.3: losing the device while
// paired moves the user to the Dropped state rather than removing it.
func TestDeviceDroppedMarksUserDropped(t *testing.T) {
	m, ctx := newRunningManager(t)

	userRes, _ := m.NewUser(ctx, "alice")
	devRes, _ := m.NewDevice(ctx, "dev1")
	m.UserConnect(ctx, "alice", "dev1")
	recvUser(t, userRes.Outbox)
	recvDevice(t, devRes.Outbox)

	m.DeviceDropped(ctx, "dev1")

	ur := recvUser(t, userRes.Outbox)
	if ur.Status != protocol.UserStatusDropped {
		t.Fatalf("expected dropped, got %+v", ur)
	}

	// A stray Disconnect from the now-Dropped user is absorbed, not a panic.
	var fatal string
	m.SetOnFatal(func(reason string) { fatal = reason })
	m.UserDisconnect(ctx, "alice")
	if _, err := m.NewUser(ctx, "bob"); err != nil {
		t.Fatalf("manager unresponsive after stray disconnect: %v", err)
	}
	if fatal != "" {
		t.Fatalf("unexpected fatal: %s", fatal)
	}
}

// TestUserDroppedNotifiesPairedDevice covers the symmetric case: the user
// side leaving tells its paired device Disconnected and frees the device to
// re-pair.
func TestUserDroppedNotifiesPairedDevice(t *testing.T) {
	m, ctx := newRunningManager(t)

	userRes, _ := m.NewUser(ctx, "alice")
	devRes, _ := m.NewDevice(ctx, "dev1")
	m.UserConnect(ctx, "alice", "dev1")
	recvUser(t, userRes.Outbox)
	recvDevice(t, devRes.Outbox)

	m.UserDropped(ctx, "alice")

	dr := recvDevice(t, devRes.Outbox)
	if dr.Kind != protocol.DeviceResponseDisconnected {
		t.Fatalf("expected Disconnected, got %+v", dr)
	}

	// The device is free to pair again immediately.
	userRes2, _ := m.NewUser(ctx, "bob")
	m.UserConnect(ctx, "bob", "dev1")
	ur := recvUser(t, userRes2.Outbox)
	if ur.Status != protocol.UserStatusConnected {
		t.Fatalf("expected bob to connect to freed device, got %+v", ur)
	}
}

// TestDisconnectFromAlreadyDisconnectedUserIsFatal covers the invariant in
// handleUserDisconnect: a Disconnect with no prior Connect is a protocol
// violation routed through onFatal rather than a silent no-op.
func TestDisconnectFromAlreadyDisconnectedUserIsFatal(t *testing.T) {
	m, ctx := newRunningManager(t)

	fatalCh := make(chan string, 1)
	m.SetOnFatal(func(reason string) { fatalCh <- reason })

	m.NewUser(ctx, "alice")
	m.UserDisconnect(ctx, "alice")

	select {
	case reason := <-fatalCh:
		if reason == "" {
			t.Fatal("expected non-empty fatal reason")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected onFatal to fire for disconnect-without-connect")
	}
}

// TestStatsReflectsRegistrations exercises the statsEvent query path added
// for the periodic metrics logger.
func TestStatsReflectsRegistrations(t *testing.T) {
	m, ctx := newRunningManager(t)

	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Users != 0 || stats.Devices != 0 {
		t.Fatalf("expected zero stats, got %+v", stats)
	}

	m.NewUser(ctx, "alice")
	m.NewDevice(ctx, "dev1")
	m.NewDevice(ctx, "dev2")

	stats, err = m.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Users != 1 || stats.Devices != 2 {
		t.Fatalf("expected 1 user, 2 devices, got %+v", stats)
	}
}

// TestUserDroppedThenNewUserReusesID confirms a dropped user's id becomes
// available for re-registration.
func TestUserDroppedThenNewUserReusesID(t *testing.T) {
	m, ctx := newRunningManager(t)

	m.NewUser(ctx, "alice")
	m.UserDropped(ctx, "alice")

	result, err := m.NewUser(ctx, "alice")
	if err != nil {
		t.Fatalf("re-register after drop: %v", err)
	}
	if result.Duplicate {
		t.Fatal("expected id to be free after UserDropped")
	}
}
