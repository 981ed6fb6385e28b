// Package session implements the per-connection user and device actors:
// one goroutine per accepted WebSocket, translating wire messages into
// Link Manager events and mailbox responses back onto the wire.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"videobroker/internal/link"
	"videobroker/internal/protocol"
)

// IdleTimeout is the maximum silence tolerated on either session's wire
// before the connection is treated as dropped.
const IdleTimeout = 20 * time.Second

const writeTimeout = 5 * time.Second

type userState int

const (
	userDisconnected userState = iota
	userPendingConnect
	userConnected
	userPendingDisconnect
)

// UserSession drives one accepted user WebSocket end to end: reading
// LinkRequest JSON frames, forwarding them to the Link Manager, and relaying
// UserResponse mailbox messages back onto the wire.
type UserSession struct {
	id      link.UserID
	conn    *websocket.Conn
	manager *link.Manager
	outbox  <-chan protocol.UserResponse
}

// NewUserSession constructs a session actor for an already-registered user.
func NewUserSession(id link.UserID, conn *websocket.Conn, manager *link.Manager, outbox <-chan protocol.UserResponse) *UserSession {
	return &UserSession{id: id, conn: conn, manager: manager, outbox: outbox}
}

// Run services the session until the wire closes, the context is canceled,
// or a protocol violation terminates it. It always emits UserDropped to the
// Link Manager before returning, exactly once.
func (s *UserSession) Run(ctx context.Context) {
	log := slog.With("user_id", s.id)
	defer func() {
		s.manager.UserDropped(context.Background(), s.id)
		log.Info("user session: dropped")
	}()

	inbound := make(chan []byte)
	readErr := make(chan error, 1)
	go s.readLoop(inbound, readErr)

	state := userDisconnected
	for {
		select {
		case <-ctx.Done():
			return

		case err := <-readErr:
			if err != nil {
				log.Debug("user session: read ended", "err", err)
			}
			return

		case raw := <-inbound:
			var req protocol.LinkRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				log.Warn("user session: undecodable link request", "err", err)
				return
			}
			state = s.handleWire(log, state, req)

		case resp, ok := <-s.outbox:
			if !ok {
				return
			}
			next := s.handleMailbox(log, state, resp)
			if err := s.writeJSON(resp); err != nil {
				log.Debug("user session: write failed", "err", err)
				return
			}
			state = next
		}
	}
}

// handleWire applies one inbound LinkRequest to the user session state
// machine in §4.2. The table's catch-all row applies to every combination
// not listed: log and ignore, since a stray request out of state is peer
// desync, not a reason to tear down the connection (scenario S3 depends on
// this — a disconnect arriving after the device has already dropped must be
// absorbed silently, not kill the session).
func (s *UserSession) handleWire(log *slog.Logger, state userState, req protocol.LinkRequest) userState {
	switch req.Type {
	case protocol.LinkRequestConnect:
		if state != userDisconnected {
			log.Warn("user session: connect received out of state", "state", state)
			return state
		}
		s.manager.UserConnect(context.Background(), s.id, link.DeviceID(req.DeviceID))
		return userPendingConnect

	case protocol.LinkRequestDisconnect:
		if state != userConnected {
			log.Warn("user session: disconnect received out of state", "state", state)
			return state
		}
		s.manager.UserDisconnect(context.Background(), s.id)
		return userPendingDisconnect

	default:
		log.Warn("user session: unknown link request type", "type", req.Type)
		return state
	}
}

// handleMailbox advances state in response to a UserResponse arriving from
// the Link Manager. It never errors: an unexpected mailbox message for the
// current state is a peer desync, logged and ignored per §4.2's "else" row,
// leaving the state unchanged. Run still writes every mailbox message to the
// wire, expected or not.
func (s *UserSession) handleMailbox(log *slog.Logger, state userState, resp protocol.UserResponse) userState {
	switch resp.Status {
	case protocol.UserStatusConnected:
		if state != userPendingConnect {
			log.Warn("user session: unexpected Connected", "state", state)
			return state
		}
		return userConnected
	case protocol.UserStatusNoSuchDevice:
		if state != userPendingConnect {
			log.Warn("user session: unexpected NoSuchDevice", "state", state)
			return state
		}
		return userDisconnected
	case protocol.UserStatusDisconnected:
		if state != userPendingDisconnect {
			log.Warn("user session: unexpected Disconnected", "state", state)
			return state
		}
		return userDisconnected
	case protocol.UserStatusDropped:
		return userDisconnected
	default:
		log.Warn("user session: unknown mailbox status", "status", resp.Status)
		return state
	}
}

func (s *UserSession) writeJSON(v any) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

func (s *UserSession) readLoop(inbound chan<- []byte, errCh chan<- error) {
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(IdleTimeout))
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			errCh <- err
			return
		}
		inbound <- data
	}
}
