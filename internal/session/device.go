package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"videobroker/internal/ingest"
	"videobroker/internal/link"
	"videobroker/internal/protocol"
)

type videoState int

const (
	videoWaitStart videoState = iota
	videoWaitDone
)

// SpawnIngest starts the ingestion pipeline for one video recording. It is
// expected to block until the pipeline reaches a terminal state; the device
// session runs it in its own goroutine and only logs the outcome.
type SpawnIngest func(ctx context.Context, userID string, workoutType protocol.WorkoutType, parts <-chan ingest.Part) error

// DeviceSession drives one accepted device WebSocket end to end: decoding
// binary VideoRequest frames, owning the lifetime of at most one concurrent
// ingestion pipeline, and relaying DeviceResponse mailbox messages.
type DeviceSession struct {
	id      link.DeviceID
	conn    *websocket.Conn
	manager *link.Manager
	outbox  <-chan protocol.DeviceResponse
	spawn   SpawnIngest
}

// NewDeviceSession constructs a session actor for an already-registered device.
func NewDeviceSession(id link.DeviceID, conn *websocket.Conn, manager *link.Manager, outbox <-chan protocol.DeviceResponse, spawn SpawnIngest) *DeviceSession {
	return &DeviceSession{id: id, conn: conn, manager: manager, outbox: outbox, spawn: spawn}
}

// Run services the session until the wire closes, the context is canceled,
// or a protocol violation terminates it. It always emits DeviceDropped to
// the Link Manager before returning. Any live ingestion pipeline is
// implicitly cancelled by the parts channel closing when tx is dropped.
func (s *DeviceSession) Run(ctx context.Context) {
	log := slog.With("device_id", s.id)
	defer func() {
		s.manager.DeviceDropped(context.Background(), s.id)
		log.Info("device session: dropped")
	}()

	inbound := make(chan []byte)
	readErr := make(chan error, 1)
	go s.readLoop(inbound, readErr)

	state := videoWaitStart
	var tx chan<- ingest.Part

	closeTx := func() {
		if tx != nil {
			close(tx)
			tx = nil
		}
	}
	defer closeTx()

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-readErr:
			if err != nil {
				log.Debug("device session: read ended", "err", err)
			}
			return

		case raw := <-inbound:
			req, err := protocol.DecodeVideoRequest(raw)
			if err != nil {
				log.Warn("device session: undecodable video request", "err", err)
				return
			}
			next, newTx, err := s.handleWire(log, state, tx, req)
			if err != nil {
				log.Warn("device session: protocol violation", "err", err)
				return
			}
			state, tx = next, newTx

		case resp, ok := <-s.outbox:
			if !ok {
				return
			}
			if err := s.writeJSON(resp); err != nil {
				log.Debug("device session: write failed", "err", err)
				return
			}
		}
	}
}

// handleWire applies one inbound VideoRequest to the video substate machine
// in §4.3.
func (s *DeviceSession) handleWire(log *slog.Logger, state videoState, tx chan<- ingest.Part, req protocol.VideoRequest) (videoState, chan<- ingest.Part, error) {
	switch req.Kind {
	case protocol.VideoRequestStart:
		if state != videoWaitStart {
			return state, tx, fmt.Errorf("start received while a video is already in progress")
		}
		in, out := ingest.NewUnboundedChan[ingest.Part]()
		go func() {
			if err := s.spawn(context.Background(), req.UserID, req.WorkoutType, out); err != nil {
				log.Info("device session: ingestion ended", "err", err)
			}
		}()
		return videoWaitDone, in, nil

	case protocol.VideoRequestFrames:
		if state != videoWaitDone || tx == nil {
			return state, tx, fmt.Errorf("frames received outside an active recording")
		}
		tx <- ingest.FramesPart{Frames: req.Frames}
		return state, tx, nil

	case protocol.VideoRequestDone:
		if state != videoWaitDone || tx == nil {
			return state, tx, fmt.Errorf("done received outside an active recording")
		}
		tx <- ingest.DonePart{}
		close(tx)
		return videoWaitStart, nil, nil

	case protocol.VideoRequestCancel:
		if tx != nil {
			close(tx)
		}
		return videoWaitStart, nil, nil

	default:
		return state, tx, fmt.Errorf("unknown video request kind %d", req.Kind)
	}
}

func (s *DeviceSession) writeJSON(v any) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(v)
}

func (s *DeviceSession) readLoop(inbound chan<- []byte, errCh chan<- error) {
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
