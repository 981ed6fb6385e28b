package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// WorkoutType enumerates the analyzer targets the device may declare at
// the start of a recording.
type WorkoutType string

const (
	WorkoutSquat  WorkoutType = "squat"
	WorkoutPushup WorkoutType = "pushup"
)

// Valid reports whether t is one of the known workout types.
func (t WorkoutType) Valid() bool {
	switch t {
	case WorkoutSquat, WorkoutPushup:
		return true
	default:
		return false
	}
}

// Frame is one raw RGB565 little-endian pixel buffer, IMAGE_WIDTH*IMAGE_HEIGHT*2 bytes.
type Frame []byte

// VideoRequestKind enumerates the binary VideoRequest opcodes.
type VideoRequestKind byte

const (
	VideoRequestStart VideoRequestKind = iota + 1
	VideoRequestFrames
	VideoRequestDone
	VideoRequestCancel
)

// VideoRequest is one decoded message from the device's binary wire stream.
type VideoRequest struct {
	Kind        VideoRequestKind
	UserID      string      // Start only
	WorkoutType WorkoutType // Start only
	Frames      []Frame     // Frames only
}

// EncodeVideoRequest renders one VideoRequest as the compact length-prefixed
// binary encoding the device speaks. Used by tests and by simulated device
// clients; the production server only decodes this format.
func EncodeVideoRequest(req VideoRequest) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(req.Kind))

	switch req.Kind {
	case VideoRequestStart:
		if !req.WorkoutType.Valid() {
			return nil, fmt.Errorf("protocol: invalid workout type %q", req.WorkoutType)
		}
		writeLPString(&buf, req.UserID)
		writeLPString(&buf, string(req.WorkoutType))
	case VideoRequestFrames:
		if err := binary.Write(&buf, binary.BigEndian, uint32(len(req.Frames))); err != nil {
			return nil, err
		}
		for _, f := range req.Frames {
			if err := binary.Write(&buf, binary.BigEndian, uint32(len(f))); err != nil {
				return nil, err
			}
			buf.Write(f)
		}
	case VideoRequestDone, VideoRequestCancel:
		// No payload.
	default:
		return nil, fmt.Errorf("protocol: unknown video request kind %d", req.Kind)
	}
	return buf.Bytes(), nil
}

// DecodeVideoRequest parses one binary wire message into a VideoRequest.
func DecodeVideoRequest(data []byte) (VideoRequest, error) {
	if len(data) == 0 {
		return VideoRequest{}, fmt.Errorf("protocol: empty video request")
	}
	r := bytes.NewReader(data)
	var kindByte byte
	if err := binary.Read(r, binary.BigEndian, &kindByte); err != nil {
		return VideoRequest{}, fmt.Errorf("protocol: read opcode: %w", err)
	}
	kind := VideoRequestKind(kindByte)

	switch kind {
	case VideoRequestStart:
		userID, err := readLPString(r)
		if err != nil {
			return VideoRequest{}, fmt.Errorf("protocol: decode start user_id: %w", err)
		}
		workoutType, err := readLPString(r)
		if err != nil {
			return VideoRequest{}, fmt.Errorf("protocol: decode start workout_type: %w", err)
		}
		wt := WorkoutType(workoutType)
		if !wt.Valid() {
			return VideoRequest{}, fmt.Errorf("protocol: invalid workout type %q", workoutType)
		}
		return VideoRequest{Kind: VideoRequestStart, UserID: userID, WorkoutType: wt}, nil

	case VideoRequestFrames:
		var count uint32
		if err := binary.Read(r, binary.BigEndian, &count); err != nil {
			return VideoRequest{}, fmt.Errorf("protocol: decode frame count: %w", err)
		}
		frames := make([]Frame, 0, count)
		for i := uint32(0); i < count; i++ {
			var flen uint32
			if err := binary.Read(r, binary.BigEndian, &flen); err != nil {
				return VideoRequest{}, fmt.Errorf("protocol: decode frame %d length: %w", i, err)
			}
			buf := make([]byte, flen)
			if _, err := readFull(r, buf); err != nil {
				return VideoRequest{}, fmt.Errorf("protocol: decode frame %d bytes: %w", i, err)
			}
			frames = append(frames, Frame(buf))
		}
		return VideoRequest{Kind: VideoRequestFrames, Frames: frames}, nil

	case VideoRequestDone:
		return VideoRequest{Kind: VideoRequestDone}, nil
	case VideoRequestCancel:
		return VideoRequest{Kind: VideoRequestCancel}, nil
	default:
		return VideoRequest{}, fmt.Errorf("protocol: unknown video request opcode %d", kindByte)
	}
}

func writeLPString(buf *bytes.Buffer, s string) {
	_ = binary.Write(buf, binary.BigEndian, uint16(len(s)))
	buf.WriteString(s)
}

func readLPString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := readFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := r.Read(buf)
	if err != nil {
		return n, err
	}
	if n < len(buf) {
		return n, fmt.Errorf("protocol: short read: got %d want %d", n, len(buf))
	}
	return n, nil
}
