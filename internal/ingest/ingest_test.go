package ingest

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"videobroker/internal/analyzer"
	"videobroker/internal/frame"
	"videobroker/internal/protocol"
	"videobroker/internal/store"
)

type fakeStore struct {
	mu        sync.Mutex
	inserted  []store.WorkoutEntry
	patched   []string
	failPatch bool
}

func (f *fakeStore) InsertWorkout(ctx context.Context, userID string, entry store.WorkoutEntry) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, entry)
	return "doc-1", nil
}

func (f *fakeStore) PatchWorkout(ctx context.Context, userID, docID, videoID string, feedback []store.Feedback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPatch {
		return errors.New("patch failed")
	}
	f.patched = append(f.patched, videoID)
	return nil
}

type fakeBlob struct {
	mu       sync.Mutex
	uploaded []string
	failUp   bool
}

func (f *fakeBlob) Upload(ctx context.Context, objectName, contentType string, r io.Reader) error {
	if f.failUp {
		return errors.New("upload failed")
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploaded = append(f.uploaded, objectName)
	return nil
}

func stubAnalyze(feedback []store.Feedback, writeMP4 bool) AnalyzeFunc {
	return func(ctx context.Context, predictors analyzer.Predictors, workoutType protocol.WorkoutType, framesDir, outputMP4 string) ([]store.Feedback, error) {
		if writeMP4 {
			if err := os.WriteFile(outputMP4, []byte("fake-mp4"), 0o644); err != nil {
				return nil, err
			}
		}
		return feedback, nil
	}
}

func makeFrame(t *testing.T) protocol.Frame {
	t.Helper()
	raw := make([]byte, frame.FrameBytes)
	return protocol.Frame(raw)
}

func TestRunFullVideoPersistsAllFrames(t *testing.T) {
	root := t.TempDir()
	fs := &fakeStore{}
	fb := &fakeBlob{}
	framesSeen := -1
	analyze := stubAnalyze([]store.Feedback{{Class: "depth", Correction: "lower"}}, true)
	cfg := Config{
		VideoRoot: root,
		Store:     fs,
		Blob:      fb,
		Analyze: func(ctx context.Context, predictors analyzer.Predictors, workoutType protocol.WorkoutType, framesDir, outputMP4 string) ([]store.Feedback, error) {
			pngs, err := filepath.Glob(filepath.Join(framesDir, "*.png"))
			if err != nil {
				return nil, err
			}
			framesSeen = len(pngs)
			return analyze(ctx, predictors, workoutType, framesDir, outputMP4)
		},
	}

	parts := make(chan Part, 4)
	parts <- FramesPart{Frames: repeatFrame(t, 30)}
	parts <- FramesPart{Frames: repeatFrame(t, 30)}
	parts <- FramesPart{Frames: repeatFrame(t, 20)}
	parts <- DonePart{}
	close(parts)

	if err := Run(context.Background(), cfg, "alice", protocol.WorkoutSquat, parts); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if framesSeen != 80 {
		t.Fatalf("expected 80 frame files before analysis, got %d", framesSeen)
	}
	if len(fs.inserted) != 1 {
		t.Fatalf("expected exactly one workout insert, got %d", len(fs.inserted))
	}
	if len(fs.patched) != 1 {
		t.Fatalf("expected exactly one workout patch, got %d", len(fs.patched))
	}
	if len(fb.uploaded) != 1 {
		t.Fatalf("expected exactly one blob upload, got %d", len(fb.uploaded))
	}

	entries, err := filepath.Glob(filepath.Join(root, "*"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected working directory and mp4 to be cleaned up, found %v", entries)
	}
}

func TestRunCancelMidVideoCleansUpWithoutPersisting(t *testing.T) {
	root := t.TempDir()
	fs := &fakeStore{}
	fb := &fakeBlob{}
	cfg := Config{VideoRoot: root, Store: fs, Blob: fb, Analyze: stubAnalyze(nil, true)}

	parts := make(chan Part, 2)
	parts <- FramesPart{Frames: repeatFrame(t, 30)}
	close(parts)

	err := Run(context.Background(), cfg, "alice", protocol.WorkoutSquat, parts)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if len(fs.inserted) != 0 {
		t.Fatalf("expected no workout document on cancel, got %d", len(fs.inserted))
	}
	if len(fb.uploaded) != 0 {
		t.Fatalf("expected no upload on cancel, got %d", len(fb.uploaded))
	}

	entries, err := filepath.Glob(filepath.Join(root, "*"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected working directory removed on cancel, found %v", entries)
	}
}

func TestRunAnalyzerFailureCleansUpDirectory(t *testing.T) {
	root := t.TempDir()
	fs := &fakeStore{}
	fb := &fakeBlob{}
	cfg := Config{
		VideoRoot: root,
		Store:     fs,
		Blob:      fb,
		Analyze: func(ctx context.Context, predictors analyzer.Predictors, workoutType protocol.WorkoutType, framesDir, outputMP4 string) ([]store.Feedback, error) {
			return nil, errors.New("predictor exploded")
		},
	}

	parts := make(chan Part, 2)
	parts <- FramesPart{Frames: repeatFrame(t, 5)}
	parts <- DonePart{}
	close(parts)

	if err := Run(context.Background(), cfg, "alice", protocol.WorkoutPushup, parts); err == nil {
		t.Fatal("expected error from failed analyzer")
	}
	if len(fs.patched) != 0 {
		t.Fatalf("expected no patch after analyzer failure, got %d", len(fs.patched))
	}

	entries, _ := filepath.Glob(filepath.Join(root, "*"))
	if len(entries) != 0 {
		t.Fatalf("expected working directory cleaned up after failure, found %v", entries)
	}
}

func repeatFrame(t *testing.T, n int) []protocol.Frame {
	t.Helper()
	out := make([]protocol.Frame, n)
	for i := range out {
		out[i] = makeFrame(t)
	}
	return out
}
