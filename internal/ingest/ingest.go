// Package ingest runs the per-video ingestion pipeline: it consumes frame
// batches from a device session, persists decoded frames to disk, drives
// the external analyzer, and publishes the finished artifacts.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"videobroker/internal/analyzer"
	"videobroker/internal/protocol"
	"videobroker/internal/store"
)

// active counts in-flight ingestion pipelines, read by the metrics logger.
var active atomic.Int64

// ActiveCount returns the number of ingestion pipelines currently running.
func ActiveCount() int64 { return active.Load() }

// WorkoutStore is the narrow slice of internal/store.Store the pipeline
// needs: insert a fresh entry, then patch it once analysis completes.
type WorkoutStore interface {
	InsertWorkout(ctx context.Context, userID string, entry store.WorkoutEntry) (string, error)
	PatchWorkout(ctx context.Context, userID, docID, videoID string, feedback []store.Feedback) error
}

// BlobUploader is the narrow slice of internal/blobstore.Store the pipeline
// needs: upload the finished mp4.
type BlobUploader interface {
	Upload(ctx context.Context, objectName, contentType string, r io.Reader) error
}

// AnalyzeFunc runs the external predictor and returns structured feedback.
// Defaults to analyzer.Run; tests substitute a stub to avoid a real
// subprocess.
type AnalyzeFunc func(ctx context.Context, predictors analyzer.Predictors, workoutType protocol.WorkoutType, framesDir, outputMP4 string) ([]store.Feedback, error)

// Part is one message sent on the ingestion channel by the device session.
// The channel itself has no Cancel variant: cancellation is expressed by
// closing the channel (dropping the sender), per the cancellation-by-closure
// design.
type Part interface{ isPart() }

// FramesPart carries one batch of captured frames.
type FramesPart struct{ Frames []protocol.Frame }

func (FramesPart) isPart() {}

// DonePart signals the device finished sending frames for this recording.
type DonePart struct{}

func (DonePart) isPart() {}

// Config bundles the pipeline's external collaborators.
type Config struct {
	VideoRoot  string
	Predictors analyzer.Predictors
	Store      WorkoutStore
	Blob       BlobUploader
	Analyze    AnalyzeFunc // defaults to analyzer.Run if nil
}

func (c Config) analyze() AnalyzeFunc {
	if c.Analyze != nil {
		return c.Analyze
	}
	return analyzer.Run
}

// ErrCancelled is returned by Run when the parts channel closes before a
// DonePart arrives.
var ErrCancelled = fmt.Errorf("ingest: cancelled before completion")

// Run executes the full ingestion algorithm for one video and blocks until
// it reaches a terminal state (success, cancellation, or failure). The
// caller — the device session actor — spawns this in its own goroutine.
func Run(ctx context.Context, cfg Config, userID string, workoutType protocol.WorkoutType, parts <-chan Part) error {
	active.Add(1)
	defer active.Add(-1)

	videoID := uuid.NewString()
	dir := filepath.Join(cfg.VideoRoot, videoID+".d")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ingest: create working directory: %w", err)
	}

	log := slog.With("video_id", videoID, "user_id", userID, "workout_type", workoutType)
	log.Info("ingest: started")

	count, err := drain(ctx, dir, parts, log)
	if err != nil {
		cleanupDir(dir, log)
		if err == ErrCancelled {
			log.Info("ingest: cancelled", "received_count", count)
		} else {
			log.Error("ingest: aborted", "err", err)
		}
		return err
	}

	if err := finalize(ctx, cfg, userID, workoutType, videoID, dir, log); err != nil {
		cleanupDir(dir, log)
		log.Error("ingest: finalize failed", "err", err)
		return err
	}

	log.Info("ingest: completed", "received_count", count)
	return nil
}

// drain consumes frame batches until Done arrives or the channel closes,
// decoding and writing each batch to dir. It returns the total frame count
// received.
func drain(ctx context.Context, dir string, parts <-chan Part, log *slog.Logger) (int, error) {
	count := 0
	for {
		select {
		case <-ctx.Done():
			return count, ctx.Err()
		case p, ok := <-parts:
			if !ok {
				return count, ErrCancelled
			}
			switch part := p.(type) {
			case FramesPart:
				if err := decodeBatch(ctx, dir, count, part.Frames); err != nil {
					return count, fmt.Errorf("ingest: decode batch at offset %d: %w", count, err)
				}
				count += len(part.Frames)
				log.Debug("ingest: batch persisted", "batch_size", len(part.Frames), "received_count", count)
			case DonePart:
				return count, nil
			default:
				return count, fmt.Errorf("ingest: unknown part type %T", p)
			}
		}
	}
}

func finalize(ctx context.Context, cfg Config, userID string, workoutType protocol.WorkoutType, videoID, dir string, log *slog.Logger) error {
	now := time.Now().UTC()
	docID, err := cfg.Store.InsertWorkout(ctx, userID, store.WorkoutEntry{Date: now, Type: string(workoutType)})
	if err != nil {
		return fmt.Errorf("ingest: insert workout entry: %w", err)
	}
	log.Info("ingest: workout entry inserted", "doc_id", docID)

	mp4Path := filepath.Join(cfg.VideoRoot, videoID+".mp4")
	feedback, err := cfg.analyze()(ctx, cfg.Predictors, workoutType, dir, mp4Path)
	if err != nil {
		return fmt.Errorf("ingest: run analyzer: %w", err)
	}

	if err := cfg.Store.PatchWorkout(ctx, userID, docID, videoID, feedback); err != nil {
		return fmt.Errorf("ingest: patch workout entry: %w", err)
	}

	mp4, err := os.Open(mp4Path)
	if err != nil {
		return fmt.Errorf("ingest: open analyzer output: %w", err)
	}
	defer mp4.Close()

	objectName := "videos/" + videoID
	if err := cfg.Blob.Upload(ctx, objectName, "video/mp4", mp4); err != nil {
		return fmt.Errorf("ingest: upload video: %w", err)
	}

	if err := os.Remove(mp4Path); err != nil {
		log.Warn("ingest: failed to remove mp4 after upload", "path", mp4Path, "err", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		log.Warn("ingest: failed to remove working directory", "dir", dir, "err", err)
	}
	return nil
}

func cleanupDir(dir string, log *slog.Logger) {
	if err := os.RemoveAll(dir); err != nil {
		log.Warn("ingest: cleanup failed", "dir", dir, "err", err)
	}
}
