// Package analyzer invokes the external per-workout-type predictor
// subprocess and parses its structured feedback.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"

	"videobroker/internal/protocol"
	"videobroker/internal/store"
)

// Predictors maps a workout type to the predictor script invoked for it.
// Populated from flags at startup; see cmd/videobroker.
type Predictors struct {
	Squat  string
	Pushup string
}

func (p Predictors) forType(t protocol.WorkoutType) (string, error) {
	switch t {
	case protocol.WorkoutSquat:
		return p.Squat, nil
	case protocol.WorkoutPushup:
		return p.Pushup, nil
	default:
		return "", fmt.Errorf("analyzer: unknown workout type %q", t)
	}
}

// Run invokes `python {predictor} {framesDir}/%04d.png {outputMP4}` for the
// given workout type and parses the JSON array of feedback records the
// predictor writes to stdout. The predictor is also responsible for
// producing outputMP4.
func Run(ctx context.Context, predictors Predictors, workoutType protocol.WorkoutType, framesDir, outputMP4 string) ([]store.Feedback, error) {
	predictor, err := predictors.forType(workoutType)
	if err != nil {
		return nil, err
	}

	framePattern := filepath.Join(framesDir, "%04d.png")
	cmd := exec.CommandContext(ctx, "python", predictor, framePattern, outputMP4)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Info("analyzer: invoking predictor", "workout_type", workoutType, "predictor", predictor, "frames_dir", framesDir)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("analyzer: predictor %q failed: %w (stderr: %s)", predictor, err, stderr.String())
	}

	var feedback []store.Feedback
	if err := json.Unmarshal(stdout.Bytes(), &feedback); err != nil {
		return nil, fmt.Errorf("analyzer: parse predictor stdout: %w", err)
	}
	slog.Info("analyzer: predictor completed", "workout_type", workoutType, "feedback_count", len(feedback))
	return feedback, nil
}
