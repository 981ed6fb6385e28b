package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"videobroker/internal/analyzer"
	"videobroker/internal/blobstore"
	"videobroker/internal/httpapi"
	"videobroker/internal/ingest"
	"videobroker/internal/link"
	"videobroker/internal/metrics"
	"videobroker/internal/protocol"
	"videobroker/internal/store"
)

func main() {
	if len(os.Args) > 1 {
		if RunCLI(os.Args[1:], "videobroker.db") {
			return
		}
	}

	addr := flag.String("addr", ":3000", "HTTP/WebSocket listen address")
	dbPath := flag.String("db", "videobroker.db", "SQLite-backed workout document store path")
	videoRoot := flag.String("video-root", "videos", "directory holding in-progress frame directories and finished mp4s")
	bucket := flag.String("bucket", "videobroker-videos", "blob storage bucket name")
	squatPredictor := flag.String("squat-predictor", "predictors/squat.py", "path to the squat analyzer script")
	pushupPredictor := flag.String("pushup-predictor", "predictors/pushup.py", "path to the pushup analyzer script")
	maxConnections := flag.Int("max-connections", 500, "maximum total WebSocket connections (0 disables the limit)")
	metricsInterval := flag.Duration("metrics-interval", 5*time.Second, "interval between metrics log lines")
	flag.Parse()

	setUpLogging()

	projectID := os.Getenv("PROJECT_ID")
	if projectID == "" {
		slog.Error("PROJECT_ID environment variable is required")
		os.Exit(1)
	}

	st, err := store.Open(*dbPath, projectID)
	if err != nil {
		slog.Error("open store", "err", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	blobs, err := blobstore.Open(ctx, *bucket)
	if err != nil {
		slog.Error("open blob store", "err", err)
		os.Exit(1)
	}
	defer blobs.Close()

	if err := os.MkdirAll(*videoRoot, 0o755); err != nil {
		slog.Error("create video root", "err", err)
		os.Exit(1)
	}

	ingestCfg := ingest.Config{
		VideoRoot: *videoRoot,
		Predictors: analyzer.Predictors{
			Squat:  *squatPredictor,
			Pushup: *pushupPredictor,
		},
		Store: st,
		Blob:  blobs,
	}
	spawn := func(ctx context.Context, userID string, workoutType protocol.WorkoutType, parts <-chan ingest.Part) error {
		return ingest.Run(ctx, ingestCfg, userID, workoutType, parts)
	}

	manager := link.New()
	go manager.Run(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("videobroker: shutting down")
		cancel()
	}()

	go metrics.Run(ctx, manager, *metricsInterval)

	server := httpapi.New(manager, spawn, *maxConnections)
	slog.Info("videobroker: listening", "addr", *addr)
	if err := server.Run(ctx, *addr); err != nil {
		slog.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func setUpLogging() {
	level := slog.LevelInfo
	switch os.Getenv("RUST_LOG") {
	case "debug", "trace":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
