package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"videobroker/internal/frame"
	"videobroker/internal/protocol"
)

// decodeWorkers bounds the CPU pool used for frame decode, one worker per
// available core. Compute-bound work must never run on the goroutine that
// also services the device session's mailbox.
func decodeWorkers() int {
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return 1
}

// decodeBatch decodes and writes each frame in batch to dir as
// {offset+i:04}.png, in parallel across a bounded worker pool. The first
// decode or write failure cancels the remaining work in the batch.
func decodeBatch(ctx context.Context, dir string, offset int, batch []protocol.Frame) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(decodeWorkers())

	for i, f := range batch {
		i, f := i, f
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			img, err := frame.Decode(f)
			if err != nil {
				return fmt.Errorf("decode frame %d: %w", offset+i, err)
			}
			path := filepath.Join(dir, fmt.Sprintf("%04d.png", offset+i))
			out, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("create frame file %d: %w", offset+i, err)
			}
			defer out.Close()
			if err := frame.EncodePNG(out, img); err != nil {
				return fmt.Errorf("write frame file %d: %w", offset+i, err)
			}
			return nil
		})
	}

	return g.Wait()
}
