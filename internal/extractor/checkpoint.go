package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/malawley/hygiene-pipeline/internal/objectstore"
)

// checkpointPath is the well-known, date-less key described in spec.md
// §3: the Checkpoint is not scoped by date.
const checkpointPath = "last_checkpoint.json"

type checkpointDoc struct {
	LastOffset int `json:"last_offset"`
}

// readCheckpoint returns the last durably-recorded offset, or 0 if no
// checkpoint exists yet or it can't be parsed — matching the teacher's
// ReadCheckpoint behavior of defaulting to offset 0 rather than failing
// the run.
func readCheckpoint(ctx context.Context, store objectstore.Store, bucket string) int {
	data, err := store.Get(ctx, bucket, checkpointPath)
	if err != nil {
		slog.Info("no checkpoint found, starting from offset 0")
		return 0
	}
	var doc checkpointDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		slog.Warn("failed to parse checkpoint, starting from offset 0", slog.Any("error", err))
		return 0
	}
	return doc.LastOffset
}

// writeCheckpoint persists the scalar offset the next run should resume
// from. Per §4.1 it is only called after a durably successful chunk
// write, never on a simulated-fault chunk.
func writeCheckpoint(ctx context.Context, store objectstore.Store, bucket string, offset int) error {
	data, err := json.MarshalIndent(checkpointDoc{LastOffset: offset}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	return store.Put(ctx, bucket, checkpointPath, data, "application/json")
}
