// Package manifest implements the durable handoff contract described in
// spec.md §4.3: a per-date, per-stage object that lists the files a
// stage produced and marks the stage complete for that date.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/malawley/hygiene-pipeline/internal/objectstore"
)

// Manifest is the durable "stage complete for this date" marker.
type Manifest struct {
	Date           string   `json:"date"`
	Files          []string `json:"files"`
	UploadComplete bool     `json:"upload_complete"`
}

// Path returns the canonical manifest key under a stage prefix, e.g.
// "raw-data/2025-03-30/_manifest.json".
func Path(stagePrefix, date string) string {
	return fmt.Sprintf("%s/%s/_manifest.json", stagePrefix, date)
}

// Write persists a completed manifest. It is written exactly once per
// (stage, date), at stage end, with UploadComplete true — callers must
// not call Write until every file it references already exists.
func Write(ctx context.Context, store objectstore.Store, bucket, stagePrefix, date string, files []string) error {
	m := Manifest{Date: date, Files: files, UploadComplete: true}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return store.Put(ctx, bucket, Path(stagePrefix, date), data, "application/json")
}

// Read loads the manifest for (stagePrefix, date). A missing object is
// not an error: it returns a manifest carrying only the date, with no
// files and UploadComplete false, matching the invariant that absence of a manifest signals
// "not done".
func Read(ctx context.Context, store objectstore.Store, bucket, stagePrefix, date string) (Manifest, error) {
	data, err := store.Get(ctx, bucket, Path(stagePrefix, date))
	if err != nil {
		if objectstore.IsNotExist(err) {
			return Manifest{Date: date}, nil
		}
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}

// Ready reports whether a downstream worker is allowed to proceed: the
// manifest must exist and be marked complete.
func (m Manifest) Ready() bool {
	return m.UploadComplete
}
