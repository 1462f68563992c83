package gcp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// ArchiveSnapshot writes a raw source download to a GCS object only if the
// object does not already exist. Snapshots are debugging/replay material, so
// an already-archived object is not a failure.
func ArchiveSnapshot(ctx context.Context, bucket *storage.BucketHandle, objectName string, content []byte) error {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = "text/csv"

	if _, err := io.Copy(writer, bytes.NewReader(content)); err != nil {
		_ = writer.Close()
		if gerr, ok := err.(*googleapi.Error); ok && gerr.Code == 412 {
			slog.Info("Snapshot already archived, skipping.", "object", objectName)
			return nil
		}
		return fmt.Errorf("failed to write snapshot to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		if gerr, ok := err.(*googleapi.Error); ok && gerr.Code == 412 {
			slog.Info("Snapshot already archived, skipping.", "object", objectName)
			return nil
		}
		return fmt.Errorf("failed to finalize snapshot write: %w", err)
	}
	return nil
}
