package s3

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/minio/minio-go/v7"

	"github.com/eteran/stash/pkg/storage"
)

// mapError translates a MinIO SDK error into the storage sentinels where one
// applies, wrapping everything else with msg.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", msg, err)
	}

	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		switch resp.Code {
		case "NoSuchKey", "NoSuchObject":
			return fmt.Errorf("%s: %w", msg, storage.ErrNotFound)
		case "PreconditionFailed", "NotModified":
			return fmt.Errorf("%s: %w", msg, storage.ErrPreconditionFailed)
		case "InvalidRange":
			return fmt.Errorf("%s: %w", msg, storage.ErrRangeNotSatisfiable)
		}

		switch resp.StatusCode {
		case http.StatusNotFound:
			if resp.Code != "NoSuchBucket" {
				return fmt.Errorf("%s: %w", msg, storage.ErrNotFound)
			}
		case http.StatusPreconditionFailed, http.StatusNotModified:
			return fmt.Errorf("%s: %w", msg, storage.ErrPreconditionFailed)
		}
	}

	return fmt.Errorf("%s: %w", msg, err)
}
