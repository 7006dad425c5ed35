package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/klauspost/compress/zstd"

	"ticketwatch/internal/types"
)

// HistoryArchiveDB reads and prunes alert history.
type HistoryArchiveDB interface {
	ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]types.AlertHistoryEntry, error)
	DeleteByIDs(ctx context.Context, ids []string) (int, error)
}

// HistoryArchiver stores one compressed batch under a key. Storing an
// existing key must be a no-op.
type HistoryArchiver interface {
	UploadArchive(ctx context.Context, key string, entries int, data []byte) error
}

// ArchivedRecorder receives the number of entries archived per run.
type ArchivedRecorder interface {
	RecordArchived(ctx context.Context, count int)
}

// ArchiveService moves old alert history into compressed archives.
type ArchiveService struct {
	db       HistoryArchiveDB
	archiver HistoryArchiver
	metrics  ArchivedRecorder
	logger   *slog.Logger
}

// NewArchiveService creates a new ArchiveService. The archiver may be nil
// if archival is not configured; metrics may be nil.
func NewArchiveService(db HistoryArchiveDB, archiver HistoryArchiver, metrics ArchivedRecorder, logger *slog.Logger) *ArchiveService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArchiveService{db: db, archiver: archiver, metrics: metrics, logger: logger}
}

// ArchiveHistory archives entries observed before now-retention in batches:
// fetch, serialize to JSONL, compress with zstd, store, then delete the
// originals. The key is derived from the batch contents, so a run
// interrupted between store and delete repeats without duplicating data.
// Returns the number of entries archived.
func (s *ArchiveService) ArchiveHistory(ctx context.Context, now time.Time, retention time.Duration, batchSize int) (int, error) {
	if s.archiver == nil {
		s.logger.WarnContext(ctx, "history archiver not configured, skipping")
		return 0, nil
	}

	cutoff := now.Add(-retention)
	total := 0

	for {
		entries, err := s.db.ListOlderThan(ctx, cutoff, batchSize)
		if err != nil {
			return total, fmt.Errorf("listing history for archival: %w", err)
		}
		if len(entries) == 0 {
			break
		}

		data, err := compressHistoryJSONL(entries)
		if err != nil {
			return total, fmt.Errorf("serializing history: %w", err)
		}

		first, last := entries[0], entries[len(entries)-1]
		key := fmt.Sprintf("history/%s/%s_%s.jsonl.zst",
			first.ObservedAt.UTC().Format("2006/01/02"), first.ID, last.ID)

		if err := s.archiver.UploadArchive(ctx, key, len(entries), data); err != nil {
			return total, fmt.Errorf("storing history archive %s: %w", key, err)
		}

		ids := make([]string, len(entries))
		for i, e := range entries {
			ids[i] = e.ID
		}
		deleted, err := s.db.DeleteByIDs(ctx, ids)
		if err != nil {
			return total, fmt.Errorf("deleting archived history: %w", err)
		}
		total += deleted

		s.logger.InfoContext(ctx, "archived alert history batch",
			"batch_size", deleted,
			"key", key,
			"total_archived", total,
		)

		if len(entries) < batchSize {
			break
		}
	}

	if s.metrics != nil && total > 0 {
		s.metrics.RecordArchived(ctx, total)
	}
	return total, nil
}

// compressHistoryJSONL writes one JSON object per line through a zstd
// encoder.
func compressHistoryJSONL(entries []types.AlertHistoryEntry) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, err
	}
	jw := json.NewEncoder(enc)
	for _, e := range entries {
		if err := jw.Encode(e); err != nil {
			_ = enc.Close()
			return nil, fmt.Errorf("encoding history entry %s: %w", e.ID, err)
		}
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
