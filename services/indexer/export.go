package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type eventRow struct {
	Sequence   int64  `parquet:"name=sequence, type=INT64"`
	Type       string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Escrow     string `parquet:"name=escrow, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attributes string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt  string `parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// Events pages through the event log in commit order, starting after the
// given sequence.
func (i *Indexer) Events(ctx context.Context, after uint64, limit int) ([]EventRecord, error) {
	out := make([]EventRecord, 0)
	err := i.db.WithContext(ctx).
		Where("sequence > ?", after).
		Order("sequence ASC").
		Limit(clampLimit(limit)).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return out, nil
}

// ExportParquet writes every event after the given sequence to a Parquet
// file at path. It returns the number of rows and the last sequence written
// so exports can be chained.
func (i *Indexer) ExportParquet(ctx context.Context, path string, after uint64) (int, uint64, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, after, fmt.Errorf("indexer: create parquet: %w", err)
	}
	pw, err := writer.NewParquetWriter(writerfile.NewWriterFile(file), new(eventRow), 1)
	if err != nil {
		file.Close()
		return 0, after, fmt.Errorf("indexer: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	written := 0
	cursor := after
	for {
		batch, err := i.Events(ctx, cursor, maxLimit)
		if err != nil {
			pw.WriteStop()
			file.Close()
			return written, cursor, err
		}
		for _, rec := range batch {
			row := &eventRow{
				Sequence:   int64(rec.Sequence),
				Type:       rec.Type,
				Escrow:     rec.Escrow,
				Attributes: rec.Attributes,
				CreatedAt:  rec.CreatedAt.UTC().Format(time.RFC3339),
			}
			if err := pw.Write(row); err != nil {
				pw.WriteStop()
				file.Close()
				return written, cursor, fmt.Errorf("indexer: parquet write: %w", err)
			}
			written++
			cursor = rec.Sequence
		}
		if len(batch) < maxLimit {
			break
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return written, cursor, fmt.Errorf("indexer: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return written, cursor, fmt.Errorf("indexer: close parquet file: %w", err)
	}
	i.logger.Info("exported events",
		slog.String("path", path),
		slog.Int("rows", written),
		slog.Uint64("last_sequence", cursor))
	return written, cursor, nil
}
