package indexer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"filamint/native/escrow"
)

func TestExportParquetAfterSequence(t *testing.T) {
	idx := newTestIndexer(t)
	ctx := context.Background()
	idx.Emit(escrowEvent(escrow.EventTypeEscrowCreated, "fab1a", "pending", nil))
	idx.Emit(escrowEvent(escrow.EventTypeEscrowClaimed, "fab1a", "claimed", nil))
	idx.Emit(escrowEvent(escrow.EventTypeEscrowShipped, "fab1a", "shipped", nil))

	path := filepath.Join(t.TempDir(), "events.parquet")
	rows, last, err := idx.ExportParquet(ctx, path, 1)
	require.NoError(t, err)
	require.Equal(t, 2, rows)
	require.Equal(t, uint64(3), last)

	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(eventRow), 1)
	require.NoError(t, err)
	defer pr.ReadStop()

	require.Equal(t, int64(2), pr.GetNumRows())
	got := make([]eventRow, 2)
	require.NoError(t, pr.Read(&got))
	require.Equal(t, int64(2), got[0].Sequence)
	require.Equal(t, escrow.EventTypeEscrowClaimed, got[0].Type)
	require.Equal(t, "fab1a", got[1].Escrow)
	require.Contains(t, got[1].Attributes, `"status":"shipped"`)
}

func TestExportParquetEmpty(t *testing.T) {
	idx := newTestIndexer(t)
	rows, last, err := idx.ExportParquet(context.Background(), filepath.Join(t.TempDir(), "none.parquet"), 0)
	require.NoError(t, err)
	require.Zero(t, rows)
	require.Zero(t, last)
}
