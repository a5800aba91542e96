package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"filamint/core/events"
	"filamint/core/types"
	"filamint/native/escrow"
)

func newTestIndexer(t *testing.T) *Indexer {
	t.Helper()
	db, err := Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	idx, err := New(db, nil)
	require.NoError(t, err)
	return idx
}

func escrowEvent(eventType, addr, status string, extra map[string]string) events.Event {
	attrs := map[string]string{
		"escrow":      addr,
		"orderId":     "3",
		"buyer":       "fab1buyer",
		"status":      status,
		"orderAmount": "1000000",
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return events.Typed{Payload: &types.Event{Type: eventType, Attributes: attrs}}
}

func TestIndexerProjectsLifecycle(t *testing.T) {
	idx := newTestIndexer(t)
	ctx := context.Background()

	idx.Emit(escrowEvent(escrow.EventTypeEscrowCreated, "fab1order", "pending", map[string]string{
		"deposit":     "1025000",
		"contentHash": "aa",
	}))
	jobs, err := idx.OpenJobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "fab1order", jobs[0].Escrow)
	require.Equal(t, uint64(3), jobs[0].OrderID)
	require.Equal(t, "1025000", jobs[0].Deposit)

	idx.Emit(escrowEvent(escrow.EventTypeEscrowClaimed, "fab1order", "claimed", map[string]string{"seller": "fab1seller"}))
	jobs, err = idx.OpenJobs(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, jobs)

	summary, ok, err := idx.Summary(ctx, "fab1order")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "claimed", summary.Status)
	require.Equal(t, "fab1seller", summary.Seller)
	require.Equal(t, "aa", summary.ContentHash, "fields absent from later events are kept")
	require.Equal(t, escrow.EventTypeEscrowClaimed, summary.LastEvent)

	history, err := idx.History(ctx, "fab1order", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Less(t, history[0].Sequence, history[1].Sequence)

	var attrs map[string]string
	require.NoError(t, json.Unmarshal([]byte(history[1].Attributes), &attrs))
	require.Equal(t, "fab1seller", attrs["seller"])
}

func TestIndexerStoresNonEscrowEvents(t *testing.T) {
	idx := newTestIndexer(t)
	idx.Emit(events.Typed{Payload: &types.Event{Type: "registry.updated", Attributes: map[string]string{"field": "arbiter"}}})
	idx.Emit(events.Typed{})

	var count int64
	require.NoError(t, idx.db.Model(&EventRecord{}).Count(&count).Error)
	require.Equal(t, int64(1), count)

	var summaries int64
	require.NoError(t, idx.db.Model(&EscrowSummary{}).Count(&summaries).Error)
	require.Zero(t, summaries)
}

func TestIndexerResumesSequence(t *testing.T) {
	db, err := Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	first, err := New(db, nil)
	require.NoError(t, err)
	first.Emit(escrowEvent(escrow.EventTypeEscrowCreated, "fab1a", "pending", nil))
	first.Emit(escrowEvent(escrow.EventTypeEscrowCancelled, "fab1a", "cancelled", nil))

	second, err := New(db, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(2), second.seq)
	second.Emit(escrowEvent(escrow.EventTypeEscrowCreated, "fab1b", "pending", nil))

	history, err := second.History(context.Background(), "fab1b", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, uint64(3), history[0].Sequence)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	require.Error(t, err)
	_, err = Open("postgres", "")
	require.Error(t, err)
}

func TestClampLimit(t *testing.T) {
	require.Equal(t, defaultLimit, clampLimit(0))
	require.Equal(t, maxLimit, clampLimit(10_000))
	require.Equal(t, 7, clampLimit(7))
}

func TestCloseReleasesDatabase(t *testing.T) {
	idx := newTestIndexer(t)
	require.NoError(t, idx.Close())
	_, err := idx.OpenJobs(context.Background(), 10)
	require.Error(t, err)

	require.NoError(t, Close(nil))
	var nilIndexer *Indexer
	require.NoError(t, nilIndexer.Close())
}
