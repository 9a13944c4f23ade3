package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemorySinkRecord tests id/timestamp assignment and event collection
func TestMemorySinkRecord(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	id, err := sink.Record(ctx, Event{
		UserID:   "user-1",
		ToolName: "list_events",
		Outcome:  "success",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	events := sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].ID)
	assert.False(t, events[0].CreatedAt.IsZero())

	// A caller-supplied id is preserved.
	id, err = sink.Record(ctx, Event{ID: "evt-1", UserID: "user-1", ToolName: "x", Outcome: "failure"})
	require.NoError(t, err)
	assert.Equal(t, "evt-1", id)
}

// TestSQLiteSinkRecordAndHistory tests the append-only sink round trip
func TestSQLiteSinkRecordAndHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	sink, err := NewSQLiteSink(path, zerolog.Nop())
	require.NoError(t, err)
	defer sink.Close()

	ctx := context.Background()
	base := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

	for i, outcome := range []string{"success", "pending_approval", "failure"} {
		_, err := sink.Record(ctx, Event{
			UserID:     "user-1",
			SessionID:  "sess-1",
			ToolName:   "send_email",
			Outcome:    outcome,
			DurationMs: int64(10 * (i + 1)),
			Detail:     map[string]interface{}{"attempt": float64(i)},
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	_, err = sink.Record(ctx, Event{UserID: "user-2", ToolName: "list_events", Outcome: "success", CreatedAt: base})
	require.NoError(t, err)

	events, err := sink.History(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// Newest first.
	assert.Equal(t, "failure", events[0].Outcome)
	assert.Equal(t, "success", events[2].Outcome)
	assert.Equal(t, "sess-1", events[0].SessionID)
	assert.Equal(t, float64(2), events[0].Detail["attempt"])
}

// TestSQLiteSinkHistoryLimit tests the limit and its default
func TestSQLiteSinkHistoryLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	sink, err := NewSQLiteSink(path, zerolog.Nop())
	require.NoError(t, err)
	defer sink.Close()

	ctx := context.Background()
	base := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := sink.Record(ctx, Event{
			UserID:    "user-1",
			ToolName:  "list_events",
			Outcome:   "success",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	events, err := sink.History(ctx, "user-1", 2)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = sink.History(ctx, "user-1", 0)
	require.NoError(t, err)
	assert.Len(t, events, 5)

	events, err = sink.History(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}
