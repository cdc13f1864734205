package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeJSONL(t *testing.T, dir, runID string, entries []Entry) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, runID+".jsonl"))
	require.NoError(t, err)
	defer f.Close()
	for _, e := range entries {
		data, err := json.Marshal(e)
		require.NoError(t, err)
		_, err = f.Write(append(data, '\n'))
		require.NoError(t, err)
	}
}

func TestReaderFindFiltersByTenantAndEventType(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)

	writeJSONL(t, dir, "run-1", []Entry{
		{Timestamp: now, RunID: "run-1", TenantID: "acme", EventType: EventDecision, Data: map[string]any{"exceptionId": "exc-1"}},
		{Timestamp: now.Add(time.Minute), RunID: "run-1", TenantID: "acme", EventType: EventToolCall, Data: map[string]any{"exceptionId": "exc-1"}},
	})
	writeJSONL(t, dir, "run-2", []Entry{
		{Timestamp: now, RunID: "run-2", TenantID: "other", EventType: EventDecision, Data: map[string]any{"exceptionId": "exc-2"}},
	})

	r := NewReader(dir)

	entries, err := r.Find(Query{TenantID: "acme"})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	entries, err = r.Find(Query{TenantID: "acme", EventType: EventDecision})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, EventDecision, entries[0].EventType)
}

func TestReaderFindFiltersByExceptionIDAndCorrelationID(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().UTC()

	writeJSONL(t, dir, "run-1", []Entry{
		{Timestamp: now, RunID: "run-1", TenantID: "acme", EventType: EventDecision, Data: map[string]any{"exceptionId": "exc-1"}},
	})
	writeJSONL(t, dir, "run-2", []Entry{
		{Timestamp: now, RunID: "run-2", TenantID: "acme", EventType: EventDecision, Data: map[string]any{"exceptionId": "exc-2"}},
	})

	r := NewReader(dir)

	entries, err := r.Find(Query{TenantID: "acme", ExceptionID: "exc-2"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "run-2", entries[0].RunID)

	entries, err = r.Find(Query{TenantID: "acme", CorrelationID: "run-1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "run-1", entries[0].RunID)
}

func TestReaderFindAppliesPaging(t *testing.T) {
	dir := t.TempDir()
	now := time.Now().UTC()

	writeJSONL(t, dir, "run-1", []Entry{
		{Timestamp: now, RunID: "run-1", TenantID: "acme", EventType: EventDecision},
		{Timestamp: now.Add(time.Minute), RunID: "run-1", TenantID: "acme", EventType: EventDecision},
		{Timestamp: now.Add(2 * time.Minute), RunID: "run-1", TenantID: "acme", EventType: EventDecision},
	})

	r := NewReader(dir)
	entries, err := r.Find(Query{TenantID: "acme", Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.True(t, entries[0].Timestamp.Equal(now.Add(time.Minute)))
}

func TestReaderFindMissingDirReturnsEmpty(t *testing.T) {
	r := NewReader(filepath.Join(t.TempDir(), "does-not-exist"))
	entries, err := r.Find(Query{TenantID: "acme"})
	require.NoError(t, err)
	require.Empty(t, entries)
}
