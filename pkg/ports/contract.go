package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/agentrun/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSessionStoreContract runs a suite of tests to verify that a SessionStore implementation
// adheres to the defined interface contract.
func RunSessionStoreContract(t *testing.T, store SessionStore) {
	ctx := context.Background()
	sessionID := "contract-test-session-" + time.Now().Format("20060102150405")
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	t.Run("Snapshot and Load", func(t *testing.T) {
		s := domain.NewSession(sessionID, "/agents/demo", now)
		s.Apply(domain.Event{Timestamp: now, Action: domain.ActionEnter, Node: "start", Iteration: 1})
		s.Apply(domain.Event{Timestamp: now, Action: domain.ActionSharedContextSet, Key: "foo", Value: "bar"})
		s.Apply(domain.Event{Timestamp: now, Action: domain.ActionSharedContextSet, Key: "count", Value: 42})

		err := store.WriteSnapshot(ctx, sessionID, s)
		require.NoError(t, err, "WriteSnapshot should not return error")

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, sessionID, loaded.SessionID)
		assert.Equal(t, "start", loaded.CurrentNode)
		assert.Equal(t, domain.StatusRunning, loaded.Status)
		assert.Equal(t, map[string]int{"start": 1}, loaded.IterationCounts)
		assert.Equal(t, "bar", loaded.SharedContext["foo"])
		// JSON persistence turns numbers into float64; existence is enough here.
		assert.NotNil(t, loaded.SharedContext["count"])
		assert.Len(t, loaded.History, 3)
		assert.True(t, loaded.StartTime.Equal(now))
	})

	t.Run("Snapshot Overwrites", func(t *testing.T) {
		s := domain.NewSession(sessionID, "", now)
		s.Apply(domain.Event{Timestamp: now, Action: domain.ActionEnter, Node: "other", Iteration: 1})
		require.NoError(t, store.WriteSnapshot(ctx, sessionID, s))

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, "other", loaded.CurrentNode)
		assert.Len(t, loaded.History, 1)
	})

	t.Run("Loaded Snapshot Is Detached", func(t *testing.T) {
		s := domain.NewSession(sessionID, "", now)
		require.NoError(t, store.WriteSnapshot(ctx, sessionID, s))
		s.SharedContext["late"] = true

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		assert.NotContains(t, loaded.SharedContext, "late")
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Append and LoadTrace", func(t *testing.T) {
		id := sessionID + "-trace"
		defer func() { _ = store.Delete(ctx, id) }()

		empty, err := store.LoadTrace(ctx, id)
		require.NoError(t, err, "LoadTrace of unknown session should not fail")
		assert.Empty(t, empty)

		events := []domain.Event{
			{Seq: 1, Timestamp: now, Action: domain.ActionEnter, Node: "a", Iteration: 1},
			{Seq: 2, Timestamp: now, Action: domain.ActionRoute, From: "a", To: "b", Rationale: "next"},
			{Seq: 3, Timestamp: now, Action: domain.ActionEnter, Node: "b", Iteration: 1},
		}
		for _, e := range events {
			require.NoError(t, store.AppendEvent(ctx, id, e))
		}

		trace, err := store.LoadTrace(ctx, id)
		require.NoError(t, err)
		require.Len(t, trace, 3)
		for i, e := range trace {
			assert.Equal(t, i+1, e.Seq, "trace must keep append order")
			assert.Equal(t, events[i].Action, e.Action)
		}
		assert.Equal(t, "b", trace[1].To)

		// The trace is independent of the snapshot.
		_, err = store.Load(ctx, id)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.WriteSnapshot(ctx, sessionID, domain.NewSession(sessionID, "", now)))
		require.NoError(t, store.AppendEvent(ctx, sessionID, domain.Event{Seq: 1, Timestamp: now, Action: domain.ActionEnter, Node: "a"}))

		err := store.Delete(ctx, sessionID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Load after Delete should return ErrSessionNotFound")
		trace, err := store.LoadTrace(ctx, sessionID)
		require.NoError(t, err)
		assert.Empty(t, trace, "Delete should drop the trace")
	})

	t.Run("List", func(t *testing.T) {
		id1 := sessionID + "-1"
		id2 := sessionID + "-2"
		_ = store.WriteSnapshot(ctx, id1, domain.NewSession(id1, "", now))
		_ = store.WriteSnapshot(ctx, id2, domain.NewSession(id2, "", now))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		sessions, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, sessions, id1)
		assert.Contains(t, sessions, id2)
	})
}
