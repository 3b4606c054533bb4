package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var reconBase = time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC)

func TestReconcilerFirstObservationBaselinesOnly(t *testing.T) {
	r := NewSyncReconciler()

	require.False(t, r.Reconcile(conv("c1", reconBase, 2), false))
	cp := r.Checkpoint()
	require.NotNil(t, cp)
	require.Equal(t, "c1", cp.ConversationID)
	require.Equal(t, 2, cp.UnreadCount)
}

func TestReconcilerReadAckNeverFetches(t *testing.T) {
	// Scenario: unread goes 2 -> 0 with no activity change. This is the
	// server echoing our own mark-as-read; fetching here would mark read
	// again and loop forever.
	r := NewSyncReconciler()
	r.Reconcile(conv("c1", reconBase, 2), false)

	require.False(t, r.Reconcile(conv("c1", reconBase, 0), false))
	require.Equal(t, 0, r.Checkpoint().UnreadCount)

	// And it stays quiet on the identical state.
	require.False(t, r.Reconcile(conv("c1", reconBase, 0), false))
}

func TestReconcilerUnreadIncreaseFetches(t *testing.T) {
	r := NewSyncReconciler()
	r.Reconcile(conv("c1", reconBase, 0), false)

	require.True(t, r.Reconcile(conv("c1", reconBase, 1), false))
}

func TestReconcilerActivityIncreaseFetches(t *testing.T) {
	r := NewSyncReconciler()
	r.Reconcile(conv("c1", reconBase, 0), false)

	require.True(t, r.Reconcile(conv("c1", reconBase.Add(time.Second), 0), false))
}

func TestReconcilerActivityAuthoritativeOverUnreadDecrease(t *testing.T) {
	// A single event can carry both a new message and a concurrent read
	// ack (unread down, activity up). Activity wins: fetch.
	r := NewSyncReconciler()
	r.Reconcile(conv("c1", reconBase, 3), false)

	require.True(t, r.Reconcile(conv("c1", reconBase.Add(time.Second), 1), false))
}

func TestReconcilerInFlightFetchSuppresses(t *testing.T) {
	r := NewSyncReconciler()
	r.Reconcile(conv("c1", reconBase, 0), false)

	require.False(t, r.Reconcile(conv("c1", reconBase.Add(time.Second), 1), true))
}

func TestReconcilerScrolledUpSkipsButAdvancesCheckpoint(t *testing.T) {
	r := NewSyncReconciler()
	r.Reconcile(conv("c1", reconBase, 0), false)
	r.SetViewportAtBottom(false)

	require.False(t, r.Reconcile(conv("c1", reconBase.Add(time.Second), 1), false))

	// The checkpoint advanced anyway, so re-observing the same state after
	// scrolling down does not fire either.
	r.SetViewportAtBottom(true)
	require.False(t, r.Reconcile(conv("c1", reconBase.Add(time.Second), 1), false))
}

func TestReconcilerSwitchingConversationRebaselines(t *testing.T) {
	r := NewSyncReconciler()
	r.Reconcile(conv("c1", reconBase, 0), false)

	// A different conversation id is a fresh baseline, not a change.
	require.False(t, r.Reconcile(conv("c2", reconBase.Add(time.Hour), 7), false))
	require.Equal(t, "c2", r.Checkpoint().ConversationID)
}

func TestReconcilerResetCheckpointForcesUnreadZero(t *testing.T) {
	r := NewSyncReconciler()
	r.ResetCheckpoint(conv("c1", reconBase, 5))

	cp := r.Checkpoint()
	require.Equal(t, 0, cp.UnreadCount)

	// The read ack following the load (unread already 0 server-side, same
	// activity) is a non-event.
	require.False(t, r.Reconcile(conv("c1", reconBase, 0), false))
}

func TestReconcilerOverwriteCheckpoint(t *testing.T) {
	r := NewSyncReconciler()
	r.Reconcile(conv("c1", reconBase, 0), false)

	fresh := conv("c1", reconBase.Add(time.Minute), 2)
	r.OverwriteCheckpoint(fresh)

	// The overwritten values are the new baseline; seeing them again is
	// not new activity.
	require.False(t, r.Reconcile(fresh, false))
}

func TestReconcilerClear(t *testing.T) {
	r := NewSyncReconciler()
	r.Reconcile(conv("c1", reconBase, 0), false)
	r.Clear()
	require.Nil(t, r.Checkpoint())
}
