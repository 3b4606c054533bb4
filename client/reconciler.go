package client

import (
	"time"

	jww "github.com/spf13/jwalterweatherman"

	"github.com/limeechian/parenting-app-sub004/internal/models"
)

// SyncCheckpoint is the last state of the open conversation the reconciler
// has already acted on. It exists so "has anything new happened since the
// last refresh" can be answered without another message fetch.
type SyncCheckpoint struct {
	ConversationID string
	LastMessageAt  time.Time
	UnreadCount    int
}

// SyncReconciler decides, whenever the conversation list changes, whether
// the open conversation's messages need a refetch. The checkpoint compare is
// what breaks the feedback loop: a read acknowledgement comes back from the
// server as a conversation update with a *lower* unread count, and that
// alone must never trigger another fetch (which would mark read again, which
// would produce another update, and so on).
//
// Owned by the session loop.
type SyncReconciler struct {
	checkpoint       *SyncCheckpoint
	viewportAtBottom bool
}

// NewSyncReconciler creates a reconciler with no checkpoint and the viewport
// assumed at the bottom (a freshly opened thread starts scrolled down).
func NewSyncReconciler() *SyncReconciler {
	return &SyncReconciler{viewportAtBottom: true}
}

// SetViewportAtBottom records whether the browser viewport is scrolled to
// the bottom of the thread (within the UI's pixel threshold). When the user
// has scrolled up, new activity does not force a refetch under them; they
// catch up when they scroll down or re-select the conversation.
func (r *SyncReconciler) SetViewportAtBottom(atBottom bool) {
	r.viewportAtBottom = atBottom
}

// ViewportAtBottom returns the last reported viewport state.
func (r *SyncReconciler) ViewportAtBottom() bool {
	return r.viewportAtBottom
}

// Checkpoint returns the current checkpoint, or nil.
func (r *SyncReconciler) Checkpoint() *SyncCheckpoint {
	return r.checkpoint
}

// Reconcile compares the open conversation's latest list state against the
// checkpoint and reports whether a refetch should be requested. The
// checkpoint is always advanced to the observed state before the decision is
// returned, so a re-entrant call sees the new baseline and stays quiet.
//
// New activity means LastMessageAt strictly increased or UnreadCount
// increased. LastMessageAt is authoritative: an event that carries both a
// newer message and a concurrent read acknowledgement (unread going down)
// still counts as new activity.
func (r *SyncReconciler) Reconcile(open models.Conversation, fetchInFlight bool) bool {
	if fetchInFlight {
		return false
	}

	cp := r.checkpoint
	if cp == nil || cp.ConversationID != open.ID {
		// First observation of this conversation: baseline only.
		r.checkpoint = &SyncCheckpoint{
			ConversationID: open.ID,
			LastMessageAt:  open.LastMessageAt,
			UnreadCount:    open.UnreadCount,
		}
		return false
	}

	if open.LastMessageAt.Equal(cp.LastMessageAt) && open.UnreadCount == cp.UnreadCount {
		return false
	}

	hasNewActivity := open.LastMessageAt.After(cp.LastMessageAt) ||
		open.UnreadCount > cp.UnreadCount

	// Advance the baseline before acting on it.
	r.checkpoint = &SyncCheckpoint{
		ConversationID: open.ID,
		LastMessageAt:  open.LastMessageAt,
		UnreadCount:    open.UnreadCount,
	}

	if !hasNewActivity {
		// Read acknowledgement only; never refetch for it.
		return false
	}
	if !r.viewportAtBottom {
		jww.DEBUG.Printf("[SYNC] new activity in %s but viewport scrolled up, skipping refetch",
			open.ID)
		return false
	}
	return true
}

// ResetCheckpoint pins the checkpoint to a just-loaded conversation with the
// unread count forced to zero: loading messages marks them read on the
// backend, so the read acknowledgement that follows must not look like a
// change. Call after every full message load.
func (r *SyncReconciler) ResetCheckpoint(conv models.Conversation) {
	r.checkpoint = &SyncCheckpoint{
		ConversationID: conv.ID,
		LastMessageAt:  conv.LastMessageAt,
		UnreadCount:    0,
	}
}

// OverwriteCheckpoint replaces the checkpoint with server-provided values.
// Used when a conversation update arrives while a fetch for it is in flight,
// so the reconciler does not compare stale-vs-fresh and double-fire once the
// fetch settles.
func (r *SyncReconciler) OverwriteCheckpoint(conv models.Conversation) {
	r.checkpoint = &SyncCheckpoint{
		ConversationID: conv.ID,
		LastMessageAt:  conv.LastMessageAt,
		UnreadCount:    conv.UnreadCount,
	}
}

// Clear drops the checkpoint, used when the open conversation is closed or
// deleted.
func (r *SyncReconciler) Clear() {
	r.checkpoint = nil
}
