package client

import (
	"context"

	jww "github.com/spf13/jwalterweatherman"

	"github.com/limeechian/parenting-app-sub004/internal/models"
)

// fetchFunc fetches one page of messages for a conversation.
type fetchFunc func(ctx context.Context, conversationID string, page, pageSize int) ([]models.Message, error)

// fetchResult is the completion of a coordinated fetch, delivered back into
// the session loop.
type fetchResult struct {
	conversationID string
	page           int
	seq            uint64
	version        uint64
	messages       []models.Message
	err            error
}

// FetchCoordinator guarantees at most one in-flight message fetch per
// conversation. Overlapping refresh requests are dropped, not queued: the
// fetch already in flight returns the freshest window anyway.
//
// Instead of a settle delay after completion, the coordinator keeps a
// monotonic mutation version per conversation. Local writes bump the
// version; a completed fetch that started before the bump is discarded by
// the session and re-issued, which closes the event-ordering race without an
// arbitrary timer.
//
// All methods must be called from the session loop. Only the fetch itself
// runs concurrently.
type FetchCoordinator struct {
	fetch    fetchFunc
	complete func(fetchResult)
	spawn    func(func())
	pageSize int

	pending     map[string]bool
	versions    map[string]uint64
	lastApplied map[string]uint64
	seq         uint64
}

// NewFetchCoordinator creates a coordinator. complete is invoked with each
// finished fetch; it must route the result back into the session loop.
func NewFetchCoordinator(fetch fetchFunc, complete func(fetchResult), pageSize int) *FetchCoordinator {
	return &FetchCoordinator{
		fetch:       fetch,
		complete:    complete,
		spawn:       func(fn func()) { go fn() },
		pageSize:    pageSize,
		pending:     make(map[string]bool),
		versions:    make(map[string]uint64),
		lastApplied: make(map[string]uint64),
	}
}

// RequestRefresh starts a fetch of the most recent message window for the
// conversation. If a fetch for this conversation is already pending the call
// is dropped and false is returned.
func (fc *FetchCoordinator) RequestRefresh(ctx context.Context, conversationID string) bool {
	return fc.request(ctx, conversationID, 1)
}

// RequestPage starts a fetch of an older page. The same one-in-flight rule
// applies, shared with refreshes.
func (fc *FetchCoordinator) RequestPage(ctx context.Context, conversationID string, page int) bool {
	return fc.request(ctx, conversationID, page)
}

func (fc *FetchCoordinator) request(ctx context.Context, conversationID string, page int) bool {
	if fc.pending[conversationID] {
		jww.DEBUG.Printf("[SYNC] dropping fetch for %s page %d: already in flight",
			conversationID, page)
		return false
	}
	fc.pending[conversationID] = true
	fc.seq++

	seq := fc.seq
	version := fc.versions[conversationID]
	fc.spawn(func() {
		msgs, err := fc.fetch(ctx, conversationID, page, fc.pageSize)
		fc.complete(fetchResult{
			conversationID: conversationID,
			page:           page,
			seq:            seq,
			version:        version,
			messages:       msgs,
			err:            err,
		})
	})
	return true
}

// BumpVersion records a local mutation (send, delete, read) on the
// conversation. Fetches started before the bump will not be applied.
func (fc *FetchCoordinator) BumpVersion(conversationID string) {
	fc.versions[conversationID]++
}

// InFlight reports whether a fetch for the conversation is pending.
func (fc *FetchCoordinator) InFlight(conversationID string) bool {
	return fc.pending[conversationID]
}

// Finish clears the pending flag for a completed fetch. Must be called for
// every result, success or failure, before deciding whether to apply it.
func (fc *FetchCoordinator) Finish(res fetchResult) {
	delete(fc.pending, res.conversationID)
}

// Stale reports whether a local mutation occurred after the fetch started.
// A stale result must be discarded and, if the conversation is still open,
// re-requested.
func (fc *FetchCoordinator) Stale(res fetchResult) bool {
	return fc.versions[res.conversationID] != res.version
}

// Superseded reports whether a newer request for the same conversation has
// already been applied.
func (fc *FetchCoordinator) Superseded(res fetchResult) bool {
	return res.seq <= fc.lastApplied[res.conversationID]
}

// MarkApplied records that the result was applied to the message store.
func (fc *FetchCoordinator) MarkApplied(res fetchResult) {
	fc.lastApplied[res.conversationID] = res.seq
}

// Forget drops all bookkeeping for a conversation that no longer exists.
func (fc *FetchCoordinator) Forget(conversationID string) {
	delete(fc.pending, conversationID)
	delete(fc.versions, conversationID)
	delete(fc.lastApplied, conversationID)
}
