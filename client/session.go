package client

import (
	"context"
	"encoding/json"
	"fmt"

	jww "github.com/spf13/jwalterweatherman"

	"github.com/limeechian/parenting-app-sub004/internal/db"
	"github.com/limeechian/parenting-app-sub004/internal/models"
	"github.com/limeechian/parenting-app-sub004/internal/protocol"
)

// API is the slice of the backend contract the sync core consumes.
type API interface {
	FetchConversations(ctx context.Context) ([]models.Conversation, error)
	FetchMessages(ctx context.Context, conversationID string, page, pageSize int) ([]models.Message, error)
	SendMessage(ctx context.Context, conversationID, content string, attachmentIDs []string) (*models.Message, error)
	CreateConversation(ctx context.Context, otherUserID string) (*models.Conversation, error)
	MarkConversationRead(ctx context.Context, conversationID string) error
	DeleteConversation(ctx context.Context, conversationID string) error
	DeleteMessage(ctx context.Context, messageID string) error
	AddReaction(ctx context.Context, messageID, reactionType string) error
	RemoveReaction(ctx context.Context, messageID, reactionType string) error
}

// Notice is a non-fatal user-visible message (the toast equivalent).
type Notice struct {
	Level string `json:"level"` // "info" | "warn" | "error"
	Text  string `json:"text"`
}

// Snapshot is the observable state handed to a freshly connected UI.
type Snapshot struct {
	Conversations []models.Conversation
	TotalUnread   int
	OpenID        string
	Messages      []models.Message
	HasMore       bool
}

// Session owns all client-side messaging state. Every mutation runs on a
// single loop goroutine: stream envelopes, UI commands and fetch completions
// are posted as tasks, so handlers always see current state and the stores
// need no locks. Network calls never run on the loop; they complete by
// posting a task back.
type Session struct {
	api      API
	cache    *db.CacheDB // optional, may be nil
	userID   string
	pageSize int

	convs    *ConversationStore
	messages *MessageStore
	coord    *FetchCoordinator
	recon    *SyncReconciler

	openID string

	ctx   context.Context
	tasks chan func()
	post  func(func())
	spawn func(func())

	onConversations func(convs []models.Conversation, totalUnread int)
	onMessages      func(conversationID string, msgs []models.Message, hasMore bool)
	onSelection     func(conversationID string)
	onNotice        func(Notice)
	onStreamState   func(StreamState)
}

// NewSession creates a session. cache may be nil to run without the local
// snapshot cache.
func NewSession(api API, cache *db.CacheDB, userID string, pageSize int) *Session {
	if pageSize <= 0 {
		pageSize = 50
	}
	s := &Session{
		api:      api,
		cache:    cache,
		userID:   userID,
		pageSize: pageSize,
		convs:    NewConversationStore(),
		messages: NewMessageStore(),
		recon:    NewSyncReconciler(),
		ctx:      context.Background(),
		tasks:    make(chan func(), 256),
	}
	s.post = func(fn func()) { s.tasks <- fn }
	s.spawn = func(fn func()) { go fn() }
	s.coord = NewFetchCoordinator(
		func(ctx context.Context, conversationID string, page, pageSize int) ([]models.Message, error) {
			return s.api.FetchMessages(ctx, conversationID, page, pageSize)
		},
		func(res fetchResult) {
			s.post(func() { s.handleFetchResult(res) })
		},
		pageSize,
	)
	return s
}

// SetConversationsHandler sets the callback for conversation list updates.
func (s *Session) SetConversationsHandler(fn func([]models.Conversation, int)) {
	s.onConversations = fn
}

// SetMessagesHandler sets the callback for message list updates.
func (s *Session) SetMessagesHandler(fn func(string, []models.Message, bool)) {
	s.onMessages = fn
}

// SetSelectionHandler sets the callback for open-conversation changes.
func (s *Session) SetSelectionHandler(fn func(string)) {
	s.onSelection = fn
}

// SetNoticeHandler sets the callback for user-visible notices.
func (s *Session) SetNoticeHandler(fn func(Notice)) {
	s.onNotice = fn
}

// SetStreamStateHandler sets the callback for push-stream state changes.
func (s *Session) SetStreamStateHandler(fn func(StreamState)) {
	s.onStreamState = fn
}

// Run executes the session loop until ctx is canceled. Blocking.
func (s *Session) Run(ctx context.Context) {
	s.ctx = ctx
	s.seedFromCache()
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.tasks:
			fn()
		}
	}
}

// Snapshot returns the current observable state. Must only be called while
// the loop is running.
func (s *Session) Snapshot() Snapshot {
	ch := make(chan Snapshot, 1)
	s.post(func() {
		ch <- Snapshot{
			Conversations: s.convs.List(),
			TotalUnread:   s.convs.TotalUnread(),
			OpenID:        s.openID,
			Messages:      s.messages.Messages(),
			HasMore:       s.messages.HasMore(),
		}
	})
	return <-ch
}

// HandleEnvelope routes a push-stream envelope into the session loop. Wired
// as the StreamClient's envelope callback.
func (s *Session) HandleEnvelope(env *protocol.Envelope) {
	s.post(func() { s.handleEnvelope(env) })
}

// HandleStreamState routes a stream state change into the session loop.
func (s *Session) HandleStreamState(state StreamState, terminal bool) {
	s.post(func() { s.handleStreamState(state, terminal) })
}

// SelectConversation opens a conversation and fetches its recent window.
func (s *Session) SelectConversation(conversationID string) {
	s.post(func() { s.selectConversation(conversationID) })
}

// StartConversation opens (creating if needed) a conversation with a user.
func (s *Session) StartConversation(otherUserID string) {
	s.post(func() { s.startConversation(otherUserID) })
}

// SendMessage sends to the open conversation. attachmentIDs refer to
// previously uploaded attachments.
func (s *Session) SendMessage(content string, attachmentIDs []string) {
	s.post(func() { s.sendMessage(content, attachmentIDs) })
}

// LoadOlderMessages fetches the next older page for the open conversation.
func (s *Session) LoadOlderMessages() {
	s.post(func() { s.loadOlder() })
}

// DeleteConversation removes a conversation for the local user.
func (s *Session) DeleteConversation(conversationID string) {
	s.post(func() { s.deleteConversation(conversationID) })
}

// DeleteMessage soft-deletes a message for the local user.
func (s *Session) DeleteMessage(messageID string) {
	s.post(func() { s.deleteMessage(messageID) })
}

// AddReaction adds a reaction to a message in the open conversation.
func (s *Session) AddReaction(messageID, reactionType string) {
	s.post(func() { s.react(messageID, reactionType, true) })
}

// RemoveReaction removes the local user's reaction from a message.
func (s *Session) RemoveReaction(messageID, reactionType string) {
	s.post(func() { s.react(messageID, reactionType, false) })
}

// MarkRead acknowledges all messages in a conversation without refetching.
func (s *Session) MarkRead(conversationID string) {
	s.post(func() { s.markRead(conversationID) })
}

// SetViewportAtBottom records the browser viewport position.
func (s *Session) SetViewportAtBottom(atBottom bool) {
	s.post(func() { s.setViewport(atBottom) })
}

// ---- loop-side handlers ----

func (s *Session) handleEnvelope(env *protocol.Envelope) {
	switch env.Type {
	case protocol.EventConnected:
		var ev protocol.ConnectedEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			jww.WARN.Printf("[SYNC] bad connected payload: %v", err)
			return
		}
		s.convs.ReplaceAll(ev.Conversations)
		s.persistConversations()
		s.broadcastConversations()
		s.reconcileOpen()

	case protocol.EventNewMessage, protocol.EventMessageReaction:
		conv, ok := decodeConversationEvent(env.Data)
		if !ok {
			return
		}
		s.convs.Upsert(conv)
		s.persistConversations()
		s.broadcastConversations()
		if conv.ID == s.openID && s.coord.InFlight(s.openID) {
			// New content raced a fetch already in flight; that fetch may
			// predate it. Invalidate it so the refresh goes again.
			s.coord.BumpVersion(conv.ID)
		}
		s.reconcileOpen()

	case protocol.EventConversationUpdated:
		conv, ok := decodeConversationEvent(env.Data)
		if !ok {
			return
		}
		s.convs.Upsert(conv)
		s.persistConversations()
		s.broadcastConversations()
		if conv.ID == s.openID && s.coord.InFlight(s.openID) {
			// Adopt the fresh values now so the reconciler doesn't compare
			// stale-vs-fresh and fire again once the fetch settles.
			s.recon.OverwriteCheckpoint(conv)
		}
		s.reconcileOpen()

	case protocol.EventConversationDeleted:
		var ev protocol.ConversationDeletedEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			jww.WARN.Printf("[SYNC] bad conversation_deleted payload: %v", err)
			return
		}
		s.removeConversationLocally(ev.ConversationID)

	default:
		jww.WARN.Printf("[SYNC] ignoring unknown envelope type %q", env.Type)
	}
}

func decodeConversationEvent(data json.RawMessage) (models.Conversation, bool) {
	var ev protocol.ConversationUpdatedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		jww.WARN.Printf("[SYNC] bad conversation event payload: %v", err)
		return models.Conversation{}, false
	}
	if ev.Conversation.ID == "" {
		ev.Conversation.ID = ev.ConversationID
	}
	if ev.Conversation.ID == "" {
		jww.WARN.Printf("[SYNC] conversation event without id, dropping")
		return models.Conversation{}, false
	}
	return ev.Conversation, true
}

func (s *Session) handleStreamState(state StreamState, terminal bool) {
	if s.onStreamState != nil {
		s.onStreamState(state)
	}
	if terminal {
		// The stream is gone for good; fall back to one list poll so the
		// view does not silently rot.
		jww.INFO.Printf("[SYNC] stream closed terminally, polling conversation list")
		s.refreshConversationList()
	}
}

func (s *Session) refreshConversationList() {
	s.spawn(func() {
		convs, err := s.api.FetchConversations(s.ctx)
		s.post(func() {
			if err != nil {
				jww.ERROR.Printf("[SYNC] conversation list refresh failed: %v", err)
				s.notice("error", "Could not refresh conversations")
				return
			}
			s.convs.ReplaceAll(convs)
			s.persistConversations()
			s.broadcastConversations()
			s.reconcileOpen()
		})
	})
}

// reconcileOpen runs the reconciler against the open conversation's latest
// list state and requests a refetch when it says so.
func (s *Session) reconcileOpen() {
	if s.openID == "" {
		return
	}
	open, ok := s.convs.Get(s.openID)
	if !ok {
		return
	}
	if s.recon.Reconcile(open, s.coord.InFlight(s.openID)) {
		s.coord.RequestRefresh(s.ctx, s.openID)
	}
}

func (s *Session) handleFetchResult(res fetchResult) {
	s.coord.Finish(res)

	if res.err != nil {
		jww.ERROR.Printf("[SYNC] fetch for %s failed: %v", res.conversationID, res.err)
		s.notice("error", "Could not load messages")
		return
	}
	if res.conversationID != s.openID {
		// The user navigated away while this was in flight.
		jww.DEBUG.Printf("[SYNC] discarding fetch result for closed conversation %s",
			res.conversationID)
		return
	}

	if res.page > 1 {
		s.messages.Prepend(res.messages, len(res.messages) == s.pageSize)
		s.broadcastMessages()
		return
	}

	if s.coord.Superseded(res) {
		return
	}
	if s.coord.Stale(res) {
		// A write or fresh event landed after this fetch started; its
		// result is already out of date. Go again.
		s.coord.RequestRefresh(s.ctx, s.openID)
		return
	}

	s.messages.Replace(res.conversationID, res.messages, len(res.messages) == s.pageSize)
	s.coord.MarkApplied(res)

	// Loading messages marks them read on the backend; reflect that locally
	// and pin the checkpoint so the read echo is a non-event.
	if conv, ok := s.convs.Get(res.conversationID); ok {
		conv.UnreadCount = 0
		s.convs.Upsert(conv)
		s.recon.ResetCheckpoint(conv)
		s.persistConversations()
		s.broadcastConversations()
	}
	s.persistMessages(res.conversationID)
	s.broadcastMessages()
}

func (s *Session) selectConversation(conversationID string) {
	if conversationID == s.openID && s.coord.InFlight(conversationID) {
		return
	}
	s.openID = conversationID
	s.recon.Clear()
	s.recon.SetViewportAtBottom(true)
	s.messages.Clear()

	if conversationID == "" {
		s.broadcastSelection()
		s.broadcastMessages()
		return
	}

	// Seed from the cache while the fetch runs.
	if s.cache != nil {
		if msgs, err := s.cache.LoadMessages(conversationID); err != nil {
			jww.WARN.Printf("[CACHE] load messages for %s: %v", conversationID, err)
		} else if len(msgs) > 0 {
			s.messages.Replace(conversationID, msgs, true)
		}
	}
	s.broadcastSelection()
	s.broadcastMessages()
	s.coord.RequestRefresh(s.ctx, conversationID)
}

func (s *Session) startConversation(otherUserID string) {
	s.spawn(func() {
		conv, err := s.api.CreateConversation(s.ctx, otherUserID)
		s.post(func() {
			if err != nil {
				jww.ERROR.Printf("[SYNC] create conversation with %s failed: %v", otherUserID, err)
				s.notice("error", "Could not start conversation")
				return
			}
			s.convs.Upsert(*conv)
			s.persistConversations()
			s.broadcastConversations()
			s.selectConversation(conv.ID)
		})
	})
}

func (s *Session) sendMessage(content string, attachmentIDs []string) {
	if s.openID == "" {
		s.notice("warn", "No conversation selected")
		return
	}
	conversationID := s.openID
	s.spawn(func() {
		_, err := s.api.SendMessage(s.ctx, conversationID, content, attachmentIDs)
		s.post(func() {
			if err != nil {
				jww.ERROR.Printf("[SYNC] send to %s failed: %v", conversationID, err)
				s.notice("error", "Message could not be sent")
				return
			}
			// Confirm-then-refetch: we do not trust the push echo to beat
			// us here, so issue our own refresh.
			s.coord.BumpVersion(conversationID)
			if conversationID == s.openID {
				s.coord.RequestRefresh(s.ctx, conversationID)
			}
		})
	})
}

func (s *Session) loadOlder() {
	if s.openID == "" || !s.messages.HasMore() {
		return
	}
	s.coord.RequestPage(s.ctx, s.openID, s.messages.Page()+1)
}

func (s *Session) deleteConversation(conversationID string) {
	s.spawn(func() {
		err := s.api.DeleteConversation(s.ctx, conversationID)
		s.post(func() {
			if err != nil {
				jww.ERROR.Printf("[SYNC] delete conversation %s failed: %v", conversationID, err)
				s.notice("error", "Could not delete conversation")
				return
			}
			s.removeConversationLocally(conversationID)
		})
	})
}

func (s *Session) deleteMessage(messageID string) {
	s.spawn(func() {
		err := s.api.DeleteMessage(s.ctx, messageID)
		s.post(func() {
			if err != nil {
				jww.ERROR.Printf("[SYNC] delete message %s failed: %v", messageID, err)
				s.notice("error", "Could not delete message")
				return
			}
			// Per-viewer soft delete: drop it locally, the other side keeps it.
			conversationID := s.messages.ConversationID()
			if s.messages.Remove(messageID) && conversationID != "" {
				s.coord.BumpVersion(conversationID)
				s.persistMessages(conversationID)
			}
			s.broadcastMessages()
		})
	})
}

func (s *Session) react(messageID, reactionType string, add bool) {
	conversationID := s.openID
	s.spawn(func() {
		var err error
		if add {
			err = s.api.AddReaction(s.ctx, messageID, reactionType)
		} else {
			err = s.api.RemoveReaction(s.ctx, messageID, reactionType)
		}
		s.post(func() {
			if err != nil {
				jww.ERROR.Printf("[SYNC] reaction on %s failed: %v", messageID, err)
				s.notice("error", "Could not update reaction")
				return
			}
			if conversationID != "" {
				s.coord.BumpVersion(conversationID)
				if conversationID == s.openID {
					s.coord.RequestRefresh(s.ctx, conversationID)
				}
			}
		})
	})
}

func (s *Session) markRead(conversationID string) {
	s.spawn(func() {
		err := s.api.MarkConversationRead(s.ctx, conversationID)
		s.post(func() {
			if err != nil {
				jww.ERROR.Printf("[SYNC] mark read %s failed: %v", conversationID, err)
				s.notice("error", "Could not mark conversation read")
				return
			}
			s.coord.BumpVersion(conversationID)
			conv, ok := s.convs.Get(conversationID)
			if !ok {
				return
			}
			conv.UnreadCount = 0
			s.convs.Upsert(conv)
			if conversationID == s.openID {
				// The read echo from the server must not look like a change.
				s.recon.OverwriteCheckpoint(conv)
			}
			s.persistConversations()
			s.broadcastConversations()
		})
	})
}

func (s *Session) setViewport(atBottom bool) {
	wasAtBottom := s.recon.ViewportAtBottom()
	s.recon.SetViewportAtBottom(atBottom)
	if atBottom && !wasAtBottom {
		s.catchUpIfBehind()
	}
}

// catchUpIfBehind refetches when the user scrolls back down after activity
// arrived while they were scrolled up (the reconciler intentionally skipped
// it to preserve their scroll position).
func (s *Session) catchUpIfBehind() {
	if s.openID == "" {
		return
	}
	conv, ok := s.convs.Get(s.openID)
	if !ok {
		return
	}
	msgs := s.messages.Messages()
	if len(msgs) == 0 {
		return
	}
	if conv.LastMessageAt.After(msgs[len(msgs)-1].CreatedAt) {
		s.coord.RequestRefresh(s.ctx, s.openID)
	}
}

func (s *Session) removeConversationLocally(conversationID string) {
	if !s.convs.Remove(conversationID) {
		return
	}
	s.coord.Forget(conversationID)
	if s.cache != nil {
		if err := s.cache.DeleteConversation(conversationID); err != nil {
			jww.WARN.Printf("[CACHE] delete conversation %s: %v", conversationID, err)
		}
	}
	if conversationID == s.openID {
		s.openID = ""
		s.messages.Clear()
		s.recon.Clear()
		s.broadcastSelection()
		s.broadcastMessages()
	}
	s.broadcastConversations()
}

func (s *Session) seedFromCache() {
	if s.cache == nil {
		return
	}
	convs, err := s.cache.LoadConversations()
	if err != nil {
		jww.WARN.Printf("[CACHE] load conversation snapshot: %v", err)
		return
	}
	if len(convs) == 0 {
		return
	}
	s.convs.ReplaceAll(convs)
	s.broadcastConversations()
}

// ---- broadcast and persistence helpers ----

func (s *Session) broadcastConversations() {
	if s.onConversations != nil {
		s.onConversations(s.convs.List(), s.convs.TotalUnread())
	}
}

func (s *Session) broadcastMessages() {
	if s.onMessages != nil {
		s.onMessages(s.messages.ConversationID(), s.messages.Messages(), s.messages.HasMore())
	}
}

func (s *Session) broadcastSelection() {
	if s.onSelection != nil {
		s.onSelection(s.openID)
	}
}

func (s *Session) notice(level, format string, args ...interface{}) {
	if s.onNotice != nil {
		s.onNotice(Notice{Level: level, Text: fmt.Sprintf(format, args...)})
	}
}

func (s *Session) persistConversations() {
	if s.cache == nil {
		return
	}
	if err := s.cache.SaveConversations(s.convs.List()); err != nil {
		jww.WARN.Printf("[CACHE] save conversation snapshot: %v", err)
	}
}

func (s *Session) persistMessages(conversationID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SaveMessages(conversationID, s.messages.Messages()); err != nil {
		jww.WARN.Printf("[CACHE] save messages for %s: %v", conversationID, err)
	}
}
