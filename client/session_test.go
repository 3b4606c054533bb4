package client

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/limeechian/parenting-app-sub004/internal/models"
	"github.com/limeechian/parenting-app-sub004/internal/protocol"
)

var sessBase = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

// fakeAPI serves canned data and records every backend call.
type fakeAPI struct {
	convs []models.Conversation
	msgs  map[string][]models.Message
	pages map[int][]models.Message // optional per-page override

	fetchCalls   map[string]int
	listCalls    int
	sent         []string
	marked       []string
	deletedConvs []string
	deletedMsgs  []string
	reactions    []string

	fetchErr error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		msgs:       make(map[string][]models.Message),
		fetchCalls: make(map[string]int),
	}
}

func (f *fakeAPI) FetchConversations(ctx context.Context) ([]models.Conversation, error) {
	f.listCalls++
	return f.convs, nil
}

func (f *fakeAPI) FetchMessages(ctx context.Context, conversationID string, page, pageSize int) ([]models.Message, error) {
	f.fetchCalls[conversationID]++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if override, ok := f.pages[page]; ok {
		return override, nil
	}
	return f.msgs[conversationID], nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, conversationID, content string, attachmentIDs []string) (*models.Message, error) {
	f.sent = append(f.sent, content)
	return &models.Message{ID: "sent-1", ConversationID: conversationID, Content: content}, nil
}

func (f *fakeAPI) CreateConversation(ctx context.Context, otherUserID string) (*models.Conversation, error) {
	c := conv("with-"+otherUserID, sessBase, 0)
	return &c, nil
}

func (f *fakeAPI) MarkConversationRead(ctx context.Context, conversationID string) error {
	f.marked = append(f.marked, conversationID)
	return nil
}

func (f *fakeAPI) DeleteConversation(ctx context.Context, conversationID string) error {
	f.deletedConvs = append(f.deletedConvs, conversationID)
	return nil
}

func (f *fakeAPI) DeleteMessage(ctx context.Context, messageID string) error {
	f.deletedMsgs = append(f.deletedMsgs, messageID)
	return nil
}

func (f *fakeAPI) AddReaction(ctx context.Context, messageID, reactionType string) error {
	f.reactions = append(f.reactions, "+"+reactionType)
	return nil
}

func (f *fakeAPI) RemoveReaction(ctx context.Context, messageID, reactionType string) error {
	f.reactions = append(f.reactions, "-"+reactionType)
	return nil
}

func msgIn(id, conversationID string, createdAt time.Time) models.Message {
	m := msg(id, createdAt)
	m.ConversationID = conversationID
	return m
}

// newSyncSession runs everything inline on the test goroutine: tasks,
// spawned calls and coordinated fetches all execute immediately.
func newSyncSession(api API) *Session {
	s := NewSession(api, nil, "me", 50)
	s.post = func(fn func()) { fn() }
	s.spawn = func(fn func()) { fn() }
	s.coord.spawn = func(fn func()) { fn() }
	return s
}

// newPendingSession is like newSyncSession but queues coordinated fetches
// behind a manualSpawner, so tests control when fetches complete.
func newPendingSession(api API) (*Session, *manualSpawner) {
	s := newSyncSession(api)
	ms := &manualSpawner{}
	s.coord.spawn = ms.spawn
	return s, ms
}

func mustEnvelope(t *testing.T, eventType protocol.EventType, payload interface{}) *protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(eventType, payload)
	require.NoError(t, err)
	return env
}

func convEnvelope(t *testing.T, eventType protocol.EventType, c models.Conversation) *protocol.Envelope {
	t.Helper()
	return mustEnvelope(t, eventType, protocol.ConversationUpdatedEvent{
		ConversationID: c.ID,
		Conversation:   c,
	})
}

func connect(t *testing.T, s *Session, convs ...models.Conversation) {
	t.Helper()
	s.handleEnvelope(mustEnvelope(t, protocol.EventConnected, protocol.ConnectedEvent{Conversations: convs}))
}

func TestSessionConnectedSnapshotReplacesList(t *testing.T) {
	api := newFakeAPI()
	s := newSyncSession(api)

	var gotIDs []string
	var gotUnread int
	s.SetConversationsHandler(func(convs []models.Conversation, totalUnread int) {
		gotIDs = ids(convs)
		gotUnread = totalUnread
	})

	connect(t, s,
		conv("c1", sessBase, 2),
		conv("c2", sessBase.Add(time.Minute), 1),
	)

	require.Equal(t, []string{"c2", "c1"}, ids(s.convs.List()))
	require.Equal(t, []string{"c2", "c1"}, gotIDs)
	require.Equal(t, 3, gotUnread)
}

func TestSessionIgnoresUnknownEnvelope(t *testing.T) {
	api := newFakeAPI()
	s := newSyncSession(api)
	connect(t, s, conv("c1", sessBase, 0))

	s.handleEnvelope(&protocol.Envelope{Type: "typing_indicator"})
	require.Equal(t, 1, s.convs.Len())
}

func TestSessionSelectLoadsWindowAndMarksRead(t *testing.T) {
	api := newFakeAPI()
	api.msgs["c1"] = []models.Message{
		msgIn("m1", "c1", sessBase.Add(-time.Minute)),
		msgIn("m2", "c1", sessBase),
	}
	s := newSyncSession(api)
	connect(t, s, conv("c1", sessBase, 2))

	var selected string
	s.SetSelectionHandler(func(id string) { selected = id })

	s.selectConversation("c1")

	require.Equal(t, 1, api.fetchCalls["c1"])
	require.Equal(t, []string{"m1", "m2"}, msgIDs(s.messages.Messages()))
	require.Equal(t, "c1", selected)

	// Fetching marks the thread read server-side; the local summary and the
	// checkpoint both reflect that immediately.
	c, ok := s.convs.Get("c1")
	require.True(t, ok)
	require.Equal(t, 0, c.UnreadCount)

	cp := s.recon.Checkpoint()
	require.NotNil(t, cp)
	require.Equal(t, "c1", cp.ConversationID)
	require.Equal(t, 0, cp.UnreadCount)
	require.True(t, cp.LastMessageAt.Equal(sessBase))
}

func TestSessionReadEchoAfterLoadDoesNotRefetch(t *testing.T) {
	api := newFakeAPI()
	api.msgs["c1"] = []models.Message{msgIn("m1", "c1", sessBase)}
	s := newSyncSession(api)
	connect(t, s, conv("c1", sessBase, 2))
	s.selectConversation("c1")
	require.Equal(t, 1, api.fetchCalls["c1"])

	// The server acknowledges the read triggered by the fetch. Unread drops,
	// nothing else changes, and no new fetch may fire.
	s.handleEnvelope(convEnvelope(t, protocol.EventConversationUpdated, conv("c1", sessBase, 0)))
	require.Equal(t, 1, api.fetchCalls["c1"])
}

func TestSessionNewMessageAtBottomRefetchesOnce(t *testing.T) {
	api := newFakeAPI()
	api.msgs["c1"] = []models.Message{msgIn("m1", "c1", sessBase)}
	s := newSyncSession(api)
	connect(t, s, conv("c1", sessBase, 0))
	s.selectConversation("c1")
	require.Equal(t, 1, api.fetchCalls["c1"])

	later := sessBase.Add(time.Minute)
	api.msgs["c1"] = append(api.msgs["c1"], msgIn("m2", "c1", later))

	s.handleEnvelope(mustEnvelope(t, protocol.EventNewMessage, protocol.NewMessageEvent{
		ConversationID: "c1",
		Conversation:   conv("c1", later, 1),
	}))

	require.Equal(t, 2, api.fetchCalls["c1"])
	require.Equal(t, []string{"m1", "m2"}, msgIDs(s.messages.Messages()))

	c, _ := s.convs.Get("c1")
	require.Equal(t, 0, c.UnreadCount)

	// The read echo for the refetch is again a non-event.
	s.handleEnvelope(convEnvelope(t, protocol.EventConversationUpdated, conv("c1", later, 0)))
	require.Equal(t, 2, api.fetchCalls["c1"])
}

func TestSessionScrolledUpDefersRefetchUntilScrollDown(t *testing.T) {
	api := newFakeAPI()
	api.msgs["c1"] = []models.Message{msgIn("m1", "c1", sessBase)}
	s := newSyncSession(api)
	connect(t, s, conv("c1", sessBase, 0))
	s.selectConversation("c1")
	require.Equal(t, 1, api.fetchCalls["c1"])

	s.setViewport(false)

	later := sessBase.Add(time.Minute)
	api.msgs["c1"] = append(api.msgs["c1"], msgIn("m2", "c1", later))
	s.handleEnvelope(mustEnvelope(t, protocol.EventNewMessage, protocol.NewMessageEvent{
		ConversationID: "c1",
		Conversation:   conv("c1", later, 1),
	}))

	// Scrolled up: the list updates but the thread is left alone.
	require.Equal(t, 1, api.fetchCalls["c1"])
	require.Equal(t, []string{"m1"}, msgIDs(s.messages.Messages()))
	c, _ := s.convs.Get("c1")
	require.True(t, c.LastMessageAt.Equal(later))

	// Scrolling back down catches up on the skipped activity.
	s.setViewport(true)
	require.Equal(t, 2, api.fetchCalls["c1"])
	require.Equal(t, []string{"m1", "m2"}, msgIDs(s.messages.Messages()))
}

func TestSessionEventsDuringFetchKeepSingleFlight(t *testing.T) {
	api := newFakeAPI()
	api.msgs["c1"] = []models.Message{msgIn("m1", "c1", sessBase)}
	s, ms := newPendingSession(api)
	connect(t, s, conv("c1", sessBase, 0))

	s.selectConversation("c1")
	require.Len(t, ms.queue, 1)

	// Two push events land while the fetch is still out. Neither may start
	// another fetch now.
	s.handleEnvelope(mustEnvelope(t, protocol.EventNewMessage, protocol.NewMessageEvent{
		ConversationID: "c1",
		Conversation:   conv("c1", sessBase.Add(time.Second), 1),
	}))
	s.handleEnvelope(mustEnvelope(t, protocol.EventNewMessage, protocol.NewMessageEvent{
		ConversationID: "c1",
		Conversation:   conv("c1", sessBase.Add(2*time.Second), 2),
	}))
	require.Len(t, ms.queue, 1)

	api.msgs["c1"] = append(api.msgs["c1"],
		msgIn("m2", "c1", sessBase.Add(time.Second)),
		msgIn("m3", "c1", sessBase.Add(2*time.Second)))

	// The first fetch predates the new messages, so applying it would hide
	// them. It is discarded and one follow-up fetch brings the thread current.
	ms.flush()
	require.Equal(t, 2, api.fetchCalls["c1"])
	require.Equal(t, []string{"m1", "m2", "m3"}, msgIDs(s.messages.Messages()))
	require.False(t, s.coord.InFlight("c1"))
}

func TestSessionSwitchDiscardsStaleFetch(t *testing.T) {
	api := newFakeAPI()
	api.msgs["c1"] = []models.Message{msgIn("m1", "c1", sessBase)}
	api.msgs["c2"] = []models.Message{msgIn("n1", "c2", sessBase)}
	s, ms := newPendingSession(api)
	connect(t, s, conv("c1", sessBase, 0), conv("c2", sessBase.Add(time.Minute), 0))

	s.selectConversation("c1")
	s.selectConversation("c2")

	// Both fetches complete; the c1 result arrives after the user moved on
	// and must not clobber the c2 thread.
	ms.flush()
	require.Equal(t, 1, api.fetchCalls["c1"])
	require.Equal(t, 1, api.fetchCalls["c2"])
	require.Equal(t, "c2", s.messages.ConversationID())
	require.Equal(t, []string{"n1"}, msgIDs(s.messages.Messages()))
}

func TestSessionSendInvalidatesInFlightFetch(t *testing.T) {
	api := newFakeAPI()
	api.msgs["c1"] = []models.Message{msgIn("m1", "c1", sessBase)}
	s, ms := newPendingSession(api)
	connect(t, s, conv("c1", sessBase, 0))

	s.selectConversation("c1")
	require.Len(t, ms.queue, 1)

	// The send confirms while the select's fetch is still out. Its refresh
	// request is deduplicated, but the version bump forces a re-fetch once
	// the pending one returns without the sent message.
	s.sendMessage("are you free tomorrow?", nil)
	require.Equal(t, []string{"are you free tomorrow?"}, api.sent)
	require.Len(t, ms.queue, 1)

	api.msgs["c1"] = append(api.msgs["c1"], msgIn("sent-1", "c1", sessBase.Add(time.Second)))
	ms.flush()

	require.Equal(t, 2, api.fetchCalls["c1"])
	require.Equal(t, []string{"m1", "sent-1"}, msgIDs(s.messages.Messages()))
}

func TestSessionMarkReadNeverRefetches(t *testing.T) {
	api := newFakeAPI()
	api.msgs["c1"] = []models.Message{msgIn("m1", "c1", sessBase)}
	s := newSyncSession(api)
	connect(t, s, conv("c1", sessBase, 0), conv("c2", sessBase.Add(time.Minute), 3))
	s.selectConversation("c1")
	require.Equal(t, 1, api.fetchCalls["c1"])

	s.markRead("c2")
	require.Equal(t, []string{"c2"}, api.marked)
	require.Equal(t, 0, api.fetchCalls["c2"])

	c2, _ := s.convs.Get("c2")
	require.Equal(t, 0, c2.UnreadCount)
	require.Equal(t, 0, s.convs.TotalUnread())

	// The ack echo for a background conversation changes nothing.
	s.handleEnvelope(convEnvelope(t, protocol.EventConversationUpdated, conv("c2", sessBase.Add(time.Minute), 0)))
	require.Equal(t, 0, api.fetchCalls["c2"])
	require.Equal(t, 1, api.fetchCalls["c1"])
}

func TestSessionDeleteMessageIsLocalOnly(t *testing.T) {
	api := newFakeAPI()
	api.msgs["c1"] = []models.Message{
		msgIn("m1", "c1", sessBase),
		msgIn("m2", "c1", sessBase.Add(time.Second)),
	}
	s := newSyncSession(api)
	connect(t, s, conv("c1", sessBase.Add(time.Second), 0))
	s.selectConversation("c1")
	require.Equal(t, 1, api.fetchCalls["c1"])

	s.DeleteMessage("m1")

	require.Equal(t, []string{"m1"}, api.deletedMsgs)
	require.Equal(t, []string{"m2"}, msgIDs(s.messages.Messages()))
	// Removal is local; no window refetch follows.
	require.Equal(t, 1, api.fetchCalls["c1"])
	// The other participant's copy is untouched.
	require.Len(t, api.msgs["c1"], 2)
}

func TestSessionConversationDeletedClearsOpenState(t *testing.T) {
	api := newFakeAPI()
	api.msgs["c1"] = []models.Message{msgIn("m1", "c1", sessBase)}
	s := newSyncSession(api)
	connect(t, s, conv("c1", sessBase, 0), conv("c2", sessBase.Add(time.Minute), 0))
	s.selectConversation("c1")

	s.handleEnvelope(mustEnvelope(t, protocol.EventConversationDeleted,
		protocol.ConversationDeletedEvent{ConversationID: "c1"}))

	require.Equal(t, "", s.openID)
	require.Empty(t, s.messages.Messages())
	require.Nil(t, s.recon.Checkpoint())
	require.Equal(t, []string{"c2"}, ids(s.convs.List()))
}

func TestSessionDeleteConversationRemovesLocally(t *testing.T) {
	api := newFakeAPI()
	s := newSyncSession(api)
	connect(t, s, conv("c1", sessBase, 0))
	s.selectConversation("c1")

	s.DeleteConversation("c1")

	require.Equal(t, []string{"c1"}, api.deletedConvs)
	require.Equal(t, 0, s.convs.Len())
	require.Equal(t, "", s.openID)
}

func TestSessionTerminalStreamCloseFallsBackToList(t *testing.T) {
	api := newFakeAPI()
	api.convs = []models.Conversation{conv("c1", sessBase, 1)}
	s := newSyncSession(api)

	s.handleStreamState(StreamClosed, false)
	require.Equal(t, 0, api.listCalls)

	s.handleStreamState(StreamClosed, true)
	require.Equal(t, 1, api.listCalls)
	require.Equal(t, []string{"c1"}, ids(s.convs.List()))
}

func TestSessionLoadOlderPrepends(t *testing.T) {
	api := newFakeAPI()
	api.msgs["c1"] = []models.Message{
		msgIn("m3", "c1", sessBase.Add(2*time.Second)),
		msgIn("m4", "c1", sessBase.Add(3*time.Second)),
	}
	api.pages = map[int][]models.Message{
		2: {msgIn("m1", "c1", sessBase), msgIn("m2", "c1", sessBase.Add(time.Second))},
	}

	s := NewSession(api, nil, "me", 2)
	s.post = func(fn func()) { fn() }
	s.spawn = func(fn func()) { fn() }
	s.coord.spawn = func(fn func()) { fn() }

	connect(t, s, conv("c1", sessBase.Add(3*time.Second), 0))
	s.selectConversation("c1")
	require.True(t, s.messages.HasMore())

	s.loadOlder()
	require.Equal(t, []string{"m1", "m2", "m3", "m4"}, msgIDs(s.messages.Messages()))
	require.Equal(t, 2, s.messages.Page())
}

func TestSessionStartConversationSelectsIt(t *testing.T) {
	api := newFakeAPI()
	s := newSyncSession(api)

	s.startConversation("parent-9")

	require.Equal(t, "with-parent-9", s.openID)
	require.Equal(t, []string{"with-parent-9"}, ids(s.convs.List()))
	require.Equal(t, 1, api.fetchCalls["with-parent-9"])
}

func TestSessionFetchErrorSurfacesNotice(t *testing.T) {
	api := newFakeAPI()
	api.fetchErr = errors.New("backend unavailable")
	s := newSyncSession(api)

	var notices []Notice
	s.SetNoticeHandler(func(n Notice) { notices = append(notices, n) })

	connect(t, s, conv("c1", sessBase, 1))
	s.selectConversation("c1")

	require.Len(t, notices, 1)
	require.Equal(t, "error", notices[0].Level)
	require.Empty(t, s.messages.Messages())
	require.False(t, s.coord.InFlight("c1"))

	// The failure does not wedge the conversation; the next attempt works.
	api.fetchErr = nil
	api.msgs["c1"] = []models.Message{msgIn("m1", "c1", sessBase)}
	s.selectConversation("c1")
	require.Equal(t, []string{"m1"}, msgIDs(s.messages.Messages()))
}

func TestSessionReactionRefreshesOpenThread(t *testing.T) {
	api := newFakeAPI()
	api.msgs["c1"] = []models.Message{msgIn("m1", "c1", sessBase)}
	s := newSyncSession(api)
	connect(t, s, conv("c1", sessBase, 0))
	s.selectConversation("c1")
	require.Equal(t, 1, api.fetchCalls["c1"])

	s.react("m1", "heart", true)
	require.Equal(t, []string{"+heart"}, api.reactions)
	require.Equal(t, 2, api.fetchCalls["c1"])

	s.react("m1", "heart", false)
	require.Equal(t, []string{"+heart", "-heart"}, api.reactions)
	require.Equal(t, 3, api.fetchCalls["c1"])
}
