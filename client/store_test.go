package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/limeechian/parenting-app-sub004/internal/models"
)

var storeBase = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func conv(id string, lastMessageAt time.Time, unread int) models.Conversation {
	return models.Conversation{
		ID:            id,
		Participant:   models.Participant{ID: "peer-" + id, DisplayName: "Peer " + id},
		LastMessageAt: lastMessageAt,
		UnreadCount:   unread,
	}
}

func ids(convs []models.Conversation) []string {
	out := make([]string, len(convs))
	for i, c := range convs {
		out[i] = c.ID
	}
	return out
}

func TestConversationStoreUpsertOrdersByActivity(t *testing.T) {
	s := NewConversationStore()

	require.True(t, s.Upsert(conv("a", storeBase, 0)))
	require.True(t, s.Upsert(conv("b", storeBase.Add(time.Minute), 0)))
	require.True(t, s.Upsert(conv("c", storeBase.Add(2*time.Minute), 0)))
	require.Equal(t, []string{"c", "b", "a"}, ids(s.List()))

	// Strictly newer activity moves to head.
	require.True(t, s.Upsert(conv("a", storeBase.Add(3*time.Minute), 1)))
	require.Equal(t, []string{"a", "c", "b"}, ids(s.List()))
}

func TestConversationStoreUnreadChangeKeepsPosition(t *testing.T) {
	s := NewConversationStore()
	s.Upsert(conv("a", storeBase, 2))
	s.Upsert(conv("b", storeBase.Add(time.Minute), 0))

	// Same timestamp, unread dropped to 0 (a read ack): position preserved.
	require.False(t, s.Upsert(conv("a", storeBase, 0)))
	require.Equal(t, []string{"b", "a"}, ids(s.List()))

	got, ok := s.Get("a")
	require.True(t, ok)
	require.Equal(t, 0, got.UnreadCount)
}

func TestConversationStoreEqualTimestampDoesNotMove(t *testing.T) {
	s := NewConversationStore()
	s.Upsert(conv("a", storeBase, 0))
	s.Upsert(conv("b", storeBase.Add(time.Minute), 0))

	require.False(t, s.Upsert(conv("a", storeBase, 5)))
	require.Equal(t, []string{"b", "a"}, ids(s.List()))
}

func TestConversationStoreRemove(t *testing.T) {
	s := NewConversationStore()
	s.Upsert(conv("a", storeBase, 0))
	s.Upsert(conv("b", storeBase.Add(time.Minute), 0))

	require.True(t, s.Remove("a"))
	require.False(t, s.Remove("a"))
	require.Equal(t, []string{"b"}, ids(s.List()))
	_, ok := s.Get("a")
	require.False(t, ok)
}

func TestConversationStoreReplaceAllSortsMostRecentFirst(t *testing.T) {
	s := NewConversationStore()
	s.Upsert(conv("stale", storeBase, 9))

	s.ReplaceAll([]models.Conversation{
		conv("x", storeBase.Add(time.Minute), 1),
		conv("y", storeBase.Add(3*time.Minute), 0),
		conv("z", storeBase.Add(2*time.Minute), 2),
	})
	require.Equal(t, []string{"y", "z", "x"}, ids(s.List()))
	_, ok := s.Get("stale")
	require.False(t, ok)
}

func TestConversationStoreTotalUnread(t *testing.T) {
	s := NewConversationStore()
	require.Equal(t, 0, s.TotalUnread())
	s.Upsert(conv("a", storeBase, 2))
	s.Upsert(conv("b", storeBase.Add(time.Minute), 3))
	require.Equal(t, 5, s.TotalUnread())

	s.Upsert(conv("a", storeBase, 0))
	require.Equal(t, 3, s.TotalUnread())
}
