package client

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	jww "github.com/spf13/jwalterweatherman"

	"github.com/limeechian/parenting-app-sub004/internal/db"
	"github.com/limeechian/parenting-app-sub004/internal/models"
	"github.com/limeechian/parenting-app-sub004/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// UIHandler bridges the browser UI and the session: it accepts UI commands
// over a websocket and pushes observable-state envelopes back out. All
// rendering happens in the browser; this only moves state.
type UIHandler struct {
	session   *Session
	cache     *db.CacheDB
	uiClients map[*websocket.Conn]bool
	uiMu      sync.RWMutex
	broadcast chan []byte
}

// NewUIHandler creates a UI handler wired to the session's update callbacks.
func NewUIHandler(session *Session, cache *db.CacheDB) *UIHandler {
	h := &UIHandler{
		session:   session,
		cache:     cache,
		uiClients: make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, 256),
	}

	session.SetConversationsHandler(func(convs []models.Conversation, totalUnread int) {
		h.broadcastToUI(mustMarshal(map[string]interface{}{
			"type":          "conversations",
			"conversations": convs,
			"total_unread":  totalUnread,
		}))
	})
	session.SetMessagesHandler(func(conversationID string, msgs []models.Message, hasMore bool) {
		h.broadcastToUI(mustMarshal(map[string]interface{}{
			"type":            "messages",
			"conversation_id": conversationID,
			"messages":        msgs,
			"has_more":        hasMore,
		}))
	})
	session.SetSelectionHandler(func(conversationID string) {
		h.broadcastToUI(mustMarshal(map[string]interface{}{
			"type":            "selection",
			"conversation_id": conversationID,
		}))
	})
	session.SetNoticeHandler(func(n Notice) {
		h.broadcastToUI(mustMarshal(map[string]interface{}{
			"type":   "notice",
			"notice": n,
		}))
	})
	session.SetStreamStateHandler(func(state StreamState) {
		h.broadcastToUI(mustMarshal(map[string]interface{}{
			"type":  "stream_state",
			"state": state,
		}))
	})

	go h.runBroadcast()
	return h
}

func (h *UIHandler) runBroadcast() {
	for data := range h.broadcast {
		var dead []*websocket.Conn
		h.uiMu.RLock()
		for conn := range h.uiClients {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				dead = append(dead, conn)
			}
		}
		h.uiMu.RUnlock()

		if len(dead) > 0 {
			h.uiMu.Lock()
			for _, conn := range dead {
				conn.Close()
				delete(h.uiClients, conn)
			}
			h.uiMu.Unlock()
		}
	}
}

func (h *UIHandler) broadcastToUI(data []byte) {
	select {
	case h.broadcast <- data:
	default:
		// Drop if buffer full
	}
}

// HandleWebSocket handles websocket connections from the browser UI.
func (h *UIHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		jww.WARN.Printf("[UI] websocket upgrade failed: %v", err)
		return
	}

	h.uiMu.Lock()
	h.uiClients[conn] = true
	h.uiMu.Unlock()

	h.sendInitialState(conn)
	go h.readCommands(conn)
}

func (h *UIHandler) sendInitialState(conn *websocket.Conn) {
	snap := h.session.Snapshot()
	conn.WriteJSON(map[string]interface{}{
		"type":          "conversations",
		"conversations": snap.Conversations,
		"total_unread":  snap.TotalUnread,
	})
	conn.WriteJSON(map[string]interface{}{
		"type":            "selection",
		"conversation_id": snap.OpenID,
	})
	if snap.OpenID != "" {
		conn.WriteJSON(map[string]interface{}{
			"type":            "messages",
			"conversation_id": snap.OpenID,
			"messages":        snap.Messages,
			"has_more":        snap.HasMore,
		})
	}
}

func (h *UIHandler) readCommands(conn *websocket.Conn) {
	defer func() {
		h.uiMu.Lock()
		delete(h.uiClients, conn)
		h.uiMu.Unlock()
		conn.Close()
	}()

	for {
		var cmd protocol.UICommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				jww.WARN.Printf("[UI] websocket error: %v", err)
			}
			return
		}
		h.dispatch(cmd)
	}
}

func (h *UIHandler) dispatch(cmd protocol.UICommand) {
	switch cmd.Type {
	case protocol.UISelectConversation:
		h.session.SelectConversation(cmd.ConversationID)
	case protocol.UIStartConversation:
		h.session.StartConversation(cmd.UserID)
	case protocol.UISendMessage:
		h.session.SendMessage(cmd.Content, cmd.AttachmentIDs)
	case protocol.UILoadOlder:
		h.session.LoadOlderMessages()
	case protocol.UIDeleteConversation:
		h.session.DeleteConversation(cmd.ConversationID)
	case protocol.UIDeleteMessage:
		h.session.DeleteMessage(cmd.MessageID)
	case protocol.UIAddReaction:
		h.session.AddReaction(cmd.MessageID, cmd.Reaction)
	case protocol.UIRemoveReaction:
		h.session.RemoveReaction(cmd.MessageID, cmd.Reaction)
	case protocol.UIMarkRead:
		h.session.MarkRead(cmd.ConversationID)
	case protocol.UIViewport:
		h.session.SetViewportAtBottom(cmd.AtBottom)
	default:
		jww.WARN.Printf("[UI] unknown command type %q", cmd.Type)
	}
}

func mustMarshal(v interface{}) []byte {
	data, _ := json.Marshal(v)
	return data
}

// HandlePreferences handles UI preference reads and writes, backed by the
// local cache so the browser keeps its settings across sessions.
func (h *UIHandler) HandlePreferences(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		http.Error(w, "preferences unavailable", http.StatusServiceUnavailable)
		return
	}

	switch r.Method {
	case http.MethodGet:
		key := r.URL.Query().Get("key")
		if key == "" {
			http.Error(w, "Missing key", http.StatusBadRequest)
			return
		}
		value, err := h.cache.GetPreference(key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"value": value})

	case http.MethodPut:
		var req struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
		if err := h.cache.SetPreference(req.Key, req.Value); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
