// Package server is an in-process development backend implementing the
// messaging contract the client daemon consumes: the REST endpoints, their
// side effects, and the push stream. The production backend lives elsewhere;
// this stands in for it in tests and local development.
package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/pkg/errors"

	"github.com/limeechian/parenting-app-sub004/internal/models"
	"github.com/limeechian/parenting-app-sub004/internal/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server wires the store, the push hub and the HTTP surface together.
type Server struct {
	store *Store
	hub   *Hub
}

// New creates a server around a store.
func New(store *Store) *Server {
	return &Server{store: store, hub: NewHub()}
}

// Store exposes the underlying data store, mainly for test setup.
func (s *Server) Store() *Store {
	return s.store
}

// Router builds the HTTP routing table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/conversations", s.handleListConversations).Methods(http.MethodGet)
	r.HandleFunc("/conversations", s.handleCreateConversation).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}/messages", s.handleFetchMessages).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}/messages", s.handleSendMessage).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}/read", s.handleMarkRead).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}", s.handleDeleteConversation).Methods(http.MethodDelete)
	r.HandleFunc("/messages/{id}", s.handleDeleteMessage).Methods(http.MethodDelete)
	r.HandleFunc("/messages/{id}/reactions", s.handleAddReaction).Methods(http.MethodPost)
	r.HandleFunc("/messages/{id}/reactions/{type}", s.handleRemoveReaction).Methods(http.MethodDelete)
	r.HandleFunc("/messages/{id}/attachments", s.handleUploadAttachment).Methods(http.MethodPost)
	r.HandleFunc("/stream", s.handleStream)

	admin := NewAdminHandler(s.store)
	r.HandleFunc("/admin/users", admin.HandleUsers).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/admin/seed", admin.HandleSeed).Methods(http.MethodPost)
	r.HandleFunc("/admin/reset", admin.HandleReset).Methods(http.MethodPost)
	return r
}

// userFrom resolves the caller's identity. The stub accepts the bearer token
// as the user id directly; real auth belongs to the production backend.
func (s *Server) userFrom(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("user")
}

func (s *Server) authed(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := s.userFrom(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing credentials")
		return "", false
	}
	return userID, true
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// pushSummary sends the user their current view of a conversation.
func (s *Server) pushSummary(userID, conversationID string, eventType protocol.EventType) {
	conv, err := s.store.Summary(userID, conversationID)
	if err != nil {
		return
	}
	s.hub.SendToUser(userID, eventType, protocol.ConversationUpdatedEvent{
		ConversationID: conversationID,
		Conversation:   conv,
	})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authed(w, r)
	if !ok {
		return
	}
	convs := s.store.ListConversations(userID)
	if convs == nil {
		convs = []models.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authed(w, r)
	if !ok {
		return
	}
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing user_id")
		return
	}
	conv, err := s.store.CreateConversation(userID, req.UserID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.pushSummary(req.UserID, conv.ID, protocol.EventConversationUpdated)
	writeJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleFetchMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authed(w, r)
	if !ok {
		return
	}
	conversationID := mux.Vars(r)["id"]
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	msgs, marked, err := s.store.FetchMessages(userID, conversationID, page, pageSize)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if marked {
		// The read acknowledgement echoes back to the reader; the client's
		// reconciler must treat it as a non-event.
		s.pushSummary(userID, conversationID, protocol.EventConversationUpdated)
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authed(w, r)
	if !ok {
		return
	}
	conversationID := mux.Vars(r)["id"]
	var req struct {
		Content       string   `json:"content"`
		AttachmentIDs []string `json:"attachment_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	msg, err := s.store.SendMessage(userID, conversationID, req.Content)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if conv, err := s.store.Summary(msg.RecipientID, conversationID); err == nil {
		s.hub.SendToUser(msg.RecipientID, protocol.EventNewMessage, protocol.NewMessageEvent{
			ConversationID: conversationID,
			Conversation:   conv,
		})
	}
	s.pushSummary(userID, conversationID, protocol.EventConversationUpdated)
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authed(w, r)
	if !ok {
		return
	}
	conversationID := mux.Vars(r)["id"]
	changed, err := s.store.MarkRead(userID, conversationID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if changed {
		s.pushSummary(userID, conversationID, protocol.EventConversationUpdated)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authed(w, r)
	if !ok {
		return
	}
	conversationID := mux.Vars(r)["id"]
	if err := s.store.DeleteConversation(userID, conversationID); err != nil {
		writeStoreError(w, err)
		return
	}
	s.hub.SendToUser(userID, protocol.EventConversationDeleted, protocol.ConversationDeletedEvent{
		ConversationID: conversationID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authed(w, r)
	if !ok {
		return
	}
	messageID := mux.Vars(r)["id"]
	conversationID, err := s.store.DeleteMessage(userID, messageID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	// Only the caller's view changed.
	s.pushSummary(userID, conversationID, protocol.EventConversationUpdated)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddReaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authed(w, r)
	if !ok {
		return
	}
	messageID := mux.Vars(r)["id"]
	var req struct {
		Type string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Type == "" {
		writeError(w, http.StatusBadRequest, "missing reaction type")
		return
	}
	conversationID, changed, err := s.store.AddReaction(userID, messageID, req.Type)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if changed {
		s.pushReaction(conversationID)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveReaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authed(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	conversationID, changed, err := s.store.RemoveReaction(userID, vars["id"], vars["type"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if changed {
		s.pushReaction(conversationID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// pushReaction notifies both participants with their own summaries.
func (s *Server) pushReaction(conversationID string) {
	userA, userB, ok := s.store.Participants(conversationID)
	if !ok {
		return
	}
	for _, userID := range []string{userA, userB} {
		conv, err := s.store.Summary(userID, conversationID)
		if err != nil {
			continue
		}
		s.hub.SendToUser(userID, protocol.EventMessageReaction, protocol.MessageReactionEvent{
			ConversationID: conversationID,
			Conversation:   conv,
		})
	}
}

func (s *Server) handleUploadAttachment(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authed(w, r)
	if !ok {
		return
	}
	messageID := mux.Vars(r)["id"]
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	// The stub discards the bytes; only metadata matters here.
	size, err := io.Copy(io.Discard, file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	att, err := s.store.AddAttachment(userID, messageID,
		header.Filename, header.Header.Get("Content-Type"), size)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, att)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.authed(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		jww.WARN.Printf("[HUB] stream upgrade failed: %v", err)
		return
	}

	client := s.hub.NewClient(conn, userID)
	s.hub.Register(client)

	convs := s.store.ListConversations(userID)
	if convs == nil {
		convs = []models.Conversation{}
	}
	client.SendEnvelope(protocol.EventConnected, protocol.ConnectedEvent{Conversations: convs})
}
