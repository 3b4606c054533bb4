package server

import (
	"encoding/json"
	"net/http"

	"github.com/limeechian/parenting-app-sub004/internal/models"
)

// AdminHandler exposes development-only endpoints for seeding and
// inspecting the stub backend. Nothing here carries auth; do not expose it
// beyond local development.
type AdminHandler struct {
	store *Store
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(store *Store) *AdminHandler {
	return &AdminHandler{store: store}
}

// HandleUsers lists or registers users.
func (a *AdminHandler) HandleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, a.store.Users())

	case http.MethodPost:
		var p models.Participant
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.ID == "" {
			writeError(w, http.StatusBadRequest, "invalid user")
			return
		}
		a.store.AddUser(p)
		writeJSON(w, http.StatusCreated, p)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// HandleSeed populates a small demo data set: two parents with a short
// conversation, enough to click around the UI.
func (a *AdminHandler) HandleSeed(w http.ResponseWriter, r *http.Request) {
	alice := models.Participant{ID: "alice", DisplayName: "Alice"}
	bob := models.Participant{ID: "bob", DisplayName: "Bob"}
	a.store.AddUser(alice)
	a.store.AddUser(bob)

	conv, err := a.store.CreateConversation(alice.ID, bob.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, line := range []struct{ from, text string }{
		{alice.ID, "How did the first day of kindergarten go?"},
		{bob.ID, "Better than expected, only a few tears. Mostly mine."},
		{alice.ID, "That sounds about right!"},
	} {
		if _, err := a.store.SendMessage(line.from, conv.ID, line.text); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusCreated, map[string]string{"conversation_id": conv.ID})
}

// HandleReset clears all conversations and messages.
func (a *AdminHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	a.store.Reset()
	w.WriteHeader(http.StatusNoContent)
}
