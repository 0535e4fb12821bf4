package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/nevindra/yae"
)

type createUserRequest struct {
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

// handleCreateUser provisions a tenant. The API token is returned exactly
// once, in this response.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	role := req.Role
	if role == "" {
		role = yae.RoleUser
	}
	if role != yae.RoleUser && role != yae.RoleAdmin {
		writeError(w, http.StatusBadRequest, "role must be \"user\" or \"admin\"")
		return
	}

	token, err := newToken()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	user := yae.User{
		ID:        yae.NewID(),
		Name:      req.Name,
		Token:     token,
		Role:      role,
		CreatedAt: yae.NowUnix(),
	}
	if err := s.y.Admin().CreateUser(r.Context(), user); err != nil {
		writeDomainError(w, err)
		return
	}
	s.logger.Info("user created", "user", user.ID, "role", role)
	writeJSON(w, http.StatusCreated, map[string]any{"user": user, "token": token})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.y.Admin().ListUsers(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// handleDeleteUser removes the user row and evicts any live agent. Durable
// agent data stays in its store.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.y.Admin().DeleteUser(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.y.DeleteUserAgent(id); err != nil {
		s.logger.Warn("close evicted agent", "user", id, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

type webhookRequest struct {
	Name           string `json:"name"`
	Slug           string `json:"slug"`
	Secret         string `json:"secret"`
	TargetUserID   string `json:"target_user_id,omitempty"`
	TargetWorkflow string `json:"target_workflow,omitempty"`
	Active         *bool  `json:"active,omitempty"`
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if !ValidSlug(req.Slug) {
		writeError(w, http.StatusBadRequest, "invalid slug")
		return
	}
	if req.Secret == "" {
		writeError(w, http.StatusBadRequest, "secret is required")
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	hook := yae.Webhook{
		ID:             yae.NewID(),
		Name:           req.Name,
		Slug:           req.Slug,
		Secret:         req.Secret,
		TargetUserID:   req.TargetUserID,
		TargetWorkflow: req.TargetWorkflow,
		Active:         active,
		CreatedAt:      yae.NowUnix(),
	}
	if err := s.y.Admin().CreateWebhook(r.Context(), hook); err != nil {
		writeDomainError(w, err)
		return
	}
	s.logger.Info("webhook created", "webhook", hook.ID, "slug", hook.Slug)
	writeJSON(w, http.StatusCreated, map[string]any{"webhook": hook})
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := s.y.Admin().ListWebhooks(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": hooks})
}

func (s *Server) handleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if !ValidSlug(req.Slug) {
		writeError(w, http.StatusBadRequest, "invalid slug")
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	hook := yae.Webhook{
		ID:             r.PathValue("id"),
		Name:           req.Name,
		Slug:           req.Slug,
		Secret:         req.Secret,
		TargetUserID:   req.TargetUserID,
		TargetWorkflow: req.TargetWorkflow,
		Active:         active,
	}
	if err := s.y.Admin().UpdateWebhook(r.Context(), hook); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhook": hook})
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.y.Admin().DeleteWebhook(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (s *Server) handleListWebhookEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.y.Admin().ListWebhookEvents(r.Context(), r.PathValue("id"), 100)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleAdminRuns lists workflow runs filtered by ?status= or ?agent=.
func (s *Server) handleAdminRuns(w http.ResponseWriter, r *http.Request) {
	var (
		runs []yae.WorkflowRun
		err  error
	)
	switch {
	case r.URL.Query().Get("agent") != "":
		runs, err = s.y.Runs().ListRunsByAgent(r.Context(), r.URL.Query().Get("agent"), 100)
	case r.URL.Query().Get("status") != "":
		runs, err = s.y.Runs().ListRunsByStatus(r.Context(), yae.RunStatus(r.URL.Query().Get("status")), 100)
	default:
		writeError(w, http.StatusBadRequest, "agent or status query parameter required")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// newToken returns 32 random bytes, hex-encoded.
func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
