package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nevindra/yae"
)

// handleVerify confirms the bearer token and echoes the caller's identity.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request, user yae.User) {
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

type chatRequest struct {
	Message  string `json:"message"`
	MaxSteps int    `json:"max_steps,omitempty"`
}

// handleChat runs one agent turn and relays loop events as Server-Sent
// Events. The stream always terminates with either a message or error event.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, user yae.User) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody)).Decode(&req); err != nil {
		writeDomainError(w, err)
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	agent, err := s.y.AgentFor(r.Context(), user.ID)
	if err != nil {
		s.logger.Error("open agent", "user", user.ID, "error", err)
		writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range yae.RunAgentLoop(r.Context(), agent, req.Message, s.instructions, req.MaxSteps) {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
		flusher.Flush()
	}
}

// handleMessages returns the cached recent conversation window, oldest first.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, user yae.User) {
	agent, err := s.y.AgentFor(r.Context(), user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": agent.Messages.History()})
}

// handleMemory returns the agent's memory blocks in insertion order.
func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request, user yae.User) {
	agent, err := s.y.AgentFor(r.Context(), user.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocks": agent.Memory.GetAll()})
}

// handleUserRuns lists the caller's workflow runs, newest first.
func (s *Server) handleUserRuns(w http.ResponseWriter, r *http.Request, user yae.User) {
	runs, err := s.y.Runs().ListRunsByAgent(r.Context(), user.ID, 50)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleWebhook ingests one delivery: rate limit by client IP, verify the
// HMAC signature over timestamp "." body, dedupe on the external delivery
// id, then dispatch.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.public.Allow(clientIP(r)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	slug := r.PathValue("slug")
	if !ValidSlug(slug) {
		writeError(w, http.StatusBadRequest, "invalid webhook slug")
		return
	}

	hook, err := s.y.Admin().GetWebhookBySlug(r.Context(), slug)
	if err != nil || !hook.Active {
		// Inactive and unknown are indistinguishable to callers.
		writeError(w, http.StatusNotFound, "unknown webhook")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	timestamp := r.Header.Get("X-Webhook-Timestamp")
	signature := r.Header.Get("X-Webhook-Signature")
	if !verifySignature(hook.Secret, timestamp, signature, body, s.now()) {
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	headers, _ := json.Marshal(map[string]string{
		"X-Webhook-Timestamp": timestamp,
		"Content-Type":        r.Header.Get("Content-Type"),
	})
	eventID, err := s.y.Admin().InsertWebhookEvent(r.Context(), yae.WebhookEvent{
		WebhookID:  hook.ID,
		ExternalID: r.Header.Get("X-Webhook-Id"),
		Headers:    string(headers),
		Payload:    string(body),
		Status:     yae.WebhookEventReceived,
		ReceivedAt: yae.NowUnix(),
	})
	if err != nil {
		s.logger.Error("ingest webhook event", "slug", slug, "error", err)
		writeDomainError(w, err)
		return
	}

	if err := s.y.DispatchWebhookEvent(r.Context(), hook, eventID); err != nil {
		s.logger.Error("dispatch webhook event", "slug", slug, "event", eventID, "error", err)
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"event_id": eventID})
}
