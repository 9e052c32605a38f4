package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mtzanidakis/crew/internal/natsbus"
	"github.com/mtzanidakis/crew/internal/store"
	"github.com/mtzanidakis/crew/internal/vault"
)

func (s *Server) requireVault(w http.ResponseWriter) bool {
	if s.secrets == nil {
		jsonError(w, "vault not configured", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func (s *Server) listSecrets(w http.ResponseWriter, r *http.Request) {
	if !s.requireVault(w) {
		return
	}
	secrets, err := s.secrets.List()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if secrets == nil {
		secrets = []store.Secret{}
	}
	jsonResponse(w, secrets)
}

func (s *Server) createSecret(w http.ResponseWriter, r *http.Request) {
	if !s.requireVault(w) {
		return
	}
	var body struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Value       string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Name == "" || body.Value == "" {
		jsonError(w, "name and value are required", http.StatusBadRequest)
		return
	}

	if err := s.secrets.Put(body.Name, body.Description, body.Value); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.publishSecretEvent("created", body.Name)

	jsonStatus(w, map[string]any{
		"name":        body.Name,
		"description": body.Description,
	}, http.StatusCreated)
}

// getSecret returns metadata only; values never leave the vault over HTTP.
func (s *Server) getSecret(w http.ResponseWriter, r *http.Request) {
	if !s.requireVault(w) {
		return
	}
	sec, err := s.store.GetSecret(r.PathValue("name"))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sec == nil {
		jsonError(w, "secret not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, sec)
}

func (s *Server) updateSecret(w http.ResponseWriter, r *http.Request) {
	if !s.requireVault(w) {
		return
	}
	name := r.PathValue("name")
	existing, err := s.store.GetSecret(name)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing == nil {
		jsonError(w, "secret not found", http.StatusNotFound)
		return
	}

	var body struct {
		Description *string `json:"description"`
		Value       *string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Description != nil {
		existing.Description = *body.Description
	}

	// Re-encrypt if value provided
	if body.Value != nil {
		err = s.secrets.Put(name, existing.Description, *body.Value)
	} else {
		err = s.store.SaveSecret(existing)
	}
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.publishSecretEvent("updated", name)

	jsonResponse(w, map[string]any{
		"name":        name,
		"description": existing.Description,
	})
}

func (s *Server) deleteSecret(w http.ResponseWriter, r *http.Request) {
	if !s.requireVault(w) {
		return
	}
	name := r.PathValue("name")
	if _, err := s.secrets.Get(name); errors.Is(err, vault.ErrSecretNotFound) {
		jsonError(w, "secret not found", http.StatusNotFound)
		return
	}
	if err := s.secrets.Delete(name); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.publishSecretEvent("deleted", name)
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) publishSecretEvent(action, name string) {
	if s.nats == nil {
		return
	}
	err := s.nats.PublishNotice(natsbus.TopicEventsSecret(action), "secret_"+action, map[string]string{"name": name})
	if err != nil {
		slog.Warn("failed to publish secret event", "action", action, "error", err)
	}
}
