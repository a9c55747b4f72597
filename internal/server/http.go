// Package server exposes the flag read API and the administrative REST API
// over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/phlag/phlagd/internal/repository"
	"github.com/phlag/phlagd/internal/service"
	"github.com/phlag/phlagd/internal/webhook"
)

const defaultMaxJSONBodyBytes = 1 << 20

var errJSONBodyTooLarge = errors.New("json request body too large")

type HTTPServer struct {
	service      Service
	maxBodyBytes int64
}

type createFlagRequest struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type updateFlagRequest struct {
	Description string `json:"description"`
}

type environmentRequest struct {
	Name      string `json:"name"`
	SortOrder int    `json:"sort_order,omitempty"`
}

type upsertValueRequest struct {
	Value         *string    `json:"value"`
	StartDatetime *time.Time `json:"start_datetime,omitempty"`
	EndDatetime   *time.Time `json:"end_datetime,omitempty"`
}

type webhookRequest struct {
	Name                      string          `json:"name"`
	URL                       string          `json:"url"`
	IsActive                  *bool           `json:"is_active,omitempty"`
	Headers                   json.RawMessage `json:"headers,omitempty"`
	PayloadTemplate           string          `json:"payload_template,omitempty"`
	EventTypes                json.RawMessage `json:"event_types"`
	IncludeEnvironmentChanges bool            `json:"include_environment_changes,omitempty"`
}

type testWebhookRequest struct {
	Flag string `json:"flag"`
}

func NewHTTPHandler(svc Service) http.Handler {
	return NewHTTPHandlerWithBodyLimit(svc, defaultMaxJSONBodyBytes)
}

func NewHTTPHandlerWithBodyLimit(svc Service, maxBodyBytes int64) http.Handler {
	if svc == nil {
		panic("service is nil")
	}

	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxJSONBodyBytes
	}

	server := &HTTPServer{
		service:      svc,
		maxBodyBytes: maxBodyBytes,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /flag/{environment}/{name}", server.handleResolveValue)
	mux.HandleFunc("GET /all-flags/{environment}", server.handleResolveAll)
	mux.HandleFunc("GET /get-flags/{environment}", server.handleResolveDetailed)

	mux.HandleFunc("POST /v1/flags", server.handleCreateFlag)
	mux.HandleFunc("GET /v1/flags", server.handleListFlags)
	mux.HandleFunc("GET /v1/flags/{name}", server.handleGetFlag)
	mux.HandleFunc("PUT /v1/flags/{name}", server.handleUpdateFlag)
	mux.HandleFunc("DELETE /v1/flags/{name}", server.handleDeleteFlag)
	mux.HandleFunc("PUT /v1/flags/{name}/values/{environment}", server.handleUpsertValue)
	mux.HandleFunc("DELETE /v1/flags/{name}/values/{environment}", server.handleDeleteValue)

	mux.HandleFunc("POST /v1/environments", server.handleCreateEnvironment)
	mux.HandleFunc("GET /v1/environments", server.handleListEnvironments)
	mux.HandleFunc("PUT /v1/environments/{id}", server.handleUpdateEnvironment)
	mux.HandleFunc("DELETE /v1/environments/{id}", server.handleDeleteEnvironment)

	mux.HandleFunc("POST /v1/webhooks", server.handleCreateWebhook)
	mux.HandleFunc("GET /v1/webhooks", server.handleListWebhooks)
	mux.HandleFunc("GET /v1/webhooks/{id}", server.handleGetWebhook)
	mux.HandleFunc("PUT /v1/webhooks/{id}", server.handleUpdateWebhook)
	mux.HandleFunc("DELETE /v1/webhooks/{id}", server.handleDeleteWebhook)
	mux.HandleFunc("POST /v1/webhooks/{id}/test", server.handleTestWebhook)

	mux.HandleFunc("GET /healthz", server.handleHealthz)

	return mux
}

func (s *HTTPServer) handleResolveValue(w http.ResponseWriter, r *http.Request) {
	value, err := s.service.ResolveValue(r.Context(), r.PathValue("environment"), r.PathValue("name"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, value)
}

func (s *HTTPServer) handleResolveAll(w http.ResponseWriter, r *http.Request) {
	values, err := s.service.ResolveAll(r.Context(), r.PathValue("environment"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, values)
}

func (s *HTTPServer) handleResolveDetailed(w http.ResponseWriter, r *http.Request) {
	states, err := s.service.ResolveDetailed(r.Context(), r.PathValue("environment"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, states)
}

func (s *HTTPServer) handleCreateFlag(w http.ResponseWriter, r *http.Request) {
	var request createFlagRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	created, err := s.service.CreateFlag(r.Context(), repository.Flag{
		Name:        request.Name,
		Type:        request.Type,
		Description: request.Description,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (s *HTTPServer) handleListFlags(w http.ResponseWriter, r *http.Request) {
	flags, err := s.service.ListFlags(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, flags)
}

func (s *HTTPServer) handleGetFlag(w http.ResponseWriter, r *http.Request) {
	flag, err := s.service.GetFlag(r.Context(), r.PathValue("name"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, flag)
}

func (s *HTTPServer) handleUpdateFlag(w http.ResponseWriter, r *http.Request) {
	var request updateFlagRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	updated, err := s.service.UpdateFlag(r.Context(), r.PathValue("name"), request.Description)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (s *HTTPServer) handleDeleteFlag(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteFlag(r.Context(), r.PathValue("name")); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleUpsertValue(w http.ResponseWriter, r *http.Request) {
	var request upsertValueRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	upserted, err := s.service.UpsertEnvironmentValue(r.Context(),
		r.PathValue("name"), r.PathValue("environment"),
		request.Value, request.StartDatetime, request.EndDatetime)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, upserted)
}

func (s *HTTPServer) handleDeleteValue(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteEnvironmentValue(r.Context(), r.PathValue("name"), r.PathValue("environment")); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleCreateEnvironment(w http.ResponseWriter, r *http.Request) {
	var request environmentRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	created, err := s.service.CreateEnvironment(r.Context(), repository.Environment{
		Name:      request.Name,
		SortOrder: request.SortOrder,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (s *HTTPServer) handleListEnvironments(w http.ResponseWriter, r *http.Request) {
	environments, err := s.service.ListEnvironments(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, environments)
}

func (s *HTTPServer) handleUpdateEnvironment(w http.ResponseWriter, r *http.Request) {
	var request environmentRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	updated, err := s.service.UpdateEnvironment(r.Context(), repository.Environment{
		ID:        r.PathValue("id"),
		Name:      request.Name,
		SortOrder: request.SortOrder,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (s *HTTPServer) handleDeleteEnvironment(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteEnvironment(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var request webhookRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	created, err := s.service.CreateWebhook(r.Context(), webhookFromRequest(request, ""))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (s *HTTPServer) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	hooks, err := s.service.ListWebhooks(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, hooks)
}

func (s *HTTPServer) handleGetWebhook(w http.ResponseWriter, r *http.Request) {
	hook, err := s.service.GetWebhook(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, hook)
}

func (s *HTTPServer) handleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	var request webhookRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	updated, err := s.service.UpdateWebhook(r.Context(), webhookFromRequest(request, r.PathValue("id")))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (s *HTTPServer) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteWebhook(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	var request testWebhookRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}
	if strings.TrimSpace(request.Flag) == "" {
		writeJSONError(w, http.StatusBadRequest, "flag is required")
		return
	}

	result, err := s.service.TestWebhook(r.Context(), r.PathValue("id"), request.Flag)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func webhookFromRequest(request webhookRequest, id string) repository.Webhook {
	isActive := true
	if request.IsActive != nil {
		isActive = *request.IsActive
	}

	return repository.Webhook{
		ID:                        id,
		Name:                      request.Name,
		URL:                       request.URL,
		IsActive:                  isActive,
		Headers:                   request.Headers,
		PayloadTemplate:           request.PayloadTemplate,
		EventTypes:                request.EventTypes,
		IncludeEnvironmentChanges: request.IncludeEnvironmentChanges,
	}
}

// badRequestErrors are service and validation sentinels that map to 400 with
// their own message.
var badRequestErrors = []error{
	service.ErrInvalidFlagName,
	service.ErrInvalidFlagType,
	service.ErrEnvironmentRequired,
	webhook.ErrURLRequired,
	webhook.ErrURLInvalid,
	webhook.ErrHTTPSRequired,
	webhook.ErrEventTypesRequired,
	webhook.ErrEventTypesInvalidJSON,
	webhook.ErrEventTypesEmpty,
	webhook.ErrHeadersInvalidJSON,
}

var notFoundErrors = []error{
	service.ErrFlagNotFound,
	service.ErrEnvironmentNotFound,
	service.ErrValueNotFound,
	service.ErrWebhookNotFound,
}

func writeServiceError(w http.ResponseWriter, err error) {
	for _, sentinel := range badRequestErrors {
		if errors.Is(err, sentinel) {
			writeJSONError(w, http.StatusBadRequest, sentinel.Error())
			return
		}
	}
	for _, sentinel := range notFoundErrors {
		if errors.Is(err, sentinel) {
			writeJSONError(w, http.StatusNotFound, sentinel.Error())
			return
		}
	}

	writeJSONError(w, http.StatusInternalServerError, "internal server error")
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSONDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errJSONBodyTooLarge) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *HTTPServer) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return io.EOF
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return normalizeJSONDecodeError(err)
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("request body must contain a single JSON object")
		}
		return normalizeJSONDecodeError(err)
	}

	return nil
}

func normalizeJSONDecodeError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return errJSONBodyTooLarge
	}
	return err
}
