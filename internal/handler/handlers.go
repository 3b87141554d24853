// Package handler provides HTTP request handlers for the tenantgate server.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	apperrors "github.com/M-Moiz598/tenantgate/internal/errors"
	"github.com/M-Moiz598/tenantgate/internal/gateway"
	"github.com/M-Moiz598/tenantgate/internal/middleware"
	"github.com/M-Moiz598/tenantgate/internal/model"
	"github.com/M-Moiz598/tenantgate/internal/service"
	"github.com/M-Moiz598/tenantgate/internal/store"
)

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	directory    *service.DirectoryService
	dispatcher   *service.DispatcherService
	gw           *gateway.Gateway
	workspace    *store.WorkspaceStore
	errorHandler *apperrors.Handler
	logger       *zap.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(
	directory *service.DirectoryService,
	dispatcher *service.DispatcherService,
	gw *gateway.Gateway,
	workspace *store.WorkspaceStore,
	errorHandler *apperrors.Handler,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		directory:    directory,
		dispatcher:   dispatcher,
		gw:           gw,
		workspace:    workspace,
		errorHandler: errorHandler,
		logger:       logger,
	}
}

// registerTenantRequest is the body of POST /v1/tenants.
type registerTenantRequest struct {
	Slug        string   `json:"slug"`
	DisplayName string   `json:"display_name"`
	Domains     []string `json:"domains"`
	QuotaTier   string   `json:"quota_tier"`
	OwnerEmail  string   `json:"owner_email"`
	OwnerName   string   `json:"owner_name"`
}

// tenantResponse is the wire form of a partition directory entry.
type tenantResponse struct {
	PartitionID string `json:"partition_id"`
	SchemaName  string `json:"schema_name"`
	DisplayName string `json:"display_name"`
	Status      string `json:"status"`
	QuotaTier   string `json:"quota_tier"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
	Version     int64  `json:"version"`
}

func toTenantResponse(p *model.Partition) tenantResponse {
	return tenantResponse{
		PartitionID: p.PartitionID,
		SchemaName:  p.SchemaName,
		DisplayName: p.DisplayName,
		Status:      string(p.Status),
		QuotaTier:   string(p.QuotaTier),
		CreatedAt:   p.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   p.UpdatedAt.UTC().Format(time.RFC3339),
		Version:     p.Version,
	}
}

// RegisterTenant handles POST /v1/tenants requests.
func (h *Handlers) RegisterTenant(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	var req registerTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorHandler.WriteValidationError(w, "invalid JSON body", requestID)
		return
	}

	tier := model.QuotaTier(req.QuotaTier)
	if req.QuotaTier == "" {
		tier = model.TierFree
	}

	partition, err := h.directory.Register(r.Context(), req.Slug, req.DisplayName, req.Domains, tier)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	// The welcome mail is sent asynchronously; registration does not wait
	// for the worker.
	if req.OwnerEmail != "" {
		payload, _ := json.Marshal(map[string]string{
			"email": req.OwnerEmail,
			"name":  req.OwnerName,
		})
		if _, err := h.dispatcher.EnqueueTo(r.Context(), "send_welcome", payload, partition); err != nil {
			h.logger.Warn("failed to enqueue welcome mail",
				zap.String("partition_id", partition.PartitionID),
				zap.Error(err),
			)
		}
	}

	h.writeJSONResponse(w, http.StatusCreated, toTenantResponse(partition))
}

// GetTenant handles GET /v1/tenants/{id} requests.
func (h *Handlers) GetTenant(w http.ResponseWriter, r *http.Request) {
	partitionID := mux.Vars(r)["id"]

	partition, err := h.directory.GetPartition(r.Context(), partitionID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, toTenantResponse(partition))
}

// setStatusRequest is the body of PUT /v1/tenants/{id}/status.
type setStatusRequest struct {
	Status string `json:"status"`
}

// SetTenantStatus handles PUT /v1/tenants/{id}/status requests.
func (h *Handlers) SetTenantStatus(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	partitionID := mux.Vars(r)["id"]

	var req setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorHandler.WriteValidationError(w, "invalid JSON body", requestID)
		return
	}

	if err := h.directory.SetStatus(r.Context(), partitionID, model.PartitionStatus(req.Status)); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	partition, err := h.directory.GetPartition(r.Context(), partitionID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, toTenantResponse(partition))
}

// addDomainRequest is the body of POST /v1/tenants/{id}/domains.
type addDomainRequest struct {
	Domain  string `json:"domain"`
	Primary bool   `json:"primary"`
}

// AddTenantDomain handles POST /v1/tenants/{id}/domains requests.
func (h *Handlers) AddTenantDomain(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	partitionID := mux.Vars(r)["id"]

	var req addDomainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorHandler.WriteValidationError(w, "invalid JSON body", requestID)
		return
	}
	if req.Domain == "" {
		h.errorHandler.WriteValidationError(w, "domain is required", requestID)
		return
	}

	if err := h.directory.AddDomain(r.Context(), partitionID, req.Domain, req.Primary); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusCreated, map[string]string{
		"partition_id": partitionID,
		"domain":       req.Domain,
	})
}

// enqueueJobRequest is the body of POST /v1/jobs.
type enqueueJobRequest struct {
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	MaxAttempts int             `json:"max_attempts,omitempty"`
	NotBefore   *time.Time      `json:"not_before,omitempty"`
}

// maxAttemptsLimit bounds the client-supplied attempt budget
const maxAttemptsLimit = 25

// EnqueueJob handles POST /v1/jobs requests for the resolved tenant.
func (h *Handlers) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	var req enqueueJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorHandler.WriteValidationError(w, "invalid JSON body", requestID)
		return
	}
	if req.Kind == "" {
		h.errorHandler.WriteValidationError(w, "kind is required", requestID)
		return
	}
	if req.MaxAttempts < 0 || req.MaxAttempts > maxAttemptsLimit {
		h.errorHandler.WriteValidationError(w,
			fmt.Sprintf("max_attempts must be between 1 and %d", maxAttemptsLimit), requestID)
		return
	}

	tc := middleware.TenantFromRequest(r)

	var opts []service.EnqueueOption
	if req.MaxAttempts > 0 {
		opts = append(opts, service.WithMaxAttempts(req.MaxAttempts))
	}
	if req.NotBefore != nil {
		opts = append(opts, service.WithNotBefore(*req.NotBefore))
	}

	envelopeID, err := h.dispatcher.Enqueue(r.Context(), req.Kind, req.Payload, tc, opts...)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusAccepted, map[string]string{
		"envelope_id": envelopeID,
		"status":      string(model.JobQueued),
	})
}

// CancelJob handles POST /v1/jobs/{id}/cancel requests.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	envelopeID := mux.Vars(r)["id"]

	if err := h.dispatcher.RequestCancel(r.Context(), envelopeID); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusAccepted, map[string]string{
		"envelope_id": envelopeID,
		"status":      "cancel_requested",
	})
}

// ListDeadLetters handles GET /v1/admin/dead-letters requests.
func (h *Handlers) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	partitionID := r.URL.Query().Get("partition_id")
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.errorHandler.WriteValidationError(w, "limit must be a positive integer", requestID)
			return
		}
		limit = n
	}

	envelopes, err := h.dispatcher.ListDeadLetters(r.Context(), partitionID, limit)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"dead_letters": envelopes,
		"count":        len(envelopes),
	})
}

// ReplayDeadLetter handles POST /v1/admin/dead-letters/{id}/replay requests.
func (h *Handlers) ReplayDeadLetter(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	envelopeID := mux.Vars(r)["id"]

	if err := h.dispatcher.ReplayDeadLetter(r.Context(), envelopeID); err != nil {
		if apperrors.Is(err, store.ErrNotFound) {
			h.errorHandler.WriteErrorResponse(w, http.StatusNotFound, apperrors.ErrorCodeEnvelopeNotFound, "envelope not found", requestID)
			return
		}
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusAccepted, map[string]string{
		"envelope_id": envelopeID,
		"status":      string(model.JobQueued),
	})
}

// createProjectRequest is the body of POST /v1/projects.
type createProjectRequest struct {
	Name      string `json:"name"`
	OwnerName string `json:"owner_name"`
}

// projectResponse is the wire form of a project.
type projectResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	OwnerName string `json:"owner_name"`
	CreatedAt string `json:"created_at"`
}

func toProjectResponse(p *model.Project) projectResponse {
	return projectResponse{
		ID:        p.ID,
		Name:      p.Name,
		OwnerName: p.OwnerName,
		CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// CreateProject handles POST /v1/projects requests for the resolved tenant.
func (h *Handlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorHandler.WriteValidationError(w, "invalid JSON body", requestID)
		return
	}
	if req.Name == "" {
		h.errorHandler.WriteValidationError(w, "name is required", requestID)
		return
	}

	tc := middleware.TenantFromRequest(r)
	project := &model.Project{Name: req.Name, OwnerName: req.OwnerName}

	err := h.gw.WithContext(r.Context(), tc, func(ctx context.Context) error {
		return h.workspace.CreateProject(ctx, project)
	})
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusCreated, toProjectResponse(project))
}

// ListProjects handles GET /v1/projects requests for the resolved tenant.
func (h *Handlers) ListProjects(w http.ResponseWriter, r *http.Request) {
	tc := middleware.TenantFromRequest(r)

	var projects []*model.Project
	err := h.gw.WithContext(r.Context(), tc, func(ctx context.Context) error {
		var listErr error
		projects, listErr = h.workspace.ListProjects(ctx)
		return listErr
	})
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	resp := make([]projectResponse, 0, len(projects))
	for _, p := range projects {
		resp = append(resp, toProjectResponse(p))
	}

	h.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"projects": resp,
		"count":    len(resp),
	})
}

// createTaskRequest is the body of POST /v1/projects/{id}/tasks.
type createTaskRequest struct {
	Title         string     `json:"title"`
	Priority      string     `json:"priority"`
	AssigneeEmail string     `json:"assignee_email"`
	DueDate       *time.Time `json:"due_date,omitempty"`
}

// taskResponse is the wire form of a task.
type taskResponse struct {
	ID            int64  `json:"id"`
	ProjectID     int64  `json:"project_id"`
	Title         string `json:"title"`
	Status        string `json:"status"`
	Priority      string `json:"priority"`
	AssigneeEmail string `json:"assignee_email"`
	DueDate       string `json:"due_date,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func toTaskResponse(t *model.Task) taskResponse {
	resp := taskResponse{
		ID:            t.ID,
		ProjectID:     t.ProjectID,
		Title:         t.Title,
		Status:        string(t.Status),
		Priority:      t.Priority,
		AssigneeEmail: t.AssigneeEmail,
		CreatedAt:     t.CreatedAt.UTC().Format(time.RFC3339),
	}
	if !t.DueDate.IsZero() {
		resp.DueDate = t.DueDate.UTC().Format(time.RFC3339)
	}
	return resp
}

// CreateTask handles POST /v1/projects/{id}/tasks requests for the resolved tenant.
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	projectID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.errorHandler.WriteValidationError(w, "invalid project id", requestID)
		return
	}

	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorHandler.WriteValidationError(w, "invalid JSON body", requestID)
		return
	}
	if req.Title == "" {
		h.errorHandler.WriteValidationError(w, "title is required", requestID)
		return
	}

	task := &model.Task{
		ProjectID:     projectID,
		Title:         req.Title,
		Status:        model.TaskTodo,
		Priority:      req.Priority,
		AssigneeEmail: req.AssigneeEmail,
	}
	if req.DueDate != nil {
		task.DueDate = *req.DueDate
	}

	tc := middleware.TenantFromRequest(r)
	err = h.gw.WithContext(r.Context(), tc, func(ctx context.Context) error {
		return h.workspace.CreateTask(ctx, task)
	})
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusCreated, toTaskResponse(task))
}

// GenerateProjectReport handles POST /v1/projects/{id}/report requests. The
// report itself is produced asynchronously; the response carries the envelope
// id so the caller can poll or cancel it.
func (h *Handlers) GenerateProjectReport(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	projectID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.errorHandler.WriteValidationError(w, "invalid project id", requestID)
		return
	}

	tc := middleware.TenantFromRequest(r)
	payload, _ := json.Marshal(map[string]int64{"project_id": projectID})

	envelopeID, err := h.dispatcher.Enqueue(r.Context(), "generate_report", payload, tc)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusAccepted, map[string]string{
		"envelope_id": envelopeID,
		"status":      string(model.JobQueued),
	})
}

// writeJSONResponse writes a JSON response to the HTTP response writer.
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}
