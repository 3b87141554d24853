// Package jobs contains the job bodies executed by the worker. Every
// handler runs inside a partition scope established by the dispatcher,
// so all data access through the workspace store is confined to the
// envelope's partition. Delivery is at-least-once; handlers are
// idempotent with respect to re-execution.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/M-Moiz598/tenantgate/internal/errors"
	"github.com/M-Moiz598/tenantgate/internal/gateway"
	"github.com/M-Moiz598/tenantgate/internal/model"
	"github.com/M-Moiz598/tenantgate/internal/service"
	"github.com/M-Moiz598/tenantgate/internal/store"
	"go.uber.org/zap"
)

// Job kinds handled by this worker
const (
	KindSendReminder   = "send_reminder"
	KindSendWelcome    = "send_welcome"
	KindCheckOverdue   = "check_overdue"
	KindCleanupOldData = "cleanup_old_data"
	KindGenerateReport = "generate_report"
)

// DefaultCleanupDays is how far back completed tasks are kept when the
// payload does not say otherwise
const DefaultCleanupDays = 90

// Handlers bundles the job bodies and their dependencies
type Handlers struct {
	workspace  *store.WorkspaceStore
	mailer     service.Mailer
	dispatcher *service.DispatcherService
	logger     *zap.Logger
}

// NewHandlers creates the job handler set
func NewHandlers(workspace *store.WorkspaceStore, mailer service.Mailer, dispatcher *service.DispatcherService, logger *zap.Logger) *Handlers {
	return &Handlers{
		workspace:  workspace,
		mailer:     mailer,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// RegisterAll registers every job kind with the dispatcher
func (h *Handlers) RegisterAll(d *service.DispatcherService) {
	d.RegisterHandler(KindSendReminder, h.SendReminder)
	d.RegisterHandler(KindSendWelcome, h.SendWelcome)
	d.RegisterHandler(KindCheckOverdue, h.CheckOverdue)
	d.RegisterHandler(KindCleanupOldData, h.CleanupOldData)
	d.RegisterHandler(KindGenerateReport, h.GenerateReport)
}

// ReminderPayload targets one task for a reminder email
type ReminderPayload struct {
	TaskID int64 `json:"task_id"`
}

// SendReminder emails the assignee of a task about its due date
func (h *Handlers) SendReminder(ctx context.Context, env *model.JobEnvelope) error {
	var payload ReminderPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("malformed reminder payload: %w", err)
	}

	task, err := h.workspace.GetTask(ctx, payload.TaskID)
	if err != nil {
		if apperrors.Is(err, store.ErrNotFound) {
			// Task deleted since enqueue; nothing to remind about
			h.logger.Info("Reminder target no longer exists",
				zap.Int64("task_id", payload.TaskID),
				zap.String("partition_id", env.PartitionID))
			return nil
		}
		return apperrors.Transient(err)
	}

	if task.AssigneeEmail == "" {
		return nil
	}

	subject := fmt.Sprintf("Task Reminder: %s", task.Title)
	body := fmt.Sprintf("This is a reminder about your task %q (priority %s), due %s.",
		task.Title, task.Priority, task.DueDate.Format(time.RFC1123))

	if err := h.mailer.Send(ctx, task.AssigneeEmail, subject, body); err != nil {
		return apperrors.Transient(fmt.Errorf("failed to send reminder: %w", err))
	}

	h.logger.Info("Reminder sent",
		zap.Int64("task_id", task.ID),
		zap.String("partition_id", env.PartitionID))

	return nil
}

// WelcomePayload identifies the recipient of a welcome email
type WelcomePayload struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// SendWelcome emails a newly registered tenant's contact
func (h *Handlers) SendWelcome(ctx context.Context, env *model.JobEnvelope) error {
	var payload WelcomePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("malformed welcome payload: %w", err)
	}
	if payload.Email == "" {
		return nil
	}

	body := fmt.Sprintf("Hi %s, your workspace is ready. You can now start managing projects and tasks.", payload.Name)
	if err := h.mailer.Send(ctx, payload.Email, "Welcome!", body); err != nil {
		return apperrors.Transient(fmt.Errorf("failed to send welcome mail: %w", err))
	}

	return nil
}

// CheckOverdue finds overdue tasks in the envelope's partition and
// enqueues a reminder for each. The scheduler fans this kind out over
// all active partitions, one envelope per partition.
func (h *Handlers) CheckOverdue(ctx context.Context, env *model.JobEnvelope) error {
	tc, err := gateway.TenantFromContext(ctx)
	if err != nil {
		return err
	}

	tasks, err := h.workspace.ListOverdueTasks(ctx, time.Now())
	if err != nil {
		return apperrors.Transient(err)
	}

	for _, task := range tasks {
		if task.AssigneeEmail == "" {
			continue
		}
		payload, _ := json.Marshal(ReminderPayload{TaskID: task.ID})
		if _, err := h.dispatcher.Enqueue(ctx, KindSendReminder, payload, tc); err != nil {
			return apperrors.Transient(fmt.Errorf("failed to enqueue reminder for task %d: %w", task.ID, err))
		}
	}

	h.logger.Info("Overdue check completed",
		zap.String("partition_id", env.PartitionID),
		zap.Int("overdue_tasks", len(tasks)))

	return nil
}

// CleanupPayload overrides the retention window
type CleanupPayload struct {
	Days int `json:"days"`
}

// CleanupOldData deletes completed tasks older than the retention
// window from the envelope's partition
func (h *Handlers) CleanupOldData(ctx context.Context, env *model.JobEnvelope) error {
	days := DefaultCleanupDays
	if len(env.Payload) > 0 {
		var payload CleanupPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return fmt.Errorf("malformed cleanup payload: %w", err)
		}
		if payload.Days > 0 {
			days = payload.Days
		}
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	deleted, err := h.workspace.DeleteCompletedTasksBefore(ctx, cutoff)
	if err != nil {
		return apperrors.Transient(err)
	}

	if deleted > 0 {
		h.logger.Info("Old tasks deleted",
			zap.String("partition_id", env.PartitionID),
			zap.Int64("deleted", deleted))
	}

	return nil
}

// ReportPayload targets one project for a report
type ReportPayload struct {
	ProjectID int64 `json:"project_id"`
}

// GenerateReport builds a project summary. This is the long-running
// job body; it polls the cancellation flag at safe points.
func (h *Handlers) GenerateReport(ctx context.Context, env *model.JobEnvelope) error {
	var payload ReportPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("malformed report payload: %w", err)
	}

	if cancelled, err := h.dispatcher.CancelRequested(ctx, env.ID); err == nil && cancelled {
		h.logger.Info("Report generation cancelled",
			zap.String("envelope_id", env.ID))
		return nil
	}

	report, err := h.workspace.ProjectReport(ctx, payload.ProjectID, time.Now())
	if err != nil {
		if apperrors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("project %d not found", payload.ProjectID)
		}
		return apperrors.Transient(err)
	}

	encoded, _ := json.Marshal(report)
	h.logger.Info("Project report generated",
		zap.String("partition_id", env.PartitionID),
		zap.Int64("project_id", payload.ProjectID),
		zap.ByteString("report", encoded))

	return nil
}
