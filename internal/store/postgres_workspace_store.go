package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/M-Moiz598/tenantgate/internal/gateway"
	"github.com/M-Moiz598/tenantgate/internal/model"
	"github.com/jackc/pgx/v5"
)

// WorkspaceStore is the tenant-scoped data access layer for projects
// and tasks. Every method reaches storage exclusively through the
// session carried in the context: calls outside an established
// partition scope fail with NoActiveContext.
type WorkspaceStore struct{}

// NewWorkspaceStore creates a new workspace store
func NewWorkspaceStore() *WorkspaceStore {
	return &WorkspaceStore{}
}

// CreateProject inserts a project into the active partition
func (s *WorkspaceStore) CreateProject(ctx context.Context, project *model.Project) error {
	scope, err := gateway.FromContext(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO projects (name, owner_name, created_at)
		VALUES ($1, $2, NOW())
		RETURNING id, created_at
	`
	err = scope.Session.QueryRow(ctx, query, project.Name, project.OwnerName).
		Scan(&project.ID, &project.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	return nil
}

// ListProjects returns all projects in the active partition
func (s *WorkspaceStore) ListProjects(ctx context.Context) ([]*model.Project, error) {
	scope, err := gateway.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := scope.Session.Query(ctx,
		`SELECT id, name, owner_name, created_at FROM projects ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := make([]*model.Project, 0)
	for rows.Next() {
		var p model.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.OwnerName, &p.CreatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, &p)
	}

	return projects, rows.Err()
}

// CreateTask inserts a task into the active partition
func (s *WorkspaceStore) CreateTask(ctx context.Context, task *model.Task) error {
	scope, err := gateway.FromContext(ctx)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tasks (project_id, title, status, priority, assignee_email, due_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, created_at
	`
	err = scope.Session.QueryRow(ctx, query,
		task.ProjectID,
		task.Title,
		task.Status,
		task.Priority,
		task.AssigneeEmail,
		nullableTime(task.DueDate),
	).Scan(&task.ID, &task.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	return nil
}

// GetTask retrieves a task by id
func (s *WorkspaceStore) GetTask(ctx context.Context, taskID int64) (*model.Task, error) {
	scope, err := gateway.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, project_id, title, status, priority, assignee_email,
		       COALESCE(due_date, 'epoch'::timestamptz),
		       COALESCE(completed_at, 'epoch'::timestamptz),
		       created_at
		FROM tasks
		WHERE id = $1
	`
	task, err := scanTask(scope.Session.QueryRow(ctx, query, taskID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return task, nil
}

// ListOverdueTasks returns unfinished tasks whose due date has passed
func (s *WorkspaceStore) ListOverdueTasks(ctx context.Context, now time.Time) ([]*model.Task, error) {
	scope, err := gateway.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, project_id, title, status, priority, assignee_email,
		       COALESCE(due_date, 'epoch'::timestamptz),
		       COALESCE(completed_at, 'epoch'::timestamptz),
		       created_at
		FROM tasks
		WHERE due_date IS NOT NULL AND due_date < $1
		  AND status IN ('todo', 'in_progress', 'review')
		ORDER BY due_date
	`
	rows, err := scope.Session.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]*model.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

// DeleteCompletedTasksBefore removes done tasks completed before the
// cutoff and reports how many were deleted
func (s *WorkspaceStore) DeleteCompletedTasksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	scope, err := gateway.FromContext(ctx)
	if err != nil {
		return 0, err
	}

	return scope.Session.Exec(ctx,
		`DELETE FROM tasks WHERE status = 'done' AND completed_at IS NOT NULL AND completed_at < $1`,
		cutoff)
}

// ProjectReport summarizes one project's tasks
func (s *WorkspaceStore) ProjectReport(ctx context.Context, projectID int64, now time.Time) (*model.ProjectReport, error) {
	scope, err := gateway.FromContext(ctx)
	if err != nil {
		return nil, err
	}

	report := &model.ProjectReport{
		TasksByPriority: make(map[string]int),
		GeneratedAt:     now,
	}

	err = scope.Session.QueryRow(ctx,
		`SELECT name FROM projects WHERE id = $1`, projectID,
	).Scan(&report.ProjectName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load project: %w", err)
	}

	query := `
		SELECT status, priority, COALESCE(due_date, 'epoch'::timestamptz), COUNT(*)
		FROM tasks
		WHERE project_id = $1
		GROUP BY status, priority, due_date
	`
	rows, err := scope.Session.Query(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var status, priority string
		var dueDate time.Time
		var count int
		if err := rows.Scan(&status, &priority, &dueDate, &count); err != nil {
			return nil, err
		}

		report.TotalTasks += count
		report.TasksByPriority[priority] += count
		switch model.TaskStatus(status) {
		case model.TaskDone:
			report.CompletedTasks += count
		default:
			report.PendingTasks += count
			if !dueDate.IsZero() && dueDate.After(time.Unix(0, 0)) && dueDate.Before(now) {
				report.OverdueTasks += count
			}
		}
	}

	return report, rows.Err()
}

func scanTask(row pgx.Row) (*model.Task, error) {
	var t model.Task
	err := row.Scan(
		&t.ID,
		&t.ProjectID,
		&t.Title,
		&t.Status,
		&t.Priority,
		&t.AssigneeEmail,
		&t.DueDate,
		&t.CompletedAt,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
