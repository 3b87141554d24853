package model

import "time"

// TaskStatus tracks a task through its workflow
type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskReview     TaskStatus = "review"
	TaskDone       TaskStatus = "done"
)

// Project is a tenant-scoped container for tasks
type Project struct {
	ID        int64
	Name      string
	OwnerName string
	CreatedAt time.Time
}

// Task is a tenant-scoped unit of work assigned to a person
type Task struct {
	ID            int64
	ProjectID     int64
	Title         string
	Status        TaskStatus
	Priority      string
	AssigneeEmail string
	DueDate       time.Time
	CompletedAt   time.Time
	CreatedAt     time.Time
}

// ProjectReport summarizes one project's tasks at a point in time
type ProjectReport struct {
	ProjectName     string         `json:"project_name"`
	TotalTasks      int            `json:"total_tasks"`
	CompletedTasks  int            `json:"completed_tasks"`
	PendingTasks    int            `json:"pending_tasks"`
	OverdueTasks    int            `json:"overdue_tasks"`
	TasksByPriority map[string]int `json:"tasks_by_priority"`
	GeneratedAt     time.Time      `json:"generated_at"`
}
