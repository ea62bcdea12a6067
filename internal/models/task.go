// Package models defines the snapshot data model shared by the local store,
// the reconciler and the sync engine: tasks, projects, areas, attachments and
// the settings bag. Records are never physically removed; deletion sets
// DeletedAt (a tombstone) so concurrent edits merge deterministically.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskStatus classifies where a task sits in the GTD-style flow.
type TaskStatus string

const (
	TaskStatusInbox     TaskStatus = "inbox"
	TaskStatusNext      TaskStatus = "next"
	TaskStatusWaiting   TaskStatus = "waiting"
	TaskStatusScheduled TaskStatus = "scheduled"
	TaskStatusSomeday   TaskStatus = "someday"
	TaskStatusDone      TaskStatus = "done"
)

// ChecklistItem is a single sub-step inside a task.
type ChecklistItem struct {
	Id   string `json:"id"`
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// Task is a single actionable item.
//
// CreatedAt is immutable after creation. UpdatedAt is bumped on every
// mutation and drives last-writer-wins merging. DeletedAt, when set, marks
// the task as a tombstone; all other fields are retained for restore.
type Task struct {
	Id       string     `json:"id"`
	Title    string     `json:"title"`
	Status   TaskStatus `json:"status"`
	Priority string     `json:"priority,omitempty"`
	TaskMode string     `json:"taskMode,omitempty"`

	StartTime string `json:"startTime,omitempty"`
	DueDate   string `json:"dueDate,omitempty"`

	// Recurrence is kept opaque: the engine syncs it, the UI interprets it.
	Recurrence json.RawMessage `json:"recurrence,omitempty"`
	PushCount  int             `json:"pushCount,omitempty"`

	Tags      []string        `json:"tags"`
	Contexts  []string        `json:"contexts"`
	Checklist []ChecklistItem `json:"checklist,omitempty"`

	Description string       `json:"description,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Location    string       `json:"location,omitempty"`
	ProjectId   string       `json:"projectId,omitempty"`

	IsFocusedToday bool   `json:"isFocusedToday,omitempty"`
	TimeEstimate   string `json:"timeEstimate,omitempty"`

	ReviewAt    *time.Time `json:"reviewAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}

// NewTask returns a live task with a fresh id and both timestamps set to now.
func NewTask(title string) *Task {
	now := time.Now().UTC()
	return &Task{
		Id:        uuid.NewString(),
		Title:     title,
		Status:    TaskStatusInbox,
		Tags:      []string{},
		Contexts:  []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch bumps UpdatedAt. Callers mutate fields and then Touch.
func (t *Task) Touch() {
	t.UpdatedAt = time.Now().UTC()
}

// Delete tombstones the task.
func (t *Task) Delete() {
	now := time.Now().UTC()
	t.DeletedAt = &now
	t.UpdatedAt = now
}

// Restore clears the tombstone and bumps UpdatedAt.
func (t *Task) Restore() {
	t.DeletedAt = nil
	t.UpdatedAt = time.Now().UTC()
}
