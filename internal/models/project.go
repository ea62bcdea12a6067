package models

import (
	"time"

	"github.com/google/uuid"
)

// ProjectStatus classifies a project's lifecycle state.
type ProjectStatus string

const (
	ProjectStatusActive   ProjectStatus = "active"
	ProjectStatusOnHold   ProjectStatus = "on_hold"
	ProjectStatusDone     ProjectStatus = "done"
	ProjectStatusArchived ProjectStatus = "archived"
)

// DefaultProjectColor is used when the UI has not assigned one.
const DefaultProjectColor = "#6B7280"

// Project groups tasks and follows the same tombstone discipline as Task.
type Project struct {
	Id     string        `json:"id"`
	Title  string        `json:"title"`
	Status ProjectStatus `json:"status"`
	Color  string        `json:"color"`

	TagIds       []string `json:"tagIds"`
	IsSequential bool     `json:"isSequential,omitempty"`
	IsFocused    bool     `json:"isFocused,omitempty"`

	SupportNotes string       `json:"supportNotes,omitempty"`
	Attachments  []Attachment `json:"attachments,omitempty"`

	ReviewAt  *time.Time `json:"reviewAt,omitempty"`
	AreaId    string     `json:"areaId,omitempty"`
	AreaTitle string     `json:"areaTitle,omitempty"`

	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// NewProject returns a live project with a fresh id.
func NewProject(title string) *Project {
	now := time.Now().UTC()
	return &Project{
		Id:        uuid.NewString(),
		Title:     title,
		Status:    ProjectStatusActive,
		Color:     DefaultProjectColor,
		TagIds:    []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Area is a top-level grouping for projects (e.g. "Work", "Home").
// Areas carry no tombstone: the newest UpdatedAt simply wins on merge.
type Area struct {
	Id        string     `json:"id"`
	Name      string     `json:"name"`
	Color     string     `json:"color,omitempty"`
	Icon      string     `json:"icon,omitempty"`
	Order     int        `json:"order"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}
