package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mindwtr/mindwtr/internal/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreEmptyLoad(t *testing.T) {
	s := newTestSQLiteStore(t)

	data, err := s.LoadSnapshot(context.Background())
	require.NoError(t, err)
	require.Empty(t, data.Tasks)
	require.Empty(t, data.Projects)
	require.Empty(t, data.Areas)
	require.NotNil(t, data.Settings)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reviewAt := now.Add(24 * time.Hour)

	task := models.Task{
		Id:         "t1",
		Title:      "buy milk",
		Status:     models.TaskStatusNext,
		Priority:   "high",
		DueDate:    "2026-03-05",
		Recurrence: json.RawMessage(`{"freq":"weekly"}`),
		PushCount:  2,
		Tags:       []string{"home", "errand"},
		Contexts:   []string{"@shop"},
		Checklist: []models.ChecklistItem{
			{Id: "c1", Text: "oat", Done: true},
		},
		Description: "the good kind",
		Attachments: []models.Attachment{
			{Id: "a1", Kind: models.AttachmentKindFile, Uri: "list.txt", Size: 12, CreatedAt: now, UpdatedAt: now},
		},
		ProjectId:      "p1",
		IsFocusedToday: true,
		ReviewAt:       &reviewAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	deleted := now.Add(time.Hour)
	tombstone := models.Task{
		Id: "t2", Title: "old", Status: models.TaskStatusDone,
		Tags: []string{}, Contexts: []string{},
		CreatedAt: now, UpdatedAt: deleted, DeletedAt: &deleted,
	}
	project := models.Project{
		Id: "p1", Title: "household", Status: models.ProjectStatusActive,
		Color: models.DefaultProjectColor, TagIds: []string{"tag1"},
		IsSequential: true, AreaId: "ar1", AreaTitle: "Home",
		CreatedAt: now, UpdatedAt: now,
	}
	area := models.Area{Id: "ar1", Name: "Home", Color: "#fff", Order: 1, CreatedAt: &now, UpdatedAt: &now}

	data := models.NewAppData()
	data.Tasks = append(data.Tasks, task, tombstone)
	data.Projects = append(data.Projects, project)
	data.Areas = append(data.Areas, area)
	data.Settings["theme"] = "dark"
	data.Settings[models.SettingsKeyUpdatedAt] = now.Format(time.RFC3339)

	require.NoError(t, s.SaveSnapshot(ctx, data))

	got, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)

	require.Len(t, got.Tasks, 2)
	require.Equal(t, task, got.Tasks[0])
	require.Equal(t, tombstone, got.Tasks[1])
	require.Len(t, got.Projects, 1)
	require.Equal(t, project, got.Projects[0])
	require.Len(t, got.Areas, 1)
	require.Equal(t, area, got.Areas[0])
	require.Equal(t, "dark", got.Settings["theme"])
}

func TestSQLiteStoreSaveReplacesEverything(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	first := models.NewAppData()
	first.Tasks = append(first.Tasks, *models.NewTask("one"), *models.NewTask("two"))
	require.NoError(t, s.SaveSnapshot(ctx, first))

	second := models.NewAppData()
	second.Tasks = append(second.Tasks, *models.NewTask("three"))
	require.NoError(t, s.SaveSnapshot(ctx, second))

	got, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, got.Tasks, 1)
	require.Equal(t, "three", got.Tasks[0].Title)
}

func TestSQLiteStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	data := models.NewAppData()
	data.Tasks = append(data.Tasks, *models.NewTask("persisted"))
	require.NoError(t, s.SaveSnapshot(ctx, data))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, got.Tasks, 1)
	require.Equal(t, "persisted", got.Tasks[0].Title)
}
