package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/mindwtr/mindwtr/internal/dbx"
	"github.com/mindwtr/mindwtr/internal/models"
	"github.com/mindwtr/mindwtr/internal/storage/migrations"
)

// SQLiteStore is the durable local store. SaveSnapshot rewrites all rows in
// one transaction: the snapshot is the unit of persistence, and full
// rewrites keep the store byte-equivalent to what the merge produced.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path and
// applies pending migrations.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o770); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) runMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) LoadSnapshot(ctx context.Context) (*models.AppData, error) {
	data := models.NewAppData()

	if err := s.loadTasks(ctx, data); err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	if err := s.loadProjects(ctx, data); err != nil {
		return nil, fmt.Errorf("load projects: %w", err)
	}
	if err := s.loadAreas(ctx, data); err != nil {
		return nil, fmt.Errorf("load areas: %w", err)
	}
	if err := s.loadSettings(ctx, data); err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return data, nil
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, data *models.AppData) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, table := range []string{"tasks", "projects", "areas", "settings"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}

		for i := range data.Tasks {
			if err := insertTask(ctx, tx, &data.Tasks[i]); err != nil {
				return fmt.Errorf("insert task %s: %w", data.Tasks[i].Id, err)
			}
		}
		for i := range data.Projects {
			if err := insertProject(ctx, tx, &data.Projects[i]); err != nil {
				return fmt.Errorf("insert project %s: %w", data.Projects[i].Id, err)
			}
		}
		for i := range data.Areas {
			if err := insertArea(ctx, tx, &data.Areas[i]); err != nil {
				return fmt.Errorf("insert area %s: %w", data.Areas[i].Id, err)
			}
		}

		settings, err := json.Marshal(data.Settings)
		if err != nil {
			return fmt.Errorf("encode settings: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO settings (id, data) VALUES (1, ?)`, string(settings)); err != nil {
			return fmt.Errorf("insert settings: %w", err)
		}
		return nil
	})
}

func insertTask(ctx context.Context, tx dbx.DBTX, t *models.Task) error {
	checklist, err := jsonColumn(t.Checklist, t.Checklist != nil)
	if err != nil {
		return err
	}
	attachments, err := jsonColumn(t.Attachments, t.Attachments != nil)
	if err != nil {
		return err
	}
	tags, err := jsonArrayColumn(t.Tags)
	if err != nil {
		return err
	}
	contexts, err := jsonArrayColumn(t.Contexts)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, title, status, priority, taskMode, startTime, dueDate,
			recurrence, pushCount, tags, contexts, checklist, description, attachments,
			location, projectId, isFocusedToday, timeEstimate, reviewAt, completedAt,
			createdAt, updatedAt, deletedAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Id, t.Title, string(t.Status),
		nullString(t.Priority), nullString(t.TaskMode),
		nullString(t.StartTime), nullString(t.DueDate),
		rawColumn(t.Recurrence), nullInt(t.PushCount),
		tags, contexts, checklist,
		nullString(t.Description), attachments,
		nullString(t.Location), nullString(t.ProjectId),
		boolInt(t.IsFocusedToday), nullString(t.TimeEstimate),
		timePtrColumn(t.ReviewAt), timePtrColumn(t.CompletedAt),
		timeColumn(t.CreatedAt), timeColumn(t.UpdatedAt), timePtrColumn(t.DeletedAt))
	return err
}

func insertProject(ctx context.Context, tx dbx.DBTX, p *models.Project) error {
	tagIds, err := jsonArrayColumn(p.TagIds)
	if err != nil {
		return err
	}
	attachments, err := jsonColumn(p.Attachments, p.Attachments != nil)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO projects (id, title, status, color, tagIds, isSequential, isFocused,
			supportNotes, attachments, reviewAt, areaId, areaTitle,
			createdAt, updatedAt, deletedAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Id, p.Title, string(p.Status), p.Color,
		tagIds, boolInt(p.IsSequential), boolInt(p.IsFocused),
		nullString(p.SupportNotes), attachments,
		timePtrColumn(p.ReviewAt), nullString(p.AreaId), nullString(p.AreaTitle),
		timeColumn(p.CreatedAt), timeColumn(p.UpdatedAt), timePtrColumn(p.DeletedAt))
	return err
}

func insertArea(ctx context.Context, tx dbx.DBTX, a *models.Area) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO areas (id, name, color, icon, orderNum, createdAt, updatedAt)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.Id, a.Name, nullString(a.Color), nullString(a.Icon), a.Order,
		timePtrColumn(a.CreatedAt), timePtrColumn(a.UpdatedAt))
	return err
}

func (s *SQLiteStore) loadTasks(ctx context.Context, data *models.AppData) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, status, priority, taskMode, startTime, dueDate,
			recurrence, pushCount, tags, contexts, checklist, description, attachments,
			location, projectId, isFocusedToday, timeEstimate, reviewAt, completedAt,
			createdAt, updatedAt, deletedAt
		FROM tasks ORDER BY rowid`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var t models.Task
		var status string
		var priority, taskMode, startTime, dueDate, recurrence sql.NullString
		var pushCount, isFocusedToday sql.NullInt64
		var tags, contexts, checklist, description, attachments sql.NullString
		var location, projectId, timeEstimate sql.NullString
		var reviewAt, completedAt, deletedAt sql.NullString
		var createdAt, updatedAt string

		if err := rows.Scan(&t.Id, &t.Title, &status, &priority, &taskMode,
			&startTime, &dueDate, &recurrence, &pushCount, &tags, &contexts,
			&checklist, &description, &attachments, &location, &projectId,
			&isFocusedToday, &timeEstimate, &reviewAt, &completedAt,
			&createdAt, &updatedAt, &deletedAt); err != nil {
			return err
		}

		t.Status = models.TaskStatus(status)
		t.Priority = priority.String
		t.TaskMode = taskMode.String
		t.StartTime = startTime.String
		t.DueDate = dueDate.String
		if recurrence.Valid {
			t.Recurrence = json.RawMessage(recurrence.String)
		}
		t.PushCount = int(pushCount.Int64)
		if err := scanJSON(tags, &t.Tags, []string{}); err != nil {
			return err
		}
		if err := scanJSON(contexts, &t.Contexts, []string{}); err != nil {
			return err
		}
		if err := scanJSON(checklist, &t.Checklist, nil); err != nil {
			return err
		}
		t.Description = description.String
		if err := scanJSON(attachments, &t.Attachments, nil); err != nil {
			return err
		}
		t.Location = location.String
		t.ProjectId = projectId.String
		t.IsFocusedToday = isFocusedToday.Int64 != 0
		t.TimeEstimate = timeEstimate.String

		if t.ReviewAt, err = scanTimePtr(reviewAt); err != nil {
			return err
		}
		if t.CompletedAt, err = scanTimePtr(completedAt); err != nil {
			return err
		}
		if t.CreatedAt, err = scanTime(createdAt); err != nil {
			return err
		}
		if t.UpdatedAt, err = scanTime(updatedAt); err != nil {
			return err
		}
		if t.DeletedAt, err = scanTimePtr(deletedAt); err != nil {
			return err
		}

		data.Tasks = append(data.Tasks, t)
	}
	return rows.Err()
}

func (s *SQLiteStore) loadProjects(ctx context.Context, data *models.AppData) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, status, color, tagIds, isSequential, isFocused,
			supportNotes, attachments, reviewAt, areaId, areaTitle,
			createdAt, updatedAt, deletedAt
		FROM projects ORDER BY rowid`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var p models.Project
		var status string
		var tagIds, supportNotes, attachments sql.NullString
		var isSequential, isFocused sql.NullInt64
		var reviewAt, areaId, areaTitle, deletedAt sql.NullString
		var createdAt, updatedAt string

		if err := rows.Scan(&p.Id, &p.Title, &status, &p.Color, &tagIds,
			&isSequential, &isFocused, &supportNotes, &attachments,
			&reviewAt, &areaId, &areaTitle, &createdAt, &updatedAt, &deletedAt); err != nil {
			return err
		}

		p.Status = models.ProjectStatus(status)
		if err := scanJSON(tagIds, &p.TagIds, []string{}); err != nil {
			return err
		}
		p.IsSequential = isSequential.Int64 != 0
		p.IsFocused = isFocused.Int64 != 0
		p.SupportNotes = supportNotes.String
		if err := scanJSON(attachments, &p.Attachments, nil); err != nil {
			return err
		}
		if p.ReviewAt, err = scanTimePtr(reviewAt); err != nil {
			return err
		}
		p.AreaId = areaId.String
		p.AreaTitle = areaTitle.String
		if p.CreatedAt, err = scanTime(createdAt); err != nil {
			return err
		}
		if p.UpdatedAt, err = scanTime(updatedAt); err != nil {
			return err
		}
		if p.DeletedAt, err = scanTimePtr(deletedAt); err != nil {
			return err
		}

		data.Projects = append(data.Projects, p)
	}
	return rows.Err()
}

func (s *SQLiteStore) loadAreas(ctx context.Context, data *models.AppData) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, color, icon, orderNum, createdAt, updatedAt
		FROM areas ORDER BY orderNum, rowid`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var a models.Area
		var color, icon, createdAt, updatedAt sql.NullString

		if err := rows.Scan(&a.Id, &a.Name, &color, &icon, &a.Order, &createdAt, &updatedAt); err != nil {
			return err
		}
		a.Color = color.String
		a.Icon = icon.String
		if a.CreatedAt, err = scanTimePtr(createdAt); err != nil {
			return err
		}
		if a.UpdatedAt, err = scanTimePtr(updatedAt); err != nil {
			return err
		}

		data.Areas = append(data.Areas, a)
	}
	return rows.Err()
}

func (s *SQLiteStore) loadSettings(ctx context.Context, data *models.AppData) error {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM settings WHERE id = 1`).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), &data.Settings)
}

// column helpers

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func rawColumn(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func jsonColumn(v any, present bool) (any, error) {
	if !present {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func jsonArrayColumn[T any](v []T) (any, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// scanJSON unmarshals a nullable JSON column into dst, or assigns fallback
// when the column is NULL.
func scanJSON[T any](col sql.NullString, dst *T, fallback T) error {
	if !col.Valid {
		*dst = fallback
		return nil
	}
	return json.Unmarshal([]byte(col.String), dst)
}

func timeColumn(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func timePtrColumn(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timeColumn(*t)
}

func scanTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func scanTimePtr(col sql.NullString) (*time.Time, error) {
	if !col.Valid {
		return nil, nil
	}
	t, err := scanTime(col.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
