package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/CrowderSoup/boardsync/board"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultColumns are created with every new board.
var DefaultColumns = []string{"To Do", "In Progress", "Done"}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS boards (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS board_columns (
		id TEXT PRIMARY KEY,
		board_id TEXT NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		position INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		board_id TEXT NOT NULL REFERENCES boards(id) ON DELETE CASCADE,
		column_id TEXT NOT NULL REFERENCES board_columns(id),
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL DEFAULT 'task',
		priority TEXT NOT NULL DEFAULT 'Medium',
		status TEXT NOT NULL,
		assignee TEXT,
		position INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_columns_board ON board_columns(board_id, position)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_column ON tasks(column_id, position)`,
}

// InitDB opens the SQLite database at path and creates the schema.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; a single connection keeps transactions serial.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	log.Printf("Database initialized at %s", path)
	return db, nil
}

// BoardStore is the system of record for boards, columns and tasks.
type BoardStore struct {
	db *sql.DB
}

func NewBoardStore(db *sql.DB) *BoardStore {
	return &BoardStore{db: db}
}

func (s *BoardStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreateBoard creates a board with the default columns.
func (s *BoardStore) CreateBoard(ctx context.Context, projectID, name string) (*Board, error) {
	name = strings.TrimSpace(name)
	if projectID == "" || name == "" {
		return nil, fmt.Errorf("%w: project and name are required", ErrInvalidInput)
	}

	b := &Board{ID: uuid.NewString(), ProjectID: projectID, Name: name, CreatedAt: time.Now().UTC()}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO boards (id, project_id, name, created_at) VALUES (?, ?, ?, ?)",
			b.ID, b.ProjectID, b.Name, b.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert board: %w", err)
		}
		for i, title := range DefaultColumns {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO board_columns (id, board_id, title, position) VALUES (?, ?, ?, ?)",
				uuid.NewString(), b.ID, title, i); err != nil {
				return fmt.Errorf("failed to insert column: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *BoardStore) ListBoards(ctx context.Context, projectID string) ([]Board, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, project_id, name, created_at FROM boards WHERE project_id = ? ORDER BY created_at, name",
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query boards: %w", err)
	}
	defer rows.Close()

	boards := []Board{}
	for rows.Next() {
		var b Board
		if err := rows.Scan(&b.ID, &b.ProjectID, &b.Name, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan board: %w", err)
		}
		boards = append(boards, b)
	}
	return boards, rows.Err()
}

// GetBoard returns the board with its columns and tasks in display order.
func (s *BoardStore) GetBoard(ctx context.Context, boardID string) (*BoardColumns, error) {
	out := &BoardColumns{}
	row := s.db.QueryRowContext(ctx,
		"SELECT id, project_id, name, created_at FROM boards WHERE id = ?", boardID)
	if err := row.Scan(&out.ID, &out.ProjectID, &out.Name, &out.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("board %s: %w", boardID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query board: %w", err)
	}

	cols, err := s.db.QueryContext(ctx,
		"SELECT id, board_id, title, position FROM board_columns WHERE board_id = ? ORDER BY position", boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	index := make(map[string]int)
	out.Columns = []Column{}
	for cols.Next() {
		c := Column{Tasks: []Task{}}
		if err := cols.Scan(&c.ID, &c.BoardID, &c.Title, &c.Order); err != nil {
			cols.Close()
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		index[c.ID] = len(out.Columns)
		out.Columns = append(out.Columns, c)
	}
	cols.Close()
	if err := cols.Err(); err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	tasks, err := s.db.QueryContext(ctx, `
		SELECT id, board_id, column_id, title, description, type, priority, status, assignee, position
		FROM tasks WHERE board_id = ? ORDER BY position`, boardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer tasks.Close()
	for tasks.Next() {
		t, err := scanTask(tasks)
		if err != nil {
			return nil, err
		}
		i, ok := index[t.ColumnID]
		if !ok {
			log.Printf("Task %s references unknown column %s", t.ID, t.ColumnID)
			continue
		}
		out.Columns[i].Tasks = append(out.Columns[i].Tasks, *t)
	}
	return out, tasks.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*Task, error) {
	var t Task
	var assignee sql.NullString
	if err := row.Scan(&t.ID, &t.BoardID, &t.ColumnID, &t.Title, &t.Description,
		&t.Type, &t.Priority, &t.Status, &assignee, &t.Position); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	if assignee.Valid {
		t.Assignee = &assignee.String
	}
	return &t, nil
}

func columnInBoard(ctx context.Context, tx *sql.Tx, boardID, columnID string) (*Column, error) {
	c := &Column{}
	err := tx.QueryRowContext(ctx,
		"SELECT id, board_id, title, position FROM board_columns WHERE id = ? AND board_id = ?",
		columnID, boardID).Scan(&c.ID, &c.BoardID, &c.Title, &c.Order)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("column %s: %w", columnID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query column: %w", err)
	}
	return c, nil
}

// CreateTask appends a task to the end of its column.
func (s *BoardStore) CreateTask(ctx context.Context, boardID string, in NewTask) (*Task, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" || in.ColumnID == "" {
		return nil, fmt.Errorf("%w: name and columnId are required", ErrInvalidInput)
	}

	var created *Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		col, err := columnInBoard(ctx, tx, boardID, in.ColumnID)
		if err != nil {
			return err
		}
		var n int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks WHERE column_id = ?", col.ID).Scan(&n); err != nil {
			return fmt.Errorf("failed to count tasks: %w", err)
		}

		t := &Task{
			ID:          uuid.NewString(),
			BoardID:     boardID,
			ColumnID:    col.ID,
			Title:       in.Title,
			Description: in.Description,
			Type:        in.Type,
			Priority:    string(board.ParsePriority(in.Priority)),
			Status:      in.Status,
			Assignee:    in.Assignee,
			Position:    n,
		}
		if t.Type == "" {
			t.Type = "task"
		}
		if t.Status == "" {
			t.Status = col.Title
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, board_id, column_id, title, description, type, priority, status, assignee, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.BoardID, t.ColumnID, t.Title, t.Description, t.Type, t.Priority, t.Status, t.Assignee, t.Position); err != nil {
			return fmt.Errorf("failed to insert task: %w", err)
		}
		created = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ReorderTask moves a task to a slot in the destination column and
// renumbers both columns. Moves are applied in arrival order.
func (s *BoardStore) ReorderTask(ctx context.Context, r Reorder) (*Task, error) {
	var moved *Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		t, err := scanTask(tx.QueryRowContext(ctx, `
			SELECT id, board_id, column_id, title, description, type, priority, status, assignee, position
			FROM tasks WHERE id = ?`, r.TaskID))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("task %s: %w", r.TaskID, ErrNotFound)
			}
			return err
		}
		if r.BoardID != "" && r.BoardID != t.BoardID {
			return fmt.Errorf("task %s on board %s: %w", r.TaskID, r.BoardID, ErrNotFound)
		}

		var dst *Column
		if r.DestColumnID != "" {
			dst, err = columnInBoard(ctx, tx, t.BoardID, r.DestColumnID)
		} else {
			dst = &Column{}
			err = tx.QueryRowContext(ctx,
				"SELECT id, board_id, title, position FROM board_columns WHERE board_id = ? AND position = ?",
				t.BoardID, r.DestOrder).Scan(&dst.ID, &dst.BoardID, &dst.Title, &dst.Order)
			if errors.Is(err, sql.ErrNoRows) {
				err = fmt.Errorf("column at order %d: %w", r.DestOrder, ErrNotFound)
			}
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE tasks SET position = position - 1 WHERE column_id = ? AND position > ?",
			t.ColumnID, t.Position); err != nil {
			return fmt.Errorf("failed to close gap: %w", err)
		}

		var n int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM tasks WHERE column_id = ? AND id != ?", dst.ID, t.ID).Scan(&n); err != nil {
			return fmt.Errorf("failed to count tasks: %w", err)
		}
		idx := r.DestIndex
		if idx < 0 {
			idx = 0
		}
		if idx > n {
			idx = n
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE tasks SET position = position + 1 WHERE column_id = ? AND position >= ? AND id != ?",
			dst.ID, idx, t.ID); err != nil {
			return fmt.Errorf("failed to open gap: %w", err)
		}

		status := t.Status
		if dst.ID != t.ColumnID {
			status = dst.Title
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE tasks SET column_id = ?, position = ?, status = ? WHERE id = ?",
			dst.ID, idx, status, t.ID); err != nil {
			return fmt.Errorf("failed to move task: %w", err)
		}

		t.ColumnID, t.Position, t.Status = dst.ID, idx, status
		moved = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

// AddColumn appends a column after the last one.
func (s *BoardStore) AddColumn(ctx context.Context, boardID, title string) (*Column, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}

	c := &Column{ID: uuid.NewString(), BoardID: boardID, Title: title, Tasks: []Task{}}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM boards WHERE id = ?", boardID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to query board: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("board %s: %w", boardID, ErrNotFound)
		}
		if err := tx.QueryRowContext(ctx,
			"SELECT COALESCE(MAX(position) + 1, 0) FROM board_columns WHERE board_id = ?", boardID).Scan(&c.Order); err != nil {
			return fmt.Errorf("failed to query column order: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO board_columns (id, board_id, title, position) VALUES (?, ?, ?, ?)",
			c.ID, c.BoardID, c.Title, c.Order); err != nil {
			return fmt.Errorf("failed to insert column: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// RenameColumn changes a column's title. Tasks in it take the new title
// as their status.
func (s *BoardStore) RenameColumn(ctx context.Context, columnID, title string) (*Column, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}

	c := &Column{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			"SELECT id, board_id, title, position FROM board_columns WHERE id = ?", columnID).
			Scan(&c.ID, &c.BoardID, &c.Title, &c.Order)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("column %s: %w", columnID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to query column: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE board_columns SET title = ? WHERE id = ?", title, columnID); err != nil {
			return fmt.Errorf("failed to rename column: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE tasks SET status = ? WHERE column_id = ?", title, columnID); err != nil {
			return fmt.Errorf("failed to update task status: %w", err)
		}
		c.Title = title
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteColumn removes an empty column and closes the gap in the board's
// column order.
func (s *BoardStore) DeleteColumn(ctx context.Context, boardID, columnID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		col, err := columnInBoard(ctx, tx, boardID, columnID)
		if err != nil {
			return err
		}
		var n int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks WHERE column_id = ?", columnID).Scan(&n); err != nil {
			return fmt.Errorf("failed to count tasks: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("column %s has %d tasks: %w", columnID, n, ErrColumnNotEmpty)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM board_columns WHERE id = ?", columnID); err != nil {
			return fmt.Errorf("failed to delete column: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE board_columns SET position = position - 1 WHERE board_id = ? AND position > ?",
			boardID, col.Order); err != nil {
			return fmt.Errorf("failed to renumber columns: %w", err)
		}
		return nil
	})
}
