package database

import (
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrColumnNotEmpty = errors.New("column not empty")
	ErrInvalidInput   = errors.New("invalid input")
)

type Board struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type Column struct {
	ID      string `json:"id"`
	BoardID string `json:"boardId"`
	Title   string `json:"title"`
	Order   int    `json:"order"`
	Tasks   []Task `json:"tasks"`
}

type Task struct {
	ID          string  `json:"id"`
	BoardID     string  `json:"boardId"`
	ColumnID    string  `json:"columnId"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Type        string  `json:"type"`
	Priority    string  `json:"priority"`
	Status      string  `json:"status"`
	Assignee    *string `json:"assignee"`
	Position    int     `json:"position"`
}

// BoardColumns is a board with its columns and their tasks in order.
type BoardColumns struct {
	Board
	Columns []Column `json:"columns"`
}

type NewTask struct {
	ColumnID    string  `json:"columnId"`
	Title       string  `json:"name"`
	Description string  `json:"description"`
	Type        string  `json:"type"`
	Priority    string  `json:"priority"`
	Status      string  `json:"status"`
	Assignee    *string `json:"assignee"`
}

// Reorder describes one task move. The destination column is DestColumnID
// when set, otherwise the column at DestOrder on the board.
type Reorder struct {
	TaskID       string `json:"taskId"`
	BoardID      string `json:"boardId"`
	SourceOrder  int    `json:"sourceOrder"`
	DestOrder    int    `json:"destinationOrder"`
	DestColumnID string `json:"destinationColumnId"`
	DestIndex    int    `json:"destinationIndex"`
}
