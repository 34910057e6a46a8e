// Package board holds the client-side cache of a kanban board and the
// engine that applies drag-and-drop moves optimistically and reconciles
// them with the remote board API.
package board

import (
	"errors"
	"strings"
)

var (
	ErrColumnNotFound  = errors.New("column not found")
	ErrIndexOutOfRange = errors.New("task index out of range")
	ErrColumnNotEmpty  = errors.New("column not empty")
	ErrTaskNotFound    = errors.New("task not found")
)

type Priority string

const (
	PriorityLow      Priority = "Low"
	PriorityMedium   Priority = "Medium"
	PriorityHigh     Priority = "High"
	PriorityCritical Priority = "Critical"
)

// ParsePriority is case-insensitive. Unknown values become Medium.
func ParsePriority(s string) Priority {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityMedium
	}
}

type Summary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Board struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

type Column struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order"`
	Tasks []Task `json:"tasks"`
}

type Task struct {
	ID          string   `json:"id"`
	Title       string   `json:"name"`
	Description string   `json:"description"`
	Type        string   `json:"type,omitempty"`
	Priority    Priority `json:"priority"`
	Status      string   `json:"status"`
	Assignee    string   `json:"assignee,omitempty"`
	Position    int      `json:"position"`
}

// NewTask is the payload for creating a task in a column.
type NewTask struct {
	ColumnID    string   `json:"columnId"`
	Title       string   `json:"name"`
	Description string   `json:"description"`
	Type        string   `json:"type,omitempty"`
	Priority    Priority `json:"priority"`
	Status      string   `json:"status"`
	Assignee    string   `json:"assignee,omitempty"`
}

// Location addresses a slot in a column's task sequence.
type Location struct {
	ColumnID string
	Index    int
}

// Clone returns a deep copy of b.
func (b Board) Clone() Board {
	out := Board{ID: b.ID, Name: b.Name}
	if b.Columns == nil {
		return out
	}
	out.Columns = make([]Column, len(b.Columns))
	for i, col := range b.Columns {
		out.Columns[i] = col
		if col.Tasks != nil {
			out.Columns[i].Tasks = append(make([]Task, 0, len(col.Tasks)), col.Tasks...)
		}
	}
	return out
}

// Reindex rewrites column orders and task positions to 0..n-1 following
// slice order.
func (b *Board) Reindex() {
	for i := range b.Columns {
		b.Columns[i].Order = i
		for j := range b.Columns[i].Tasks {
			b.Columns[i].Tasks[j].Position = j
		}
	}
}

// FindColumn returns the index of the column with the given id, or -1.
func (b Board) FindColumn(id string) int {
	for i, col := range b.Columns {
		if col.ID == id {
			return i
		}
	}
	return -1
}

// FindTask reports where the task with the given id currently sits.
func (b Board) FindTask(id string) (Location, bool) {
	for _, col := range b.Columns {
		for j, task := range col.Tasks {
			if task.ID == id {
				return Location{ColumnID: col.ID, Index: j}, true
			}
		}
	}
	return Location{}, false
}

func (b Board) TaskCount() int {
	n := 0
	for _, col := range b.Columns {
		n += len(col.Tasks)
	}
	return n
}
