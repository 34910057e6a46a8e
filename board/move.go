package board

import "fmt"

// ApplyMove moves the task at from into to and returns the resulting
// board together with the moved task. The input board is not modified.
//
// A nil destination means the drag ended outside any column; the board
// is returned unchanged and the task is nil.
func ApplyMove(b Board, from Location, to *Location) (Board, *Task, error) {
	out := b.Clone()
	if to == nil {
		return out, nil, nil
	}

	src := out.FindColumn(from.ColumnID)
	if src < 0 {
		return b, nil, fmt.Errorf("source %q: %w", from.ColumnID, ErrColumnNotFound)
	}
	dst := out.FindColumn(to.ColumnID)
	if dst < 0 {
		return b, nil, fmt.Errorf("destination %q: %w", to.ColumnID, ErrColumnNotFound)
	}
	srcTasks := out.Columns[src].Tasks
	if from.Index < 0 || from.Index >= len(srcTasks) {
		return b, nil, fmt.Errorf("index %d in column %q: %w", from.Index, from.ColumnID, ErrIndexOutOfRange)
	}

	task := srcTasks[from.Index]
	out.Columns[src].Tasks = append(srcTasks[:from.Index:from.Index], srcTasks[from.Index+1:]...)

	if dst != src {
		task.Status = out.Columns[dst].Name
	}

	dstTasks := out.Columns[dst].Tasks
	idx := to.Index
	if idx < 0 {
		idx = 0
	}
	if idx > len(dstTasks) {
		idx = len(dstTasks)
	}
	inserted := make([]Task, 0, len(dstTasks)+1)
	inserted = append(inserted, dstTasks[:idx]...)
	inserted = append(inserted, task)
	inserted = append(inserted, dstTasks[idx:]...)
	out.Columns[dst].Tasks = inserted

	out.Reindex()
	moved := out.Columns[dst].Tasks[idx]
	return out, &moved, nil
}
