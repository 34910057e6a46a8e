package board

import (
	"errors"
	"fmt"
	"sync"
)

var ErrDragFinished = errors.New("drag already finished")

type DragState int

const (
	DragIdle DragState = iota
	DragDragging
	DragReconciling
)

func (s DragState) String() string {
	switch s {
	case DragIdle:
		return "idle"
	case DragDragging:
		return "dragging"
	case DragReconciling:
		return "reconciling"
	default:
		return fmt.Sprintf("DragState(%d)", int(s))
	}
}

// Drag tracks one drag-and-drop gesture from pick-up to confirmation.
// A failed confirmation ends in DragIdle like a successful one.
type Drag struct {
	engine *Engine
	taskID string

	mu    sync.Mutex
	state DragState
	seq   uint64
}

// BeginDrag picks up the task at from.
func (e *Engine) BeginDrag(from Location) (*Drag, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.snap.FindColumn(from.ColumnID)
	if i < 0 {
		return nil, fmt.Errorf("begin drag in %q: %w", from.ColumnID, ErrColumnNotFound)
	}
	tasks := e.snap.Columns[i].Tasks
	if from.Index < 0 || from.Index >= len(tasks) {
		return nil, fmt.Errorf("begin drag at %d: %w", from.Index, ErrIndexOutOfRange)
	}
	return &Drag{
		engine: e,
		taskID: tasks[from.Index].ID,
		state:  DragDragging,
	}, nil
}

func (d *Drag) TaskID() string { return d.taskID }

// Drop ends the gesture. The picked-up task moves from wherever it sits
// now, so moves or refreshes during the gesture do not change which task
// is dropped. A nil destination means the task was dropped outside every
// column and nothing changes.
func (d *Drag) Drop(to *Location) (Board, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != DragDragging {
		return d.engine.Snapshot(), ErrDragFinished
	}
	if to == nil {
		d.state = DragIdle
		return d.engine.Snapshot(), nil
	}

	b, seq, err := d.engine.applyTaskMove(d.taskID, to)
	if err != nil {
		d.state = DragIdle
		return b, err
	}
	d.seq = seq
	d.state = DragReconciling
	return b, nil
}

func (d *Drag) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == DragDragging {
		d.state = DragIdle
	}
}

func (d *Drag) State() DragState {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == DragReconciling && d.engine.completed(d.seq) {
		d.state = DragIdle
	}
	return d.state
}
