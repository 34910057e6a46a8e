package board

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUnavailable = errors.New("service unavailable")

// fakeAPI records every call and serves a fixed board.
type fakeAPI struct {
	mu       sync.Mutex
	board    Board
	reorders []ReorderRequest
	calls    []string

	getErr     error
	reorderErr func(ReorderRequest) error
	deleteErr  error
	// gate, when set, holds each reorder until a value is received.
	gate chan struct{}
	// getGate, when set, holds GetBoard after it has copied the board.
	// getStarted is signalled once the copy is taken.
	getGate    chan struct{}
	getStarted chan struct{}
}

func (f *fakeAPI) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeAPI) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAPI) Reorders() []ReorderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ReorderRequest(nil), f.reorders...)
}

func (f *fakeAPI) ListBoards(ctx context.Context, projectID string) ([]Summary, error) {
	f.record("ListBoards")
	return []Summary{{ID: f.board.ID, Name: f.board.Name}}, nil
}

func (f *fakeAPI) GetBoard(ctx context.Context, boardID string) (*Board, error) {
	f.record("GetBoard")
	f.mu.Lock()
	if f.getErr != nil {
		err := f.getErr
		f.mu.Unlock()
		return nil, err
	}
	b := f.board.Clone()
	gate, started := f.getGate, f.getStarted
	f.mu.Unlock()

	if gate != nil {
		select {
		case started <- struct{}{}:
		default:
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &b, nil
}

func (f *fakeAPI) CreateTask(ctx context.Context, boardID string, nt NewTask) (*Task, error) {
	f.record("CreateTask")
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.board.FindColumn(nt.ColumnID)
	if i < 0 {
		return nil, ErrColumnNotFound
	}
	tk := Task{ID: "new-" + nt.Title, Title: nt.Title, Priority: nt.Priority, Status: nt.Status}
	f.board.Columns[i].Tasks = append(f.board.Columns[i].Tasks, tk)
	return &tk, nil
}

func (f *fakeAPI) ReorderTask(ctx context.Context, req ReorderRequest) error {
	f.record("ReorderTask")
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.reorders = append(f.reorders, req)
	fn := f.reorderErr
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return nil
}

func (f *fakeAPI) AddColumn(ctx context.Context, boardID, name string) (*Column, error) {
	f.record("AddColumn")
	f.mu.Lock()
	defer f.mu.Unlock()
	col := Column{ID: "col-" + name, Name: name, Order: len(f.board.Columns)}
	f.board.Columns = append(f.board.Columns, col)
	return &col, nil
}

func (f *fakeAPI) RenameColumn(ctx context.Context, columnID, name string) (*Column, error) {
	f.record("RenameColumn")
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.board.FindColumn(columnID)
	if i < 0 {
		return nil, ErrColumnNotFound
	}
	f.board.Columns[i].Name = name
	col := f.board.Columns[i]
	return &col, nil
}

func (f *fakeAPI) DeleteColumn(ctx context.Context, boardID, columnID string) error {
	f.record("DeleteColumn")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	i := f.board.FindColumn(columnID)
	if i < 0 {
		return ErrColumnNotFound
	}
	f.board.Columns = append(f.board.Columns[:i], f.board.Columns[i+1:]...)
	return nil
}

func newTestEngine(t *testing.T, api *fakeAPI, opts ...Option) *Engine {
	t.Helper()
	e := NewEngine(api, api.board.ID, opts...)
	t.Cleanup(e.Close)
	_, err := e.RefreshBoard(context.Background())
	require.NoError(t, err)
	return e
}

func flush(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Flush(ctx))
}

func TestEngine_ApplyMoveIsOptimistic(t *testing.T) {
	api := &fakeAPI{board: sampleBoard(), gate: make(chan struct{})}
	e := newTestEngine(t, api)

	out, err := e.ApplyMove(Location{ColumnID: "todo", Index: 0}, &Location{ColumnID: "done", Index: 0})
	require.NoError(t, err)

	// The confirmation is still blocked, but the move is visible.
	assert.Equal(t, []string{"T2"}, taskIDs(out.Columns[0]))
	assert.Equal(t, []string{"T1"}, taskIDs(out.Columns[1]))
	assert.Equal(t, "Done", e.Snapshot().Columns[1].Tasks[0].Status)
	assert.Equal(t, 1, e.Pending())

	api.gate <- struct{}{}
	flush(t, e)
	assert.Equal(t, 0, e.Pending())

	reqs := api.Reorders()
	require.Len(t, reqs, 1)
	assert.Equal(t, ReorderRequest{
		TaskID:         "T1",
		BoardID:        "b1",
		SourceColumnID: "todo",
		DestColumnID:   "done",
		SourceOrder:    0,
		DestOrder:      1,
		DestIndex:      0,
	}, reqs[0])
}

func TestEngine_NilDestinationSendsNothing(t *testing.T) {
	api := &fakeAPI{board: sampleBoard()}
	e := newTestEngine(t, api)
	before := e.Snapshot()

	out, err := e.ApplyMove(Location{ColumnID: "todo", Index: 0}, nil)
	require.NoError(t, err)
	assert.Equal(t, before, out)

	flush(t, e)
	assert.Empty(t, api.Reorders())
}

func TestEngine_InvalidMoveSendsNothing(t *testing.T) {
	api := &fakeAPI{board: sampleBoard()}
	e := newTestEngine(t, api)

	_, err := e.ApplyMove(Location{ColumnID: "todo", Index: 5}, &Location{ColumnID: "done"})
	require.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = e.ApplyMove(Location{ColumnID: "todo"}, &Location{ColumnID: "archive"})
	require.ErrorIs(t, err, ErrColumnNotFound)

	flush(t, e)
	assert.Empty(t, api.Reorders())
	assert.Equal(t, sampleBoard(), e.Snapshot())
}

func TestEngine_ConfirmationsInIssueOrder(t *testing.T) {
	api := &fakeAPI{board: sampleBoard()}
	e := newTestEngine(t, api)

	_, err := e.ApplyMove(Location{ColumnID: "todo", Index: 0}, &Location{ColumnID: "done", Index: 0})
	require.NoError(t, err)
	_, err = e.ApplyMove(Location{ColumnID: "todo", Index: 0}, &Location{ColumnID: "done", Index: 1})
	require.NoError(t, err)
	_, err = e.ApplyMove(Location{ColumnID: "done", Index: 0}, &Location{ColumnID: "todo", Index: 0})
	require.NoError(t, err)
	flush(t, e)

	reqs := api.Reorders()
	require.Len(t, reqs, 3)
	assert.Equal(t, "T1", reqs[0].TaskID)
	assert.Equal(t, "T2", reqs[1].TaskID)
	assert.Equal(t, "T1", reqs[2].TaskID)
	assert.Equal(t, "todo", reqs[2].DestColumnID)

	snap := e.Snapshot()
	assert.Equal(t, []string{"T1"}, taskIDs(snap.Columns[0]))
	assert.Equal(t, []string{"T2"}, taskIDs(snap.Columns[1]))
}

func TestEngine_FailedConfirmationRollsBack(t *testing.T) {
	var notices []Notice
	var mu sync.Mutex
	api := &fakeAPI{
		board:      sampleBoard(),
		reorderErr: func(ReorderRequest) error { return errUnavailable },
	}
	e := newTestEngine(t, api, WithNotifier(NotifierFunc(func(n Notice) {
		mu.Lock()
		notices = append(notices, n)
		mu.Unlock()
	})))

	_, err := e.ApplyMove(Location{ColumnID: "todo", Index: 0}, &Location{ColumnID: "done", Index: 0})
	require.NoError(t, err)
	flush(t, e)

	assert.Equal(t, sampleBoard(), e.Snapshot())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, notices, 1)
	assert.Equal(t, NoticeCorrection, notices[0].Kind)
	assert.Equal(t, "T1", notices[0].TaskID)
	assert.ErrorIs(t, notices[0].Err, errUnavailable)
}

func TestEngine_FailedConfirmationWithoutRollback(t *testing.T) {
	api := &fakeAPI{
		board:      sampleBoard(),
		reorderErr: func(ReorderRequest) error { return errUnavailable },
	}
	e := newTestEngine(t, api, WithRollback(false))

	_, err := e.ApplyMove(Location{ColumnID: "todo", Index: 0}, &Location{ColumnID: "done", Index: 0})
	require.NoError(t, err)
	flush(t, e)

	snap := e.Snapshot()
	assert.Equal(t, []string{"T2"}, taskIDs(snap.Columns[0]))
	assert.Equal(t, []string{"T1"}, taskIDs(snap.Columns[1]))
}

func TestEngine_SupersededMoveIsNotRolledBack(t *testing.T) {
	api := &fakeAPI{
		board: sampleBoard(),
		gate:  make(chan struct{}),
		reorderErr: func(req ReorderRequest) error {
			if req.DestColumnID == "done" {
				return errUnavailable
			}
			return nil
		},
	}
	e := newTestEngine(t, api)

	// First move fails, but the second move of the same task succeeds
	// and describes where the user left it.
	_, err := e.ApplyMove(Location{ColumnID: "todo", Index: 0}, &Location{ColumnID: "done", Index: 0})
	require.NoError(t, err)
	_, err = e.ApplyMove(Location{ColumnID: "done", Index: 0}, &Location{ColumnID: "todo", Index: 2})
	require.NoError(t, err)
	api.gate <- struct{}{}
	api.gate <- struct{}{}
	flush(t, e)

	snap := e.Snapshot()
	assert.Equal(t, []string{"T2", "T1"}, taskIDs(snap.Columns[0]))
	assert.Equal(t, "To Do", snap.Columns[0].Tasks[1].Status)
}

func TestEngine_RefreshFailureKeepsSnapshot(t *testing.T) {
	api := &fakeAPI{board: sampleBoard()}
	e := newTestEngine(t, api)

	api.mu.Lock()
	api.getErr = errUnavailable
	api.board.Columns = nil
	api.mu.Unlock()

	out, err := e.RefreshBoard(context.Background())
	require.ErrorIs(t, err, errUnavailable)
	assert.Equal(t, sampleBoard(), out)
	assert.Equal(t, sampleBoard(), e.Snapshot())
}

func TestEngine_DeleteColumnGuard(t *testing.T) {
	api := &fakeAPI{board: sampleBoard()}
	e := newTestEngine(t, api)
	callsBefore := len(api.Calls())

	_, err := e.DeleteColumn(context.Background(), "todo")
	require.ErrorIs(t, err, ErrColumnNotEmpty)
	assert.Len(t, api.Calls(), callsBefore, "no request may be made for a non-empty column")

	_, err = e.DeleteColumn(context.Background(), "missing")
	require.ErrorIs(t, err, ErrColumnNotFound)
	assert.Len(t, api.Calls(), callsBefore)

	out, err := e.DeleteColumn(context.Background(), "done")
	require.NoError(t, err)
	assert.Equal(t, []string{"DeleteColumn", "GetBoard"}, api.Calls()[callsBefore:])
	require.Len(t, out.Columns, 1)
	assert.Equal(t, "todo", out.Columns[0].ID)
}

func TestEngine_DeleteColumnFailureKeepsSnapshot(t *testing.T) {
	api := &fakeAPI{board: sampleBoard(), deleteErr: errUnavailable}
	e := newTestEngine(t, api)

	out, err := e.DeleteColumn(context.Background(), "done")
	require.ErrorIs(t, err, errUnavailable)
	assert.Len(t, out.Columns, 2)
}

func TestEngine_StructuralEditsRefresh(t *testing.T) {
	api := &fakeAPI{board: sampleBoard()}
	e := newTestEngine(t, api)
	ctx := context.Background()

	out, err := e.AddColumn(ctx, "Review")
	require.NoError(t, err)
	require.Len(t, out.Columns, 3)
	assert.Equal(t, "Review", out.Columns[2].Name)
	assert.Equal(t, 2, out.Columns[2].Order)

	out, err = e.RenameColumn(ctx, "col-Review", "QA")
	require.NoError(t, err)
	assert.Equal(t, "QA", out.Columns[2].Name)

	out, err = e.CreateTask(ctx, NewTask{ColumnID: "col-Review", Title: "write tests"})
	require.NoError(t, err)
	require.Len(t, out.Columns[2].Tasks, 1)
	created := out.Columns[2].Tasks[0]
	assert.Equal(t, "new-write tests", created.ID)
	assert.Equal(t, "QA", created.Status)
	assert.Equal(t, PriorityMedium, created.Priority)

	assert.Equal(t, []string{
		"GetBoard",
		"AddColumn", "GetBoard",
		"RenameColumn", "GetBoard",
		"CreateTask", "GetBoard",
	}, api.Calls())
}

func TestEngine_WatchRefreshesOnBoardEvents(t *testing.T) {
	api := &fakeAPI{board: sampleBoard()}
	refreshed := make(chan Board, 4)
	e := newTestEngine(t, api, WithRefreshHook(func(b Board) { refreshed <- b }))
	<-refreshed

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan Event, 4)
	go e.Watch(ctx, events)

	api.mu.Lock()
	api.board.Columns[1].Name = "Shipped"
	api.mu.Unlock()

	events <- Event{Type: EventBoardUpdated, BoardID: "other"}
	events <- Event{Type: "ping", BoardID: "b1"}
	events <- Event{Type: EventBoardUpdated, BoardID: "b1"}

	select {
	case b := <-refreshed:
		assert.Equal(t, "Shipped", b.Columns[1].Name)
	case <-time.After(5 * time.Second):
		t.Fatal("no refresh after board event")
	}
	assert.Equal(t, "Shipped", e.Snapshot().Columns[1].Name)
}

func TestEngine_WatchDefersRefreshWhilePending(t *testing.T) {
	api := &fakeAPI{board: sampleBoard(), gate: make(chan struct{})}
	refreshed := make(chan Board, 4)
	e := newTestEngine(t, api, WithRefreshHook(func(b Board) { refreshed <- b }))
	<-refreshed

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan Event)
	go e.Watch(ctx, events)

	_, err := e.ApplyMove(Location{ColumnID: "todo", Index: 0}, &Location{ColumnID: "done", Index: 0})
	require.NoError(t, err)

	// The event is consumed while the move is unconfirmed.
	events <- Event{Type: EventBoardUpdated, BoardID: "b1"}
	select {
	case <-refreshed:
		t.Fatal("refreshed while a confirmation was pending")
	case <-time.After(50 * time.Millisecond):
	}

	api.mu.Lock()
	api.board = sampleBoard()
	api.board.Columns[0].Tasks = []Task{task("T2", "To Do")}
	api.board.Columns[1].Tasks = []Task{task("T1", "Done")}
	api.board.Reindex()
	api.mu.Unlock()

	api.gate <- struct{}{}
	flush(t, e)

	select {
	case b := <-refreshed:
		assert.Equal(t, []string{"T1"}, taskIDs(b.Columns[1]))
	case <-time.After(5 * time.Second):
		t.Fatal("deferred refresh never ran")
	}
}

func TestEngine_WatchDiscardsRefreshOverlappingMove(t *testing.T) {
	api := &fakeAPI{board: sampleBoard(), gate: make(chan struct{})}
	refreshed := make(chan Board, 4)
	e := newTestEngine(t, api, WithRefreshHook(func(b Board) { refreshed <- b }))
	<-refreshed

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	api.mu.Lock()
	api.getGate, api.getStarted = release, started
	api.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan Event, 1)
	go e.Watch(ctx, events)

	// The fetch copies the pre-move board and waits.
	events <- Event{Type: EventBoardUpdated, BoardID: "b1"}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("refresh never started")
	}

	_, err := e.ApplyMove(Location{ColumnID: "todo", Index: 0}, &Location{ColumnID: "done", Index: 0})
	require.NoError(t, err)

	api.mu.Lock()
	api.getGate = nil
	api.board.Columns[0].Tasks = []Task{task("T2", "To Do")}
	api.board.Columns[1].Tasks = []Task{task("T1", "Done")}
	api.board.Reindex()
	api.mu.Unlock()
	close(release)

	assert.Equal(t, []string{"T1"}, taskIDs(e.Snapshot().Columns[1]))
	api.gate <- struct{}{}
	flush(t, e)

	select {
	case b := <-refreshed:
		assert.Equal(t, []string{"T1"}, taskIDs(b.Columns[1]), "stale fetch must not be installed")
	case <-time.After(5 * time.Second):
		t.Fatal("no refresh after the move settled")
	}
	assert.Equal(t, []string{"T1"}, taskIDs(e.Snapshot().Columns[1]))
}

func TestEngine_OverlappingRefreshKeepsRollback(t *testing.T) {
	api := &fakeAPI{
		board:      sampleBoard(),
		gate:       make(chan struct{}),
		reorderErr: func(ReorderRequest) error { return errUnavailable },
	}
	var mu sync.Mutex
	var notices []Notice
	e := newTestEngine(t, api, WithNotifier(NotifierFunc(func(n Notice) {
		mu.Lock()
		notices = append(notices, n)
		mu.Unlock()
	})))

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	api.mu.Lock()
	api.getGate, api.getStarted = release, started
	api.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan Event, 1)
	go e.Watch(ctx, events)

	events <- Event{Type: EventBoardUpdated, BoardID: "b1"}
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("refresh never started")
	}
	_, err := e.ApplyMove(Location{ColumnID: "todo", Index: 0}, &Location{ColumnID: "done", Index: 0})
	require.NoError(t, err)

	api.mu.Lock()
	api.getGate = nil
	api.mu.Unlock()
	close(release)

	// Wait for the stale fetch to be discarded before failing the move.
	assert.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.deferred
	}, 5*time.Second, 10*time.Millisecond)

	api.gate <- struct{}{}
	flush(t, e)

	assert.Equal(t, []string{"T1", "T2"}, taskIDs(e.Snapshot().Columns[0]))
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, notices, 1)
}

func TestEngine_CloseReleasesFlush(t *testing.T) {
	api := &fakeAPI{board: sampleBoard(), gate: make(chan struct{})}
	e := NewEngine(api, "b1", WithRollback(false))
	_, err := e.RefreshBoard(context.Background())
	require.NoError(t, err)

	_, err = e.ApplyMove(Location{ColumnID: "todo", Index: 0}, &Location{ColumnID: "done", Index: 0})
	require.NoError(t, err)

	e.Close()
	flush(t, e)

	_, err = e.ApplyMove(Location{ColumnID: "todo", Index: 0}, &Location{ColumnID: "done", Index: 0})
	require.ErrorIs(t, err, ErrEngineClosed)
}
