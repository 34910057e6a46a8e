package board

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

var ErrEngineClosed = errors.New("engine closed")

// pendingMove is an optimistic move whose reorder confirmation has not
// completed yet.
type pendingMove struct {
	seq        uint64
	req        ReorderRequest
	from       Location
	prevStatus string
	generation uint64
}

// Engine keeps one board snapshot consistent with drag-and-drop moves
// while their confirmations are in flight, and re-synchronizes from the
// API after structural edits.
//
// Moves are applied to the snapshot before ApplyMove returns. Reorder
// requests are sent by a single worker in issuance order.
type Engine struct {
	api      API
	boardID  string
	logger   *slog.Logger
	notifier Notifier
	rollback bool
	onSync   func(Board)

	mu         sync.Mutex
	snap       Board
	generation uint64
	seq        uint64
	doneSeq    uint64
	queue      []*pendingMove
	latest     map[string]uint64
	pending    int
	idle       chan struct{}
	deferred   bool
	closed     bool

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	done   chan struct{}
	once   sync.Once
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithRollback controls whether a failed confirmation reverts the
// optimistic move. Enabled by default.
func WithRollback(enabled bool) Option {
	return func(e *Engine) { e.rollback = enabled }
}

// WithRefreshHook registers fn to run after every successful refresh.
func WithRefreshHook(fn func(Board)) Option {
	return func(e *Engine) { e.onSync = fn }
}

// NewEngine starts an engine for boardID. The snapshot is empty until
// RefreshBoard succeeds. Call Close to stop the reconcile worker.
func NewEngine(api API, boardID string, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	e := &Engine{
		api:      api,
		boardID:  boardID,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		rollback: true,
		snap:     Board{ID: boardID},
		latest:   make(map[string]uint64),
		idle:     idle,
		ctx:      ctx,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	go e.run()
	return e
}

func (e *Engine) BoardID() string { return e.boardID }

// Snapshot returns a copy of the current board.
func (e *Engine) Snapshot() Board {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap.Clone()
}

// Pending reports how many reorder confirmations are queued or in flight.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

// ApplyMove applies the move to the snapshot and queues its reorder
// confirmation. A nil destination leaves the snapshot untouched and
// sends nothing.
func (e *Engine) ApplyMove(from Location, to *Location) (Board, error) {
	b, _, err := e.applyMove(from, to)
	return b, err
}

func (e *Engine) applyMove(from Location, to *Location) (Board, uint64, error) {
	return e.move(func(Board) (Location, error) { return from, nil }, to)
}

// applyTaskMove moves the task wherever it currently sits.
func (e *Engine) applyTaskMove(taskID string, to *Location) (Board, uint64, error) {
	return e.move(func(b Board) (Location, error) {
		loc, ok := b.FindTask(taskID)
		if !ok {
			return Location{}, fmt.Errorf("task %s: %w", taskID, ErrTaskNotFound)
		}
		return loc, nil
	}, to)
}

func (e *Engine) move(locate func(Board) (Location, error), to *Location) (Board, uint64, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Board{}, 0, ErrEngineClosed
	}
	if to == nil {
		out := e.snap.Clone()
		e.mu.Unlock()
		return out, 0, nil
	}

	from, err := locate(e.snap)
	if err != nil {
		out := e.snap.Clone()
		e.mu.Unlock()
		return out, 0, err
	}
	next, task, err := ApplyMove(e.snap, from, to)
	if err != nil {
		out := e.snap.Clone()
		e.mu.Unlock()
		return out, 0, err
	}

	src := e.snap.FindColumn(from.ColumnID)
	dst := e.snap.FindColumn(to.ColumnID)
	e.seq++
	job := &pendingMove{
		seq: e.seq,
		req: ReorderRequest{
			TaskID:         task.ID,
			BoardID:        e.boardID,
			SourceColumnID: from.ColumnID,
			DestColumnID:   to.ColumnID,
			SourceOrder:    e.snap.Columns[src].Order,
			DestOrder:      e.snap.Columns[dst].Order,
			DestIndex:      task.Position,
		},
		from:       from,
		prevStatus: e.snap.Columns[src].Tasks[from.Index].Status,
		generation: e.generation,
	}

	e.snap = next
	e.latest[task.ID] = job.seq
	e.queue = append(e.queue, job)
	if e.pending == 0 {
		e.idle = make(chan struct{})
	}
	e.pending++
	out := e.snap.Clone()
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return out, job.seq, nil
}

// RefreshBoard replaces the snapshot with the authority's arrangement.
// On failure the previous snapshot is kept.
func (e *Engine) RefreshBoard(ctx context.Context) (Board, error) {
	fetched, err := e.fetch(ctx)
	if err != nil {
		return e.Snapshot(), err
	}
	e.mu.Lock()
	out := e.install(fetched)
	e.mu.Unlock()
	e.synced(out)
	return out, nil
}

func (e *Engine) fetch(ctx context.Context) (*Board, error) {
	fetched, err := e.api.GetBoard(ctx, e.boardID)
	if err != nil {
		e.logger.Error("refresh board failed", "board", e.boardID, "error", err)
		return nil, fmt.Errorf("refresh board %s: %w", e.boardID, err)
	}
	return fetched, nil
}

// install makes fetched the snapshot. Caller holds mu.
func (e *Engine) install(fetched *Board) Board {
	b := fetched.Clone()
	b.ID = e.boardID
	b.Reindex()
	if b.Name == "" {
		b.Name = e.snap.Name
	}
	e.snap = b
	e.generation++
	return e.snap.Clone()
}

func (e *Engine) synced(out Board) {
	e.logger.Debug("board refreshed", "board", e.boardID, "columns", len(out.Columns), "tasks", out.TaskCount())
	if e.onSync != nil {
		e.onSync(out.Clone())
	}
}

// syncBoard refreshes on behalf of Watch. A fetch that overlaps a newly
// issued move is discarded: the refresh is deferred until the queue
// drains, or fetched again if that move has already been confirmed.
// Errors are logged by fetch.
func (e *Engine) syncBoard(ctx context.Context) {
	for ctx.Err() == nil {
		e.mu.Lock()
		start := e.seq
		e.mu.Unlock()

		fetched, err := e.fetch(ctx)
		if err != nil {
			return
		}

		e.mu.Lock()
		if e.seq != start {
			if e.pending > 0 {
				e.deferred = true
				e.mu.Unlock()
				return
			}
			e.mu.Unlock()
			continue
		}
		out := e.install(fetched)
		e.mu.Unlock()
		e.synced(out)
		return
	}
}

func (e *Engine) AddColumn(ctx context.Context, name string) (Board, error) {
	if _, err := e.api.AddColumn(ctx, e.boardID, name); err != nil {
		e.logger.Error("add column failed", "board", e.boardID, "name", name, "error", err)
		return e.Snapshot(), fmt.Errorf("add column: %w", err)
	}
	return e.RefreshBoard(ctx)
}

func (e *Engine) RenameColumn(ctx context.Context, columnID, name string) (Board, error) {
	if _, err := e.api.RenameColumn(ctx, columnID, name); err != nil {
		e.logger.Error("rename column failed", "column", columnID, "error", err)
		return e.Snapshot(), fmt.Errorf("rename column: %w", err)
	}
	return e.RefreshBoard(ctx)
}

// DeleteColumn removes an empty column. A column that still holds tasks
// is rejected with ErrColumnNotEmpty before any request is made.
func (e *Engine) DeleteColumn(ctx context.Context, columnID string) (Board, error) {
	e.mu.Lock()
	i := e.snap.FindColumn(columnID)
	var n int
	if i >= 0 {
		n = len(e.snap.Columns[i].Tasks)
	}
	e.mu.Unlock()

	if i < 0 {
		return e.Snapshot(), fmt.Errorf("delete column %q: %w", columnID, ErrColumnNotFound)
	}
	if n > 0 {
		return e.Snapshot(), fmt.Errorf("delete column %q holding %d tasks: %w", columnID, n, ErrColumnNotEmpty)
	}

	if err := e.api.DeleteColumn(ctx, e.boardID, columnID); err != nil {
		e.logger.Error("delete column failed", "column", columnID, "error", err)
		return e.Snapshot(), fmt.Errorf("delete column: %w", err)
	}
	return e.RefreshBoard(ctx)
}

// CreateTask creates the task remotely and then refreshes; new tasks are
// not applied optimistically since the server assigns their ids.
func (e *Engine) CreateTask(ctx context.Context, task NewTask) (Board, error) {
	if task.Status == "" {
		e.mu.Lock()
		if i := e.snap.FindColumn(task.ColumnID); i >= 0 {
			task.Status = e.snap.Columns[i].Name
		}
		e.mu.Unlock()
	}
	if task.Priority == "" {
		task.Priority = PriorityMedium
	}
	if _, err := e.api.CreateTask(ctx, e.boardID, task); err != nil {
		e.logger.Error("create task failed", "board", e.boardID, "error", err)
		return e.Snapshot(), fmt.Errorf("create task: %w", err)
	}
	return e.RefreshBoard(ctx)
}

// Watch refreshes the board whenever the authority announces a change to
// it. While confirmations are pending the refresh waits for the queue to
// drain. Watch returns when ctx ends or events is closed.
func (e *Engine) Watch(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Type != EventBoardUpdated || ev.BoardID != e.boardID {
				continue
			}
			e.mu.Lock()
			if e.pending > 0 {
				e.deferred = true
				e.mu.Unlock()
				continue
			}
			e.mu.Unlock()
			e.syncBoard(ctx)
		}
	}
}

// Flush blocks until every queued confirmation has completed.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	idle := e.idle
	e.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the worker. Confirmations still queued are dropped.
func (e *Engine) Close() {
	e.once.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		e.cancel()
		<-e.done

		e.mu.Lock()
		e.queue = nil
		e.doneSeq = e.seq
		if e.pending > 0 {
			e.pending = 0
			close(e.idle)
		}
		e.mu.Unlock()
	})
}

func (e *Engine) run() {
	defer close(e.done)
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.wake:
		}
		for {
			job := e.next()
			if job == nil {
				break
			}
			e.reconcile(job)
			if e.ctx.Err() != nil {
				return
			}
		}
	}
}

func (e *Engine) next() *pendingMove {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return nil
	}
	job := e.queue[0]
	e.queue[0] = nil
	e.queue = e.queue[1:]
	return job
}

func (e *Engine) reconcile(job *pendingMove) {
	err := e.api.ReorderTask(e.ctx, job.req)

	var notice *Notice
	e.mu.Lock()
	taskID := job.req.TaskID
	latest := e.latest[taskID] == job.seq
	if latest {
		delete(e.latest, taskID)
	}
	if err != nil {
		e.logger.Error("reorder confirmation failed",
			"board", e.boardID, "task", taskID,
			"from", job.req.SourceColumnID, "to", job.req.DestColumnID, "error", err)
		if e.rollback && latest && job.generation == e.generation && e.ctx.Err() == nil {
			notice = e.revert(job, err)
		}
	}
	e.doneSeq = job.seq
	e.mu.Unlock()

	if notice != nil && e.notifier != nil {
		e.notifier.Notify(*notice)
	}
	e.finish()
}

// finish retires the current job. A refresh deferred by Watch runs
// before the queue is reported idle.
func (e *Engine) finish() {
	for {
		e.mu.Lock()
		if e.pending == 1 && e.deferred && e.ctx.Err() == nil {
			e.deferred = false
			e.mu.Unlock()
			e.syncBoard(e.ctx)
			continue
		}
		e.pending--
		if e.pending == 0 {
			close(e.idle)
		}
		e.mu.Unlock()
		return
	}
}

// revert replays the inverse of job against the snapshot. Caller holds mu.
func (e *Engine) revert(job *pendingMove, cause error) *Notice {
	taskID := job.req.TaskID
	cur, ok := e.snap.FindTask(taskID)
	if !ok {
		return nil
	}
	back, _, err := ApplyMove(e.snap, cur, &job.from)
	if err != nil {
		e.logger.Warn("rollback not possible", "task", taskID, "error", err)
		return nil
	}
	if loc, ok := back.FindTask(taskID); ok {
		i := back.FindColumn(loc.ColumnID)
		back.Columns[i].Tasks[loc.Index].Status = job.prevStatus
	}
	e.snap = back
	e.logger.Info("optimistic move rolled back", "task", taskID, "column", job.from.ColumnID, "index", job.from.Index)
	return &Notice{
		Kind:    NoticeCorrection,
		TaskID:  taskID,
		Message: fmt.Sprintf("move of task %s could not be saved and was undone", taskID),
		Err:     cause,
	}
}

func (e *Engine) completed(seq uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.doneSeq >= seq
}
