package board

import "context"

// API is the remote board authority the engine reconciles against.
type API interface {
	ListBoards(ctx context.Context, projectID string) ([]Summary, error)
	GetBoard(ctx context.Context, boardID string) (*Board, error)
	CreateTask(ctx context.Context, boardID string, task NewTask) (*Task, error)
	ReorderTask(ctx context.Context, req ReorderRequest) error
	AddColumn(ctx context.Context, boardID, name string) (*Column, error)
	RenameColumn(ctx context.Context, columnID, name string) (*Column, error)
	DeleteColumn(ctx context.Context, boardID, columnID string) error
}

// ReorderRequest confirms a single drag-and-drop move. SourceOrder and
// DestOrder are the display orders of the two columns.
type ReorderRequest struct {
	TaskID         string `json:"taskId"`
	BoardID        string `json:"boardId"`
	SourceColumnID string `json:"sourceColumnId"`
	DestColumnID   string `json:"destinationColumnId"`
	SourceOrder    int    `json:"sourceOrder"`
	DestOrder      int    `json:"destinationOrder"`
	DestIndex      int    `json:"destinationIndex"`
}

// EventBoardUpdated is announced by the authority after any mutation.
const EventBoardUpdated = "board.updated"

// Event is a change notification pushed by the authority.
type Event struct {
	Type    string `json:"type"`
	BoardID string `json:"boardId"`
}

type NoticeKind string

const (
	// NoticeCorrection reports that an optimistic move was reverted.
	NoticeCorrection NoticeKind = "correction"
)

// Notice is a non-blocking message for the user.
type Notice struct {
	Kind    NoticeKind
	TaskID  string
	Message string
	Err     error
}

type Notifier interface {
	Notify(Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }
