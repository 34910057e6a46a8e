package apiclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/CrowderSoup/boardsync/board"
)

// ErrUnrecognizedShape is returned when a response body matches none of
// the accepted layouts.
var ErrUnrecognizedShape = errors.New("unrecognized response shape")

// All tolerance for inconsistent response layouts lives in this file.
// Everything past these functions works with the canonical board types.

type object map[string]json.RawMessage

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

func asObject(raw json.RawMessage) (object, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var o object
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, false
	}
	return o, true
}

// get returns the first non-null field among keys.
func (o object) get(keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := o[k]; ok && !isNull(v) {
			return v, true
		}
	}
	return nil, false
}

func scalar(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

func (o object) str(keys ...string) string {
	for _, k := range keys {
		v, ok := o.get(k)
		if !ok {
			continue
		}
		if s, ok := scalar(v); ok {
			return s
		}
	}
	return ""
}

// ref reads an identifier that may be a string, a number, or an object
// carrying an id.
func (o object) ref(keys ...string) string {
	for _, k := range keys {
		v, ok := o.get(k)
		if !ok {
			continue
		}
		if s, ok := scalar(v); ok {
			return s
		}
		if nested, ok := asObject(v); ok {
			if id := nested.str("id", "_id"); id != "" {
				return id
			}
		}
	}
	return ""
}

func (o object) num(keys ...string) (int, bool) {
	s := o.str(keys...)
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return int(n), true
}

// unwrap peels {"data": ...} style envelopes.
func unwrap(raw json.RawMessage, keys ...string) json.RawMessage {
	for depth := 0; depth < 4; depth++ {
		o, ok := asObject(raw)
		if !ok {
			return raw
		}
		inner, ok := o.get(keys...)
		if !ok {
			return raw
		}
		if _, isObj := asObject(inner); !isObj && !isArray(inner) {
			return raw
		}
		raw = inner
	}
	return raw
}

func elements(raw json.RawMessage) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: expected array: %v", ErrUnrecognizedShape, err)
	}
	return items, nil
}

type ordered[T any] struct {
	key  int
	item T
}

func sortByKey[T any](in []ordered[T]) []T {
	sort.SliceStable(in, func(i, j int) bool { return in[i].key < in[j].key })
	out := make([]T, len(in))
	for i, o := range in {
		out[i] = o.item
	}
	return out
}

func decodeTask(raw json.RawMessage) (board.Task, bool, int, error) {
	o, ok := asObject(raw)
	if !ok {
		return board.Task{}, false, 0, fmt.Errorf("%w: task is not an object", ErrUnrecognizedShape)
	}
	t := board.Task{
		ID:          o.ref("id", "_id", "taskId"),
		Title:       o.str("name", "title"),
		Description: o.str("description", "desc"),
		Type:        o.str("type", "taskType"),
		Priority:    board.ParsePriority(o.str("priority")),
		Status:      o.str("status"),
		Assignee:    o.ref("assignee", "assigneeId", "assignedTo"),
	}
	pos, hasPos := o.num("position", "order", "pos")
	if t.ID == "" {
		return board.Task{}, false, 0, fmt.Errorf("%w: task without id", ErrUnrecognizedShape)
	}
	return t, hasPos, pos, nil
}

func decodeColumn(raw json.RawMessage) (board.Column, bool, int, error) {
	o, ok := asObject(raw)
	if !ok {
		return board.Column{}, false, 0, fmt.Errorf("%w: column is not an object", ErrUnrecognizedShape)
	}
	col := board.Column{
		ID:   o.ref("id", "_id", "columnId"),
		Name: o.str("name", "title"),
	}
	if col.ID == "" {
		return board.Column{}, false, 0, fmt.Errorf("%w: column without id", ErrUnrecognizedShape)
	}
	order, hasOrder := o.num("order", "position", "pos")

	col.Tasks = []board.Task{}
	if rawTasks, ok := o.get("tasks", "items", "cards"); ok {
		items, err := elements(rawTasks)
		if err != nil {
			return board.Column{}, false, 0, fmt.Errorf("column %s tasks: %w", col.ID, err)
		}
		tasks := make([]ordered[board.Task], 0, len(items))
		for i, item := range items {
			t, hasPos, pos, err := decodeTask(item)
			if err != nil {
				return board.Column{}, false, 0, fmt.Errorf("column %s task %d: %w", col.ID, i, err)
			}
			if !hasPos {
				pos = i
			}
			if t.Status == "" {
				t.Status = col.Name
			}
			tasks = append(tasks, ordered[board.Task]{key: pos, item: t})
		}
		col.Tasks = sortByKey(tasks)
	}
	for i := range col.Tasks {
		col.Tasks[i].Position = i
	}
	return col, hasOrder, order, nil
}

// decodeBoard accepts a bare column array, {"columns": [...]}, or either
// of those inside one or more {"data": ...} envelopes.
func decodeBoard(body []byte, boardID string) (*board.Board, error) {
	raw := unwrap(body, "data", "board")
	b := &board.Board{ID: boardID}

	if o, ok := asObject(raw); ok {
		cols, ok := o.get("columns", "lists")
		if !ok {
			return nil, fmt.Errorf("%w: board without columns", ErrUnrecognizedShape)
		}
		if id := o.ref("id", "_id", "boardId"); id != "" {
			b.ID = id
		}
		b.Name = o.str("name", "title")
		raw = unwrap(cols, "data")
	}
	if !isArray(raw) {
		return nil, fmt.Errorf("%w: columns are not a list", ErrUnrecognizedShape)
	}

	items, err := elements(raw)
	if err != nil {
		return nil, err
	}
	cols := make([]ordered[board.Column], 0, len(items))
	for i, item := range items {
		col, hasOrder, order, err := decodeColumn(item)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", i, err)
		}
		if !hasOrder {
			order = i
		}
		cols = append(cols, ordered[board.Column]{key: order, item: col})
	}
	b.Columns = sortByKey(cols)
	b.Reindex()
	return b, nil
}

func decodeSummaries(body []byte) ([]board.Summary, error) {
	raw := unwrap(body, "data", "boards", "items")
	if !isArray(raw) {
		return nil, fmt.Errorf("%w: boards are not a list", ErrUnrecognizedShape)
	}
	items, err := elements(raw)
	if err != nil {
		return nil, err
	}
	out := make([]board.Summary, 0, len(items))
	for i, item := range items {
		o, ok := asObject(item)
		if !ok {
			return nil, fmt.Errorf("%w: board %d is not an object", ErrUnrecognizedShape, i)
		}
		s := board.Summary{ID: o.ref("id", "_id", "boardId"), Name: o.str("name", "title")}
		if s.ID == "" {
			return nil, fmt.Errorf("%w: board %d without id", ErrUnrecognizedShape, i)
		}
		out = append(out, s)
	}
	return out, nil
}

func decodeSingleTask(body []byte) (*board.Task, error) {
	t, _, pos, err := decodeTask(unwrap(body, "data", "task"))
	if err != nil {
		return nil, err
	}
	t.Position = pos
	return &t, nil
}

func decodeSingleColumn(body []byte) (*board.Column, error) {
	col, _, order, err := decodeColumn(unwrap(body, "data", "column"))
	if err != nil {
		return nil, err
	}
	col.Order = order
	return &col, nil
}

func decodeSummary(body []byte) (*board.Summary, error) {
	o, ok := asObject(unwrap(body, "data", "board"))
	if !ok {
		return nil, fmt.Errorf("%w: board is not an object", ErrUnrecognizedShape)
	}
	s := &board.Summary{ID: o.ref("id", "_id", "boardId"), Name: o.str("name", "title")}
	if s.ID == "" {
		return nil, fmt.Errorf("%w: board without id", ErrUnrecognizedShape)
	}
	return s, nil
}

// decodeEvent reads one hub message. Unknown payloads yield an event
// with an empty BoardID.
func decodeEvent(msg []byte) (board.Event, error) {
	o, ok := asObject(msg)
	if !ok {
		return board.Event{}, fmt.Errorf("%w: event is not an object", ErrUnrecognizedShape)
	}
	ev := board.Event{Type: o.str("type", "event")}
	if data, ok := o.get("data", "payload"); ok {
		if d, ok := asObject(data); ok {
			ev.BoardID = d.ref("boardId", "board_id", "board")
		}
	}
	if ev.BoardID == "" {
		ev.BoardID = o.ref("boardId", "board_id")
	}
	return ev, nil
}
