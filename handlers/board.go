// Package handlers serves the development board API.
package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/CrowderSoup/boardsync/database"
	"github.com/CrowderSoup/boardsync/services"
	"github.com/gorilla/mux"
)

// BoardHandler handles board, column and task endpoints
type BoardHandler struct {
	store *database.BoardStore
	hub   *services.Hub
}

func NewBoardHandler(store *database.BoardStore, hub *services.Hub) *BoardHandler {
	return &BoardHandler{
		store: store,
		hub:   hub,
	}
}

type nameRequest struct {
	Name  string `json:"name"`
	Title string `json:"title"`
}

func (n nameRequest) value() string {
	if n.Name != "" {
		return n.Name
	}
	return n.Title
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"status": "success",
		"data":   data,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"status": "error",
		"error":  message,
	})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrColumnNotEmpty):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("Store error: %v", err)
		writeError(w, http.StatusInternalServerError, "Server error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request format")
		return false
	}
	return true
}

func (h *BoardHandler) ListBoards(w http.ResponseWriter, r *http.Request) {
	boards, err := h.store.ListBoards(r.Context(), mux.Vars(r)["projectID"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, boards)
}

func (h *BoardHandler) CreateBoard(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.store.CreateBoard(r.Context(), mux.Vars(r)["projectID"], req.value())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// GetBoard returns the board's columns in order, each with its tasks.
func (h *BoardHandler) GetBoard(w http.ResponseWriter, r *http.Request) {
	b, err := h.store.GetBoard(r.Context(), mux.Vars(r)["boardID"])
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *BoardHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		database.NewTask
		Title string `json:"title"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.NewTask.Title == "" {
		req.NewTask.Title = req.Title
	}
	if req.Assignee != nil && *req.Assignee == "" {
		req.Assignee = nil
	}

	boardID := mux.Vars(r)["boardID"]
	task, err := h.store.CreateTask(r.Context(), boardID, req.NewTask)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	h.hub.BoardUpdated(boardID)
	writeJSON(w, http.StatusCreated, task)
}

func (h *BoardHandler) ReorderTask(w http.ResponseWriter, r *http.Request) {
	var req database.Reorder
	if !decode(w, r, &req) {
		return
	}
	req.TaskID = mux.Vars(r)["taskID"]

	task, err := h.store.ReorderTask(r.Context(), req)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	h.hub.BoardUpdated(task.BoardID)
	writeJSON(w, http.StatusOK, task)
}

func (h *BoardHandler) AddColumn(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !decode(w, r, &req) {
		return
	}
	col, err := h.store.AddColumn(r.Context(), mux.Vars(r)["boardID"], req.value())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	h.hub.BoardUpdated(col.BoardID)
	writeJSON(w, http.StatusCreated, col)
}

func (h *BoardHandler) RenameColumn(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if !decode(w, r, &req) {
		return
	}
	col, err := h.store.RenameColumn(r.Context(), mux.Vars(r)["columnID"], req.value())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	h.hub.BoardUpdated(col.BoardID)
	writeJSON(w, http.StatusOK, col)
}

func (h *BoardHandler) DeleteColumn(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.store.DeleteColumn(r.Context(), vars["boardID"], vars["columnID"]); err != nil {
		writeStoreError(w, err)
		return
	}
	h.hub.BoardUpdated(vars["boardID"])
	writeJSON(w, http.StatusOK, map[string]string{"id": vars["columnID"]})
}
