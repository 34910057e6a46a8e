package handlers

import (
	"net/http"

	"github.com/CrowderSoup/boardsync/database"
	"github.com/CrowderSoup/boardsync/services"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// NewRouter wires the board routes behind auth and CORS.
func NewRouter(store *database.BoardStore, authService *services.AuthService, hub *services.Hub) http.Handler {
	h := NewBoardHandler(store, hub)
	auth := NewAuthMiddleware(authService)

	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.Use(auth.Auth)

	api.HandleFunc("/projects/{projectID}/boards", h.ListBoards).Methods("GET")
	api.HandleFunc("/projects/{projectID}/boards", h.CreateBoard).Methods("POST")
	api.HandleFunc("/boards/{boardID}/columns", h.GetBoard).Methods("GET")
	api.HandleFunc("/boards/{boardID}/columns", h.AddColumn).Methods("POST")
	api.HandleFunc("/boards/{boardID}/columns/{columnID}", h.DeleteColumn).Methods("DELETE")
	api.HandleFunc("/boards/{boardID}/tasks", h.CreateTask).Methods("POST")
	api.HandleFunc("/columns/{columnID}", h.RenameColumn).Methods("PUT")
	api.HandleFunc("/tasks/{taskID}/reorder", h.ReorderTask).Methods("PUT")

	// WebSocket route for board.updated notifications
	api.HandleFunc("/ws", h.HandleWebSocket)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // In production, change to your domain
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}
