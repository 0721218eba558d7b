package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/muk365/whiteboard/internal/db"
	"github.com/muk365/whiteboard/internal/ws"
)

// Read-only HTTP view of live rooms and the session journal. database may
// be nil when the journal is disabled.
type API struct {
	hub      *ws.Hub
	database *db.Database
	log      *slog.Logger
}

func New(hub *ws.Hub, database *db.Database, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		hub:      hub,
		database: database,
		log:      logger,
	}
}

func (a *API) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.log.Warn("encode JSON response", "error", err)
	}
}

func (a *API) errorResponse(w http.ResponseWriter, status int, message string) {
	a.jsonResponse(w, status, map[string]string{"error": message})
}

func pagination(r *http.Request, defaultLimit int) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = defaultLimit
	}
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	a.jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type StatsResponse struct {
	ws.Stats
	Journal   *db.Stats `json:"journal,omitempty"`
	Timestamp string    `json:"timestamp"`
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := StatsResponse{
		Stats:     a.hub.Stats(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if a.database != nil {
		journal, err := a.database.GetStats(r.Context())
		if err != nil {
			a.log.Warn("journal stats", "error", err)
		} else {
			stats.Journal = &journal
		}
	}

	a.jsonResponse(w, http.StatusOK, stats)
}

// Room handlers

type ParticipantResponse struct {
	ClientID    string    `json:"client_id"`
	DisplayName string    `json:"display_name"`
	JoinedAt    time.Time `json:"joined_at"`
}

type RoomResponse struct {
	ID           string                `json:"id"`
	Roster       []string              `json:"roster"`
	Participants []ParticipantResponse `json:"participants"`
	Objects      int                   `json:"objects"`
	Cursors      int                   `json:"cursors"`
	Sessions     int                   `json:"sessions,omitempty"`
}

type RecentRoomResponse struct {
	ID         string    `json:"id"`
	FirstSeen  time.Time `json:"first_seen"`
	LastActive time.Time `json:"last_active"`
	Active     bool      `json:"active"`
}

func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	active := a.hub.GetActiveRooms()
	response := map[string]any{"active": active}

	if a.database != nil {
		limit, offset := pagination(r, 20)
		rooms, err := a.database.ListRooms(r.Context(), limit, offset)
		if err != nil {
			a.errorResponse(w, http.StatusInternalServerError, "Failed to list rooms")
			return
		}

		live := make(map[string]bool, len(active))
		for _, s := range active {
			live[s.ID] = true
		}
		recent := make([]RecentRoomResponse, len(rooms))
		for i, room := range rooms {
			recent[i] = RecentRoomResponse{
				ID:         room.ID,
				FirstSeen:  room.FirstSeen,
				LastActive: room.LastActive,
				Active:     live[room.ID],
			}
		}
		response["recent"] = recent
		response["limit"] = limit
		response["offset"] = offset
	}

	a.jsonResponse(w, http.StatusOK, response)
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request, roomID string) {
	rm, ok := a.hub.Room(roomID)
	if !ok {
		a.errorResponse(w, http.StatusNotFound, "Room not active")
		return
	}

	participants := rm.Participants()
	resp := RoomResponse{
		ID:           rm.ID,
		Roster:       rm.Roster(),
		Participants: make([]ParticipantResponse, len(participants)),
		Objects:      rm.ObjectCount(),
		Cursors:      len(rm.Cursors()),
	}
	for i, p := range participants {
		resp.Participants[i] = ParticipantResponse{ClientID: p.ClientID, DisplayName: p.DisplayName, JoinedAt: p.JoinedAt}
	}

	if a.database != nil {
		if n, err := a.database.GetSessionCount(r.Context(), roomID); err == nil {
			resp.Sessions = n
		}
	}

	a.jsonResponse(w, http.StatusOK, resp)
}

func (a *API) ListSessionsHandler(w http.ResponseWriter, r *http.Request, roomID string) {
	if a.database == nil {
		a.errorResponse(w, http.StatusServiceUnavailable, "Session journal disabled")
		return
	}

	limit, offset := pagination(r, 50)
	sessions, err := a.database.ListSessions(r.Context(), roomID, limit, offset)
	if err != nil {
		a.errorResponse(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}
	total, _ := a.database.GetSessionCount(r.Context(), roomID)

	a.jsonResponse(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

// Serves /api/rooms, /api/rooms/{id} and /api/rooms/{id}/sessions
func (a *API) RoomsRouter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.errorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/rooms"), "/")
	if path == "" {
		a.ListRoomsHandler(w, r)
		return
	}

	if roomID, ok := strings.CutSuffix(path, "/sessions"); ok && roomID != "" {
		a.ListSessionsHandler(w, r, roomID)
		return
	}

	if strings.Contains(path, "/") {
		a.errorResponse(w, http.StatusNotFound, "Not found")
		return
	}
	a.GetRoomHandler(w, r, path)
}
