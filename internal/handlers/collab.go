package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"Pairline/internal/auth"
	"Pairline/internal/models"
	"Pairline/internal/storage"
	wsHub "Pairline/internal/websocket"
)

// SessionStore - внешний сервис сессий: сессия создается до подключения
type SessionStore interface {
	GetSession(ctx context.Context, id string) (models.Session, error)
}

type CollabHandler struct {
	Hub      *wsHub.Hub
	Verifier auth.Verifier
	// Sessions может быть nil: тогда комната создается с пустым документом
	Sessions SessionStore
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewCollabHandler(hub *wsHub.Hub, verifier auth.Verifier, sessions SessionStore, allowedOrigins []string) *CollabHandler {
	if verifier == nil {
		verifier = auth.AllowAll{}
	}
	return &CollabHandler{
		Hub:      hub,
		Verifier: verifier,
		Sessions: sessions,
		log:      slog.Default().With("component", "collab"),
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		// Не браузерные клиенты Origin не присылают
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if origin == a {
				return true
			}
		}
		return false
	}
}

// Routes настраивает маршруты
func (ch *CollabHandler) Routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", ch.ServeWS).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/snapshot", ch.ServeSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/health", ch.ServeHealth).Methods(http.MethodGet)
	return r
}

// authorize проверяет userId и token из query. При ошибке ответ уже записан
func (ch *CollabHandler) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.URL.Query().Get("userId")
	token := r.URL.Query().Get("token")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return "", false
	}

	if err := ch.Verifier.Verify(r.Context(), token, userID); err != nil {
		if errors.Is(err, auth.ErrUnauthorized) {
			ch.log.Warn("Rejected connection", "user_id", userID, "error", err, "remote", r.RemoteAddr)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return "", false
		}
		ch.log.Error("Token verification failed", "user_id", userID, "error", err)
		http.Error(w, "auth service unavailable", http.StatusServiceUnavailable)
		return "", false
	}
	return userID, true
}

func (ch *CollabHandler) resolveSession(ctx context.Context, id string) (models.Session, error) {
	if ch.Sessions == nil {
		return models.Session{ID: id}, nil
	}
	return ch.Sessions.GetSession(ctx, id)
}

// ServeWS обрабатывает WebSocket подключения
func (ch *CollabHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "sessionId is required", http.StatusBadRequest)
		return
	}
	userID, ok := ch.authorize(w, r)
	if !ok {
		return
	}

	ch.log.Info("WebSocket connection attempt",
		"session_id", sessionID,
		"user_id", userID,
		"origin", r.Header.Get("Origin"),
		"remote", r.RemoteAddr)

	session, err := ch.resolveSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		ch.log.Error("Failed to load session", "session_id", sessionID, "error", err)
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		return
	}

	conn, err := ch.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ch.log.Error("Error WebSocket upgrade", "error", err)
		return
	}

	client := wsHub.NewClient(ch.Hub, conn, session, userID)
	if err := ch.Hub.Register(client); err != nil {
		ch.log.Warn("Hub is not accepting connections", "error", err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	ch.log.Info("WebSocket connection established", "session_id", sessionID, "user_id", userID, "conn_id", client.ID)

	go client.WritePump()
	go client.ReadPump()
}

// ServeSnapshot отдает текущее состояние живой комнаты
func (ch *CollabHandler) ServeSnapshot(w http.ResponseWriter, r *http.Request) {
	if _, ok := ch.authorize(w, r); !ok {
		return
	}
	sessionID := mux.Vars(r)["id"]

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	snapshot, ok, err := ch.Hub.Snapshot(ctx, sessionID)
	if err != nil {
		ch.log.Error("Snapshot failed", "session_id", sessionID, "error", err)
		http.Error(w, "snapshot unavailable", http.StatusServiceUnavailable)
		return
	}
	if !ok {
		http.Error(w, "session is not active", http.StatusNotFound)
		return
	}
	ch.writeJSON(w, http.StatusOK, snapshot)
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
	wsHub.Stats
}

func (ch *CollabHandler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().Format(time.RFC3339),
		Service:   "pairline",
	}
	code := http.StatusOK

	stats, err := ch.Hub.Stats(ctx)
	if err != nil {
		resp.Status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	resp.Stats = stats

	ch.writeJSON(w, code, resp)
}

func (ch *CollabHandler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		ch.log.Error("Failed to write response", "error", err)
	}
}
