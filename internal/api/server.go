// Package api provides the REST, SSE, and websocket edge of the board.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/lightupdev/lightup/internal/agent"
	"github.com/lightupdev/lightup/internal/db"
	"github.com/lightupdev/lightup/internal/events"
	"github.com/lightupdev/lightup/internal/gitx"
)

// Server is the HTTP server for the board API.
type Server struct {
	addr      string
	mux       *http.ServeMux
	logger    *slog.Logger
	authToken string

	store      *db.DB
	bus        *events.Bus
	git        *gitx.Service
	dispatcher *agent.Dispatcher
	wsHandler  *WSHandler
	cache      *boardCache
}

// Config holds server configuration.
type Config struct {
	Addr       string
	Store      *db.DB
	Bus        *events.Bus
	Git        *gitx.Service
	Dispatcher *agent.Dispatcher
	Logger     *slog.Logger

	// AuthToken, when non-empty, requires Bearer auth on every /api route
	// except health.
	AuthToken string
}

// New creates a new API server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		addr:       cfg.Addr,
		mux:        http.NewServeMux(),
		logger:     logger,
		authToken:  cfg.AuthToken,
		store:      cfg.Store,
		bus:        cfg.Bus,
		git:        cfg.Git,
		dispatcher: cfg.Dispatcher,
	}
	s.wsHandler = NewWSHandler(cfg.Bus, logger)
	s.cache = newBoardCache(cfg.Store, 2*time.Second)
	s.registerRoutes()
	return s
}

// Handler returns the root handler, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// registerRoutes sets up all API routes.
func (s *Server) registerRoutes() {
	// CORS middleware wrapper
	cors := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			if !s.authorized(r) {
				s.respondError(w, errUnauthorized())
				return
			}
			h(w, r)
		}
	}

	// Health check
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	// Boards
	s.mux.HandleFunc("GET /api/boards", cors(s.handleListBoards))
	s.mux.HandleFunc("POST /api/boards", cors(s.handleCreateBoard))
	s.mux.HandleFunc("GET /api/boards/{id}", cors(s.handleGetBoard))
	s.mux.HandleFunc("PATCH /api/boards/{id}", cors(s.handleUpdateBoard))
	s.mux.HandleFunc("DELETE /api/boards/{id}", cors(s.handleDeleteBoard))
	s.mux.HandleFunc("GET /api/boards/{id}/summary", cors(s.handleBoardSummary))
	s.mux.HandleFunc("GET /api/boards/{id}/settings", cors(s.handleGetBoardSettings))
	s.mux.HandleFunc("PUT /api/boards/{id}/settings", cors(s.handleSaveBoardSettings))

	// Cards
	s.mux.HandleFunc("GET /api/cards", cors(s.handleListCards))
	s.mux.HandleFunc("POST /api/cards", cors(s.handleCreateCard))
	s.mux.HandleFunc("GET /api/cards/{id}", cors(s.handleGetCard))
	s.mux.HandleFunc("PATCH /api/cards/{id}", cors(s.handleUpdateCard))
	s.mux.HandleFunc("DELETE /api/cards/{id}", cors(s.handleDeleteCard))
	s.mux.HandleFunc("PATCH /api/cards/{id}/move", cors(s.handleMoveCard))
	s.mux.HandleFunc("GET /api/cards/{id}/versions", cors(s.handleListCardVersions))
	s.mux.HandleFunc("GET /api/cards/{id}/plan", cors(s.handleGetPlan))

	// Subtasks
	s.mux.HandleFunc("GET /api/cards/{id}/subtasks", cors(s.handleListSubtasks))
	s.mux.HandleFunc("POST /api/cards/{id}/subtasks", cors(s.handleCreateSubtask))
	s.mux.HandleFunc("PATCH /api/cards/{id}/subtasks/{subtaskId}", cors(s.handleUpdateSubtask))
	s.mux.HandleFunc("DELETE /api/cards/{id}/subtasks/{subtaskId}", cors(s.handleDeleteSubtask))

	// Comments
	s.mux.HandleFunc("GET /api/cards/{id}/comments", cors(s.handleListComments))
	s.mux.HandleFunc("POST /api/cards/{id}/comments", cors(s.handleCreateComment))
	s.mux.HandleFunc("PATCH /api/cards/{id}/comments/{commentId}", cors(s.handleUpdateComment))
	s.mux.HandleFunc("DELETE /api/cards/{id}/comments/{commentId}", cors(s.handleDeleteComment))

	// Labels
	s.mux.HandleFunc("GET /api/labels", cors(s.handleListLabels))
	s.mux.HandleFunc("POST /api/labels", cors(s.handleCreateLabel))
	s.mux.HandleFunc("GET /api/cards/{id}/labels", cors(s.handleListCardLabels))
	s.mux.HandleFunc("POST /api/cards/{id}/labels", cors(s.handleAttachLabel))
	s.mux.HandleFunc("DELETE /api/cards/{id}/labels/{labelId}", cors(s.handleDetachLabel))

	// Agent interaction
	s.mux.HandleFunc("POST /api/cards/{id}/abort", cors(s.handleAbortCard))
	s.mux.HandleFunc("GET /api/cards/{id}/logs", cors(s.handleListAgentLogs))

	// Questions
	s.mux.HandleFunc("GET /api/cards/{id}/questions", cors(s.handleListQuestions))
	s.mux.HandleFunc("POST /api/cards/{id}/ask", cors(s.handleAskQuestion))
	s.mux.HandleFunc("POST /api/questions/{id}/answer", cors(s.handleAnswerQuestion))

	// Notifications
	s.mux.HandleFunc("GET /api/notifications", cors(s.handleListNotifications))
	s.mux.HandleFunc("POST /api/notifications/{id}/read", cors(s.handleMarkNotificationRead))

	// Settings
	s.mux.HandleFunc("GET /api/settings/{key}", cors(s.handleGetSetting))
	s.mux.HandleFunc("PUT /api/settings/{key}", cors(s.handleSetSetting))

	// Merge flow
	s.mux.HandleFunc("GET /api/cards/{id}/diff", cors(s.handleDiff))
	s.mux.HandleFunc("POST /api/cards/{id}/merge", cors(s.handleMerge))
	s.mux.HandleFunc("GET /api/cards/{id}/conflicts", cors(s.handleConflicts))
	s.mux.HandleFunc("POST /api/cards/{id}/resolve-conflicts", cors(s.handleResolveConflicts))
	s.mux.HandleFunc("POST /api/cards/{id}/complete-merge", cors(s.handleCompleteMerge))
	s.mux.HandleFunc("POST /api/cards/{id}/abort-merge", cors(s.handleAbortMerge))
	s.mux.HandleFunc("POST /api/cards/{id}/worktree", cors(s.handleCreateWorktree))
	s.mux.HandleFunc("DELETE /api/cards/{id}/worktree", cors(s.handleRemoveWorktree))
	s.mux.HandleFunc("POST /api/cards/{id}/pr", cors(s.handleCreatePR))

	// Live streams
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.Handle("GET /api/ws", s.wsHandler)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+s.authToken
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:    s.addr,
		Handler: s.mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("starting API server", "addr", s.addr)
	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]string{"status": "ok"})
}
