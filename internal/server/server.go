// internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"

	"github.com/hoonseung2/aidietdiary/internal/auth"
	"github.com/hoonseung2/aidietdiary/internal/config"
	"github.com/hoonseung2/aidietdiary/internal/pipeline"
	"github.com/hoonseung2/aidietdiary/internal/recognition"
	"github.com/hoonseung2/aidietdiary/internal/session"
	"github.com/hoonseung2/aidietdiary/internal/storage"
)

// Deps are the explicitly constructed services the server owns.
type Deps struct {
	Storage    *storage.SQLiteStorage
	Recognizer recognition.Recognizer
	Sessions   *session.Store
	Logger     *slog.Logger
	Clock      func() time.Time
}

type DiaryServer struct {
	httpServer *http.Server
	storage    *storage.SQLiteStorage
	pipeline   *pipeline.Pipeline
	auth       *auth.Service
	sessions   *session.Store
	logger     *slog.Logger
	tools      map[string]toolHandler
}

// NewDiaryServer opens storage, builds the Gemini client and wires everything
// behind an HTTP server listening on cfg.Server.
func NewDiaryServer(cfg config.Config, logger *slog.Logger) (*DiaryServer, error) {
	stor, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	srv := New(Deps{
		Storage:    stor,
		Recognizer: recognition.NewGeminiClient(cfg.Recognition),
		Sessions:   session.NewStore(cfg.Session.TTL),
		Logger:     logger,
	})
	srv.httpServer = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv, nil
}

// New wires a server from already constructed services.
func New(deps Deps) *DiaryServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = session.NewStore(0)
	}

	srv := &DiaryServer{
		storage: deps.Storage,
		pipeline: pipeline.New(pipeline.Deps{
			Recognizer: deps.Recognizer,
			Foods:      deps.Storage,
			Logs:       deps.Storage,
			Logger:     logger.With("component", "pipeline"),
			Clock:      deps.Clock,
		}),
		auth:     auth.NewService(deps.Storage),
		sessions: sessions,
		logger:   logger.With("component", "server"),
	}
	srv.registerTools()
	return srv
}

// Handler exposes the routes for embedding and tests.
func (s *DiaryServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/", s.handleHTTP)
	return mux
}

func (s *DiaryServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *DiaryServer) handleHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

	if r.Method == http.MethodOptions {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Decode the MCP request
	var request protocol.CallToolRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&request); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	handler, ok := s.tools[request.Name]
	if !ok {
		http.Error(w, fmt.Sprintf("Unknown tool: %s", request.Name), http.StatusNotFound)
		return
	}

	result, err := handler(r.Context(), &request)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("tool failed", "tool", request.Name, "error", err)
		} else {
			s.logger.Info("tool rejected", "tool", request.Name, "status", status, "error", err)
		}
		http.Error(w, userMessage(err), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *DiaryServer) Start(ctx context.Context) error {
	s.logger.Info("starting diet diary server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *DiaryServer) Stop(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	if s.storage != nil {
		if cerr := s.storage.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (s *DiaryServer) createJSONResponse(data interface{}) (*protocol.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}

	return &protocol.CallToolResult{
		Content: []protocol.Content{
			protocol.TextContent{
				Type: "text",
				Text: string(jsonBytes),
			},
		},
	}, nil
}
