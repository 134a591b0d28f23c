package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"rawpress-go/internal/pipeline"
	"rawpress-go/internal/statistics"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// RunRequest overrides configuration for one run started over HTTP.
// Empty fields keep the configured values.
type RunRequest struct {
	InputDirectory   string `json:"input_directory,omitempty"`
	OutputDirectory  string `json:"output_directory,omitempty"`
	TargetSize       string `json:"target_size,omitempty"`
	PreserveMetadata *bool  `json:"preserve_metadata,omitempty"`
}

// RunnerFactory builds an orchestrator for a run request.
type RunnerFactory func(req RunRequest) (*pipeline.Orchestrator, error)

type Server struct {
	log        *logrus.Logger
	newRunner  RunnerFactory
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.Mutex

	// Current run state
	operationMutex sync.RWMutex
	isRunning      bool
	cancelRun      context.CancelFunc
	currentStats   *statistics.Statistics
	lastExitCode   *int
	outputDir      string
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type FileInfo struct {
	Path         string `json:"path"`
	Name         string `json:"name"`
	IsDirectory  bool   `json:"is_directory"`
	Size         int64  `json:"size"`
	ModifiedTime string `json:"modified_time"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// NewServer returns a server that starts runs built by newRunner.
// outputDir is the default directory listed by /api/files.
func NewServer(newRunner RunnerFactory, outputDir string, log *logrus.Logger) *Server {
	s := &Server{
		log:       log,
		newRunner: newRunner,
		outputDir: outputDir,
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.setupRoutes()
	return s
}

// Handler returns the router, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/run", s.handleRun).Methods("POST")
	api.HandleFunc("/stop", s.handleStop).Methods("POST")
	api.HandleFunc("/files", s.handleListFiles).Methods("GET")
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

// Stop cancels any running batch and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.operationMutex.Lock()
	if s.cancelRun != nil {
		s.cancelRun()
	}
	s.operationMutex.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	running := s.isRunning
	stats := s.currentStats
	exitCode := s.lastExitCode
	s.operationMutex.RUnlock()

	var statsData interface{}
	if stats != nil {
		statsData = stats.Snapshot()
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"running":        running,
			"last_exit_code": exitCode,
			"statistics":     statsData,
		},
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	if req.InputDirectory != "" {
		if info, err := os.Stat(req.InputDirectory); err != nil || !info.IsDir() {
			s.writeError(w, "Input directory does not exist", http.StatusBadRequest)
			return
		}
	}

	s.operationMutex.Lock()
	if s.isRunning {
		s.operationMutex.Unlock()
		s.writeError(w, "Run already in progress", http.StatusConflict)
		return
	}

	runner, err := s.newRunner(req)
	if err != nil {
		s.operationMutex.Unlock()
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.isRunning = true
	s.cancelRun = cancel
	s.currentStats = runner.Statistics()
	s.operationMutex.Unlock()

	runner.OnProgress(func(ev pipeline.ProgressEvent) {
		s.broadcastWSMessage("progress", ev)
	})
	go s.runAsync(ctx, runner, req)

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Run started",
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	cancel := s.cancelRun
	running := s.isRunning
	s.operationMutex.RUnlock()

	if !running || cancel == nil {
		s.writeError(w, "No run in progress", http.StatusConflict)
		return
	}
	cancel()

	s.broadcastWSMessage("run_stopping", map[string]interface{}{
		"message": "Run cancelled by user",
	})

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Run cancelled",
	})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = s.outputDir
	}

	path = filepath.Clean(path)
	if strings.Contains(path, "..") {
		s.writeError(w, "Invalid path", http.StatusBadRequest)
		return
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to read directory: %v", err), http.StatusInternalServerError)
		return
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, FileInfo{
			Path:         filepath.Join(path, entry.Name()),
			Name:         entry.Name(),
			IsDirectory:  entry.IsDir(),
			Size:         info.Size(),
			ModifiedTime: info.ModTime().Format(time.RFC3339),
		})
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    files,
	})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	stats := s.currentStats
	s.operationMutex.RUnlock()

	if stats == nil {
		s.writeJSON(w, APIResponse{
			Success: true,
			Data:    nil,
		})
		return
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"summary":  stats.GetSummary(),
			"errors":   stats.GetErrorSummary(),
			"counters": stats.Snapshot(),
		},
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) runAsync(ctx context.Context, runner *pipeline.Orchestrator, req RunRequest) {
	s.broadcastWSMessage("run_started", req)

	res := runner.Run(ctx)
	code := res.ExitCode()

	s.operationMutex.Lock()
	s.isRunning = false
	s.cancelRun = nil
	s.lastExitCode = &code
	s.operationMutex.Unlock()

	data := map[string]interface{}{
		"exit_code":  code,
		"warnings":   res.Warnings,
		"statistics": runner.Statistics().Snapshot(),
	}
	if res.Err != nil {
		data["error"] = res.Err.Error()
		s.broadcastWSMessage("run_error", data)
		return
	}
	s.broadcastWSMessage("run_completed", data)
}

// broadcastWSMessage holds wsMutex for the whole send, since a
// websocket.Conn allows only one concurrent writer.
func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	msgBytes, err := json.Marshal(WSMessage{Type: messageType, Data: data})
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for conn := range s.wsClients {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			delete(s.wsClients, conn)
			conn.Close()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}
