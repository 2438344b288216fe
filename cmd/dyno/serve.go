package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dynoengine/dyno/executor"
	"github.com/dynoengine/dyno/hostfunc"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for sessions and evaluations",
	Long: `Start an HTTP server exposing sessions and hermetic evaluation.

Endpoints:
  POST   /evaluate              Evaluate code in a throwaway runtime
  POST   /sessions              Create session, returns {"session_id":"..."}
  POST   /sessions/{id}/reload  Destroy the interpreter and load a script
  POST   /sessions/{id}/call    Call a global function
  POST   /sessions/{id}/exec    Run code in the session (state persists)
  DELETE /sessions/{id}         Close session
  GET    /health                Health check`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntP("port", "p", 0, "Port to listen on (default from config: 8080)")
	serveCmd.Flags().Duration("session-ttl", 0, "Close sessions idle for this long (default from config: 10m)")
	rootCmd.AddCommand(serveCmd)
}

type sessionManager struct {
	sessions map[string]*serverSession
	mu       sync.RWMutex
	ttl      time.Duration
	stop     chan struct{}
	once     sync.Once
}

type serverSession struct {
	session  *executor.Session
	lastUsed time.Time
}

func newSessionManager(ttl time.Duration) *sessionManager {
	sm := &sessionManager{
		sessions: make(map[string]*serverSession),
		ttl:      ttl,
		stop:     make(chan struct{}),
	}
	go sm.cleanup()
	return sm
}

func (sm *sessionManager) create(exec *executor.Executor, lang executor.Language, opts ...executor.SessionOption) (string, error) {
	session, err := exec.NewSession(lang, opts...)
	if err != nil {
		return "", err
	}

	id := generateSessionID()
	sm.mu.Lock()
	sm.sessions[id] = &serverSession{
		session:  session,
		lastUsed: time.Now(),
	}
	sm.mu.Unlock()
	return id, nil
}

func (sm *sessionManager) get(id string) (*executor.Session, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	ss, ok := sm.sessions[id]
	if !ok {
		return nil, false
	}
	ss.lastUsed = time.Now()
	return ss.session, true
}

func (sm *sessionManager) close(id string) bool {
	sm.mu.Lock()
	ss, ok := sm.sessions[id]
	if ok {
		ss.session.Close()
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()
	return ok
}

func (sm *sessionManager) len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

func (sm *sessionManager) cleanup() {
	interval := time.Minute
	if sm.ttl > 0 && sm.ttl < interval {
		interval = sm.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-sm.stop:
			return
		case <-ticker.C:
			sm.expire(time.Now())
		}
	}
}

// expire closes sessions idle since before now minus the TTL.
func (sm *sessionManager) expire(now time.Time) int {
	if sm.ttl <= 0 {
		return 0
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	n := 0
	for id, ss := range sm.sessions {
		if now.Sub(ss.lastUsed) > sm.ttl {
			ss.session.Close()
			delete(sm.sessions, id)
			n++
		}
	}
	return n
}

func (sm *sessionManager) closeAll() {
	sm.once.Do(func() { close(sm.stop) })
	sm.mu.Lock()
	for id, ss := range sm.sessions {
		ss.session.Close()
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()
}

func generateSessionID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%x", b)
}

type evaluateRequest struct {
	Code    string `json:"code"`
	Lang    string `json:"lang,omitempty"`
	Name    string `json:"name,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

type executeResponse struct {
	Output     string `json:"output"`
	Value      any    `json:"value,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
	Kind       string `json:"kind,omitempty"`
}

type createSessionRequest struct {
	Lang string `json:"lang,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type reloadRequest struct {
	Path   string `json:"path,omitempty"`
	Name   string `json:"name,omitempty"`
	Source string `json:"source,omitempty"`
}

type reloadResponse struct {
	State  string `json:"state"`
	Script string `json:"script,omitempty"`
	Error  string `json:"error,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

type callRequest struct {
	Function string `json:"function"`
	Args     []any  `json:"args,omitempty"`
}

type sessionExecRequest struct {
	Code    string `json:"code"`
	Timeout string `json:"timeout,omitempty"`
}

// server holds what the HTTP handlers share.
type server struct {
	exec        *executor.Executor
	sessions    *sessionManager
	timeout     time.Duration
	snippetLang string
	kv          *hostfunc.KVStore
	logger      *zap.Logger
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /evaluate", s.handleEvaluate)
	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("POST /sessions/{id}/reload", s.handleReload)
	mux.HandleFunc("POST /sessions/{id}/call", s.handleCall)
	mux.HandleFunc("POST /sessions/{id}/exec", s.handleExec)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDelete)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

func (s *server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Code == "" {
		http.Error(w, "code required", http.StatusBadRequest)
		return
	}

	reqLang := req.Lang
	if reqLang == "" {
		reqLang = s.snippetLang
	}
	language, err := getLanguage(reqLang, "")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	timeout := s.timeout
	if req.Timeout != "" {
		if d, err := time.ParseDuration(req.Timeout); err == nil {
			timeout = d
		}
	}

	opts := []executor.Option{executor.WithTimeout(timeout)}
	if req.Name != "" {
		opts = append(opts, executor.WithName(req.Name))
	}
	if s.kv != nil {
		opts = append(opts, executor.WithKVStore(s.kv))
	}

	result := s.exec.Evaluate(r.Context(), language, req.Code, opts...)
	writeJSON(w, s.resultResponse(result))
}

func (s *server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	reqLang := req.Lang
	if reqLang == "" {
		reqLang = "lua"
	}
	language, err := getLanguage(reqLang, "")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	opts := []executor.SessionOption{executor.WithSessionTimeout(s.timeout)}
	if s.kv != nil {
		opts = append(opts, executor.WithSessionKVStore(s.kv))
	}

	sessionID, err := s.sessions.create(s.exec, language, opts...)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to create session: %v", err), http.StatusInternalServerError)
		return
	}
	s.logger.Debug("session created", zap.String("id", sessionID), zap.String("lang", language.Name()))

	writeJSON(w, createSessionResponse{SessionID: sessionID})
}

func (s *server) handleReload(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessions.get(r.PathValue("id"))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	var req reloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if (req.Path == "") == (req.Source == "") {
		http.Error(w, "exactly one of path or source required", http.StatusBadRequest)
		return
	}

	var err error
	if req.Path != "" {
		err = session.Reload(r.Context(), req.Path)
	} else {
		name := req.Name
		if name == "" {
			name = "<source>"
		}
		err = session.ReloadSource(r.Context(), name, req.Source)
	}

	resp := reloadResponse{
		State:  session.State().String(),
		Script: session.Script(),
	}
	if err != nil {
		resp.Error = err.Error()
		resp.Kind = errorKind(err)
	}
	writeJSON(w, resp)
}

func (s *server) handleCall(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessions.get(r.PathValue("id"))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Function == "" {
		http.Error(w, "function required", http.StatusBadRequest)
		return
	}

	result := session.Call(r.Context(), req.Function, req.Args...)
	writeJSON(w, s.resultResponse(result))
}

func (s *server) handleExec(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessions.get(r.PathValue("id"))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	var req sessionExecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Code == "" {
		http.Error(w, "code required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if req.Timeout != "" {
		if d, err := time.ParseDuration(req.Timeout); err == nil {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
	}

	result := session.Run(ctx, req.Code)
	writeJSON(w, s.resultResponse(result))
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if s.sessions.close(r.PathValue("id")) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Error(w, "session not found", http.StatusNotFound)
}

func (s *server) resultResponse(result executor.Result) executeResponse {
	resp := executeResponse{
		Output:     result.Output,
		Value:      result.Value,
		DurationMs: result.Duration.Milliseconds(),
	}
	if result.Error != nil {
		resp.Error = result.Error.Error()
		resp.Kind = errorKind(result.Error)
	}
	return resp
}

func errorKind(err error) string {
	var e *executor.Error
	if errors.As(err, &e) {
		return string(e.Kind)
	}
	return ""
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Serve.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("session-ttl") {
		cfg.Serve.SessionTTL, _ = cmd.Flags().GetDuration("session-ttl")
	}

	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	exec, err := newExecutor(cmd, logger, executor.WithPreflight(languages()...))
	if err != nil {
		return err
	}
	defer exec.Close()

	sessions := newSessionManager(cfg.Serve.SessionTTL)
	defer sessions.closeAll()

	srv := &server{
		exec:        exec,
		sessions:    sessions,
		timeout:     cfg.Timeout,
		snippetLang: cfg.SnippetLang,
		kv:          newKV(cfg),
		logger:      logger,
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Serve.Port),
		Handler: srv.routes(),
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("dyno server listening", zap.String("addr", httpServer.Addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
