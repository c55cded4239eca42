package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	xerrors "github.com/SpaceUY/safe-agentathon/internal/errors"
	"github.com/SpaceUY/safe-agentathon/internal/interactions"
	"github.com/SpaceUY/safe-agentathon/internal/observability/metrics"
)

// Server 负责暴露 REST 接口，供外部查询状态与提交二次确认。
type Server struct {
	addr     string
	registry *interactions.Registry
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, registry *interactions.Registry) *Server {
	return &Server{addr: addr, registry: registry}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleInteraction)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", handleHealth)

	// 配置 HTTP 服务器。
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 启动服务器并监听关闭信号。
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// interactionRequest 是 POST 请求体的结构。
type interactionRequest struct {
	Params map[string]any `json:"params"`
}

// errorEnvelope 是统一的错误响应格式。
type errorEnvelope struct {
	StatusCode int    `json:"statusCode"`
	Timestamp  string `json:"timestamp"`
	Path       string `json:"path"`
	Message    string `json:"message"`
}

// handleInteraction 按 interaction 查询参数分发交互指令。
func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, r, http.StatusNotFound, "Not found")
		metrics.ObserveHTTPRequest("interaction", r.Method, http.StatusNotFound)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "仅支持 GET/POST")
		metrics.ObserveHTTPRequest("interaction", r.Method, http.StatusMethodNotAllowed)
		return
	}

	name := r.URL.Query().Get("interaction")
	handler, err := s.registry.Resolve(name)
	if err != nil {
		status := statusOf(err)
		writeError(w, r, status, err.Error())
		metrics.ObserveHTTPRequest("interaction", r.Method, status)
		return
	}

	var req interactionRequest
	if r.Method == http.MethodPost && r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, http.StatusBadRequest, "请求体解析失败")
			metrics.ObserveHTTPRequest("interaction", r.Method, http.StatusBadRequest)
			return
		}
	}

	result, err := handler.Handle(r.Context(), req.Params)
	if err != nil {
		status := statusOf(err)
		writeError(w, r, status, messageOf(err, status))
		metrics.ObserveHTTPRequest("interaction", r.Method, status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
	metrics.ObserveHTTPRequest("interaction", r.Method, http.StatusOK)
}

// statusOf 把业务错误码映射为 HTTP 状态码。
func statusOf(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeNotAvailable:
		return http.StatusForbidden
	case xerrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// messageOf 决定返回给调用方的错误文案。
// 未预期的内部错误不向外暴露细节。
func messageOf(err error, status int) string {
	if status == http.StatusInternalServerError {
		return "Unexpected error"
	}
	return err.Error()
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		StatusCode: status,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Path:       r.URL.RequestURI(),
		Message:    message,
	})
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
