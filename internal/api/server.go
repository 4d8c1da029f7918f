// Package api 对外提供门禁状态查询、事件流与用户操作的 HTTP 接口。
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/liangyou/appgate/internal/presentation"
	"github.com/liangyou/appgate/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PublicationReader 读取最近一次发布结果，gate.Watcher 实现该接口。
type PublicationReader interface {
	Current() (models.Published, bool)
}

// Presenter 是展示层能力，presentation.Gate 实现该接口。
type Presenter interface {
	View() presentation.View
	Watch(fn func(presentation.View)) func()
	OnUpdateNow(ctx context.Context) error
	OnDismiss(ctx context.Context) error
}

// Server 持有路由与连接状态。
type Server struct {
	reader    PublicationReader
	presenter Presenter
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	version   string

	mu        sync.Mutex
	lastErr   error
	lastErrAt time.Time
}

// NewServer 创建 API 服务，gatherer 为 nil 时不暴露 /metrics。
func NewServer(reader PublicationReader, presenter Presenter, gatherer prometheus.Gatherer, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		reader:    reader,
		presenter: presenter,
		gatherer:  gatherer,
		logger:    logger,
		version:   version,
	}
}

// ReportTransportError 记录订阅通道错误，作为连接状态指示。
func (s *Server) ReportTransportError(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
	s.lastErrAt = time.Now()
}

// MarkHealthy 在成功发布后清除连接错误。
func (s *Server) MarkHealthy(models.Published) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = nil
}

// Router 构建 chi 路由。
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Cache-Control"},
		MaxAge:         300,
	}))

	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.With(render.SetContentType(render.ContentTypeJSON)).Get("/health", s.health)
	r.Route("/gate", func(r chi.Router) {
		r.Get("/events", s.events)
		r.Group(func(r chi.Router) {
			r.Use(render.SetContentType(render.ContentTypeJSON))
			r.Get("/", s.gate)
			r.Post("/update-now", s.updateNow)
			r.Post("/dismiss", s.dismiss)
		})
	})
	return r
}

// ListenAndServe 启动 HTTP 服务，ctx 取消后优雅关闭。
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api: listen %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}

// HealthResponse 是 /health 的响应。
type HealthResponse struct {
	Status    string     `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
	Version   string     `json:"version"`
	Service   string     `json:"service"`
	LastError string     `json:"last_error,omitempty"`
	ErrorAt   *time.Time `json:"error_at,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	resp := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   s.version,
		Service:   "appgate",
	}
	if s.lastErr != nil {
		resp.Status = "degraded"
		resp.LastError = s.lastErr.Error()
		at := s.lastErrAt
		resp.ErrorAt = &at
	}
	s.mu.Unlock()
	render.JSON(w, r, resp)
}

// GateResponse 是 /gate 的响应。
type GateResponse struct {
	Published *models.Published `json:"published,omitempty"`
	View      presentation.View `json:"view"`
}

func (s *Server) gate(w http.ResponseWriter, r *http.Request) {
	resp := GateResponse{View: s.presenter.View()}
	if s.reader != nil {
		if pub, ok := s.reader.Current(); ok {
			resp.Published = &pub
		}
	}
	success(w, r, "ok", resp)
}

func (s *Server) updateNow(w http.ResponseWriter, r *http.Request) {
	s.action(w, r, s.presenter.OnUpdateNow)
}

func (s *Server) dismiss(w http.ResponseWriter, r *http.Request) {
	s.action(w, r, s.presenter.OnDismiss)
}

func (s *Server) action(w http.ResponseWriter, r *http.Request, fn func(context.Context) error) {
	if err := fn(r.Context()); err != nil {
		if errors.Is(err, presentation.ErrActionNotAllowed) {
			failure(w, r, http.StatusConflict, "action not allowed", err)
			return
		}
		failure(w, r, http.StatusInternalServerError, "action failed", err)
		return
	}
	success(w, r, "ok", s.presenter.View())
}
